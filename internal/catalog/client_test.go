package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconcile/internal"
	"reconcile/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, payload any) *http.Response {
	blob, _ := json.Marshal(payload)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(string(blob))),
		Header:     make(http.Header),
	}
}

func testConfig() config.Config {
	return config.Config{
		CatalogAPIBaseURL:   "https://catalog.test/api/v1",
		CatalogAPIToken:     "test",
		CatalogRateLimitRPS: 1000,
		CatalogTimeoutMs:    1000,
	}
}

func TestFetchCatalogWithRetryAndCursor(t *testing.T) {
	attempt := 0
	client := NewClient(testConfig(), nil)
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			require.Equal(t, "/api/v1/tenants/acme/catalog", r.URL.Path)
			require.Equal(t, "Bearer test", r.Header.Get("Authorization"))
			attempt++
			switch attempt {
			case 1:
				return jsonResponse(http.StatusServiceUnavailable, map[string]any{"error": "busy"}), nil
			case 2:
				return jsonResponse(http.StatusOK, map[string]any{"success": true, "data": map[string]any{
					"entries": []map[string]any{
						{"categoria": "Flowers", "variedad": "Roses", "color": "Red", "grado": "Premium", "catalog_id": "CAT001"},
						{"categoria": "Broken", "catalog_id": ""},
					},
					"cursor": "page-2",
				}}), nil
			default:
				require.Equal(t, "page-2", r.URL.Query().Get("cursor"))
				return jsonResponse(http.StatusOK, map[string]any{"success": true, "data": map[string]any{
					"entries": []map[string]any{{"categoria": "Flowers", "variedad": "Tulips", "catalog_id": "CAT002", "search_key": "Tulips Yellow"}},
					"cursor":  nil,
				}}), nil
			}
		}),
	}

	entries, err := client.FetchCatalog(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "flowers roses red premium", entries[0].SearchKey)
	assert.Equal(t, "tulips yellow", entries[1].SearchKey)
	assert.Equal(t, 3, attempt)
}

func TestFetchCatalogUnsuccessful(t *testing.T) {
	client := NewClient(testConfig(), nil)
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, map[string]any{"success": false, "message": "tenant unknown"}), nil
		}),
	}
	_, err := client.FetchCatalog(context.Background(), "nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant unknown")
}

type fakeWriter struct {
	entries map[internal.Tenant][]internal.CatalogEntry
	meta    map[string]string
}

func (w *fakeWriter) UpsertCatalogEntries(_ context.Context, tenant internal.Tenant, entries []internal.CatalogEntry) (int, error) {
	w.entries[tenant] = append(w.entries[tenant], entries...)
	return len(entries), nil
}

func (w *fakeWriter) SetMetadata(_ context.Context, key, value string) error {
	w.meta[key] = value
	return nil
}

func TestSyncServiceWritesTenantCatalog(t *testing.T) {
	w := &fakeWriter{entries: map[internal.Tenant][]internal.CatalogEntry{}, meta: map[string]string{}}
	svc := NewSyncService(w, testConfig(), nil)
	svc.client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, map[string]any{"success": true, "data": map[string]any{
				"entries": []map[string]any{{"categoria": "Flowers", "catalog_id": "CAT009"}},
			}}), nil
		}),
	}

	n, err := svc.Sync(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, w.entries["acme"], 1)
	assert.Contains(t, w.meta, "catalog.last_sync.acme")
}
