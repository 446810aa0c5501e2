package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"reconcile/internal"
	"reconcile/internal/config"
)

const maxAttempts = 5

// Client pulls a tenant's master catalog from the catalog administration API.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *RateLimiter
	log        *zap.Logger
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

type pagePayload struct {
	Entries []remoteEntry `json:"entries"`
	Cursor  *string       `json:"cursor"`
}

type remoteEntry struct {
	Categoria string `json:"categoria"`
	Variedad  string `json:"variedad"`
	Color     string `json:"color"`
	Grado     string `json:"grado"`
	CatalogID string `json:"catalog_id"`
	SearchKey string `json:"search_key"`
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.CatalogTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.CatalogRateLimitRPS),
		log:        log,
	}
}

func (c *Client) FetchCatalog(ctx context.Context, tenant internal.Tenant) ([]internal.CatalogEntry, error) {
	all := make([]internal.CatalogEntry, 0)
	seen := map[string]struct{}{}
	var cursor string
	endpoint := "tenants/" + url.PathEscape(string(tenant)) + "/catalog"

	for {
		query := map[string]string{}
		if cursor != "" {
			query["cursor"] = cursor
		}

		body, err := c.fetchJSON(ctx, endpoint, query)
		if err != nil {
			return nil, err
		}

		var page pagePayload
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode catalog page: %w", err)
		}

		for i, raw := range page.Entries {
			entry, err := ParseCatalogRow(len(all)+i+1, []string{raw.Categoria, raw.Variedad, raw.Color, raw.Grado, raw.SearchKey, raw.CatalogID})
			if err != nil {
				c.log.Warn("skipping remote catalog entry", zap.String("tenant", string(tenant)), zap.Error(err))
				continue
			}
			all = append(all, entry)
		}

		if page.Cursor == nil || *page.Cursor == "" || len(page.Entries) == 0 {
			break
		}
		if _, ok := seen[*page.Cursor]; ok {
			break
		}
		seen[*page.Cursor] = struct{}{}
		cursor = *page.Cursor
	}

	return all, nil
}

func (c *Client) fetchJSON(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	if strings.TrimSpace(c.cfg.CatalogAPIBaseURL) == "" {
		return nil, errors.New("missing CATALOG_API_BASE_URL")
	}

	baseURL := strings.TrimRight(c.cfg.CatalogAPIBaseURL, "/") + "/"
	u, err := url.Parse(baseURL + endpoint)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	for k, v := range params {
		if strings.TrimSpace(v) != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		if c.cfg.CatalogAPIToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.CatalogAPIToken)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts {
				lastErr = fmt.Errorf("catalog api status %d", resp.StatusCode)
				c.log.Debug("retrying catalog request", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
				if err := sleepCtx(ctx, backoff(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("catalog api error: status=%d body=%s", resp.StatusCode, string(body))
		}

		var apiResp apiResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return nil, err
		}
		if !apiResp.Success {
			return nil, fmt.Errorf("catalog api unsuccessful: %s %s", apiResp.Message, string(apiResp.Errors))
		}
		return apiResp.Data, nil
	}

	if lastErr == nil {
		lastErr = errors.New("catalog request failed")
	}
	return nil, lastErr
}

func backoff(attempt int) time.Duration {
	return time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
