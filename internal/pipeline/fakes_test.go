package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"reconcile/internal"
	"reconcile/internal/config"
	"reconcile/internal/rules"
)

type memStore struct {
	mu       sync.Mutex
	rules    map[internal.Tenant]internal.RuleSet
	master   map[internal.Tenant][]internal.CatalogEntry
	staged   map[internal.Tenant][]internal.StagingCandidate
	rows     map[string]internal.ProcessedRow
	runs     []internal.RunRecord
	failSave func(internal.ProcessedRow) bool
	failGet  int
	getCalls int
	staging  []internal.StagingCandidate
}

func newMemStore() *memStore {
	return &memStore{
		rules:  map[internal.Tenant]internal.RuleSet{},
		master: map[internal.Tenant][]internal.CatalogEntry{},
		staged: map[internal.Tenant][]internal.StagingCandidate{},
		rows:   map[string]internal.ProcessedRow{},
	}
}

func (s *memStore) stores() Stores {
	return Stores{Rules: s, Catalog: s, Rows: s, Runs: s, Stager: s}
}

func (s *memStore) GetRules(_ context.Context, tenant internal.Tenant) (internal.RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getCalls <= s.failGet {
		return internal.RuleSet{}, errors.New("rules store unavailable")
	}
	return s.rules[tenant], nil
}

func (s *memStore) UpsertRule(_ context.Context, tenant internal.Tenant, rule internal.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[tenant] = rules.Merge(s.rules[tenant], rule)
	return nil
}

func (s *memStore) GetCatalog(_ context.Context, tenant internal.Tenant) ([]internal.CatalogEntry, []internal.StagingCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master[tenant], s.staged[tenant], nil
}

func rowKey(tenant internal.Tenant, runID string, rowNo int) string {
	return fmt.Sprintf("%s/%s/%d", tenant, runID, rowNo)
}

func (s *memStore) SaveRow(_ context.Context, tenant internal.Tenant, row internal.ProcessedRow) error {
	if s.failSave != nil && s.failSave(row) {
		return errors.New("disk full")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rowKey(tenant, row.RunID, row.RowNo)] = row
	return nil
}

func (s *memStore) GetRow(_ context.Context, tenant internal.Tenant, runID string, rowNo int) (internal.ProcessedRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[rowKey(tenant, runID, rowNo)]
	if !ok {
		return row, internal.NotFoundError("row %d of run %s", rowNo, runID)
	}
	return row, nil
}

func (s *memStore) ListRows(_ context.Context, tenant internal.Tenant, runID string) ([]internal.ProcessedRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []internal.ProcessedRow{}
	for _, r := range s.rows {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) InsertRun(_ context.Context, run internal.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *memStore) Stage(_ context.Context, tenant internal.Tenant, c internal.Classification, origin, text string) (internal.StagingCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cand := internal.StagingCandidate{
		ID:                 fmt.Sprintf("stg-%d", len(s.staging)+1),
		Classification:     c,
		Tenant:             tenant,
		CatalogID:          internal.StagingCatalogID,
		Status:             internal.StagingPending,
		OriginRowReference: origin,
		OriginalInputText:  text,
	}
	s.staging = append(s.staging, cand)
	s.staged[tenant] = append(s.staged[tenant], cand)
	return cand, nil
}

func (s *memStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func testConfig() config.Config {
	return config.Config{
		MatchOKThreshold:     90,
		MatchReviewThreshold: 60,
		BatchWorkers:         1,
		StoreRetryAttempts:   2,
		StoreRetryBackoffMs:  0,
		StoreTimeoutMs:       1000,
	}
}

func rec(line int, description, vendor string) internal.RawRecord {
	fields := make([]string, internal.MinRawFields)
	fields[internal.DescriptionField] = description
	fields[internal.VendorField] = vendor
	return internal.RawRecord{LineNo: line, Fields: fields}
}

func flowers(id, variety, color, grade string) internal.CatalogEntry {
	return internal.CatalogEntry{
		Classification: internal.Classification{Categoria: "Flowers", Variedad: variety, Color: color, Grado: grade},
		CatalogID:      id,
	}
}
