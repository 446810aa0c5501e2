package catalog

import (
	"strings"

	"reconcile/internal"
	"reconcile/internal/util"
)

type IndexedEntry struct {
	SearchKey string
	Source    internal.MatchSource
	Entry     internal.CatalogEntry
	StagingID string
}

// Index is the immutable corpus one run matches against: the tenant's master
// catalog in catalog order followed by its pending staging candidates.
type Index struct {
	Tenant  internal.Tenant
	Entries []IndexedEntry
	Skipped int
}

func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Entries)
}

func (idx *Index) Empty() bool {
	return idx.Len() == 0
}

func SearchKey(c internal.Classification) string {
	return util.Normalize(strings.Join([]string{c.Categoria, c.Variedad, c.Color, c.Grado}, " "))
}

func BuildIndex(tenant internal.Tenant, master []internal.CatalogEntry, staging []internal.StagingCandidate) *Index {
	idx := &Index{Tenant: tenant, Entries: make([]IndexedEntry, 0, len(master)+len(staging))}

	for _, e := range master {
		key := util.Normalize(e.SearchKey)
		if key == "" {
			key = SearchKey(e.Classification)
		}
		if key == "" {
			idx.Skipped++
			continue
		}
		e.SearchKey = key
		idx.Entries = append(idx.Entries, IndexedEntry{SearchKey: key, Source: internal.SourceMaster, Entry: e})
	}

	for _, c := range staging {
		if c.Status != internal.StagingPending {
			continue
		}
		if c.Tenant != "" && c.Tenant != tenant {
			idx.Skipped++
			continue
		}
		key := util.Normalize(c.SearchKey)
		if key == "" {
			key = SearchKey(c.Classification)
		}
		if key == "" {
			idx.Skipped++
			continue
		}
		idx.Entries = append(idx.Entries, IndexedEntry{
			SearchKey: key,
			Source:    internal.SourceStaging,
			StagingID: c.ID,
			Entry: internal.CatalogEntry{
				Classification: c.Classification,
				CatalogID:      internal.StagingCatalogID,
				SearchKey:      key,
			},
		})
	}

	return idx
}
