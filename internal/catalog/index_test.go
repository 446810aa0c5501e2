package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconcile/internal"
)

func entry(cat, variety, color, grade, id string) internal.CatalogEntry {
	return internal.CatalogEntry{
		Classification: internal.Classification{Categoria: cat, Variedad: variety, Color: color, Grado: grade},
		CatalogID:      id,
	}
}

func TestBuildIndex(t *testing.T) {
	master := []internal.CatalogEntry{
		entry("Flowers", "Roses", "Red", "Premium", "CAT001"),
		{CatalogID: "CAT002", SearchKey: "Tulips, Yellow!"},
		{CatalogID: "CAT003"},
	}
	staging := []internal.StagingCandidate{
		{ID: "s1", Tenant: "acme", Classification: internal.Classification{Categoria: "Flowers", Variedad: "Peonies"}, Status: internal.StagingPending},
		{ID: "s2", Tenant: "acme", Classification: internal.Classification{Categoria: "Flowers", Variedad: "Lilies"}, Status: internal.StagingApproved},
		{ID: "s3", Tenant: "other", Classification: internal.Classification{Categoria: "Flowers", Variedad: "Orchids"}, Status: internal.StagingPending},
	}

	idx := BuildIndex("acme", master, staging)
	require.Equal(t, 3, idx.Len())
	assert.Equal(t, 2, idx.Skipped)

	assert.Equal(t, "flowers roses red premium", idx.Entries[0].SearchKey)
	assert.Equal(t, internal.SourceMaster, idx.Entries[0].Source)
	assert.Equal(t, "tulips yellow", idx.Entries[1].SearchKey)

	st := idx.Entries[2]
	assert.Equal(t, internal.SourceStaging, st.Source)
	assert.Equal(t, "s1", st.StagingID)
	assert.Equal(t, internal.StagingCatalogID, st.Entry.CatalogID)
	assert.Equal(t, "flowers peonies", st.SearchKey)
}

func TestBuildIndexEmpty(t *testing.T) {
	idx := BuildIndex("acme", nil, nil)
	assert.True(t, idx.Empty())

	var nilIdx *Index
	assert.True(t, nilIdx.Empty())
}

func TestParseCatalogRow(t *testing.T) {
	e, err := ParseCatalogRow(1, []string{" Flowers ", "Roses", "Red", "Premium", "", "CAT001"})
	require.NoError(t, err)
	assert.Equal(t, "Flowers", e.Categoria)
	assert.Equal(t, "CAT001", e.CatalogID)
	assert.Equal(t, "flowers roses red premium", e.SearchKey)

	e, err = ParseCatalogRow(2, []string{"Flowers", "Roses", "", "", "Rosa Roja", "CAT010", "extra"})
	require.NoError(t, err)
	assert.Equal(t, "rosa roja", e.SearchKey)

	_, err = ParseCatalogRow(3, []string{"a", "b", "c"})
	assert.True(t, internal.IsKind(err, internal.KindValidation))

	_, err = ParseCatalogRow(4, []string{"a", "b", "c", "d", "", internal.StagingCatalogID})
	assert.True(t, internal.IsKind(err, internal.KindValidation))
}

func TestParseCatalogRows(t *testing.T) {
	rows := [][]string{
		{"Flowers", "Roses", "Red", "Premium", "", "CAT001"},
		{"", "", ""},
		{"Flowers", "Tulips"},
		{"Flowers", "Tulips", "Yellow", "", "", "CAT002"},
	}
	entries, errs := ParseCatalogRows(rows)
	assert.Len(t, entries, 2)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "row 3")
}
