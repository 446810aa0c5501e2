package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconcile/internal"
)

func TestDedup(t *testing.T) {
	records := []internal.RawRecord{
		rec(1, "Red Roses", "Acme"),
		rec(2, "red roses ", "ACME"),
		rec(3, "Red Roses", "Globex"),
		rec(4, "RED ROSES", "acme"),
	}
	got := Dedup(records)
	assert.Equal(t, []internal.DedupStatus{
		internal.DedupPending, internal.DedupDuplicate, internal.DedupPending, internal.DedupDuplicate,
	}, got)
}

func newTestProcessor(s *memStore) *Processor {
	return NewProcessor(s.stores(), testConfig(), nil)
}

func TestProcessRowBlacklist(t *testing.T) {
	s := newMemStore()
	s.rules["acme"] = internal.RuleSet{Blacklist: []string{"and", "or", "the"}}
	s.master["acme"] = []internal.CatalogEntry{flowers("CAT001", "Roses", "Red White", "")}
	p := newTestProcessor(s)

	run, err := p.Prepare(context.Background(), "acme", "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, run.Rules.BlacklistSize())
	assert.Zero(t, run.Rules.SynonymCount())

	row := p.ProcessRow(run, rec(1, "Red and White Roses", "Acme"))
	assert.Equal(t, internal.RowStatusOK, row.Status)
	assert.Equal(t, "red white roses", row.CleanedText)
	assert.NotContains(t, row.CleanedText, " and ")
	assert.Contains(t, row.RemovedTerms, "and")
	assert.Equal(t, "CAT001", row.CatalogID)
	require.NotNil(t, row.SimilarityPercentage)
	assert.Equal(t, "run-1", row.RunID)
}

func TestProcessRowSynonyms(t *testing.T) {
	s := newMemStore()
	s.rules["acme"] = internal.RuleSet{Synonyms: map[string]string{"rosas": "roses", "rojo": "red"}}
	s.master["acme"] = []internal.CatalogEntry{flowers("CAT001", "Roses", "Red", "")}
	p := newTestProcessor(s)

	run, err := p.Prepare(context.Background(), "acme", "run-1")
	require.NoError(t, err)

	row := p.ProcessRow(run, rec(1, "Rosas Rojo Flowers", "Acme"))
	assert.Equal(t, "roses red flowers", row.CleanedText)
	assert.Equal(t, []internal.AppliedSynonym{{Original: "rosas", Replacement: "roses"}, {Original: "rojo", Replacement: "red"}}, row.AppliedSynonyms)
	assert.Equal(t, 100, *row.SimilarityPercentage)
}

func TestProcessRowDeterministic(t *testing.T) {
	s := newMemStore()
	s.rules["acme"] = internal.RuleSet{Synonyms: map[string]string{"rosas": "roses"}, Blacklist: []string{"grade a", "grade"}}
	p := newTestProcessor(s)

	run, err := p.Prepare(context.Background(), "acme", "run-1")
	require.NoError(t, err)
	a := p.ProcessRow(run, rec(1, "Rosas grade A box", "x"))
	b := p.ProcessRow(run, rec(2, "Rosas grade A box", "y"))
	assert.Equal(t, a.AppliedSynonyms, b.AppliedSynonyms)
	assert.Equal(t, a.RemovedTerms, b.RemovedTerms)
	assert.Equal(t, "roses box", a.CleanedText)
	assert.Equal(t, []string{"grade a"}, a.RemovedTerms)
}

func TestProcessRowRejectsShortRecord(t *testing.T) {
	p := newTestProcessor(newMemStore())
	run, err := p.Prepare(context.Background(), "acme", "run-1")
	require.NoError(t, err)

	row := p.ProcessRow(run, internal.RawRecord{LineNo: 7, Fields: []string{"Red Roses", "", "Acme"}})
	assert.Equal(t, internal.RowStatusInvalid, row.Status)
	assert.Contains(t, row.Error, "row 7")
	assert.Nil(t, row.SimilarityPercentage)
}

func TestReprocessAddsBlacklistRule(t *testing.T) {
	s := newMemStore()
	s.master["acme"] = []internal.CatalogEntry{flowers("CAT001", "Roses", "Red", "")}
	p := newTestProcessor(s)
	ctx := context.Background()

	run, err := p.Prepare(ctx, "acme", "run-1")
	require.NoError(t, err)
	row := p.ProcessRow(run, rec(1, "Red Roses Premium", "Acme"))
	sibling := p.ProcessRow(run, rec(2, "Premium Red Roses Box", "Globex"))
	require.Contains(t, row.CleanedText, "premium")

	row.Action = internal.ActionBlacklist
	row.Word = "premium"
	out, err := p.Reprocess(ctx, "acme", row)
	require.NoError(t, err)

	assert.NotContains(t, out.CleanedText, "premium")
	assert.Equal(t, []string{"premium"}, out.RemovedTerms)
	assert.Equal(t, internal.ActionNone, out.Action)
	assert.Empty(t, out.Word)
	assert.Contains(t, s.rules["acme"].Blacklist, "premium")
	assert.Contains(t, sibling.CleanedText, "premium")

	stored, err := p.Verify(ctx, "acme", "run-1", 1)
	require.NoError(t, err)
	assert.Equal(t, out.CleanedText, stored.CleanedText)
	_, err = p.Verify(ctx, "acme", "run-1", 2)
	assert.True(t, internal.IsKind(err, internal.KindNotFound))
}

func TestReprocessSynonymRule(t *testing.T) {
	s := newMemStore()
	s.master["acme"] = []internal.CatalogEntry{flowers("CAT001", "Roses", "Red", "")}
	p := newTestProcessor(s)

	row := internal.ProcessedRow{RunID: "run-1", RowNo: 3, Fields: rec(3, "Rosas Red Flowers", "Acme").Fields,
		DedupStatus: internal.DedupPending, Action: internal.ActionSynonym, Word: "Rosas=roses"}
	out, err := p.Reprocess(context.Background(), "acme", row)
	require.NoError(t, err)
	assert.Equal(t, "roses red flowers", out.CleanedText)
	assert.Equal(t, "CAT001", out.CatalogID)
	assert.Equal(t, "roses", s.rules["acme"].Synonyms["rosas"])

	row.Word = "no-separator"
	_, err = p.Reprocess(context.Background(), "acme", row)
	assert.True(t, internal.IsKind(err, internal.KindValidation))
}

func TestReviewDenyStagesCandidate(t *testing.T) {
	s := newMemStore()
	s.master["acme"] = []internal.CatalogEntry{flowers("CAT001", "Roses", "Red", "")}
	p := newTestProcessor(s)
	ctx := context.Background()

	run, err := p.Prepare(ctx, "acme", "run-1")
	require.NoError(t, err)
	row := p.ProcessRow(run, rec(4, "Pink Peonies", "Acme"))

	out, err := p.Review(ctx, "acme", row, Decision{Deny: true, Correction: &internal.Classification{Categoria: "Flowers", Variedad: "Peonies", Color: "Pink"}})
	require.NoError(t, err)
	assert.True(t, out.Deny)
	assert.Equal(t, internal.StagingCatalogID, out.CatalogID)
	assert.Equal(t, "Peonies", out.Variedad)
	require.Len(t, s.staging, 1)
	assert.Equal(t, "run-1:4", s.staging[0].OriginRowReference)
	assert.Equal(t, "Pink Peonies", s.staging[0].OriginalInputText)

	// the staged candidate is visible to the next run
	run, err = p.Prepare(ctx, "acme", "run-2")
	require.NoError(t, err)
	again := p.ProcessRow(run, rec(1, "Peonies Pink Flowers", "Other"))
	assert.Equal(t, internal.SourceStaging, again.MatchSource)
	assert.Equal(t, internal.StagingCatalogID, again.CatalogID)
}

func TestReviewAcceptAndInvalidDecision(t *testing.T) {
	s := newMemStore()
	p := newTestProcessor(s)
	row := internal.ProcessedRow{RunID: "run-1", RowNo: 1, DedupStatus: internal.DedupPending}

	out, err := p.Review(context.Background(), "acme", row, Decision{Accept: true})
	require.NoError(t, err)
	assert.True(t, out.Accept)
	assert.Equal(t, 1, s.rowCount())

	_, err = p.Review(context.Background(), "acme", row, Decision{Accept: true, Deny: true})
	assert.True(t, internal.IsKind(err, internal.KindValidation))
}

func TestPrepareRetriesRuleStore(t *testing.T) {
	s := newMemStore()
	s.failGet = 1
	p := newTestProcessor(s)
	_, err := p.Prepare(context.Background(), "acme", "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.getCalls)

	s.getCalls, s.failGet = 0, 5
	_, err = p.Prepare(context.Background(), "acme", "run-2")
	require.Error(t, err)
	assert.True(t, internal.IsKind(err, internal.KindExternalStore))
	assert.Equal(t, 2, s.getCalls)
}
