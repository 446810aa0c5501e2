package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"reconcile/internal"
	"reconcile/internal/catalog"
	"reconcile/internal/config"
	"reconcile/internal/rules"
	"reconcile/internal/util"
)

// Run is the state one batch or reprocess call works against: compiled rules,
// an index snapshot and a fresh match cache. It is never shared across tenants.
type Run struct {
	ID      string
	Tenant  internal.Tenant
	Rules   *rules.Compiled
	Index   *catalog.Index
	Matcher *Matcher
}

type Stores struct {
	Rules   RuleStore
	Catalog CatalogStore
	Rows    RowStore
	Runs    RunStore
	Stager  Stager
}

type Processor struct {
	stores          Stores
	retry           Retry
	okThreshold     int
	reviewThreshold int
	matcherOpts     []MatcherOption
	log             *zap.Logger
}

func NewProcessor(stores Stores, cfg config.Config, log *zap.Logger, opts ...MatcherOption) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		stores:          stores,
		retry:           RetryFromConfig(cfg, log),
		okThreshold:     cfg.MatchOKThreshold,
		reviewThreshold: cfg.MatchReviewThreshold,
		matcherOpts:     opts,
		log:             log,
	}
}

// Prepare loads the tenant's rules and catalog and builds a run around them.
// extra rules are merged on top of what the store returned.
func (p *Processor) Prepare(ctx context.Context, tenant internal.Tenant, runID string, extra ...internal.Rule) (*Run, error) {
	var set internal.RuleSet
	if err := p.retry.Do(ctx, "get_rules", func(ctx context.Context) error {
		var err error
		set, err = p.stores.Rules.GetRules(ctx, tenant)
		return err
	}); err != nil {
		return nil, err
	}
	for _, r := range extra {
		set = rules.Merge(set, r)
	}
	if set.Empty() {
		p.log.Info("tenant has no rules", zap.String("tenant", string(tenant)),
			zap.Error(internal.ConfigurationWarning("empty rule set")))
	}

	var master []internal.CatalogEntry
	var staged []internal.StagingCandidate
	if err := p.retry.Do(ctx, "get_catalog", func(ctx context.Context) error {
		var err error
		master, staged, err = p.stores.Catalog.GetCatalog(ctx, tenant)
		return err
	}); err != nil {
		return nil, err
	}

	index := catalog.BuildIndex(tenant, master, staged)
	if index.Skipped > 0 {
		p.log.Debug("index skipped entries", zap.String("tenant", string(tenant)), zap.Int("skipped", index.Skipped))
	}

	opts := append([]MatcherOption{
		WithThresholds(p.okThreshold, p.reviewThreshold),
		WithMatcherLogger(p.log),
	}, p.matcherOpts...)

	compiled := rules.Compile(set)
	p.log.Debug("run prepared",
		zap.String("tenant", string(tenant)),
		zap.String("run", runID),
		zap.Int("synonyms", compiled.SynonymCount()),
		zap.Int("blacklist", compiled.BlacklistSize()),
		zap.Int("catalog", index.Len()))

	return &Run{
		ID:      runID,
		Tenant:  tenant,
		Rules:   compiled,
		Index:   index,
		Matcher: NewMatcher(index, opts...),
	}, nil
}

// ProcessRow runs normalize, synonyms, blacklist and match for one record.
func (p *Processor) ProcessRow(run *Run, raw internal.RawRecord) internal.ProcessedRow {
	row := internal.ProcessedRow{
		RunID:       run.ID,
		RowNo:       raw.LineNo,
		Fields:      raw.Fields,
		DedupStatus: internal.DedupPending,
	}
	if len(raw.Fields) < internal.MinRawFields {
		err := internal.ValidationError(raw.LineNo, "expected at least %d columns, got %d", internal.MinRawFields, len(raw.Fields))
		row.Status = internal.RowStatusInvalid
		row.Error = err.Error()
		row.MatchSource = internal.SourceNone
		return row
	}

	cleaned, applied, removed := run.Rules.Apply(util.Normalize(raw.Description()))
	row.CleanedText = cleaned
	row.AppliedSynonyms = applied
	row.RemovedTerms = removed

	applyMatch(&row, run.Matcher.Match(cleaned))
	row.Status = internal.RowStatusOK
	return row
}

func applyMatch(row *internal.ProcessedRow, m internal.MatchResult) {
	row.BestMatch = m.BestMatchKey
	row.SimilarityPercentage = util.IntPtr(m.SimilarityScore)
	row.MatchedWords = m.MatchedTokens
	row.MissingWords = m.MissingTokens
	row.CatalogID = m.CatalogID
	row.Categoria = m.Categoria
	row.Variedad = m.Variedad
	row.Color = m.Color
	row.Grado = m.Grado
	row.MatchSource = m.Source
	row.MatchStatus = m.Status
}

func duplicateRow(runID string, raw internal.RawRecord) internal.ProcessedRow {
	return internal.ProcessedRow{
		RunID:       runID,
		RowNo:       raw.LineNo,
		Fields:      raw.Fields,
		Status:      internal.RowStatusDuplicate,
		DedupStatus: internal.DedupDuplicate,
		MatchSource: internal.SourceNone,
	}
}

// Reprocess recomputes one persisted row. A pending action on the row is
// upserted as a tenant rule first; sibling rows are left as they are.
func (p *Processor) Reprocess(ctx context.Context, tenant internal.Tenant, row internal.ProcessedRow) (internal.ProcessedRow, error) {
	if row.DedupStatus == internal.DedupDuplicate {
		return row, internal.ValidationError(row.RowNo, "duplicate rows are not reprocessed")
	}

	var extra []internal.Rule
	if row.Action != internal.ActionNone {
		rule, err := rules.ParseAction(row.Action, row.Word)
		if err != nil {
			return row, fmt.Errorf("reprocess row %d: %w", row.RowNo, err)
		}
		if err := p.retry.Do(ctx, "upsert_rule", func(ctx context.Context) error {
			return p.stores.Rules.UpsertRule(ctx, tenant, rule)
		}); err != nil {
			return row, err
		}
		p.log.Info("rule added from row",
			zap.String("tenant", string(tenant)),
			zap.Int("row", row.RowNo),
			zap.String("action", string(rule.Action)),
			zap.String("original", rule.Original))
		extra = append(extra, rule)
	}

	run, err := p.Prepare(ctx, tenant, row.RunID, extra...)
	if err != nil {
		return row, err
	}

	out := p.ProcessRow(run, row.Raw())
	if err := p.save(ctx, tenant, out); err != nil {
		return out, err
	}
	return out, nil
}

type Decision struct {
	Accept     bool
	Deny       bool
	Correction *internal.Classification
}

// Review records a reviewer's verdict on a row. Denying with a correction
// stages a candidate and points the row at it.
func (p *Processor) Review(ctx context.Context, tenant internal.Tenant, row internal.ProcessedRow, d Decision) (internal.ProcessedRow, error) {
	if d.Accept == d.Deny {
		return row, internal.ValidationError(row.RowNo, "review needs exactly one of accept or deny")
	}
	if row.DedupStatus == internal.DedupDuplicate {
		return row, internal.ValidationError(row.RowNo, "duplicate rows are not reviewed")
	}
	row.Accept, row.Deny = d.Accept, d.Deny

	if d.Deny && d.Correction != nil {
		if p.stores.Stager == nil {
			return row, internal.ConfigurationWarning("no staging workflow configured")
		}
		c := *d.Correction
		c.Categoria = strings.TrimSpace(c.Categoria)
		origin := fmt.Sprintf("%s:%d", row.RunID, row.RowNo)
		cand, err := p.stores.Stager.Stage(ctx, tenant, c, origin, row.Raw().Description())
		if err != nil && !internal.IsKind(err, internal.KindDuplicateCollision) {
			return row, err
		}
		if cand.Categoria != "" {
			c = cand.Classification
		}
		row.CatalogID = internal.StagingCatalogID
		row.MatchSource = internal.SourceStaging
		// the correction already exists in the master catalog
		if cand.CatalogID != "" && cand.CatalogID != internal.StagingCatalogID {
			row.CatalogID = cand.CatalogID
			row.MatchSource = internal.SourceMaster
		}
		row.Categoria = c.Categoria
		row.Variedad = c.Variedad
		row.Color = c.Color
		row.Grado = c.Grado
	}

	if err := p.save(ctx, tenant, row); err != nil {
		return row, err
	}
	return row, nil
}

// Verify confirms a row was persisted. Re-running it is always safe.
func (p *Processor) Verify(ctx context.Context, tenant internal.Tenant, runID string, rowNo int) (internal.ProcessedRow, error) {
	var row internal.ProcessedRow
	err := p.retry.Do(ctx, "get_row", func(ctx context.Context) error {
		var err error
		row, err = p.stores.Rows.GetRow(ctx, tenant, runID, rowNo)
		return err
	})
	return row, err
}

func (p *Processor) save(ctx context.Context, tenant internal.Tenant, row internal.ProcessedRow) error {
	if p.stores.Rows == nil {
		return nil
	}
	return p.retry.Do(ctx, "save_row", func(ctx context.Context) error {
		return p.stores.Rows.SaveRow(ctx, tenant, row)
	})
}
