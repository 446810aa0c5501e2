package internal

type Tenant string

const (
	MinRawFields     = 13
	MinCatalogFields = 6

	DescriptionField = 0
	VendorField      = 2

	// StagingCatalogID marks a row or candidate that still needs a real catalog entry.
	StagingCatalogID = "111111"
)

type DedupStatus string

const (
	DedupPending   DedupStatus = "PENDING"
	DedupDuplicate DedupStatus = "DUPLICATE"
)

type MatchSource string

const (
	SourceMaster  MatchSource = "master"
	SourceStaging MatchSource = "staging"
	SourceNone    MatchSource = "none"
)

type MatchStatus string

const (
	MatchOK       MatchStatus = "OK"
	MatchReview   MatchStatus = "REVIEW"
	MatchNotFound MatchStatus = "NOT_FOUND"
)

type StagingStatus string

const (
	StagingPending  StagingStatus = "pending"
	StagingApproved StagingStatus = "approved"
	StagingRejected StagingStatus = "rejected"
	StagingCreated  StagingStatus = "created"
)

type RowStatus string

const (
	RowStatusOK        RowStatus = "ok"
	RowStatusDuplicate RowStatus = "duplicate"
	RowStatusInvalid   RowStatus = "invalid"
	RowStatusError     RowStatus = "error"
	RowStatusFailed    RowStatus = "failed"
)

type RuleAction string

const (
	ActionNone      RuleAction = ""
	ActionSynonym   RuleAction = "synonym"
	ActionBlacklist RuleAction = "blacklist"
)

type RawRecord struct {
	LineNo int
	Fields []string
}

func (r RawRecord) Description() string {
	return r.field(DescriptionField)
}

func (r RawRecord) Vendor() string {
	return r.field(VendorField)
}

func (r RawRecord) field(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return r.Fields[i]
}

type AppliedSynonym struct {
	Original    string `json:"original" yaml:"original"`
	Replacement string `json:"replacement" yaml:"replacement"`
}

type CleanedRecord struct {
	CleanedText     string
	AppliedSynonyms []AppliedSynonym
	RemovedTerms    []string
	DedupStatus     DedupStatus
}

type Classification struct {
	Categoria string `json:"categoria" validate:"required"`
	Variedad  string `json:"variedad"`
	Color     string `json:"color"`
	Grado     string `json:"grado"`
}

type CatalogEntry struct {
	Classification
	CatalogID string `json:"catalog_id"`
	SearchKey string `json:"search_key"`
}

type StagingCandidate struct {
	ID string `json:"id"`
	Classification
	Tenant             Tenant        `json:"tenant"`
	CatalogID          string        `json:"catalog_id"`
	SearchKey          string        `json:"search_key"`
	Status             StagingStatus `json:"status"`
	OriginRowReference string        `json:"origin_row_reference"`
	OriginalInputText  string        `json:"original_input_text"`
	PromotedCatalogID  *string       `json:"promoted_catalog_id,omitempty"`
	CreatedAt          string        `json:"created_at"`
	UpdatedAt          string        `json:"updated_at"`
}

type MatchResult struct {
	BestMatchKey    string      `json:"best_match_key"`
	SimilarityScore int         `json:"similarity_score"`
	MatchedTokens   []string    `json:"matched_tokens"`
	MissingTokens   []string    `json:"missing_tokens"`
	CatalogID       string      `json:"catalog_id"`
	Categoria       string      `json:"categoria"`
	Variedad        string      `json:"variedad"`
	Color           string      `json:"color"`
	Grado           string      `json:"grado"`
	Source          MatchSource `json:"source"`
	Status          MatchStatus `json:"status"`
}

type Rule struct {
	Action      RuleAction
	Original    string
	Replacement string
}

type RuleSet struct {
	Synonyms  map[string]string
	Blacklist []string
}

func (r RuleSet) Empty() bool {
	return len(r.Synonyms) == 0 && len(r.Blacklist) == 0
}

// ProcessedRow is one output row. SimilarityPercentage is nil for duplicates.
type ProcessedRow struct {
	RunID           string           `json:"run_id"`
	RowNo           int              `json:"row_no"`
	Fields          []string         `json:"fields"`
	Status          RowStatus        `json:"status"`
	Error           string           `json:"error,omitempty"`
	DedupStatus     DedupStatus      `json:"dedup_status"`
	CleanedText     string           `json:"cleaned_text"`
	AppliedSynonyms []AppliedSynonym `json:"applied_synonyms"`
	RemovedTerms    []string         `json:"removed_terms"`

	BestMatch            string      `json:"best_match"`
	SimilarityPercentage *int        `json:"similarity_percentage"`
	MatchedWords         []string    `json:"matched_words"`
	MissingWords         []string    `json:"missing_words"`
	CatalogID            string      `json:"catalog_id"`
	Categoria            string      `json:"categoria"`
	Variedad             string      `json:"variedad"`
	Color                string      `json:"color"`
	Grado                string      `json:"grado"`
	MatchSource          MatchSource `json:"match_source"`
	MatchStatus          MatchStatus `json:"match_status"`

	Accept bool       `json:"accept"`
	Deny   bool       `json:"deny"`
	Action RuleAction `json:"action"`
	Word   string     `json:"word"`
}

func (r ProcessedRow) Raw() RawRecord {
	return RawRecord{LineNo: r.RowNo, Fields: r.Fields}
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type EmailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
	Tenant     Tenant
	RunID      *string
}

type RunRecord struct {
	ID        string
	Tenant    Tenant
	Source    string
	Timings   map[string]float64
	Counts    map[string]int
	CreatedAt string
}
