package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"reconcile/internal"
)

type Config struct {
	DBPath     string
	RawMailDir string
	OutputDir  string

	LogLevel  string
	LogFormat string `validate:"omitempty,oneof=json console"`

	MatchOKThreshold     int `validate:"min=0,max=100"`
	MatchReviewThreshold int `validate:"min=0,max=100,ltefield=MatchOKThreshold"`
	BatchWorkers         int `validate:"min=1"`
	InputHasHeader       bool

	StoreRetryAttempts  int `validate:"min=1"`
	StoreRetryBackoffMs int `validate:"min=0"`
	StoreTimeoutMs      int `validate:"min=0"`

	CatalogAPIBaseURL   string `validate:"omitempty,url"`
	CatalogAPIToken     string
	CatalogRateLimitRPS int `validate:"min=0"`
	CatalogTimeoutMs    int `validate:"min=0"`

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int `validate:"min=1,max=65535"`
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerProvider    string `validate:"oneof=imap gmail"`
	MailListenerLabel       string
	MailListenerIntervalSec int `validate:"min=1"`
	MailListenerFetchMax    int `validate:"min=1"`
	MailListenerAutoExport  bool
	MailTenantMap           map[string]internal.Tenant
	MailDefaultTenant       internal.Tenant
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "reconcile.db")),
		RawMailDir: getEnv("RAW_MAIL_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:  getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		MatchOKThreshold:     getEnvInt("MATCH_OK_THRESHOLD", 90),
		MatchReviewThreshold: getEnvInt("MATCH_REVIEW_THRESHOLD", 60),
		BatchWorkers:         getEnvInt("BATCH_WORKERS", 1),
		InputHasHeader:       getEnvBool("INPUT_HAS_HEADER", true),

		StoreRetryAttempts:  getEnvInt("STORE_RETRY_ATTEMPTS", 3),
		StoreRetryBackoffMs: getEnvInt("STORE_RETRY_BACKOFF_MS", 200),
		StoreTimeoutMs:      getEnvInt("STORE_TIMEOUT_MS", 10000),

		CatalogAPIBaseURL:   getEnv("CATALOG_API_BASE_URL", ""),
		CatalogAPIToken:     getEnv("CATALOG_API_TOKEN", ""),
		CatalogRateLimitRPS: getEnvInt("CATALOG_RATE_LIMIT_RPS", 5),
		CatalogTimeoutMs:    getEnvInt("CATALOG_TIMEOUT_MS", 30000),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerProvider:    getEnv("MAIL_LISTENER_PROVIDER", "imap"),
		MailListenerLabel:       getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerIntervalSec: getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 60),
		MailListenerFetchMax:    getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
		MailListenerAutoExport:  getEnvBool("MAIL_LISTENER_AUTO_EXPORT", true),
		MailTenantMap:           parseTenantMap(getEnv("MAIL_TENANT_MAP", "")),
		MailDefaultTenant:       internal.Tenant(strings.TrimSpace(getEnv("MAIL_DEFAULT_TENANT", ""))),
	}

	if cfg.BatchWorkers < 1 {
		cfg.BatchWorkers = 1
	}
	if cfg.StoreRetryAttempts < 1 {
		cfg.StoreRetryAttempts = 1
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks ranges and enumerations from the struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// TenantForSender maps a sender address to a tenant by its domain.
func (c Config) TenantForSender(sender string) (internal.Tenant, bool) {
	addr := strings.ToLower(strings.TrimSpace(sender))
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		if t, ok := c.MailTenantMap[addr[at+1:]]; ok {
			return t, true
		}
	}
	if c.MailDefaultTenant != "" {
		return c.MailDefaultTenant, true
	}
	return "", false
}

func parseTenantMap(value string) map[string]internal.Tenant {
	out := map[string]internal.Tenant{}
	for _, pair := range strings.Split(value, ",") {
		domain, tenant, ok := strings.Cut(pair, "=")
		domain = strings.ToLower(strings.TrimSpace(domain))
		tenant = strings.TrimSpace(tenant)
		if !ok || domain == "" || tenant == "" {
			continue
		}
		out[domain] = internal.Tenant(tenant)
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
