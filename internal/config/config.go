package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pauljones0/free-games-bot/internal/models"
)

const (
	LedgerBackendFile      = "file"
	LedgerBackendFirestore = "firestore"
)

type Config struct {
	Port string

	PollInterval  time.Duration
	ErrorBackoff  time.Duration
	FetchTimeout  time.Duration
	NotifyTimeout time.Duration
	CycleTimeout  time.Duration
	HTTPTimeout   time.Duration

	Sources             []models.Source
	EpicPrimaryRegion   models.Region
	EpicReferenceRegion models.Region
	EpicLocale          string
	SteamMinDiscount    int
	SteamCountries      []string

	DiscordWebhookURL string
	NotifyRate        time.Duration

	LedgerBackend            string
	LedgerPath               string
	ProjectID                string
	FirestoreCollection      string
	FirestoreCredentialsFile string

	GeminiAPIKey string
	GeminiModel  string

	AdminToken string
	LogLevel   slog.Level
	LogFormat  string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:                     getenv("PORT", "8080"),
		EpicPrimaryRegion:        models.Region(strings.ToUpper(getenv("EPIC_PRIMARY_REGION", "RU"))),
		EpicReferenceRegion:      models.Region(strings.ToUpper(getenv("EPIC_REFERENCE_REGION", "US"))),
		EpicLocale:               getenv("EPIC_LOCALE", "en-US"),
		SteamCountries:           splitList(strings.ToUpper(getenv("STEAM_CURRENCIES", "RU,KZ"))),
		DiscordWebhookURL:        os.Getenv("DISCORD_WEBHOOK_URL"),
		LedgerBackend:            strings.ToLower(getenv("LEDGER_BACKEND", LedgerBackendFile)),
		LedgerPath:               getenv("LEDGER_PATH", "data/post_history.json"),
		ProjectID:                os.Getenv("GOOGLE_CLOUD_PROJECT"),
		FirestoreCollection:      getenv("FIRESTORE_COLLECTION", "giveaways"),
		FirestoreCredentialsFile: os.Getenv("FIRESTORE_CREDENTIALS_FILE"),
		GeminiAPIKey:             os.Getenv("GEMINI_API_KEY"),
		GeminiModel:              getenv("GEMINI_MODEL", "gemini-2.0-flash"),
		AdminToken:               os.Getenv("ADMIN_TOKEN"),
		LogFormat:                strings.ToLower(getenv("LOG_FORMAT", "text")),
	}

	durations := []struct {
		name string
		def  string
		dst  *time.Duration
	}{
		{"POLL_INTERVAL", "1h", &cfg.PollInterval},
		{"ERROR_BACKOFF", "5m", &cfg.ErrorBackoff},
		{"FETCH_TIMEOUT", "30s", &cfg.FetchTimeout},
		{"NOTIFY_TIMEOUT", "15s", &cfg.NotifyTimeout},
		{"NOTIFY_RATE", "2s", &cfg.NotifyRate},
		{"CYCLE_TIMEOUT", "10m", &cfg.CycleTimeout},
		{"HTTP_TIMEOUT", "30s", &cfg.HTTPTimeout},
	}
	for _, d := range durations {
		raw := getenv(d.name, d.def)
		v, err := ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, raw, err)
		}
		*d.dst = v
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	if cfg.ErrorBackoff <= 0 {
		return nil, fmt.Errorf("ERROR_BACKOFF must be positive, got %s", cfg.ErrorBackoff)
	}

	if cfg.HTTPTimeout <= 0 {
		return nil, fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", cfg.HTTPTimeout)
	}
	if cfg.EpicPrimaryRegion == cfg.EpicReferenceRegion {
		return nil, fmt.Errorf("EPIC_PRIMARY_REGION and EPIC_REFERENCE_REGION must differ, both are %q", cfg.EpicPrimaryRegion)
	}

	cfg.SteamMinDiscount = 100
	if v := os.Getenv("STEAM_MIN_DISCOUNT"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid STEAM_MIN_DISCOUNT %q: %w", v, err)
		}
		if parsed < 0 || parsed > 100 {
			return nil, fmt.Errorf("STEAM_MIN_DISCOUNT must be within 0-100, got %d", parsed)
		}
		cfg.SteamMinDiscount = parsed
	}

	for _, name := range splitList(strings.ToLower(getenv("SOURCES", "epic,steam"))) {
		src := models.Source(name)
		if src != models.SourceEpic && src != models.SourceSteam {
			return nil, fmt.Errorf("unknown source %q in SOURCES", name)
		}
		cfg.Sources = append(cfg.Sources, src)
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("SOURCES must name at least one source")
	}

	switch cfg.LedgerBackend {
	case LedgerBackendFile:
	case LedgerBackendFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable is required when LEDGER_BACKEND=firestore")
		}
	default:
		return nil, fmt.Errorf("invalid LEDGER_BACKEND %q: want %q or %q", cfg.LedgerBackend, LedgerBackendFile, LedgerBackendFirestore)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if cfg.DiscordWebhookURL == "" {
		slog.Warn("DISCORD_WEBHOOK_URL not set, notifications will only be logged")
	}
	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN not set, manual endpoints are disabled")
	}

	return cfg, nil
}

// ParseDuration accepts Go duration syntax ("90s", "1h") or a bare number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
