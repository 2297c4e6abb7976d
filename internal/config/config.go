package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	DictationCloudSTT  = "cloud_stt"
	DictationWebSpeech = "web_speech"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL        string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	APIBaseURL         string        `mapstructure:"API_BASE_URL"`
	APIToken           string        `mapstructure:"API_TOKEN"`
	DictationURL       string        `mapstructure:"DICTATION_URL"`
	DictationLocale    string        `mapstructure:"DICTATION_LOCALE"`
	DictationSource    string        `mapstructure:"DICTATION_SOURCE"`
	GlossaryPath       string        `mapstructure:"GLOSSARY_PATH"`
	DraftDBPath        string        `mapstructure:"DRAFT_DB_PATH"`
	DraftPruneSchedule string        `mapstructure:"DRAFT_PRUNE_SCHEDULE"`
	DraftRetention     time.Duration `mapstructure:"DRAFT_RETENTION"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"API_BASE_URL", "API_TOKEN",
	"DICTATION_URL", "DICTATION_LOCALE", "DICTATION_SOURCE", "GLOSSARY_PATH",
	"DRAFT_DB_PATH", "DRAFT_PRUNE_SCHEDULE", "DRAFT_RETENTION",
}

func read() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("API_BASE_URL", "http://localhost:8000/api/v1")
	v.SetDefault("DICTATION_LOCALE", "es-419")
	v.SetDefault("DICTATION_SOURCE", DictationCloudSTT)
	v.SetDefault("DRAFT_DB_PATH", "clinrec-drafts.db")
	v.SetDefault("DRAFT_PRUNE_SCHEDULE", "0 3 * * *")
	v.SetDefault("DRAFT_RETENTION", "720h")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.CORSOrigins) == 0 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	return cfg, nil
}

// Load reads server configuration. DATABASE_URL is required.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// LoadClient reads configuration for the authoring console, which talks to
// the records API instead of the database.
func LoadClient() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development
// a token verifier (issuer with JWKS, or a signing key) must be configured.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && (c.AuthIssuer == "" || c.AuthJWKSURL == "") {
		return fmt.Errorf("AUTH_ISSUER and AUTH_JWKS_URL, or AUTH_SIGNING_KEY, must be set when ENV=%q", c.Env)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	switch c.DictationSource {
	case DictationCloudSTT, DictationWebSpeech:
	default:
		return fmt.Errorf("DICTATION_SOURCE must be %q or %q, got %q", DictationCloudSTT, DictationWebSpeech, c.DictationSource)
	}
	if c.DraftRetention <= 0 {
		return fmt.Errorf("DRAFT_RETENTION must be positive, got %s", c.DraftRetention)
	}
	if _, err := cron.ParseStandard(c.DraftPruneSchedule); err != nil {
		return fmt.Errorf("DRAFT_PRUNE_SCHEDULE: %w", err)
	}
	return nil
}
