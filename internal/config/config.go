package config

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port            string `mapstructure:"PORT"`
	Env             string `mapstructure:"ENV"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32  `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer      string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL     string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience    string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey  string `mapstructure:"AUTH_SIGNING_KEY"`
	SweepEnabled    bool   `mapstructure:"SWEEP_ENABLED"`
	SweepSchedule   string `mapstructure:"SWEEP_SCHEDULE"`
	CatalogFile     string `mapstructure:"CATALOG_FILE"`
	InstallMetadata bool   `mapstructure:"INSTALL_METADATA"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SWEEP_ENABLED", true)
	v.SetDefault("SWEEP_SCHEDULE", "@daily")
	v.SetDefault("INSTALL_METADATA", false)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("SWEEP_ENABLED")
	v.BindEnv("SWEEP_SCHEDULE")
	v.BindEnv("CATALOG_FILE")
	v.BindEnv("INSTALL_METADATA")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Unauthenticated requests are accepted as the dev user.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_ISSUER or AUTH_SIGNING_KEY must be set so host callbacks are
// authenticated, and SWEEP_SCHEDULE must be a parsable cron spec.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}

	if c.SweepEnabled {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			return fmt.Errorf("SWEEP_SCHEDULE %q is not a valid cron spec: %w", c.SweepSchedule, err)
		}
	}

	return nil
}
