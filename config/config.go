// Package config loads orgkitd settings from a YAML file, a .env file and
// ORGKIT_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type RateLimit struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type Config struct {
	App struct {
		Env       string `mapstructure:"env"`
		LogLevel  string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"`
	} `mapstructure:"app"`

	HTTP struct {
		Addr       string `mapstructure:"addr"`
		AdminToken string `mapstructure:"admin_token"`
	} `mapstructure:"http"`

	Ops struct {
		Addr    string `mapstructure:"addr"`
		Metrics bool   `mapstructure:"metrics"`
	} `mapstructure:"ops"`

	Postgres struct {
		DSN    string `mapstructure:"dsn"`
		Schema string `mapstructure:"schema"`
	} `mapstructure:"postgres"`

	// Redis is optional; without an address caches and rate limits stay in memory.
	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		StateTTL time.Duration `mapstructure:"state_ttl"`
	} `mapstructure:"redis"`

	Identity struct {
		Issuer        string `mapstructure:"issuer"`
		Audience      string `mapstructure:"audience"`
		JWKSURL       string `mapstructure:"jwks_url"`
		WebhookSecret string `mapstructure:"webhook_secret"`
	} `mapstructure:"identity"`

	Trial struct {
		Duration     time.Duration `mapstructure:"duration"`
		ExemptRoutes []string      `mapstructure:"exempt_routes"`
	} `mapstructure:"trial"`

	Sweep struct {
		// Scheduler is river, cron or off.
		Scheduler string        `mapstructure:"scheduler"`
		Interval  time.Duration `mapstructure:"interval"`
		Cron      string        `mapstructure:"cron"`
		BatchSize int           `mapstructure:"batch_size"`
	} `mapstructure:"sweep"`

	RateLimits map[string]RateLimit `mapstructure:"rate_limits"`

	// Plans overrides individual fields of the built-in plan table.
	Plans map[entitlements.PlanID]entitlements.PlanFeatures `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.admin_token", "")
	v.SetDefault("ops.addr", ":9090")
	v.SetDefault("ops.metrics", true)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.schema", "orgkit")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.state_ttl", time.Minute)
	v.SetDefault("identity.issuer", "")
	v.SetDefault("identity.audience", "")
	v.SetDefault("identity.jwks_url", "")
	v.SetDefault("identity.webhook_secret", "")
	v.SetDefault("trial.duration", entitlements.DefaultTrialDuration)
	v.SetDefault("trial.exempt_routes", []string{"/billing", "/support", "/login", "/signup"})
	v.SetDefault("sweep.scheduler", "river")
	v.SetDefault("sweep.interval", time.Hour)
	v.SetDefault("sweep.cron", "@every 1h")
	v.SetDefault("sweep.batch_size", 100)
	v.SetDefault("rate_limits", map[string]any{
		"default":     map[string]any{"limit": 120, "window": "1m"},
		"webhook":     map[string]any{"limit": 600, "window": "1m"},
		"limit_check": map[string]any{"limit": 300, "window": "1m"},
		"provision":   map[string]any{"limit": 60, "window": "1m"},
		"org_read":    map[string]any{"limit": 600, "window": "1m"},
	})
}

// Load reads path (optional) after loading envFile (optional) into the process environment.
func Load(path, envFile string) (Config, error) {
	var c Config
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return c, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ORGKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("config: decode: %w", err)
	}

	plans, err := planOverrides(v)
	if err != nil {
		return c, err
	}
	c.Plans = plans
	return c, c.Validate()
}

// planOverrides decodes each plans.<id> block on top of the built-in entry,
// so a file only names the fields it changes.
func planOverrides(v *viper.Viper) (map[entitlements.PlanID]entitlements.PlanFeatures, error) {
	raw := v.GetStringMap("plans")
	if len(raw) == 0 {
		return nil, nil
	}
	defaults := entitlements.DefaultCatalog()
	out := make(map[entitlements.PlanID]entitlements.PlanFeatures, len(raw))
	for id := range raw {
		pid := entitlements.PlanID(id)
		f, err := defaults.Lookup(pid)
		if err != nil {
			return nil, fmt.Errorf("config: plans.%s: %w", id, err)
		}
		if err := v.UnmarshalKey("plans."+id, &f); err != nil {
			return nil, fmt.Errorf("config: plans.%s: %w", id, err)
		}
		out[pid] = f
	}
	return out, nil
}

func (c Config) Validate() error {
	switch c.Sweep.Scheduler {
	case "river", "cron", "off":
	default:
		return fmt.Errorf("config: sweep.scheduler must be river, cron or off, got %q", c.Sweep.Scheduler)
	}
	if c.Trial.Duration <= 0 {
		return fmt.Errorf("config: trial.duration must be positive")
	}
	for name, rl := range c.RateLimits {
		if rl.Limit <= 0 || rl.Window <= 0 {
			return fmt.Errorf("config: rate_limits.%s needs a positive limit and window", name)
		}
	}
	return nil
}

// Catalog returns the built-in plan table with the configured overrides applied.
func (c Config) Catalog() (*entitlements.Catalog, error) {
	return entitlements.DefaultCatalog().WithOverrides(c.Plans)
}

// Evaluator builds the evaluator every component shares.
func (c Config) Evaluator() (*entitlements.Evaluator, error) {
	cat, err := c.Catalog()
	if err != nil {
		return nil, err
	}
	return entitlements.NewEvaluator(cat,
		entitlements.WithTrialDuration(c.Trial.Duration),
		entitlements.WithBillingExemptRoutes(c.Trial.ExemptRoutes...),
	), nil
}
