package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries everything the bot core needs from the environment.
type Config struct {
	DBSource             string        `mapstructure:"db_source"`
	Port                 string        `mapstructure:"server_port"`
	APIBase              string        `mapstructure:"api_base"`
	AdminIDs             []string      `mapstructure:"-"`
	DefaultCredits       int64         `mapstructure:"default_credits"`
	LookupCost           int64         `mapstructure:"lookup_cost"`
	LookupTimeout        time.Duration `mapstructure:"lookup_timeout"`
	LookupCooldown       time.Duration `mapstructure:"lookup_cooldown"`
	BroadcastConcurrency int           `mapstructure:"broadcast_concurrency"`
	DeliveryURL          string        `mapstructure:"delivery_url"`
}

// Load reads configuration from environment variables. DB_SOURCE is
// required; everything else has a working default.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("server_port", "8080")
	v.SetDefault("api_base", "https://earnindia.top/my.php?vehicle=")
	v.SetDefault("default_credits", 3)
	v.SetDefault("lookup_cost", 1)
	v.SetDefault("lookup_timeout", 15*time.Second)
	v.SetDefault("lookup_cooldown", 2*time.Second)
	v.SetDefault("broadcast_concurrency", 10)

	// AutomaticEnv resolves keys lazily; BindEnv makes them visible to
	// Unmarshal as well.
	for _, key := range []string{
		"db_source", "server_port", "api_base", "admin_ids",
		"default_credits", "lookup_cost", "lookup_timeout",
		"lookup_cooldown", "broadcast_concurrency", "delivery_url",
	} {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DBSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}
	if cfg.LookupCost <= 0 {
		return nil, fmt.Errorf("LOOKUP_COST must be a positive integer, got %d", cfg.LookupCost)
	}
	if cfg.DefaultCredits < 0 {
		return nil, fmt.Errorf("DEFAULT_CREDITS must not be negative, got %d", cfg.DefaultCredits)
	}
	if cfg.BroadcastConcurrency <= 0 {
		return nil, fmt.Errorf("BROADCAST_CONCURRENCY must be positive, got %d", cfg.BroadcastConcurrency)
	}

	cfg.AdminIDs = ParseAdminIDs(v.GetString("admin_ids"))
	return &cfg, nil
}

// ParseAdminIDs splits the comma-separated ADMIN_IDS value, dropping
// empty segments and surrounding whitespace. Invalid entries are not an
// error: an operator typo must not keep the bot from starting.
func ParseAdminIDs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
