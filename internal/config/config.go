// Package config loads runtime settings for the safeboundary binary from an
// optional YAML file, SAFEBOUNDARY_* environment variables and CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SAFEBOUNDARY_LOG_LEVEL.
const EnvPrefix = "SAFEBOUNDARY"

// Config is the runtime configuration. Policy tables live in the policy file.
type Config struct {
	Root       string        `mapstructure:"root" validate:"required"`
	Prefix     string        `mapstructure:"prefix"`
	PolicyPath string        `mapstructure:"policy"`
	OrgPath    string        `mapstructure:"org_policy"`
	AuditLog   string        `mapstructure:"audit_log"`
	EventDB    string        `mapstructure:"event_db"`
	GRPCAddr   string        `mapstructure:"grpc_addr"`
	HTTPAddr   string        `mapstructure:"http_addr"`
	LeaseTTL   time.Duration `mapstructure:"lease_ttl" validate:"gt=0"`
	LogLevel   string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat  string        `mapstructure:"log_format" validate:"oneof=json console"`
	RateLimit  float64       `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst  int           `mapstructure:"rate_burst" validate:"gte=1"`
	Watch      bool          `mapstructure:"watch"`
}

var validate = validator.New()

// Dir is the per-user state directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".safeboundary"
	}
	return filepath.Join(home, ".safeboundary")
}

func setDefaults(v *viper.Viper) {
	dir := Dir()
	v.SetDefault("root", ".")
	v.SetDefault("prefix", "")
	v.SetDefault("policy", filepath.Join(dir, "policy.yaml"))
	v.SetDefault("org_policy", filepath.Join(dir, "org.yaml"))
	v.SetDefault("audit_log", filepath.Join(dir, "audit.jsonl"))
	v.SetDefault("event_db", filepath.Join(dir, "events.db"))
	v.SetDefault("grpc_addr", "127.0.0.1:7443")
	v.SetDefault("http_addr", "127.0.0.1:7080")
	v.SetDefault("lease_ttl", 10*time.Minute)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("rate_limit", 50.0)
	v.SetDefault("rate_burst", 100)
	v.SetDefault("watch", true)
}

// Load merges defaults, the config file, environment and flags, in rising
// precedence. An empty file searches ./safeboundary.yaml and Dir(); a missing
// file is not an error unless it was named explicitly. Flags are bound by
// name with "-" in place of "_"; unknown flags are ignored.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("safeboundary")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", describe(file), err)
		}
	}

	if flags != nil {
		for _, key := range v.AllKeys() {
			if f := flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Root = expandHome(cfg.Root)
	for _, p := range []*string{&cfg.PolicyPath, &cfg.OrgPath, &cfg.AuditLog, &cfg.EventDB} {
		*p = expandHome(*p)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func describe(file string) string {
	if file == "" {
		return "config file"
	}
	return file
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
