// Package config loads service configuration (viper: file + environment)
// and resolves the credential references stored on sync rows.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/syncfork/ticketbridge/internal/identity"
)

// Config is the service-level configuration. Sync rows themselves live in
// the store; this covers everything the process needs before it has one.
type Config struct {
	// ListenAddr is the webhook server bind address.
	ListenAddr string `mapstructure:"listen-addr"`

	// DatabasePath is the SQLite correspondence store location.
	DatabasePath string `mapstructure:"database-path"`

	// SyncFile is the YAML sync bootstrap file applied by `sync bootstrap`.
	SyncFile string `mapstructure:"sync-file"`

	// LinearAllowedIPs overrides the built-in Linear source allowlist.
	// Entries may be plain addresses or CIDR prefixes.
	LinearAllowedIPs []string `mapstructure:"linear-allowed-ips"`

	// PriorityLabels overrides the priority bucket names, keyed by bucket
	// ("1" through "4"). Unset buckets keep the Linear defaults.
	PriorityLabels map[string]string `mapstructure:"priority-labels"`

	v *viper.Viper
}

// Load reads configuration from the given file (optional) with environment
// overrides. Env vars use the TICKETBRIDGE_ prefix with dashes mapped to
// underscores, e.g. TICKETBRIDGE_LISTEN_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen-addr", ":8080")
	v.SetDefault("database-path", "ticketbridge.db")
	v.SetDefault("sync-file", "")

	v.SetEnvPrefix("TICKETBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.v = v

	if err := cfg.applyPriorityOverrides(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPriorityOverrides installs configured priority bucket names.
func (c *Config) applyPriorityOverrides() error {
	if len(c.PriorityLabels) == 0 {
		return nil
	}
	names := make(map[int]string, len(c.PriorityLabels))
	for key, name := range c.PriorityLabels {
		bucket, err := strconv.Atoi(key)
		if err != nil || bucket < 1 || bucket > 4 {
			return fmt.Errorf("priority-labels: invalid bucket %q (want 1-4)", key)
		}
		if name == "" {
			return fmt.Errorf("priority-labels: bucket %q has empty name", key)
		}
		names[bucket] = name
	}
	identity.SetPriorityNames(names)
	return nil
}
