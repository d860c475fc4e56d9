package cachecfg

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iriberri/provgraph/internal/platform/envutil"
	"github.com/iriberri/provgraph/internal/platform/logger"
)

// Config controls whether stored nodes may be reused (memoized) instead of
// recomputed. Caching is resolved per node kind: an explicit entry in
// Enabled or Disabled wins, otherwise Default applies.
type Config struct {
	Default  bool     `yaml:"default"`
	Enabled  []string `yaml:"enabled"`
	Disabled []string `yaml:"disabled"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cachecfg: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("cachecfg: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv loads the config file named by CACHE_CONFIG_PATH. When the
// variable is unset, caching falls back to the CACHE_DEFAULT flag with no
// per-kind overrides.
func FromEnv(log *logger.Logger) (*Config, error) {
	path := envutil.String("CACHE_CONFIG_PATH", "")
	if path == "" {
		cfg := &Config{Default: envutil.Bool("CACHE_DEFAULT", false)}
		return cfg, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if log != nil {
		log.Info("Loaded caching config", "path", path, "default", cfg.Default)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for _, kind := range c.Enabled {
		seen[strings.TrimSpace(kind)] = true
	}
	for _, kind := range c.Disabled {
		kind = strings.TrimSpace(kind)
		if seen[kind] {
			return fmt.Errorf("cachecfg: kind %q listed as both enabled and disabled", kind)
		}
	}
	return nil
}

// UseCache reports whether caching applies to the given node kind.
func (c *Config) UseCache(kind string) bool {
	if c == nil {
		return false
	}
	for _, k := range c.Disabled {
		if strings.TrimSpace(k) == kind {
			return false
		}
	}
	for _, k := range c.Enabled {
		if strings.TrimSpace(k) == kind {
			return true
		}
	}
	return c.Default
}
