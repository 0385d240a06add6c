// Package config provides configuration for almighty-push.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the optional per-repository configuration file.
const ConfigFile = ".almighty.yaml"

// Config holds the runtime configuration. It is built once in main and
// threaded through every component constructor; there are no package-level
// defaults to mutate.
type Config struct {
	// BaseBranch is the branch the bottom of the stack targets (e.g. "main").
	BaseBranch string
	// Remote is the git remote name (e.g. "origin").
	Remote string
	// PushPrefix marks auto-generated per-change branches (e.g. "push-").
	PushPrefix string
	// ChangesPrefix marks user-curated change branches (e.g. "changes/").
	ChangesPrefix string
	// StateFile is the path of the persisted JSON state document.
	StateFile string
	// OpLogLimit bounds how many operation-log entries are scanned.
	OpLogLimit int
	// PRListLimit bounds how many open pull requests are listed per run.
	PRListLimit int
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseBranch:    "main",
		Remote:        "origin",
		PushPrefix:    "push-",
		ChangesPrefix: "changes/",
		StateFile:     ".almighty",
		OpLogLimit:    50,
		PRListLimit:   100,
	}
}

// fileConfig mirrors the optional YAML configuration file. Zero values mean
// "not set" and leave the default in place.
type fileConfig struct {
	BaseBranch  string `yaml:"base_branch"`
	Remote      string `yaml:"remote"`
	StateFile   string `yaml:"state_file"`
	OpLogLimit  int    `yaml:"op_log_limit"`
	PRListLimit int    `yaml:"pr_list_limit"`
}

// Load returns the default configuration overlaid with .almighty.yaml from
// dir (when present) and ALMIGHTY_* environment variables, in that order.
func Load(dir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(dir, ConfigFile)
	if data, err := os.ReadFile(path); err == nil {
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", ConfigFile, err)
		}
		if fc.BaseBranch != "" {
			cfg.BaseBranch = fc.BaseBranch
		}
		if fc.Remote != "" {
			cfg.Remote = fc.Remote
		}
		if fc.StateFile != "" {
			cfg.StateFile = fc.StateFile
		}
		if fc.OpLogLimit > 0 {
			cfg.OpLogLimit = fc.OpLogLimit
		}
		if fc.PRListLimit > 0 {
			cfg.PRListLimit = fc.PRListLimit
		}
	}

	cfg.BaseBranch = getEnv("ALMIGHTY_BASE_BRANCH", cfg.BaseBranch)
	cfg.Remote = getEnv("ALMIGHTY_REMOTE", cfg.Remote)
	cfg.StateFile = getEnv("ALMIGHTY_STATE_FILE", cfg.StateFile)
	cfg.OpLogLimit = getEnvInt("ALMIGHTY_OP_LOG_LIMIT", cfg.OpLogLimit)

	return cfg, nil
}

// IsManaged reports whether a branch or bookmark name is owned by this tool.
// User-created branches never match and must never be touched.
func (c *Config) IsManaged(name string) bool {
	return strings.HasPrefix(name, c.PushPrefix) || strings.HasPrefix(name, c.ChangesPrefix)
}

// ChangeIDFromBranch strips the managed prefix from a branch name, returning
// the embedded change-id prefix, or "" for unmanaged names.
func (c *Config) ChangeIDFromBranch(name string) string {
	if strings.HasPrefix(name, c.PushPrefix) {
		return strings.TrimPrefix(name, c.PushPrefix)
	}
	if strings.HasPrefix(name, c.ChangesPrefix) {
		return strings.TrimPrefix(name, c.ChangesPrefix)
	}
	return ""
}

// FallbackBranch is the deterministic branch name jj assigns when pushing a
// change without an explicit bookmark: the push prefix plus a 12-character
// change-id prefix.
func (c *Config) FallbackBranch(changeID string) string {
	if len(changeID) > 12 {
		changeID = changeID[:12]
	}
	return c.PushPrefix + changeID
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
