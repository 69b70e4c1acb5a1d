// Package configresolve implements the layered configuration resolution,
// highest precedence first: main-repository, then worktree-local, then
// global per-user, then compiled-in defaults. The merged result is
// validated once, after all tiers are merged.
package configresolve

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

const configFileName = ".sqlew/config.toml"

// DatabaseConfig mirrors the [database] section of the config file.
type DatabaseConfig struct {
	Type       string `toml:"type"`
	Path       string `toml:"path"`
	Connection struct {
		Host     string `toml:"host"`
		Port     int    `toml:"port"`
		Database string `toml:"database"`
	} `toml:"connection"`
	Auth struct {
		Type     string `toml:"type"`
		User     string `toml:"user"`
		Password string `toml:"password"`
		SSL      struct {
			Mode string `toml:"mode"`
		} `toml:"ssl"`
	} `toml:"auth"`
}

// AutodeleteConfig mirrors the [autodelete] section.
type AutodeleteConfig struct {
	IgnoreWeekend    bool `toml:"ignore_weekend"`
	MessageHours     int  `toml:"message_hours"`
	FileHistoryDays  int  `toml:"file_history_days"`
}

// TasksConfig mirrors the [tasks] section.
type TasksConfig struct {
	AutoArchiveDoneDays      int `toml:"auto_archive_done_days"`
	StaleHoursInProgress     int `toml:"stale_hours_in_progress"`
	StaleHoursWaitingReview  int `toml:"stale_hours_waiting_review"`
}

// AgentsConfig mirrors the [agents] section: which specialist prompts to
// install. The TOML decode ignores any other key under this section, and
// validation does not detect such keys.
type AgentsConfig struct {
	ScrumMaster bool `toml:"scrum_master"`
	Researcher  bool `toml:"researcher"`
	Architect   bool `toml:"architect"`
}

// Config is the fully resolved, validated configuration.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Autodelete AutodeleteConfig `toml:"autodelete"`
	Tasks      TasksConfig      `toml:"tasks"`
	Agents     AgentsConfig     `toml:"agents"`
}

// Defaults returns the compiled-in configuration, the lowest-precedence
// tier of the resolution chain.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{Type: "sqlite", Path: ".sqlew/sqlew.db"},
		Autodelete: AutodeleteConfig{
			IgnoreWeekend:   true,
			MessageHours:    72,
			FileHistoryDays: 30,
		},
		Tasks: TasksConfig{
			AutoArchiveDoneDays:     14,
			StaleHoursInProgress:    24,
			StaleHoursWaitingReview: 48,
		},
	}
}

// Resolve walks the four-tier precedence chain, highest precedence
// first: main-repository config (for a worktree, the parent repo's
// .sqlew/config.toml), local worktree/project config, global per-user
// config, then compiled-in defaults. Each tier is decoded directly with
// BurntSushi/toml rather than routed through viper's own file loader,
// because viper has no notion of this four-way precedence merge; viper is
// used afterward only to overlay environment variables onto the winning
// values.
func Resolve(startDir string) (Config, error) {
	cfg := Defaults()

	if global, err := loadIfPresent(globalConfigPath()); err == nil {
		mergeInto(&cfg, global)
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("loading global config: %w", err)
	}

	if local, err := localConfigPath(startDir); err == nil {
		if c, err := loadIfPresent(local); err == nil {
			mergeInto(&cfg, c)
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("loading local config: %w", err)
		}
	}

	if main, err := mainRepoConfigPath(); err == nil {
		if c, err := loadIfPresent(main); err == nil {
			mergeInto(&cfg, c)
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("loading main-repo config: %w", err)
		}
	}

	applyEnvOverlay(&cfg)

	if errs := Validate(cfg); len(errs) > 0 {
		// On failure, fall back to defaults for the whole file rather
		// than a partial merge, per the config layer's explicit rule, after logging
		// each violation for the caller to surface.
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config validation: %v\n", e)
		}
		return Defaults(), fmt.Errorf("%d config validation error(s), falling back to defaults", len(errs))
	}

	return cfg, nil
}

func loadIfPresent(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err != nil {
		return cfg, err
	}
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}

// mergeInto overlays every non-zero field of override onto dst. A partial
// file (e.g. only [tasks]) leaves the rest of dst at its prior tier's
// values instead of zeroing them out.
func mergeInto(dst *Config, override Config) {
	if override.Database.Type != "" {
		dst.Database.Type = override.Database.Type
	}
	if override.Database.Path != "" {
		dst.Database.Path = override.Database.Path
	}
	if override.Database.Connection.Host != "" {
		dst.Database.Connection = override.Database.Connection
	}
	if override.Database.Auth.Type != "" {
		dst.Database.Auth = override.Database.Auth
	}
	if override.Autodelete.MessageHours != 0 {
		dst.Autodelete.MessageHours = override.Autodelete.MessageHours
	}
	if override.Autodelete.FileHistoryDays != 0 {
		dst.Autodelete.FileHistoryDays = override.Autodelete.FileHistoryDays
	}
	dst.Autodelete.IgnoreWeekend = override.Autodelete.IgnoreWeekend
	if override.Tasks.AutoArchiveDoneDays != 0 {
		dst.Tasks.AutoArchiveDoneDays = override.Tasks.AutoArchiveDoneDays
	}
	if override.Tasks.StaleHoursInProgress != 0 {
		dst.Tasks.StaleHoursInProgress = override.Tasks.StaleHoursInProgress
	}
	if override.Tasks.StaleHoursWaitingReview != 0 {
		dst.Tasks.StaleHoursWaitingReview = override.Tasks.StaleHoursWaitingReview
	}
	dst.Agents = override.Agents
}

func localConfigPath(startDir string) (string, error) {
	return filepath.Join(startDir, configFileName), nil
}

func mainRepoConfigPath() (string, error) {
	root, err := mainRepoRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, configFileName), nil
}

func globalConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = home
	}
	return filepath.Join(dir, "sqlew", "config.toml")
}

// applyEnvOverlay binds SQLEW_-prefixed environment variables over the
// resolved config, using viper purely as the env-to-field binder (it never
// sees the TOML files directly, since it cannot express the four-tier
// precedence chain above).
func applyEnvOverlay(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("SQLEW")
	v.AutomaticEnv()

	if p := v.GetString("DB_PATH"); p != "" {
		cfg.Database.Path = p
	}
	if h := v.GetString("DB_HOST"); h != "" {
		cfg.Database.Connection.Host = h
	}
	if u := v.GetString("DB_USER"); u != "" {
		cfg.Database.Auth.User = u
	}
	if pw := v.GetString("DB_PASSWORD"); pw != "" {
		cfg.Database.Auth.Password = pw
	}
}
