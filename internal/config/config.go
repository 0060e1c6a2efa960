// Package config provides configuration management for the noface
// orchestrator. Configuration is loaded from (highest to lowest priority):
//  1. Command-line flags
//  2. Environment variables (NOFACE_*)
//  3. Project config (.noface/config.yaml in cwd)
//  4. Home config (~/.config/noface/config.yaml)
//  5. Defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all orchestrator configuration (§6 configuration surface).
type Config struct {
	Project ProjectConfig `yaml:"project" json:"project"`
	Agents  AgentsConfig  `yaml:"agents" json:"agents"`
	Passes  PassesConfig  `yaml:"passes" json:"passes"`
	Tracker TrackerConfig `yaml:"tracker" json:"tracker"`
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`
}

// ProjectConfig describes the project being orchestrated.
type ProjectConfig struct {
	Name         string `yaml:"name" json:"name"`
	BuildCommand string `yaml:"build_command" json:"build_command"`
	TestCommand  string `yaml:"test_command" json:"test_command"`
}

// AgentsConfig configures the implementer/reviewer child processes.
type AgentsConfig struct {
	Implementer    string `yaml:"implementer" json:"implementer"`
	Reviewer       string `yaml:"reviewer" json:"reviewer"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	NumWorkers     int    `yaml:"num_workers" json:"num_workers"`

	// MergeResolver is the optional Merge-Resolver collaborator (§6)
	// invoked when a squash reports conflict. Empty disables it, in
	// which case a conflict aborts the attempt as failed.
	MergeResolver string `yaml:"merge_resolver" json:"merge_resolver"`
}

// PassesConfig configures periodic planner/quality passes.
type PassesConfig struct {
	PlannerEnabled  bool   `yaml:"planner_enabled" json:"planner_enabled"`
	PlannerInterval int    `yaml:"planner_interval" json:"planner_interval"`
	PlannerMode     string `yaml:"planner_mode" json:"planner_mode"` // interval | event_driven
	PlannerBinary   string `yaml:"planner_binary" json:"planner_binary"`
	QualityEnabled  bool   `yaml:"quality_enabled" json:"quality_enabled"`
	QualityInterval int    `yaml:"quality_interval" json:"quality_interval"`
	QualityBinary   string `yaml:"quality_binary" json:"quality_binary"`
}

// TrackerConfig configures the external issue-tracker integration.
type TrackerConfig struct {
	Type         string `yaml:"type" json:"type"` // beads | github
	SyncToGitHub bool   `yaml:"sync_to_github" json:"sync_to_github"`
}

// RuntimeConfig configures loop-level runtime behaviour.
type RuntimeConfig struct {
	DryRun        bool `yaml:"dry_run" json:"dry_run"`
	MaxIterations int  `yaml:"max_iterations" json:"max_iterations"` // 0 = unlimited
	Verbose       bool `yaml:"verbose" json:"verbose"`
}

const (
	// MinWorkers and MaxWorkers bound AgentsConfig.NumWorkers (§3 invariant 5).
	MinWorkers = 1
	MaxWorkers = 8

	// LoopIntervalSeconds is the default Main Loop sleep between empty dispatch
	// attempts.
	LoopIntervalSeconds = 5
)

// Default returns the default configuration, matching §6's parenthesised
// defaults.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{
			BuildCommand: "make build",
			TestCommand:  "make test",
		},
		Agents: AgentsConfig{
			Implementer:    "claude",
			Reviewer:       "codex",
			TimeoutSeconds: 900,
			NumWorkers:     5,
		},
		Passes: PassesConfig{
			PlannerEnabled:  true,
			PlannerInterval: 5,
			PlannerMode:     "interval",
			PlannerBinary:   "claude",
			QualityEnabled:  true,
			QualityInterval: 10,
			QualityBinary:   "claude",
		},
		Tracker: TrackerConfig{
			Type:         "beads",
			SyncToGitHub: true,
		},
		Runtime: RuntimeConfig{
			DryRun:        false,
			MaxIterations: 0,
			Verbose:       false,
		},
	}
}

// Load resolves configuration through the full precedence chain and
// validates it. flagOverrides carries only fields the caller explicitly
// set on the command line; zero-valued fields are treated as "not set".
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if home, err := loadFromPath(homeConfigPath()); err == nil && home != nil {
		cfg = merge(cfg, home)
	}
	if proj, err := loadFromPath(projectConfigPath()); err == nil && proj != nil {
		cfg = merge(cfg, proj)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	Normalize(cfg)
	return cfg, Validate(cfg)
}

// Normalize clamps fields that §6/§3 describe as clamped rather than
// rejected.
func Normalize(cfg *Config) {
	if cfg.Agents.NumWorkers < MinWorkers {
		cfg.Agents.NumWorkers = MinWorkers
	}
	if cfg.Agents.NumWorkers > MaxWorkers {
		cfg.Agents.NumWorkers = MaxWorkers
	}
}

// Validate rejects configuration values §6 describes as invalid (not
// merely clamped).
func Validate(cfg *Config) error {
	if cfg.Agents.TimeoutSeconds <= 0 {
		return fmt.Errorf("agents.timeout_seconds must be > 0, got %d", cfg.Agents.TimeoutSeconds)
	}
	switch cfg.Passes.PlannerMode {
	case "interval", "event_driven":
	default:
		return fmt.Errorf("passes.planner_mode must be 'interval' or 'event_driven', got %q", cfg.Passes.PlannerMode)
	}
	switch cfg.Tracker.Type {
	case "beads", "github":
	default:
		return fmt.Errorf("tracker.type must be 'beads' or 'github', got %q", cfg.Tracker.Type)
	}
	return nil
}

func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "noface", "config.yaml")
}

func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("NOFACE_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".noface", "config.yaml")
}

func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("NOFACE_PROJECT_NAME"); v != "" {
		cfg.Project.Name = v
	}
	if v := os.Getenv("NOFACE_BUILD_COMMAND"); v != "" {
		cfg.Project.BuildCommand = v
	}
	if v := os.Getenv("NOFACE_TEST_COMMAND"); v != "" {
		cfg.Project.TestCommand = v
	}
	if v := os.Getenv("NOFACE_IMPLEMENTER"); v != "" {
		cfg.Agents.Implementer = v
	}
	if v := os.Getenv("NOFACE_REVIEWER"); v != "" {
		cfg.Agents.Reviewer = v
	}
	if v := os.Getenv("NOFACE_MERGE_RESOLVER"); v != "" {
		cfg.Agents.MergeResolver = v
	}
	if v, ok := getEnvInt("NOFACE_TIMEOUT_SECONDS"); ok {
		cfg.Agents.TimeoutSeconds = v
	}
	if v, ok := getEnvInt("NOFACE_NUM_WORKERS"); ok {
		cfg.Agents.NumWorkers = v
	}
	if v := os.Getenv("NOFACE_TRACKER_TYPE"); v != "" {
		cfg.Tracker.Type = v
	}
	if v, ok := getEnvBool("NOFACE_SYNC_TO_GITHUB"); ok {
		cfg.Tracker.SyncToGitHub = v
	}
	if v, ok := getEnvBool("NOFACE_DRY_RUN"); ok {
		cfg.Runtime.DryRun = v
	}
	if v, ok := getEnvBool("NOFACE_VERBOSE"); ok {
		cfg.Runtime.Verbose = v
	}
	return cfg
}

func getEnvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getEnvBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	return v == "true" || v == "1", true
}

// merge overlays non-zero fields of src onto dst, src taking precedence.
func merge(dst, src *Config) *Config {
	if src.Project.Name != "" {
		dst.Project.Name = src.Project.Name
	}
	if src.Project.BuildCommand != "" {
		dst.Project.BuildCommand = src.Project.BuildCommand
	}
	if src.Project.TestCommand != "" {
		dst.Project.TestCommand = src.Project.TestCommand
	}
	if src.Agents.Implementer != "" {
		dst.Agents.Implementer = src.Agents.Implementer
	}
	if src.Agents.Reviewer != "" {
		dst.Agents.Reviewer = src.Agents.Reviewer
	}
	if src.Agents.TimeoutSeconds != 0 {
		dst.Agents.TimeoutSeconds = src.Agents.TimeoutSeconds
	}
	if src.Agents.NumWorkers != 0 {
		dst.Agents.NumWorkers = src.Agents.NumWorkers
	}
	if src.Agents.MergeResolver != "" {
		dst.Agents.MergeResolver = src.Agents.MergeResolver
	}
	if src.Passes.PlannerInterval != 0 {
		dst.Passes.PlannerInterval = src.Passes.PlannerInterval
	}
	if src.Passes.PlannerMode != "" {
		dst.Passes.PlannerMode = src.Passes.PlannerMode
	}
	if src.Passes.PlannerBinary != "" {
		dst.Passes.PlannerBinary = src.Passes.PlannerBinary
	}
	if src.Passes.QualityInterval != 0 {
		dst.Passes.QualityInterval = src.Passes.QualityInterval
	}
	if src.Passes.QualityBinary != "" {
		dst.Passes.QualityBinary = src.Passes.QualityBinary
	}
	dst.Passes.PlannerEnabled = src.Passes.PlannerEnabled || dst.Passes.PlannerEnabled
	dst.Passes.QualityEnabled = src.Passes.QualityEnabled || dst.Passes.QualityEnabled
	if src.Tracker.Type != "" {
		dst.Tracker.Type = src.Tracker.Type
	}
	dst.Tracker.SyncToGitHub = src.Tracker.SyncToGitHub || dst.Tracker.SyncToGitHub
	dst.Runtime.DryRun = src.Runtime.DryRun || dst.Runtime.DryRun
	dst.Runtime.Verbose = src.Runtime.Verbose || dst.Runtime.Verbose
	if src.Runtime.MaxIterations != 0 {
		dst.Runtime.MaxIterations = src.Runtime.MaxIterations
	}
	return dst
}
