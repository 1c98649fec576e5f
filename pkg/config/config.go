package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig                 `yaml:"app"`
	Gateways   map[string]GatewayConfig  `yaml:"gateways"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Storage    StorageConfig             `yaml:"storage"`
	Engine     EngineConfig              `yaml:"engine"`
	Heuristics HeuristicsConfig          `yaml:"heuristics"`
	Governance GovernanceConfig          `yaml:"governance"`
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Workspace string `yaml:"workspace"`
	// PromptsDir overrides the embedded prompt files when set.
	PromptsDir string `yaml:"prompts_dir"`
}

type GatewayConfig struct {
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
	Enabled bool   `yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model,omitempty"`
	BaseURL        string `yaml:"base_url,omitempty"`
	Enabled        bool   `yaml:"enabled"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	LLMLogPath string `yaml:"llm_log_path"`
}

type EngineConfig struct {
	HybridEnabled         bool          `yaml:"hybrid_enabled"`
	LegacyTimeout         time.Duration `yaml:"legacy_timeout"`
	HybridTimeout         time.Duration `yaml:"hybrid_timeout"`
	MaxIterations         int           `yaml:"max_iterations"`
	RecentReflectionLimit int           `yaml:"recent_reflection_limit"`
	QualityThreshold      float64       `yaml:"quality_threshold"`
}

// HeuristicsConfig holds the uncalibrated constants used when a model leaves
// fields out of its plan.
type HeuristicsConfig struct {
	HighConfidence       float64 `yaml:"high_confidence"`
	LowConfidence        float64 `yaml:"low_confidence"`
	BackfillAlignment    float64 `yaml:"backfill_alignment"`
	BackfillConfidence   float64 `yaml:"backfill_confidence"`
	DependencyConfidence float64 `yaml:"dependency_confidence"`
	WaveSize             int     `yaml:"wave_size"`
}

type GovernanceConfig struct {
	DeniedTools     []string `yaml:"denied_tools"`
	DeniedArguments []string `yaml:"denied_arguments"`
	MaxCallsPerTool int      `yaml:"max_calls_per_tool"`
}

// Default returns the configuration used for any value the file leaves out.
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "priorities", Workspace: "."},
		Storage: StorageConfig{
			Path:       "priorities.db",
			LLMLogPath: "logs/llm.jsonl",
		},
		Engine: EngineConfig{
			LegacyTimeout:         90 * time.Second,
			HybridTimeout:         2 * time.Minute,
			MaxIterations:         6,
			RecentReflectionLimit: 5,
			QualityThreshold:      0.75,
		},
		Heuristics: HeuristicsConfig{
			HighConfidence:       0.90,
			LowConfidence:        0.55,
			BackfillAlignment:    5,
			BackfillConfidence:   0.6,
			DependencyConfidence: 0.55,
			WaveSize:             5,
		},
		Governance: GovernanceConfig{MaxCallsPerTool: 8},
	}
}

// Load reads a YAML file over the defaults, fills the OpenAI key from the
// environment when the file leaves it empty, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return
	}
	p, ok := c.Providers["openai"]
	if !ok || p.APIKey != "" {
		return
	}
	p.APIKey = key
	c.Providers["openai"] = p
}

// Validate rejects settings the engines cannot run with.
func (c *Config) Validate() error {
	var errs []error
	h := c.Heuristics
	if h.HighConfidence <= 0 || h.HighConfidence > 1 {
		errs = append(errs, fmt.Errorf("heuristics.high_confidence must be in (0, 1], got %v", h.HighConfidence))
	}
	if h.LowConfidence < 0 || h.LowConfidence > h.HighConfidence {
		errs = append(errs, fmt.Errorf("heuristics.low_confidence must be in [0, high_confidence], got %v", h.LowConfidence))
	}
	if h.BackfillConfidence < 0 || h.BackfillConfidence > 1 {
		errs = append(errs, fmt.Errorf("heuristics.backfill_confidence must be in [0, 1], got %v", h.BackfillConfidence))
	}
	if h.DependencyConfidence < 0 || h.DependencyConfidence > 1 {
		errs = append(errs, fmt.Errorf("heuristics.dependency_confidence must be in [0, 1], got %v", h.DependencyConfidence))
	}
	if h.WaveSize < 1 {
		errs = append(errs, fmt.Errorf("heuristics.wave_size must be at least 1, got %d", h.WaveSize))
	}

	e := c.Engine
	if e.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("engine.max_iterations must be at least 1, got %d", e.MaxIterations))
	}
	if e.QualityThreshold < 0 || e.QualityThreshold > 1 {
		errs = append(errs, fmt.Errorf("engine.quality_threshold must be in [0, 1], got %v", e.QualityThreshold))
	}
	if e.LegacyTimeout < 0 || e.HybridTimeout < 0 {
		errs = append(errs, errors.New("engine timeouts must not be negative"))
	}
	if c.Governance.MaxCallsPerTool < 0 {
		errs = append(errs, fmt.Errorf("governance.max_calls_per_tool must not be negative, got %d", c.Governance.MaxCallsPerTool))
	}
	return errors.Join(errs...)
}

// GetDefaultProvider returns the first enabled provider by name.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled {
		return tg, true
	}
	return GatewayConfig{}, false
}
