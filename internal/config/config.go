// Package config loads memstore settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the full memstore configuration.
type Config struct {
	// Dir is the store directory.
	Dir string `yaml:"dir"`
	// Replica overrides the persisted replica id.
	Replica string `yaml:"replica,omitempty"`
	// Maintainer names the replica allowed to prune, consolidate and split.
	// Empty means whichever replica claims the store first.
	Maintainer string `yaml:"maintainer,omitempty"`

	Decay     DecayConfig     `yaml:"decay"`
	Split     SplitConfig     `yaml:"split"`
	Summary   SummaryConfig   `yaml:"summary"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Git       GitConfig       `yaml:"git"`
	Watch     WatchConfig     `yaml:"watch"`
}

// DecayConfig tunes the lifecycle engine.
type DecayConfig struct {
	HalfLife       string  `yaml:"half_life"`
	ReinforceStep  float64 `yaml:"reinforce_step"`
	MaxStrength    float64 `yaml:"max_strength"`
	PruneThreshold float64 `yaml:"prune_threshold"`
}

// SplitConfig controls split changesets.
type SplitConfig struct {
	// SourcePolicy is "archive" or "delete".
	SourcePolicy string `yaml:"source_policy"`
	// Chunk sizes used by split --auto.
	TargetSize int `yaml:"target_size"`
	MaxSize    int `yaml:"max_size"`
}

// SummaryConfig configures the optional summarizer.
type SummaryConfig struct {
	// Provider is "" (none) or "ollama".
	Provider  string `yaml:"provider,omitempty"`
	Model     string `yaml:"model,omitempty"`
	Level     int    `yaml:"level"`
	MinTokens int    `yaml:"min_tokens"`
	Timeout   string `yaml:"timeout"`
	// Tokenizer is "words" or a tiktoken encoding such as "cl100k_base".
	Tokenizer string `yaml:"tokenizer"`
}

// EmbeddingConfig configures the optional embedder.
type EmbeddingConfig struct {
	// Provider is "" (none), "ollama" or "openai".
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// IndexConfig locates the derived search index.
type IndexConfig struct {
	// Path defaults to <dir>/.index.db, which is never synchronized.
	Path string `yaml:"path,omitempty"`
}

// GitConfig controls the git transport.
type GitConfig struct {
	// AutoCommit proposes every consolidate and split as a commit.
	AutoCommit bool `yaml:"auto_commit"`
}

// WatchConfig controls the directory watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// Home returns the per-user memstore directory.
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".memstore"
	}
	return filepath.Join(home, ".memstore")
}

// DefaultPath returns the config file location: $MEMSTORE_CONFIG, else
// ~/.memstore/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("MEMSTORE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(Home(), "config.yaml")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Dir: filepath.Join(Home(), "store"),
		Decay: DecayConfig{
			HalfLife:       "168h",
			ReinforceStep:  0.5,
			MaxStrength:    10,
			PruneThreshold: 0.05,
		},
		Split: SplitConfig{
			SourcePolicy: "archive",
			TargetSize:   1500,
			MaxSize:      2000,
		},
		Summary: SummaryConfig{
			Level:     1,
			MinTokens: 30,
			Timeout:   "2s",
			Tokenizer: "words",
		},
		Watch: WatchConfig{Debounce: "250ms"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.Dir = expandHome(cfg.Dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("MEMSTORE_DIR"); dir != "" {
		c.Dir = dir
	}
	if r := os.Getenv("MEMSTORE_REPLICA"); r != "" {
		c.Replica = r
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = key
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("config: dir is required")
	}
	if _, err := time.ParseDuration(c.Decay.HalfLife); err != nil {
		return fmt.Errorf("config: decay.half_life: %w", err)
	}
	if c.Decay.PruneThreshold < 0 || c.Decay.PruneThreshold > 1 {
		return fmt.Errorf("config: decay.prune_threshold %v outside [0, 1]", c.Decay.PruneThreshold)
	}
	switch c.Split.SourcePolicy {
	case "archive", "delete":
	default:
		return fmt.Errorf("config: split.source_policy %q (valid: archive, delete)", c.Split.SourcePolicy)
	}
	switch c.Summary.Provider {
	case "", "ollama":
	default:
		return fmt.Errorf("config: summary.provider %q (valid: ollama)", c.Summary.Provider)
	}
	return nil
}

// GetHalfLife returns the base decay half-life.
func (c *Config) GetHalfLife() time.Duration {
	d, err := time.ParseDuration(c.Decay.HalfLife)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// GetSummaryTimeout returns the bound on summarizer and embedder calls.
func (c *Config) GetSummaryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Summary.Timeout)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// GetDebounce returns the watcher debounce.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 250 * time.Millisecond
	}
	return d
}

// IndexPath returns the derived index location.
func (c *Config) IndexPath() string {
	if c.Index.Path != "" {
		return expandHome(c.Index.Path)
	}
	return filepath.Join(c.Dir, ".index.db")
}

// ReplicaID returns the configured replica id, else the id persisted at
// path, creating one on first use. The file is local to the machine and
// never synchronized.
func (c *Config) ReplicaID(path string) (string, error) {
	if c.Replica != "" {
		return c.Replica, nil
	}
	return LoadReplicaID(path)
}

// DefaultReplicaPath is ~/.memstore/replica-id.
func DefaultReplicaPath() string {
	return filepath.Join(Home(), "replica-id")
}

// LoadReplicaID reads the replica id at path, generating and persisting a
// new one when the file is missing.
func LoadReplicaID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read replica id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create replica id dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write replica id: %w", err)
	}
	return id, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
