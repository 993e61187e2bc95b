package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProjectType represents the type of project detected.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config represents the complete engine configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Assembler  AssemblerConfig  `yaml:"assembler" json:"assembler"`
	Indexer    IndexerConfig    `yaml:"indexer" json:"indexer"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
}

// PathsConfig configures which paths to include and exclude.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// SubmoduleConfig configures git submodule discovery during scanning.
type SubmoduleConfig struct {
	// Enabled turns submodule discovery on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Recursive descends into initialized submodules' own submodules.
	Recursive bool `yaml:"recursive" json:"recursive"`

	// Include and Exclude filter submodules by name or path pattern.
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ChunkingConfig configures the structured chunker.
type ChunkingConfig struct {
	// MaxChunkTokens is the target size threshold for a single chunk.
	// Function bodies under this size become exactly one chunk.
	MaxChunkTokens int `yaml:"max_chunk_tokens" json:"max_chunk_tokens"`

	// OverlapLines is the fixed line overlap between adjacent chunks
	// from the same file.
	OverlapLines int `yaml:"overlap_lines" json:"overlap_lines"`

	// FallbackWindowLines is the window size for line-based chunking
	// when the syntax parse fails.
	FallbackWindowLines int `yaml:"fallback_window_lines" json:"fallback_window_lines"`
}

// SearchConfig configures hybrid search parameters. Settings layer in
// order: user config (~/.config/codesearch/config.yaml), project config
// (.codesearch.yaml), then CODESEARCH_* env vars.
type SearchConfig struct {
	// RRFConstant is the RRF fusion smoothing parameter (k).
	// Default: 60. Higher values reduce the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// DefaultLimit is the result count when the caller does not specify one.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// MaxLimit caps the result count a caller may request.
	MaxLimit int `yaml:"max_limit" json:"max_limit"`

	// MinScore filters out results below this normalized score.
	MinScore float64 `yaml:"min_score" json:"min_score"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`

	// Concurrency bounds the number of embedding batches in flight.
	// Embedding is the dominant latency cost during indexing.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// AssemblerConfig configures token-budgeted context assembly.
type AssemblerConfig struct {
	// TotalBudget is the total token allotment for an assembled context.
	TotalBudget int `yaml:"total_budget" json:"total_budget"`

	// Category shares. Must sum to 1.0.
	DefinitionsShare float64 `yaml:"definitions_share" json:"definitions_share"`
	CodeShare        float64 `yaml:"code_share" json:"code_share"`
	ContextShare     float64 `yaml:"context_share" json:"context_share"`
	PatternsShare    float64 `yaml:"patterns_share" json:"patterns_share"`
}

// IndexerConfig configures the incremental indexer.
type IndexerConfig struct {
	// Workers bounds the per-file parallelism during Apply.
	Workers int `yaml:"workers" json:"workers"`

	// MaxFileSizeKB skips files larger than this during indexing.
	MaxFileSizeKB int `yaml:"max_file_size_kb" json:"max_file_size_kb"`

	// StateFile is the name of the persisted incremental state record,
	// relative to the data directory.
	StateFile string `yaml:"state_file" json:"state_file"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Chunking: ChunkingConfig{
			MaxChunkTokens:      512,
			OverlapLines:        3,
			FallbackWindowLines: 128,
		},
		Search: SearchConfig{
			// RRF constant k=60 is the standard smoothing value
			RRFConstant:  60,
			DefaultLimit: 10,
			MaxLimit:     100,
			MinScore:     0,
		},
		Embeddings: EmbeddingsConfig{
			Provider:    "static",
			Model:       "static768",
			Dimensions:  0, // Auto-detect from embedder
			BatchSize:   32,
			Concurrency: 4,
		},
		Assembler: AssemblerConfig{
			TotalBudget:      8000,
			DefinitionsShare: 0.25,
			CodeShare:        0.55,
			ContextShare:     0.15,
			PatternsShare:    0.05,
		},
		Indexer: IndexerConfig{
			Workers:       runtime.NumCPU(),
			MaxFileSizeKB: 1024,
			StateFile:     "index_state.json",
		},
		LogLevel: "info",
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/codesearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/codesearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codesearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "codesearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "codesearch", "config.yaml")
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/codesearch/config.yaml)
//  3. Project config (.codesearch.yaml in project root)
//  4. Environment variables (CODESEARCH_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Load user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: Load project config (overrides user config)
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// Step 3: Apply environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 4: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .codesearch.yaml or .codesearch.yml.
func (c *Config) loadFromFile(dir string) error {
	// Try .yaml first (takes precedence)
	yamlPath := filepath.Join(dir, ".codesearch.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	// Try .yml as fallback
	ymlPath := filepath.Join(dir, ".codesearch.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Merge parsed values with defaults (only non-zero values)
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Paths
	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	// Chunking
	if other.Chunking.MaxChunkTokens != 0 {
		c.Chunking.MaxChunkTokens = other.Chunking.MaxChunkTokens
	}
	if other.Chunking.OverlapLines != 0 {
		c.Chunking.OverlapLines = other.Chunking.OverlapLines
	}
	if other.Chunking.FallbackWindowLines != 0 {
		c.Chunking.FallbackWindowLines = other.Chunking.FallbackWindowLines
	}

	// Search
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.MaxLimit != 0 {
		c.Search.MaxLimit = other.Search.MaxLimit
	}
	if other.Search.MinScore != 0 {
		c.Search.MinScore = other.Search.MinScore
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.Concurrency != 0 {
		c.Embeddings.Concurrency = other.Embeddings.Concurrency
	}

	// Assembler
	if other.Assembler.TotalBudget != 0 {
		c.Assembler.TotalBudget = other.Assembler.TotalBudget
	}
	if other.Assembler.DefinitionsShare != 0 {
		c.Assembler.DefinitionsShare = other.Assembler.DefinitionsShare
	}
	if other.Assembler.CodeShare != 0 {
		c.Assembler.CodeShare = other.Assembler.CodeShare
	}
	if other.Assembler.ContextShare != 0 {
		c.Assembler.ContextShare = other.Assembler.ContextShare
	}
	if other.Assembler.PatternsShare != 0 {
		c.Assembler.PatternsShare = other.Assembler.PatternsShare
	}

	// Indexer
	if other.Indexer.Workers != 0 {
		c.Indexer.Workers = other.Indexer.Workers
	}
	if other.Indexer.MaxFileSizeKB != 0 {
		c.Indexer.MaxFileSizeKB = other.Indexer.MaxFileSizeKB
	}
	if other.Indexer.StateFile != "" {
		c.Indexer.StateFile = other.Indexer.StateFile
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// applyEnvOverrides applies CODESEARCH_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CODESEARCH_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("CODESEARCH_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// CODESEARCH_EMBEDDER is an alias for CODESEARCH_EMBEDDINGS_PROVIDER
	if v := os.Getenv("CODESEARCH_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CODESEARCH_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CODESEARCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CODESEARCH_TOTAL_BUDGET"); v != "" {
		if b, err := strconv.Atoi(v); err == nil && b > 0 {
			c.Assembler.TotalBudget = b
		}
	}
	if v := os.Getenv("CODESEARCH_INDEX_WORKERS"); v != "" {
		if w, err := strconv.Atoi(v); err == nil && w > 0 {
			c.Indexer.Workers = w
		}
	}
}

// DetectProjectType detects the project type based on marker files.
// Priority: go.mod > package.json > pyproject.toml/requirements.txt
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}

	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}

	if fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}

	return ProjectTypeUnknown
}

// FindProjectRoot finds the project root directory.
// It looks for .git directory or .codesearch.yaml/.yml file by walking up the directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		if fileExists(filepath.Join(currentDir, ".codesearch.yaml")) ||
			fileExists(filepath.Join(currentDir, ".codesearch.yml")) {
			return currentDir, nil
		}

		// Move up one directory
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached root, return original directory
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// String returns a string representation of ProjectType.
func (p ProjectType) String() string {
	return string(p)
}

// IsKnown returns true if the project type is known (not unknown).
func (p ProjectType) IsKnown() bool {
	return p != ProjectTypeUnknown
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.RRFConstant < 0 {
		return fmt.Errorf("rrf_constant must be non-negative, got %d", c.Search.RRFConstant)
	}
	if c.Search.DefaultLimit < 0 {
		return fmt.Errorf("default_limit must be non-negative, got %d", c.Search.DefaultLimit)
	}
	if c.Chunking.MaxChunkTokens < 0 {
		return fmt.Errorf("max_chunk_tokens must be non-negative, got %d", c.Chunking.MaxChunkTokens)
	}
	if c.Chunking.OverlapLines < 0 {
		return fmt.Errorf("overlap_lines must be non-negative, got %d", c.Chunking.OverlapLines)
	}

	// Assembler shares must partition the budget
	shareSum := c.Assembler.DefinitionsShare + c.Assembler.CodeShare +
		c.Assembler.ContextShare + c.Assembler.PatternsShare
	if math.Abs(shareSum-1.0) > 0.01 {
		return fmt.Errorf("assembler category shares must sum to 1.0, got %.2f", shareSum)
	}

	if c.Embeddings.Provider != "" { // Empty string triggers auto-detection
		validProviders := map[string]bool{"static": true, "static256": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be one of static, static256 or empty, got %s", c.Embeddings.Provider)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}
