// Package config loads and validates fskb's configuration: hardcoded
// defaults, overlaid with a user config file, then a project config
// file, then FSKB_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete fskb configuration.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking" json:"chunking"`
	Resource  ResourceConfig  `yaml:"resource" json:"resource"`
	Indexing  IndexingConfig  `yaml:"indexing" json:"indexing"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Roots     []string        `yaml:"roots" json:"roots"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" json:"provider"` // local, openai, voyage, cohere, google, anthropic
	Model     string `yaml:"model" json:"model"`
	APIKey    string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
}

// ChunkingConfig configures the text splitter.
type ChunkingConfig struct {
	ChunkSize    int      `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap" json:"chunk_overlap"`
	Separators   []string `yaml:"separators" json:"separators"`
}

// ResourceConfig bounds what the indexing engine is allowed to consume.
type ResourceConfig struct {
	MaxCPUPercent      float64 `yaml:"max_cpu_percent" json:"max_cpu_percent"`
	MaxMemoryMB        float64 `yaml:"max_memory_mb" json:"max_memory_mb"`
	MaxWorkers         int     `yaml:"max_workers,omitempty" json:"max_workers,omitempty"`
	IdleTimeoutSeconds int     `yaml:"idle_timeout_seconds" json:"idle_timeout_seconds"`
	DebounceDelayMs    int     `yaml:"debounce_delay_ms" json:"debounce_delay_ms"`
}

// IndexingConfig controls which files get scanned and indexed.
type IndexingConfig struct {
	TextExtensions   []string `yaml:"text_extensions" json:"text_extensions"`
	MaxFileSizeMB    int      `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	RespectGitignore bool     `yaml:"respect_gitignore" json:"respect_gitignore"`
	UseFskbignore    bool     `yaml:"use_fskbignore" json:"use_fskbignore"`
	SkipDirectories  []string `yaml:"skip_directories" json:"skip_directories"`
}

// SearchConfig sets the query engine's defaults.
type SearchConfig struct {
	TopK               int     `yaml:"top_k" json:"top_k"`
	MinSimilarity      float32 `yaml:"min_similarity" json:"min_similarity"`
	ContextLinesBefore int     `yaml:"context_lines_before" json:"context_lines_before"`
	ContextLinesAfter  int     `yaml:"context_lines_after" json:"context_lines_after"`
}

// StorageConfig locates persisted state on disk.
type StorageConfig struct {
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	LogDir    string `yaml:"log_dir" json:"log_dir"`
	ConfigDir string `yaml:"config_dir" json:"config_dir"`
}

// defaultSkipDirectories are always skipped regardless of ignore files.
var defaultSkipDirectories = []string{
	"node_modules", ".git", "vendor", "__pycache__", "dist", "build",
}

// NewConfig returns a Config populated with the documented defaults.
func NewConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Model:     "static-768",
			BatchSize: 8,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    3000,
			ChunkOverlap: 500,
			Separators:   []string{"\n\n", "\n", ". ", " ", ""},
		},
		Resource: ResourceConfig{
			MaxCPUPercent:      80,
			MaxMemoryMB:        1024,
			IdleTimeoutSeconds: 300,
			DebounceDelayMs:    200,
		},
		Indexing: IndexingConfig{
			MaxFileSizeMB:    10,
			RespectGitignore: true,
			UseFskbignore:    true,
			SkipDirectories:  defaultSkipDirectories,
		},
		Search: SearchConfig{
			TopK:               10,
			MinSimilarity:      0,
			ContextLinesBefore: 3,
			ContextLinesAfter:  3,
		},
		Storage: StorageConfig{
			DataDir:   defaultDataDir(),
			LogDir:    defaultLogDir(),
			ConfigDir: GetUserConfigDir(),
		},
		Roots: nil,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".fskb", "data")
	}
	return filepath.Join(home, ".fskb", "data")
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".fskb", "logs")
	}
	return filepath.Join(home, ".fskb", "logs")
}

// GetUserConfigPath returns the path to the user/global configuration
// file, following the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fskb", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "fskb", "config.yaml")
	}
	return filepath.Join(home, ".config", "fskb", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// LoadUserConfig loads the user configuration file, or (nil, nil) if it
// doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// Load builds a Config for dir: defaults, then the user config file (if
// any), then a project config file (.fskb.yaml or .fskb.yml in dir),
// then FSKB_* environment overrides, then validation.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".fskb.yaml", ".fskb.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero fields of other onto c, except
// Indexing.SkipDirectories, which is appended to c's list.
func (c *Config) mergeWith(other *Config) {
	if other.Embedding.Provider != "" {
		c.Embedding.Provider = other.Embedding.Provider
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.APIKey != "" {
		c.Embedding.APIKey = other.Embedding.APIKey
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}

	if other.Chunking.ChunkSize != 0 {
		c.Chunking.ChunkSize = other.Chunking.ChunkSize
	}
	if other.Chunking.ChunkOverlap != 0 {
		c.Chunking.ChunkOverlap = other.Chunking.ChunkOverlap
	}
	if len(other.Chunking.Separators) > 0 {
		c.Chunking.Separators = other.Chunking.Separators
	}

	if other.Resource.MaxCPUPercent != 0 {
		c.Resource.MaxCPUPercent = other.Resource.MaxCPUPercent
	}
	if other.Resource.MaxMemoryMB != 0 {
		c.Resource.MaxMemoryMB = other.Resource.MaxMemoryMB
	}
	if other.Resource.MaxWorkers != 0 {
		c.Resource.MaxWorkers = other.Resource.MaxWorkers
	}
	if other.Resource.IdleTimeoutSeconds != 0 {
		c.Resource.IdleTimeoutSeconds = other.Resource.IdleTimeoutSeconds
	}
	if other.Resource.DebounceDelayMs != 0 {
		c.Resource.DebounceDelayMs = other.Resource.DebounceDelayMs
	}

	if len(other.Indexing.TextExtensions) > 0 {
		c.Indexing.TextExtensions = other.Indexing.TextExtensions
	}
	if other.Indexing.MaxFileSizeMB != 0 {
		c.Indexing.MaxFileSizeMB = other.Indexing.MaxFileSizeMB
	}
	if len(other.Indexing.SkipDirectories) > 0 {
		c.Indexing.SkipDirectories = append(c.Indexing.SkipDirectories, other.Indexing.SkipDirectories...)
	}

	if other.Search.TopK != 0 {
		c.Search.TopK = other.Search.TopK
	}
	if other.Search.MinSimilarity != 0 {
		c.Search.MinSimilarity = other.Search.MinSimilarity
	}
	if other.Search.ContextLinesBefore != 0 {
		c.Search.ContextLinesBefore = other.Search.ContextLinesBefore
	}
	if other.Search.ContextLinesAfter != 0 {
		c.Search.ContextLinesAfter = other.Search.ContextLinesAfter
	}

	if other.Storage.DataDir != "" {
		c.Storage.DataDir = other.Storage.DataDir
	}
	if other.Storage.LogDir != "" {
		c.Storage.LogDir = other.Storage.LogDir
	}
	if other.Storage.ConfigDir != "" {
		c.Storage.ConfigDir = other.Storage.ConfigDir
	}

	if len(other.Roots) > 0 {
		c.Roots = other.Roots
	}
}

// applyEnvOverrides applies FSKB_* environment variable overrides, the
// highest-precedence configuration source.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FSKB_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("FSKB_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("FSKB_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("FSKB_SEARCH_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.TopK = k
		}
	}
	if v := os.Getenv("FSKB_SEARCH_MIN_SIMILARITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil && f >= 0 && f <= 1 {
			c.Search.MinSimilarity = float32(f)
		}
	}
	if v := os.Getenv("FSKB_STORAGE_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("FSKB_STORAGE_LOG_DIR"); v != "" {
		c.Storage.LogDir = v
	}
}

// Validate checks every bounded field against the ranges the
// configuration key table documents.
func (c *Config) Validate() error {
	validProviders := map[string]bool{
		"local": true, "openai": true, "voyage": true,
		"cohere": true, "google": true, "anthropic": true,
	}
	if !validProviders[strings.ToLower(c.Embedding.Provider)] {
		return fmt.Errorf("embedding.provider must be one of local/openai/voyage/cohere/google/anthropic, got %q", c.Embedding.Provider)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}

	if c.Chunking.ChunkSize < 100 || c.Chunking.ChunkSize > 8000 {
		return fmt.Errorf("chunking.chunk_size must be between 100 and 8000, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap > 2000 {
		return fmt.Errorf("chunking.chunk_overlap must be between 0 and 2000, got %d", c.Chunking.ChunkOverlap)
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap (%d) must be less than chunk_size (%d)", c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}

	if c.Resource.MaxCPUPercent < 1 || c.Resource.MaxCPUPercent > 100 {
		return fmt.Errorf("resource.max_cpu_percent must be between 1 and 100, got %f", c.Resource.MaxCPUPercent)
	}
	if c.Resource.MaxMemoryMB < 256 {
		return fmt.Errorf("resource.max_memory_mb must be at least 256, got %f", c.Resource.MaxMemoryMB)
	}
	if c.Resource.DebounceDelayMs < 100 || c.Resource.DebounceDelayMs > 5000 {
		return fmt.Errorf("resource.debounce_delay_ms must be between 100 and 5000, got %d", c.Resource.DebounceDelayMs)
	}

	if c.Indexing.MaxFileSizeMB < 1 || c.Indexing.MaxFileSizeMB > 100 {
		return fmt.Errorf("indexing.max_file_size_mb must be between 1 and 100, got %d", c.Indexing.MaxFileSizeMB)
	}

	if c.Search.TopK < 1 || c.Search.TopK > 100 {
		return fmt.Errorf("search.top_k must be between 1 and 100, got %d", c.Search.TopK)
	}
	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity > 1 {
		return fmt.Errorf("search.min_similarity must be between 0 and 1, got %f", c.Search.MinSimilarity)
	}
	for _, n := range []int{c.Search.ContextLinesBefore, c.Search.ContextLinesAfter} {
		if n < 0 || n > 10 {
			return fmt.Errorf("search.context_lines_before/after must be between 0 and 10, got %d", n)
		}
	}

	return nil
}

// WriteYAML marshals c and writes it to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindProjectRoot walks up from startDir looking for a .git directory
// or a .fskb.yaml/.yml file, falling back to startDir if neither is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	dir := absDir
	for {
		if dirExists(filepath.Join(dir, ".git")) ||
			fileExists(filepath.Join(dir, ".fskb.yaml")) ||
			fileExists(filepath.Join(dir, ".fskb.yml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
