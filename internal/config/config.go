package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the core's normalised configuration: the fields IndexManager
// and its collaborators need to load or build an index and answer
// queries against it.
type Config struct {
	// IndexName identifies this index within the cache root's manifest.
	IndexName string `yaml:"index_name" json:"index_name"`

	// Directories is the canonical root set this index covers. Entries
	// are resolved to absolute paths on load.
	Directories []string `yaml:"directories" json:"directories"`

	// ReloadIntervalSeconds is the ReloadScheduler's polling period.
	// Zero disables the background scheduler.
	ReloadIntervalSeconds int `yaml:"reload_interval_seconds" json:"reload_interval_seconds"`

	// CacheRoot is the directory under which the manifest, vector store
	// files, and embedding cache are written.
	CacheRoot string `yaml:"cache_root" json:"cache_root"`

	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"` // "ollama" or "static"
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
}

// LLMConfig configures the streaming language-model provider used to
// answer questions against retrieved chunks.
type LLMConfig struct {
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
}

// ServerConfig configures the MCP server process.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"` // currently only "stdio"
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// defaultCacheRoot returns ~/.markdown-qa/cache, falling back to the
// system temp directory if the home directory is unavailable.
func defaultCacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".markdown-qa", "cache")
	}
	return filepath.Join(home, ".markdown-qa", "cache")
}

// NewConfig returns a Config with sensible defaults and no directories.
func NewConfig() *Config {
	return &Config{
		IndexName:             "default",
		Directories:           []string{},
		ReloadIntervalSeconds: 30,
		CacheRoot:             defaultCacheRoot(),
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			BatchSize: 10,
		},
		LLM: LLMConfig{
			Model: "qwen2.5:3b",
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// configFileNames are tried in order within a directory.
var configFileNames = []string{".markdown-qa.yaml", ".markdown-qa.yml"}

// Load builds a Config by layering: defaults, then a config file found in
// dir (if any), then environment variable overrides, then validation.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.resolveDirectories(dir); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ConfigPath returns the config file path within dir: the first name in
// configFileNames that exists, or the first name if none does (the path
// a freshly written config would take).
func ConfigPath(dir string) string {
	for _, name := range configFileNames {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path
		}
	}
	return filepath.Join(dir, configFileNames[0])
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range configFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return c.loadYAML(path)
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

// mergeWith overlays non-zero values from other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.IndexName != "" {
		c.IndexName = other.IndexName
	}
	if len(other.Directories) > 0 {
		c.Directories = other.Directories
	}
	if other.ReloadIntervalSeconds != 0 {
		c.ReloadIntervalSeconds = other.ReloadIntervalSeconds
	}
	if other.CacheRoot != "" {
		c.CacheRoot = other.CacheRoot
	}
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.OllamaHost != "" {
		c.LLM.OllamaHost = other.LLM.OllamaHost
	}
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies the highest-precedence layer of configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MARKDOWNQA_INDEX_NAME"); v != "" {
		c.IndexName = v
	}
	if v := os.Getenv("MARKDOWNQA_DIRECTORIES"); v != "" {
		c.Directories = strings.Split(v, string(os.PathListSeparator))
	}
	if v := os.Getenv("MARKDOWNQA_RELOAD_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.ReloadIntervalSeconds = n
		}
	}
	if v := os.Getenv("MARKDOWNQA_CACHE_ROOT"); v != "" {
		c.CacheRoot = v
	}
	if v := os.Getenv("MARKDOWNQA_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("MARKDOWNQA_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("MARKDOWNQA_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
		c.LLM.OllamaHost = v
	}
	if v := os.Getenv("MARKDOWNQA_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("MARKDOWNQA_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// resolveDirectories converts Directories to absolute paths, resolving
// relative entries against dir.
func (c *Config) resolveDirectories(dir string) error {
	resolved := make([]string, len(c.Directories))
	for i, d := range c.Directories {
		if filepath.IsAbs(d) {
			resolved[i] = filepath.Clean(d)
			continue
		}
		abs, err := filepath.Abs(filepath.Join(dir, d))
		if err != nil {
			return fmt.Errorf("resolve directory %q: %w", d, err)
		}
		resolved[i] = abs
	}
	c.Directories = resolved
	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.IndexName == "" {
		return fmt.Errorf("index_name must not be empty")
	}
	if c.ReloadIntervalSeconds < 0 {
		return fmt.Errorf("reload_interval_seconds must be non-negative, got %d", c.ReloadIntervalSeconds)
	}
	if c.CacheRoot == "" {
		return fmt.Errorf("cache_root must not be empty")
	}

	validProviders := map[string]bool{"ollama": true, "static": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %q", c.Embeddings.Provider)
	}

	validTransports := map[string]bool{"stdio": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio', got %q", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to path.
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

// FindProjectRoot walks up from startDir looking for a config file or a
// .git directory, falling back to startDir itself.
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
		for _, name := range configFileNames {
			if fileExists(filepath.Join(currentDir, name)) {
				return currentDir, nil
			}
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
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
