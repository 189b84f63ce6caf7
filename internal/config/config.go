package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider kinds understood by the search clients.
const (
	KindAmazon        = "amazon"
	KindProductSearch = "product_search"
)

// Vision drivers.
const (
	VisionClarifai = "clarifai"
	VisionOpenAI   = "openai"
	VisionNone     = "none"
)

// DefaultSimilarityScript is the similarity search script path. The script is
// not part of this module and must be deployed next to the binary.
const DefaultSimilarityScript = "python-service/faiss_service.py"

// Config holds the shoplens API configuration.
type Config struct {
	HTTP       HTTPConfig                `yaml:"http"`
	Logging    LoggingConfig             `yaml:"logging"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Search     SearchConfig              `yaml:"search"`
	Vision     VisionConfig              `yaml:"vision"`
	Similarity SimilarityConfig          `yaml:"similarity"`
	Upload     UploadConfig              `yaml:"upload"`
	Normalize  NormalizeConfig           `yaml:"normalize"`
	Cache      CacheConfig               `yaml:"cache"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port               int      `yaml:"port"`
	ReadTimeoutSec     int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec    int      `yaml:"write_timeout_sec"`
	ShutdownSec        int      `yaml:"shutdown_timeout_sec"`
	CORSOrigins        []string `yaml:"cors_origins"`
	ExposeErrorDetails bool     `yaml:"expose_error_details"`
}

// ProviderConfig holds one upstream product-search API.
type ProviderConfig struct {
	Kind       string `yaml:"kind"` // amazon, product_search
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Host       string `yaml:"host"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// TrendingSlot is one entry of the trending response.
type TrendingSlot struct {
	Key      string `yaml:"key"`
	Provider string `yaml:"provider"`
	Store    string `yaml:"store"` // fuzzy-matched against product brand; empty matches any
}

// SearchConfig holds orchestrator settings.
type SearchConfig struct {
	Providers       []string       `yaml:"providers"` // enabled providers in merge order
	ResultShape     string         `yaml:"result_shape"`
	DefaultCountry  string         `yaml:"default_country"`
	DefaultLanguage string         `yaml:"default_language"`
	DefaultLimit    int            `yaml:"default_limit"`
	MaxLimit        int            `yaml:"max_limit"`
	DeadlineSec     int            `yaml:"deadline_sec"`
	MaxConcurrent   int            `yaml:"max_concurrent_providers"`
	ImageCountry    string         `yaml:"image_country"`
	ImageLimit      int            `yaml:"image_limit"`
	TrendingQueries []string       `yaml:"trending_queries"`
	TrendingSlots   []TrendingSlot `yaml:"trending_slots"`
}

// ClarifaiConfig holds Clarifai model settings.
type ClarifaiConfig struct {
	BaseURL        string `yaml:"base_url"`
	PAT            string `yaml:"pat"`
	UserID         string `yaml:"user_id"`
	AppID          string `yaml:"app_id"`
	ModelID        string `yaml:"model_id"`
	ModelVersionID string `yaml:"model_version_id"`
}

// OpenAIVisionConfig holds settings for an OpenAI-compatible vision model.
type OpenAIVisionConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// VisionConfig selects and configures the image classifier.
type VisionConfig struct {
	Driver     string             `yaml:"driver"` // clarifai, openai, none (default: clarifai)
	TimeoutSec int                `yaml:"timeout_sec"`
	Clarifai   ClarifaiConfig     `yaml:"clarifai"`
	OpenAI     OpenAIVisionConfig `yaml:"openai"`
}

// SimilarityConfig holds the similarity subprocess settings.
type SimilarityConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Python         string `yaml:"python"`
	Script         string `yaml:"script"`
	TimeoutSec     int    `yaml:"timeout_sec"`
	MaxOutputBytes int    `yaml:"max_output_bytes"`
}

// UploadConfig holds image upload settings.
type UploadConfig struct {
	Dir          string   `yaml:"dir"`
	MaxBytes     int64    `yaml:"max_bytes"`
	AllowedTypes []string `yaml:"allowed_types"`
}

// NormalizeConfig holds product normalization settings.
type NormalizeConfig struct {
	// SynthesizeStats fills missing rating and review counts with placeholders (default: true).
	SynthesizeStats *bool `yaml:"synthesize_stats"`
}

// CacheConfig holds the optional provider-result cache.
type CacheConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	TTLSec           int      `yaml:"ttl_sec"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse builds a validated configuration from YAML bytes.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// must outlive the search deadline
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	c.applyProviderDefaults()
	c.applySearchDefaults()

	if c.Vision.Driver == "" {
		c.Vision.Driver = VisionClarifai
	}
	if c.Vision.TimeoutSec <= 0 {
		c.Vision.TimeoutSec = 30
	}
	if c.Vision.Clarifai.BaseURL == "" {
		c.Vision.Clarifai.BaseURL = "https://api.clarifai.com"
	}
	if c.Vision.Clarifai.UserID == "" {
		c.Vision.Clarifai.UserID = "clarifai"
	}
	if c.Vision.Clarifai.AppID == "" {
		c.Vision.Clarifai.AppID = "main"
	}
	if c.Vision.Clarifai.ModelID == "" {
		c.Vision.Clarifai.ModelID = "general-image-detection"
	}
	if c.Vision.OpenAI.Model == "" {
		c.Vision.OpenAI.Model = "gpt-4o-mini"
	}

	if c.Similarity.Python == "" {
		c.Similarity.Python = "python3"
	}
	if c.Similarity.Script == "" {
		c.Similarity.Script = DefaultSimilarityScript
	}
	if c.Similarity.TimeoutSec <= 0 {
		c.Similarity.TimeoutSec = 30
	}
	if c.Similarity.MaxOutputBytes <= 0 {
		c.Similarity.MaxOutputBytes = 1 << 20
	}

	if c.Upload.Dir == "" {
		c.Upload.Dir = "uploads"
	}
	if c.Upload.MaxBytes <= 0 {
		c.Upload.MaxBytes = 5 << 20
	}
	if len(c.Upload.AllowedTypes) == 0 {
		c.Upload.AllowedTypes = []string{"image/jpeg", "image/jpg", "image/png"}
	}

	if c.Normalize.SynthesizeStats == nil {
		on := true
		c.Normalize.SynthesizeStats = &on
	}

	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 300
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "shoplens:search:"
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
}

func (c *Config) applyProviderDefaults() {
	if len(c.Providers) == 0 {
		c.Providers = map[string]ProviderConfig{
			"amazon":        {Kind: KindAmazon},
			"productSearch": {Kind: KindProductSearch},
		}
	}
	for name, p := range c.Providers {
		if p.TimeoutSec <= 0 {
			p.TimeoutSec = 30
		}
		switch p.Kind {
		case KindAmazon:
			if p.BaseURL == "" {
				p.BaseURL = "https://real-time-amazon-data.p.rapidapi.com"
			}
			if p.Host == "" {
				p.Host = "real-time-amazon-data.p.rapidapi.com"
			}
		case KindProductSearch:
			if p.BaseURL == "" {
				p.BaseURL = "https://real-time-product-search.p.rapidapi.com"
			}
			if p.Host == "" {
				p.Host = "real-time-product-search.p.rapidapi.com"
			}
		}
		c.Providers[name] = p
	}
}

func (c *Config) applySearchDefaults() {
	s := &c.Search
	if len(s.Providers) == 0 {
		s.Providers = []string{"amazon", "productSearch"}
	}
	if s.ResultShape == "" {
		s.ResultShape = "grouped"
	}
	if s.DefaultCountry == "" {
		s.DefaultCountry = "US"
	}
	if s.DefaultLanguage == "" {
		s.DefaultLanguage = "en"
	}
	if s.DefaultLimit <= 0 {
		s.DefaultLimit = 20
	}
	if s.MaxLimit <= 0 {
		s.MaxLimit = 100
	}
	if s.DeadlineSec <= 0 {
		s.DeadlineSec = 35
	}
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = 8
	}
	if s.ImageCountry == "" {
		s.ImageCountry = "IN"
	}
	if s.ImageLimit <= 0 {
		s.ImageLimit = 10
	}
	if len(s.TrendingQueries) == 0 {
		s.TrendingQueries = []string{"laptop", "smartphone", "headphones", "shoes", "watch", "camera"}
	}
	if len(s.TrendingSlots) == 0 {
		s.TrendingSlots = []TrendingSlot{
			{Key: "amazon", Provider: "amazon"},
			{Key: "flipkart", Provider: "productSearch", Store: "flipkart"},
			{Key: "myntra", Provider: "productSearch", Store: "myntra"},
		}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	for name, p := range c.Providers {
		switch p.Kind {
		case KindAmazon, KindProductSearch:
			// ok
		default:
			return fmt.Errorf(
				"providers.%s.kind must be %q or %q, got %q",
				name, KindAmazon, KindProductSearch, p.Kind,
			)
		}
	}
	seen := make(map[string]bool, len(c.Search.Providers))
	for _, name := range c.Search.Providers {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("search.providers: unknown provider %q", name)
		}
		if seen[name] {
			return fmt.Errorf("search.providers: duplicate provider %q", name)
		}
		seen[name] = true
	}
	switch c.Search.ResultShape {
	case "grouped", "flat":
		// ok
	default:
		return fmt.Errorf("search.result_shape must be \"grouped\" or \"flat\", got %q", c.Search.ResultShape)
	}
	if c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit (%d) exceeds search.max_limit (%d)",
			c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	for i, slot := range c.Search.TrendingSlots {
		if slot.Key == "" {
			return fmt.Errorf("search.trending_slots[%d].key is required", i)
		}
		if _, ok := c.Providers[slot.Provider]; !ok {
			return fmt.Errorf("search.trending_slots[%d]: unknown provider %q", i, slot.Provider)
		}
	}
	switch c.Vision.Driver {
	case VisionClarifai, VisionOpenAI, VisionNone:
		// ok
	default:
		return fmt.Errorf("vision.driver must be %q, %q or %q, got %q",
			VisionClarifai, VisionOpenAI, VisionNone, c.Vision.Driver)
	}
	if c.Cache.Enabled && len(c.Cache.Addrs) == 0 {
		return fmt.Errorf("cache.addrs is required when cache is enabled")
	}
	return nil
}

// SynthesizeStats reports whether missing product stats get placeholders.
func (c *Config) SynthesizeStats() bool {
	return c.Normalize.SynthesizeStats == nil || *c.Normalize.SynthesizeStats
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
