// Package config loads the run configuration: defaults, then the user
// config file, then an explicit YAML file, then RANKFUSE_* environment
// overrides. Validation happens once, before any query runs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/rankfuse/internal/embed"
	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/search"
	"github.com/Aman-CERP/rankfuse/internal/store"
)

// Vector backends.
const (
	VectorBackendHNSW    = "hnsw"
	VectorBackendChromem = "chromem"
)

// Rerank providers.
const (
	RerankProviderLexical = "lexical"
	RerankProviderHTTP    = "http"
	RerankProviderNoOp    = "noop"
)

// Config is the complete run configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Embedder  EmbedderConfig  `yaml:"embedder" json:"embedder"`
	Rerank    RerankConfig    `yaml:"rerank" json:"rerank"`
	Run       RunConfig       `yaml:"run" json:"run"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// RetrievalConfig configures the first stage.
type RetrievalConfig struct {
	// Type is bm25, dense, hybrid or rrf.
	Type string `yaml:"type" json:"type"`

	// TopK is the number of results per query before rerank.
	TopK int `yaml:"top_k" json:"top_k"`

	// Alpha weights the dense signal in hybrid fusion.
	Alpha float64 `yaml:"alpha" json:"alpha"`

	// RRFK is the reciprocal rank constant.
	RRFK int `yaml:"rrf_k" json:"rrf_k"`

	// PerSignalK is how deep each signal is read before fusion.
	PerSignalK int `yaml:"per_signal_k" json:"per_signal_k"`

	BM25Backend   string `yaml:"bm25_backend" json:"bm25_backend"`
	VectorBackend string `yaml:"vector_backend" json:"vector_backend"`
	IndexDir      string `yaml:"index_dir" json:"index_dir"`
}

// EmbedderConfig configures the dense signal's embedder.
type EmbedderConfig struct {
	Provider  string `yaml:"provider" json:"provider"`
	Model     string `yaml:"model" json:"model"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`

	// CacheSize bounds the embedding LRU. Negative disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// RerankConfig configures the optional second stage.
type RerankConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	CandidateK int  `yaml:"candidate_k" json:"candidate_k"`

	// TopK is out_k, the final list length.
	TopK       int     `yaml:"top_k" json:"top_k"`
	Mode       string  `yaml:"mode" json:"mode"`
	Lambda     float64 `yaml:"lambda" json:"lambda"`
	MinMaxNorm bool    `yaml:"minmax_norm" json:"minmax_norm"`

	// DocsPath is the docs.jsonl the scorer reads candidate text from.
	DocsPath    string `yaml:"docs_path" json:"docs_path"`
	MaxDocChars int    `yaml:"max_doc_chars" json:"max_doc_chars"`

	Provider  string        `yaml:"provider" json:"provider"`
	Endpoint  string        `yaml:"endpoint" json:"endpoint"`
	ModelName string        `yaml:"model_name" json:"model_name"`
	BatchSize int           `yaml:"batch_size" json:"batch_size"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`

	// RateLimit caps scorer requests per second. 0 disables it.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
}

// RunConfig configures query execution.
type RunConfig struct {
	Workers  int  `yaml:"workers" json:"workers"`
	FailFast bool `yaml:"fail_fast" json:"fail_fast"`
}

// LoggingConfig configures the log level.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// NewConfig creates a Config with the defaults.
func NewConfig() *Config {
	rr := search.DefaultRerankConfig()
	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			Type:          string(search.RetrievalHybrid),
			TopK:          100,
			Alpha:         search.DefaultHybridAlpha,
			RRFK:          search.DefaultRRFConstant,
			PerSignalK:    search.DefaultPerSignalK,
			BM25Backend:   string(store.BM25BackendSQLite),
			VectorBackend: VectorBackendHNSW,
			IndexDir:      "index",
		},
		Embedder: EmbedderConfig{
			Provider:  string(embed.ProviderStatic),
			APIKeyEnv: embed.DefaultAPIKeyEnv,
			CacheSize: embed.DefaultEmbeddingCacheSize,
		},
		Rerank: RerankConfig{
			Enabled:    rr.Enabled,
			CandidateK: rr.CandidateK,
			TopK:       rr.OutK,
			Mode:       string(rr.Mode),
			Lambda:     rr.Lambda,
			MinMaxNorm: rr.UseMinMax,
			Provider:   RerankProviderLexical,
			Endpoint:   search.DefaultScorerEndpoint,
			ModelName:  search.DefaultScorerModel,
			BatchSize:  search.DefaultScorerBatchSize,
			Timeout:    search.DefaultScorerTimeout,
		},
		Run: RunConfig{
			Workers: 4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file:
// $XDG_CONFIG_HOME/rankfuse/config.yaml, or ~/.config/rankfuse/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rankfuse", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "rankfuse", "config.yaml")
	}
	return filepath.Join(home, ".config", "rankfuse", "config.yaml")
}

// Load builds the configuration in order of increasing precedence:
//  1. Defaults
//  2. User config (GetUserConfigPath), if present
//  3. The file at path, if path is non-empty (it must exist)
//  4. RANKFUSE_* environment variables
//
// The result is validated; every failure is a ConfigurationError.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if !fileExists(path) {
			return nil, rferrors.New(rferrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file not found: %s", path), nil).
				WithSuggestion("run 'rankfuse config init' to create one")
		}
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path over the current values, so keys the file omits
// keep their defaults and explicit zeros (alpha: 0, enabled: false) are
// honored. Unknown keys are rejected.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return rferrors.ConfigurationError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	next := *c
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&next); err != nil && !errors.Is(err, io.EOF) {
		return rferrors.ConfigurationError(fmt.Sprintf("failed to parse config file %s", path), err).
			WithDetail("path", path)
	}
	*c = next
	return nil
}

// envOverride binds one RANKFUSE_* variable to a setter.
type envOverride struct {
	name  string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"RANKFUSE_RETRIEVAL_TYPE", func(c *Config, v string) error { c.Retrieval.Type = v; return nil }},
	{"RANKFUSE_TOP_K", func(c *Config, v string) error { return setInt(&c.Retrieval.TopK, v) }},
	{"RANKFUSE_ALPHA", func(c *Config, v string) error { return setFloat(&c.Retrieval.Alpha, v) }},
	{"RANKFUSE_RRF_K", func(c *Config, v string) error { return setInt(&c.Retrieval.RRFK, v) }},
	{"RANKFUSE_PER_SIGNAL_K", func(c *Config, v string) error { return setInt(&c.Retrieval.PerSignalK, v) }},
	{"RANKFUSE_BM25_BACKEND", func(c *Config, v string) error { c.Retrieval.BM25Backend = v; return nil }},
	{"RANKFUSE_VECTOR_BACKEND", func(c *Config, v string) error { c.Retrieval.VectorBackend = v; return nil }},
	{"RANKFUSE_INDEX_DIR", func(c *Config, v string) error { c.Retrieval.IndexDir = v; return nil }},
	{embed.EnvProvider, func(c *Config, v string) error { c.Embedder.Provider = v; return nil }},
	{"RANKFUSE_EMBEDDER_MODEL", func(c *Config, v string) error { c.Embedder.Model = v; return nil }},
	{"RANKFUSE_EMBEDDER_ENDPOINT", func(c *Config, v string) error { c.Embedder.Endpoint = v; return nil }},
	{"RANKFUSE_RERANK", func(c *Config, v string) error { return setBool(&c.Rerank.Enabled, v) }},
	{"RANKFUSE_RERANK_MODE", func(c *Config, v string) error { c.Rerank.Mode = v; return nil }},
	{"RANKFUSE_RERANK_LAMBDA", func(c *Config, v string) error { return setFloat(&c.Rerank.Lambda, v) }},
	{"RANKFUSE_RERANK_CANDIDATE_K", func(c *Config, v string) error { return setInt(&c.Rerank.CandidateK, v) }},
	{"RANKFUSE_RERANK_PROVIDER", func(c *Config, v string) error { c.Rerank.Provider = v; return nil }},
	{"RANKFUSE_RERANK_ENDPOINT", func(c *Config, v string) error { c.Rerank.Endpoint = v; return nil }},
	{"RANKFUSE_WORKERS", func(c *Config, v string) error { return setInt(&c.Run.Workers, v) }},
	{"RANKFUSE_LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
}

// applyEnvOverrides applies RANKFUSE_* environment variable overrides.
// A malformed number or boolean is a configuration error rather than
// silently ignored.
func (c *Config) applyEnvOverrides() error {
	for _, o := range envOverrides {
		v := strings.TrimSpace(os.Getenv(o.name))
		if v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return rferrors.ConfigurationError(fmt.Sprintf("invalid value for %s: %q", o.name, v), err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("not a finite number")
	}
	*dst = f
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func outOfRange(format string, args ...any) *rferrors.RankError {
	return rferrors.New(rferrors.ErrCodeParamOutOfRange, fmt.Sprintf(format, args...), nil)
}

func invalid(format string, args ...any) *rferrors.RankError {
	return rferrors.ConfigurationError(fmt.Sprintf(format, args...), nil)
}

// Validate checks every parameter. The first problem found is returned.
func (c *Config) Validate() error {
	r := c.Retrieval
	if _, err := search.ParseRetrievalType(r.Type); err != nil {
		return rferrors.New(rferrors.ErrCodeUnknownMode, err.Error(), nil).
			WithSuggestion("set retrieval.type to bm25, dense, hybrid, or rrf")
	}
	if r.TopK <= 0 {
		return outOfRange("retrieval.top_k must be positive, got %d", r.TopK)
	}
	if r.Alpha < 0 || r.Alpha > 1 {
		return outOfRange("retrieval.alpha must be between 0 and 1, got %g", r.Alpha)
	}
	if _, err := search.NewRRFFusionWithK(r.RRFK); err != nil {
		return err
	}
	if r.PerSignalK <= 0 {
		return outOfRange("retrieval.per_signal_k must be positive, got %d", r.PerSignalK)
	}
	switch store.BM25Backend(strings.ToLower(r.BM25Backend)) {
	case store.BM25BackendSQLite, store.BM25BackendBleve:
	default:
		return invalid("retrieval.bm25_backend must be 'sqlite' or 'bleve', got %q", r.BM25Backend)
	}
	switch strings.ToLower(r.VectorBackend) {
	case VectorBackendHNSW, VectorBackendChromem:
	default:
		return invalid("retrieval.vector_backend must be 'hnsw' or 'chromem', got %q", r.VectorBackend)
	}
	if r.IndexDir == "" {
		return invalid("retrieval.index_dir must be set")
	}

	switch embed.ProviderType(strings.ToLower(c.Embedder.Provider)) {
	case embed.ProviderStatic, embed.ProviderOpenAI:
	default:
		return invalid("embedder.provider must be 'static' or 'openai', got %q", c.Embedder.Provider)
	}

	if err := c.validateRerank(); err != nil {
		return err
	}

	if c.Run.Workers < 0 {
		return outOfRange("run.workers must be non-negative, got %d", c.Run.Workers)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateRerank() error {
	rr := c.Rerank
	if rr.Enabled {
		if _, err := search.ParseRerankMode(rr.Mode); err != nil {
			return rferrors.New(rferrors.ErrCodeUnknownMode, err.Error(), nil).
				WithSuggestion("set rerank.mode to hard or fusion")
		}
	}
	if err := c.SearchRerankConfig().Validate(c.Retrieval.TopK); err != nil {
		return err
	}
	if rr.Lambda < 0 || rr.Lambda > 1 {
		return outOfRange("rerank.lambda must be between 0 and 1, got %g", rr.Lambda)
	}
	if rr.MaxDocChars < 0 {
		return outOfRange("rerank.max_doc_chars must be non-negative, got %d", rr.MaxDocChars)
	}
	if rr.BatchSize <= 0 {
		return outOfRange("rerank.batch_size must be positive, got %d", rr.BatchSize)
	}
	if rr.RateLimit < 0 {
		return outOfRange("rerank.rate_limit must be non-negative, got %g", rr.RateLimit)
	}
	switch strings.ToLower(rr.Provider) {
	case RerankProviderLexical, RerankProviderHTTP, RerankProviderNoOp:
	default:
		return invalid("rerank.provider must be 'lexical', 'http', or 'noop', got %q", rr.Provider)
	}
	if rr.Enabled && rr.DocsPath == "" {
		return invalid("rerank.docs_path is required when rerank is enabled").
			WithSuggestion("point rerank.docs_path at the corpus docs.jsonl")
	}
	return nil
}

// RetrievalType returns the parsed retrieval type. Call after Validate.
func (c *Config) RetrievalType() search.RetrievalType {
	t, _ := search.ParseRetrievalType(c.Retrieval.Type)
	return t
}

// RetrieverOptions returns the fusion parameters.
func (c *Config) RetrieverOptions() search.RetrieverOptions {
	return search.RetrieverOptions{
		Alpha:      c.Retrieval.Alpha,
		RRFK:       c.Retrieval.RRFK,
		PerSignalK: c.Retrieval.PerSignalK,
	}
}

// SearchRerankConfig returns the orchestrator parameters. An unparsable
// mode is passed through so Validate reports it.
func (c *Config) SearchRerankConfig() search.RerankConfig {
	mode, err := search.ParseRerankMode(c.Rerank.Mode)
	if err != nil {
		mode = search.RerankMode(c.Rerank.Mode)
	}
	return search.RerankConfig{
		Enabled:    c.Rerank.Enabled,
		CandidateK: c.Rerank.CandidateK,
		OutK:       c.Rerank.TopK,
		Mode:       mode,
		Lambda:     c.Rerank.Lambda,
		UseMinMax:  c.Rerank.MinMaxNorm,
	}
}

// EngineConfig returns the query execution parameters.
func (c *Config) EngineConfig(failFast bool) search.EngineConfig {
	return search.EngineConfig{
		TopK:     c.Retrieval.TopK,
		Workers:  c.Run.Workers,
		FailFast: failFast || c.Run.FailFast,
	}
}

// EmbedOptions returns the embedder factory options.
func (c *Config) EmbedOptions() embed.Options {
	return embed.Options{
		Provider:  embed.ProviderType(strings.ToLower(c.Embedder.Provider)),
		Model:     c.Embedder.Model,
		Endpoint:  c.Embedder.Endpoint,
		APIKeyEnv: c.Embedder.APIKeyEnv,
		CacheSize: c.Embedder.CacheSize,
	}
}

// HTTPScorerConfig returns the remote cross-encoder parameters.
func (c *Config) HTTPScorerConfig() search.HTTPScorerConfig {
	cfg := search.DefaultHTTPScorerConfig()
	if c.Rerank.Endpoint != "" {
		cfg.Endpoint = c.Rerank.Endpoint
	}
	if c.Rerank.ModelName != "" {
		cfg.Model = c.Rerank.ModelName
	}
	if c.Rerank.Timeout > 0 {
		cfg.Timeout = c.Rerank.Timeout
	}
	cfg.BatchSize = c.Rerank.BatchSize
	cfg.RequestsPerSecond = c.Rerank.RateLimit
	return cfg
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
