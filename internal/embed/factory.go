package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderStatic uses hash-based embeddings. Offline and deterministic.
	ProviderStatic ProviderType = "static"

	// ProviderOpenAI uses an OpenAI-compatible embeddings endpoint.
	ProviderOpenAI ProviderType = "openai"
)

// Environment overrides.
const (
	EnvProvider = "RANKFUSE_EMBEDDER"
	EnvCache    = "RANKFUSE_EMBED_CACHE"
)

// Options selects and parameterizes an embedder.
type Options struct {
	Provider ProviderType
	Model    string
	Endpoint string

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string

	// CacheSize bounds the LRU cache. Negative disables caching.
	CacheSize int
}

// NewEmbedder creates the embedder named by opts.Provider, or by
// RANKFUSE_EMBEDDER when set. The result is wrapped in an LRU cache
// unless CacheSize is negative or RANKFUSE_EMBED_CACHE disables it.
//
// An explicit provider never falls back to another one: a benchmark run
// silently switching models would not be comparable.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	provider := opts.Provider
	if env := strings.ToLower(strings.TrimSpace(os.Getenv(EnvProvider))); env != "" {
		provider = ProviderType(env)
	}
	if provider == "" {
		provider = ProviderStatic
	}

	var (
		embedder Embedder
		err      error
	)
	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder()

	case ProviderOpenAI:
		embedder, err = newOpenAIFromOptions(ctx, opts)

	default:
		return nil, rferrors.ConfigurationError(
			fmt.Sprintf("unknown embedder provider %q", provider), nil).
			WithSuggestion("set embedder.provider to static or openai")
	}
	if err != nil {
		return nil, err
	}

	if opts.CacheSize >= 0 && !isCacheDisabled() {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}

	slog.Debug("embedder_created",
		slog.String("provider", string(provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	return embedder, nil
}

func newOpenAIFromOptions(ctx context.Context, opts Options) (Embedder, error) {
	keyEnv := opts.APIKeyEnv
	if keyEnv == "" {
		keyEnv = DefaultAPIKeyEnv
	}
	key := os.Getenv(keyEnv)
	// Self-hosted endpoints often run without a key.
	if key == "" && opts.Endpoint == "" {
		return nil, rferrors.ConfigurationError(
			fmt.Sprintf("embedder provider openai needs an API key in $%s", keyEnv), nil).
			WithSuggestion("export " + keyEnv + " or set embedder.endpoint to a self-hosted server")
	}

	cfg := DefaultOpenAIConfig()
	cfg.APIKey = key
	cfg.BaseURL = opts.Endpoint
	if opts.Model != "" {
		cfg.Model = opts.Model
	}
	return NewOpenAIEmbedder(ctx, cfg)
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv(EnvCache))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}
