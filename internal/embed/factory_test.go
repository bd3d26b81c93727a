package embed

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

func TestNewEmbedder_DefaultsToCachedStatic(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvCache, "")

	e, err := NewEmbedder(context.Background(), Options{})

	require.NoError(t, err)
	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok, "expected cache wrapper, got %T", e)
	assert.IsType(t, &StaticEmbedder{}, cached.Inner())
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestNewEmbedder_CacheCanBeDisabled(t *testing.T) {
	t.Setenv(EnvProvider, "")

	t.Setenv(EnvCache, "off")
	e, err := NewEmbedder(context.Background(), Options{Provider: ProviderStatic})
	require.NoError(t, err)
	assert.IsType(t, &StaticEmbedder{}, e)

	t.Setenv(EnvCache, "")
	e, err = NewEmbedder(context.Background(), Options{Provider: ProviderStatic, CacheSize: -1})
	require.NoError(t, err)
	assert.IsType(t, &StaticEmbedder{}, e)
}

func TestNewEmbedder_UnknownProviderIsConfigurationError(t *testing.T) {
	t.Setenv(EnvProvider, "")

	_, err := NewEmbedder(context.Background(), Options{Provider: "word2vec"})

	require.Error(t, err)
	assert.True(t, rferrors.IsConfiguration(err))
	assert.True(t, rferrors.IsFatal(err))
}

func TestNewEmbedder_EnvOverridesProvider(t *testing.T) {
	t.Setenv(EnvProvider, "STATIC")
	t.Setenv(EnvCache, "false")

	// Given: options asking for openai without a key
	// When: the environment forces static
	e, err := NewEmbedder(context.Background(), Options{Provider: ProviderOpenAI})

	// Then: no key is needed
	require.NoError(t, err)
	assert.Equal(t, "static", e.ModelName())
}

func TestNewEmbedder_OpenAIWithoutKeyOrEndpoint(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv("RANKFUSE_TEST_KEY", "")

	_, err := NewEmbedder(context.Background(), Options{
		Provider:  ProviderOpenAI,
		APIKeyEnv: "RANKFUSE_TEST_KEY",
	})

	require.Error(t, err)
	assert.True(t, rferrors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "RANKFUSE_TEST_KEY")
}

func TestNewEmbedder_OpenAISelfHosted(t *testing.T) {
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvCache, "")
	t.Setenv("RANKFUSE_UNSET_KEY", "")
	fake := &fakeEmbeddingServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewEmbedder(context.Background(), Options{
		Provider:  ProviderOpenAI,
		Model:     "bge-small",
		Endpoint:  srv.URL + "/v1",
		APIKeyEnv: "RANKFUSE_UNSET_KEY",
		CacheSize: 8,
	})

	require.NoError(t, err)
	assert.Equal(t, "bge-small", e.ModelName())
	assert.Equal(t, 3, e.Dimensions())
	assert.IsType(t, &CachedEmbedder{}, e)
}
