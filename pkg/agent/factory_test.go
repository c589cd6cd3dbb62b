package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/pkg/config"
)

func TestCreateClientsWithOllama(t *testing.T) {
	cfg := *config.Default()
	cfg.Models.Planner = "ollama:llama3.1"
	cfg.Models.Scene = "qwen2.5-coder"
	cfg.Models.Helper = "ollama:llama3.1"
	cfg.Models.Vision = "ollama:llama3.1"

	f := NewLLMClientFactory(cfg)
	clients, err := f.CreateClients()
	require.NoError(t, err)
	assert.Equal(t, "ollama:llama3.1", clients.Planner.GetModelName())
	assert.Equal(t, "qwen2.5-coder", clients.Scene.GetModelName())
	assert.Nil(t, clients.Vision, "unknown ollama model is not vision capable")

	_, _, _, err = f.Limiter().GetStatus("qwen2.5-coder")
	assert.NoError(t, err, "model should be registered with the limiter")
}

func TestCreateClientUsesSecrets(t *testing.T) {
	config.SetDecryptedSecrets(map[string]string{config.SecretGeminiKey: "test-key"})
	t.Cleanup(func() { config.SetDecryptedSecrets(nil) })

	cfg := *config.Default()
	f := NewLLMClientFactory(cfg)
	client, err := f.CreateClient(RoleVision)
	require.NoError(t, err)
	assert.Equal(t, cfg.Models.Vision, client.GetModelName())
}

func TestCreateClientUnknownModel(t *testing.T) {
	f := NewLLMClientFactory(*config.Default())
	_, err := f.CreateClientForModel("mystery-model")
	assert.Error(t, err)

	_, err = f.CreateClient(Role("narrator"))
	assert.Error(t, err)
}

func TestBreakerSharedPerProvider(t *testing.T) {
	f := NewLLMClientFactory(*config.Default())
	assert.Same(t, f.breaker(config.ProviderGoogle), f.breaker(config.ProviderGoogle))
}
