// Package agent builds model clients with their middleware chains.
package agent

import (
	"fmt"
	"sync"

	"lessonforge/pkg/agent/internal/llmimpl/anthropic"
	"lessonforge/pkg/agent/internal/llmimpl/google"
	"lessonforge/pkg/agent/internal/llmimpl/ollama"
	"lessonforge/pkg/agent/internal/llmimpl/openaiofficial"
	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/middleware/metrics"
	"lessonforge/pkg/agent/middleware/ratelimit"
	"lessonforge/pkg/agent/middleware/resilience/circuit"
	"lessonforge/pkg/agent/middleware/resilience/retry"
	"lessonforge/pkg/agent/middleware/resilience/timeout"
	"lessonforge/pkg/agent/middleware/validation"
	"lessonforge/pkg/config"
	"lessonforge/pkg/limiter"
	"lessonforge/pkg/logx"
)

// Role names the job a model plays in the pipeline.
type Role string

const (
	RolePlanner Role = "planner"
	RoleScene   Role = "scene"
	RoleHelper  Role = "helper"
	RoleVision  Role = "vision"
)

// Clients holds one client per role.
type Clients struct {
	Planner llm.LLMClient
	Scene   llm.LLMClient
	Helper  llm.LLMClient
	// Vision is nil when the configured vision model cannot take media.
	Vision llm.LLMClient
}

// LLMClientFactory creates model clients with configured middleware chains.
// Circuit breakers are shared per provider; the limiter is shared per model.
type LLMClientFactory struct {
	config          config.Config
	metricsRecorder metrics.Recorder
	limiter         *limiter.Limiter
	logger          *logx.Logger

	mu              sync.Mutex
	circuitBreakers map[string]circuit.Breaker
}

// Option customizes the factory.
type Option func(*LLMClientFactory)

// WithRecorder sets the metrics recorder; the default discards metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(f *LLMClientFactory) { f.metricsRecorder = r }
}

// WithLimiter shares an existing limiter.
func WithLimiter(l *limiter.Limiter) Option {
	return func(f *LLMClientFactory) { f.limiter = l }
}

// NewLLMClientFactory creates a factory for cfg.
func NewLLMClientFactory(cfg config.Config, opts ...Option) *LLMClientFactory {
	f := &LLMClientFactory{
		config:          cfg,
		metricsRecorder: metrics.Nop(),
		logger:          logx.NewLogger("llm"),
		circuitBreakers: make(map[string]circuit.Breaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.limiter == nil {
		f.limiter = limiter.NewLimiter(nil)
	}
	return f
}

// Limiter returns the shared limiter.
func (f *LLMClientFactory) Limiter() *limiter.Limiter {
	return f.limiter
}

// ModelFor returns the configured model for role.
func (f *LLMClientFactory) ModelFor(role Role) (string, error) {
	switch role {
	case RolePlanner:
		return f.config.Models.Planner, nil
	case RoleScene:
		return f.config.Models.Scene, nil
	case RoleHelper:
		return f.config.Models.Helper, nil
	case RoleVision:
		return f.config.Models.Vision, nil
	default:
		return "", fmt.Errorf("unsupported role: %s", role)
	}
}

// CreateClient creates the client for role with the full middleware chain.
func (f *LLMClientFactory) CreateClient(role Role) (llm.LLMClient, error) {
	model, err := f.ModelFor(role)
	if err != nil {
		return nil, err
	}
	return f.CreateClientForModel(model)
}

// CreateClients creates every role's client. A vision model without media
// support yields a nil Vision client rather than an error.
func (f *LLMClientFactory) CreateClients() (Clients, error) {
	var c Clients
	var err error
	if c.Planner, err = f.CreateClient(RolePlanner); err != nil {
		return Clients{}, err
	}
	if c.Scene, err = f.CreateClient(RoleScene); err != nil {
		return Clients{}, err
	}
	if c.Helper, err = f.CreateClient(RoleHelper); err != nil {
		return Clients{}, err
	}
	if info, _ := config.GetModelInfo(f.config.Models.Vision); !info.Vision {
		f.logger.Warn("vision model %s does not accept media; visual review disabled", f.config.Models.Vision)
		return c, nil
	}
	if c.Vision, err = f.CreateClient(RoleVision); err != nil {
		return Clients{}, err
	}
	return c, nil
}

// CreateClientForModel creates a client for an explicit model name.
func (f *LLMClientFactory) CreateClientForModel(modelName string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}

	raw, err := f.rawClient(provider, modelName)
	if err != nil {
		return nil, err
	}
	return f.wrap(raw, provider), nil
}

func (f *LLMClientFactory) rawClient(provider, modelName string) (llm.LLMClient, error) {
	switch provider {
	case config.ProviderOllama:
		return ollama.NewOllamaClientWithModel(f.config.Models.OllamaURL, modelName), nil
	case config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderGoogle:
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}

	apiKey, err := config.GetSecret(apiKeySecret(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}
	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(apiKey, modelName), nil
	case config.ProviderOpenAI:
		return openaiofficial.NewOfficialClientWithModel(apiKey, modelName), nil
	default:
		return google.NewGeminiClientWithModel(apiKey, modelName), nil
	}
}

func apiKeySecret(provider string) string {
	switch provider {
	case config.ProviderAnthropic:
		return config.SecretAnthropicKey
	case config.ProviderOpenAI:
		return config.SecretOpenAIKey
	default:
		return config.SecretGeminiKey
	}
}

// wrap builds the chain:
// Metrics -> CircuitBreaker -> Retry -> EmptyResponse -> RateLimit -> Timeout -> raw.
func (f *LLMClientFactory) wrap(raw llm.LLMClient, provider string) llm.LLMClient {
	model := raw.GetModelName()
	f.limiter.Register(model, f.config.LimitsFor(model))

	res := f.config.Resilience
	policy := retry.NewPolicy(retry.Config{
		MaxAttempts:   res.Retry.MaxAttempts,
		InitialDelay:  res.Retry.InitialDelay.Std(),
		MaxDelay:      res.Retry.MaxDelay.Std(),
		BackoffFactor: res.Retry.BackoffFactor,
		Jitter:        res.Retry.Jitter,
	}, nil)

	return llm.Chain(raw,
		metrics.Middleware(f.metricsRecorder, nil, f.logger),
		circuit.Middleware(f.breaker(provider)),
		retry.Middleware(policy, f.logger),
		validation.EmptyResponseMiddleware(),
		ratelimit.Middleware(f.limiter, f.metricsRecorder),
		timeout.Middleware(res.Timeout.Std()),
	)
}

func (f *LLMClientFactory) breaker(provider string) circuit.Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.circuitBreakers[provider]; ok {
		return b
	}
	cb := f.config.Resilience.CircuitBreaker
	b := circuit.New(circuit.Config{
		FailureThreshold: cb.FailureThreshold,
		SuccessThreshold: cb.SuccessThreshold,
		Timeout:          cb.Timeout.Std(),
	})
	f.circuitBreakers[provider] = b
	return b
}
