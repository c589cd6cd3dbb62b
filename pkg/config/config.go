// Package config loads, defaults and validates the lessonforge configuration.
//
// Configuration comes from a JSON file with ${ENV_VAR} substitution, then
// LESSONFORGE_* environment overrides keyed by json tag path, then defaults.
// Secrets (API keys) are never stored in the config file; see GetSecret.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Secret names resolved through GetSecret.
const (
	SecretAnthropicKey = "ANTHROPIC_API_KEY"
	SecretOpenAIKey    = "OPENAI_API_KEY"
	SecretGeminiKey    = "GEMINI_API_KEY"
	SecretTavilyKey    = "TAVILY_API_KEY"
)

// Search providers.
const (
	SearchTavily     = "tavily"
	SearchDuckDuckGo = "duckduckgo"
	SearchNone       = "none"
)

// Duration is a time.Duration that unmarshals from "30s" strings or nanosecond numbers.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// ModelInfo describes a known model.
type ModelInfo struct {
	Provider         string  `json:"provider"`
	InputCPM         float64 `json:"input_cpm"`  // USD per million input tokens
	OutputCPM        float64 `json:"output_cpm"` // USD per million output tokens
	MaxContextTokens int     `json:"max_context_tokens"`
	MaxOutputTokens  int     `json:"max_output_tokens"`
	Vision           bool    `json:"vision"`
}

// KnownModels lists models with pricing and capability information.
//
//nolint:gochecknoglobals // lookup table
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5": {Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0, MaxContextTokens: 200000, MaxOutputTokens: 64000, Vision: true},
	"claude-opus-4-1":   {Provider: ProviderAnthropic, InputCPM: 15.0, OutputCPM: 75.0, MaxContextTokens: 200000, MaxOutputTokens: 32000, Vision: true},
	"gpt-4o":            {Provider: ProviderOpenAI, InputCPM: 2.5, OutputCPM: 10.0, MaxContextTokens: 128000, MaxOutputTokens: 4096},
	"o4-mini":           {Provider: ProviderOpenAI, InputCPM: 1.1, OutputCPM: 4.4, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	"gemini-2.5-flash":  {Provider: ProviderGoogle, InputCPM: 0.30, OutputCPM: 2.50, MaxContextTokens: 1048576, MaxOutputTokens: 65536, Vision: true},
	"gemini-2.5-pro":    {Provider: ProviderGoogle, InputCPM: 1.25, OutputCPM: 10.0, MaxContextTokens: 1048576, MaxOutputTokens: 65536, Vision: true},
}

// ProviderPattern infers a provider from a model name prefix.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

//nolint:gochecknoglobals // inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a model name.
func GetModelProvider(modelName string) (string, error) {
	if info, ok := KnownModels[modelName]; ok {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns known info for a model, or conservative defaults with an inferred provider.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, ok := KnownModels[modelName]; ok {
		return info, true
	}
	provider, _ := GetModelProvider(modelName)
	return ModelInfo{Provider: provider, MaxContextTokens: 32000, MaxOutputTokens: 4096}, false
}

// ModelLimits bounds the use of one model.
type ModelLimits struct {
	TokensPerMinute int     `json:"tokens_per_minute"`
	DailyBudgetUSD  float64 `json:"daily_budget_usd"`
	MaxConcurrency  int     `json:"max_concurrency"`
}

// ModelsConfig names the model used for each role.
type ModelsConfig struct {
	Planner   string                 `json:"planner"`   // outline + implementation plans
	Scene     string                 `json:"scene"`     // code synthesis and repair
	Helper    string                 `json:"helper"`    // query formulation
	Vision    string                 `json:"vision"`    // visual review
	OllamaURL string                 `json:"ollama_url"`
	Limits    map[string]ModelLimits `json:"limits"`
}

// PipelineConfig controls the per-job pipeline.
type PipelineConfig struct {
	OutputDir           string  `json:"output_dir"`
	MaxRetries          int     `json:"max_retries"`
	MaxSceneConcurrency int     `json:"max_scene_concurrency"`
	MaxJobConcurrency   int     `json:"max_job_concurrency"`
	OutlineRetries      int     `json:"outline_retries"`
	FormatRetries       int     `json:"format_retries"`
	UseRAG              bool    `json:"use_rag"`
	UseVisualFixCode    bool    `json:"use_visual_fix_code"`
	VisualMode          string  `json:"visual_mode"` // image | video
	UseWebSearch        bool    `json:"use_web_search"`
	UseFixMemory        bool    `json:"use_fix_memory"`
	Temperature         float64 `json:"temperature"`
}

// RenderConfig controls the external renderer.
type RenderConfig struct {
	ManimBinary  string   `json:"manim_binary"`
	FFmpegBinary string   `json:"ffmpeg_binary"`
	Quality      string   `json:"quality"` // l | m | h | p | k
	Timeout      Duration `json:"timeout"`
}

// KnowledgeConfig controls retrieval.
type KnowledgeConfig struct {
	CorpusPath    string   `json:"corpus_path"`
	QueryCacheTTL Duration `json:"query_cache_ttl"`
	MaxSnippets   int      `json:"max_snippets"`
}

// SearchConfig controls the web search collaborator.
type SearchConfig struct {
	Provider   string `json:"provider"`
	MaxResults int    `json:"max_results"`
	UserAgent  string `json:"user_agent"`
}

// RetryConfig defines retry behavior for model calls.
type RetryConfig struct {
	MaxAttempts   int      `json:"max_attempts"`
	InitialDelay  Duration `json:"initial_delay"`
	MaxDelay      Duration `json:"max_delay"`
	BackoffFactor float64  `json:"backoff_factor"`
	Jitter        bool     `json:"jitter"`
}

// CircuitBreakerConfig defines breaker behavior per provider.
type CircuitBreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold"`
	SuccessThreshold int      `json:"success_threshold"`
	Timeout          Duration `json:"timeout"`
}

// ResilienceConfig bundles model-call middleware settings.
type ResilienceConfig struct {
	Retry          RetryConfig          `json:"retry"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Timeout        Duration             `json:"timeout"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled"`
	BlobDir string `json:"blob_dir"`
}

type APIConfig struct {
	Listen string   `json:"listen"`
	JobTTL Duration `json:"job_ttl"`
}

type WorkerConfig struct {
	PollInterval Duration `json:"poll_interval"`
	Batch        int      `json:"batch"`
}

type LoggingConfig struct {
	File         string   `json:"file"`
	Debug        bool     `json:"debug"`
	DebugDomains []string `json:"debug_domains"`
}

type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	PrometheusURL string `json:"prometheus_url"`
}

// Config is the root configuration.
type Config struct {
	Models     ModelsConfig     `json:"models"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Render     RenderConfig     `json:"render"`
	Knowledge  KnowledgeConfig  `json:"knowledge"`
	Search     SearchConfig     `json:"search"`
	Resilience ResilienceConfig `json:"resilience"`
	Database   DatabaseConfig   `json:"database"`
	Storage    StorageConfig    `json:"storage"`
	API        APIConfig        `json:"api"`
	Worker     WorkerConfig     `json:"worker"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
}

// LimitsFor returns the configured limits for a model, falling back to provider defaults.
func (c *Config) LimitsFor(model string) ModelLimits {
	if l, ok := c.Models.Limits[model]; ok {
		return l
	}
	provider, _ := GetModelProvider(model)
	if l, ok := ProviderDefaults[provider]; ok {
		return l
	}
	return ModelLimits{TokensPerMinute: 100000, DailyBudgetUSD: 10, MaxConcurrency: 2}
}

// ProviderDefaults are used for models without explicit limits.
//
//nolint:gochecknoglobals // provider defaults
var ProviderDefaults = map[string]ModelLimits{
	ProviderAnthropic: {TokensPerMinute: 300000, DailyBudgetUSD: 50, MaxConcurrency: 5},
	ProviderOpenAI:    {TokensPerMinute: 150000, DailyBudgetUSD: 50, MaxConcurrency: 5},
	ProviderGoogle:    {TokensPerMinute: 1200000, DailyBudgetUSD: 50, MaxConcurrency: 5},
	ProviderOllama:    {TokensPerMinute: 1000000, DailyBudgetUSD: 0, MaxConcurrency: 2},
}
