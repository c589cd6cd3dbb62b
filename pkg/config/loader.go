package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes environment overrides, e.g. LESSONFORGE_PIPELINE_MAX_RETRIES.
const EnvPrefix = "LESSONFORGE_"

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// LoadConfig loads and validates configuration from a JSON file with environment variable substitution.
// A missing file yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
			if value := os.Getenv(match[2 : len(match)-1]); value != "" {
				return value
			}
			return match
		})
		if err := json.Unmarshal([]byte(dataStr), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem(), EnvPrefix)
}

func applyEnvOverridesRecursive(v reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		jsonTag := t.Field(i).Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		envKey := strings.ToUpper(prefix + strings.Split(jsonTag, ",")[0])

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, envKey+"_")
			continue
		}
		if envValue, ok := os.LookupEnv(envKey); ok && envValue != "" {
			setFieldFromEnv(field, envValue)
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	if field.Type() == reflect.TypeOf(Duration(0)) {
		if d, err := time.ParseDuration(envValue); err == nil {
			field.SetInt(int64(d))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int:
		if val, err := strconv.Atoi(envValue); err == nil {
			field.SetInt(int64(val))
		}
	case reflect.Float64:
		if val, err := strconv.ParseFloat(envValue, 64); err == nil {
			field.SetFloat(val)
		}
	case reflect.Bool:
		if val, err := strconv.ParseBool(envValue); err == nil {
			field.SetBool(val)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(envValue, ",")
			field.Set(reflect.ValueOf(parts))
		}
	}
}

//nolint:cyclop // flat list of defaults
func applyDefaults(cfg *Config) {
	m := &cfg.Models
	if m.Planner == "" {
		m.Planner = "gemini-2.5-pro"
	}
	if m.Scene == "" {
		m.Scene = "gemini-2.5-pro"
	}
	if m.Helper == "" {
		m.Helper = "gemini-2.5-flash"
	}
	if m.Vision == "" {
		m.Vision = "gemini-2.5-flash"
	}
	if m.OllamaURL == "" {
		m.OllamaURL = "http://localhost:11434"
	}

	p := &cfg.Pipeline
	if p.OutputDir == "" {
		p.OutputDir = "output"
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 5
	}
	if p.MaxSceneConcurrency == 0 {
		p.MaxSceneConcurrency = 5
	}
	if p.MaxJobConcurrency == 0 {
		p.MaxJobConcurrency = 1
	}
	if p.OutlineRetries == 0 {
		p.OutlineRetries = 3
	}
	if p.FormatRetries == 0 {
		p.FormatRetries = 10
	}
	if p.VisualMode == "" {
		p.VisualMode = "image"
	}
	if p.Temperature == 0 {
		p.Temperature = 0.7
	}

	r := &cfg.Render
	if r.ManimBinary == "" {
		r.ManimBinary = "manim"
	}
	if r.FFmpegBinary == "" {
		r.FFmpegBinary = "ffmpeg"
	}
	if r.Quality == "" {
		r.Quality = "h"
	}
	if r.Timeout == 0 {
		r.Timeout = Duration(10 * time.Minute)
	}

	if cfg.Knowledge.QueryCacheTTL == 0 {
		cfg.Knowledge.QueryCacheTTL = Duration(30 * 24 * time.Hour)
	}
	if cfg.Knowledge.MaxSnippets == 0 {
		cfg.Knowledge.MaxSnippets = 5
	}

	if cfg.Search.Provider == "" {
		cfg.Search.Provider = SearchTavily
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 3
	}
	if cfg.Search.UserAgent == "" {
		cfg.Search.UserAgent = "lessonforge/1.0"
	}

	rt := &cfg.Resilience.Retry
	if rt.MaxAttempts == 0 {
		rt.MaxAttempts = 3
	}
	if rt.InitialDelay == 0 {
		rt.InitialDelay = Duration(time.Second)
	}
	if rt.MaxDelay == 0 {
		rt.MaxDelay = Duration(30 * time.Second)
	}
	if rt.BackoffFactor == 0 {
		rt.BackoffFactor = 2.0
	}
	cb := &cfg.Resilience.CircuitBreaker
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 5
	}
	if cb.SuccessThreshold == 0 {
		cb.SuccessThreshold = 2
	}
	if cb.Timeout == 0 {
		cb.Timeout = Duration(30 * time.Second)
	}
	if cfg.Resilience.Timeout == 0 {
		cfg.Resilience.Timeout = Duration(3 * time.Minute)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = ".lessonforge/lessonforge.db"
	}
	if cfg.Storage.BlobDir == "" {
		cfg.Storage.BlobDir = ".lessonforge/blobs"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = ":8080"
	}
	if cfg.API.JobTTL == 0 {
		cfg.API.JobTTL = Duration(24 * time.Hour)
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = Duration(30 * time.Second)
	}
	if cfg.Worker.Batch == 0 {
		cfg.Worker.Batch = 5
	}
	if cfg.Metrics.PrometheusURL == "" {
		cfg.Metrics.PrometheusURL = "http://localhost:9090"
	}
}

func validateConfig(cfg *Config) error {
	for role, model := range map[string]string{
		"planner": cfg.Models.Planner,
		"scene":   cfg.Models.Scene,
		"helper":  cfg.Models.Helper,
		"vision":  cfg.Models.Vision,
	} {
		if _, err := GetModelProvider(model); err != nil {
			return fmt.Errorf("models.%s: %w", role, err)
		}
	}

	p := cfg.Pipeline
	if p.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.MaxSceneConcurrency < 1 {
		return fmt.Errorf("pipeline.max_scene_concurrency must be >= 1, got %d", p.MaxSceneConcurrency)
	}
	if p.MaxJobConcurrency < 1 {
		return fmt.Errorf("pipeline.max_job_concurrency must be >= 1, got %d", p.MaxJobConcurrency)
	}
	if p.MaxJobConcurrency > p.MaxSceneConcurrency {
		return fmt.Errorf("pipeline.max_job_concurrency (%d) must not exceed max_scene_concurrency (%d)",
			p.MaxJobConcurrency, p.MaxSceneConcurrency)
	}
	if p.VisualMode != "image" && p.VisualMode != "video" {
		return fmt.Errorf("pipeline.visual_mode must be image or video, got %q", p.VisualMode)
	}

	switch cfg.Search.Provider {
	case SearchTavily, SearchDuckDuckGo, SearchNone:
	default:
		return fmt.Errorf("search.provider must be one of %s, %s, %s; got %q",
			SearchTavily, SearchDuckDuckGo, SearchNone, cfg.Search.Provider)
	}

	if q := cfg.Render.Quality; len(q) != 1 || !strings.Contains("lmhpk", q) {
		return fmt.Errorf("render.quality must be one of l, m, h, p, k; got %q", cfg.Render.Quality)
	}
	return nil
}
