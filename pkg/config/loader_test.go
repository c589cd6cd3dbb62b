package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pipeline.MaxRetries != 5 {
		t.Errorf("Expected max_retries 5, got %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Pipeline.MaxSceneConcurrency != 5 {
		t.Errorf("Expected scene concurrency 5, got %d", cfg.Pipeline.MaxSceneConcurrency)
	}
	if cfg.Pipeline.FormatRetries != 10 {
		t.Errorf("Expected format retries 10, got %d", cfg.Pipeline.FormatRetries)
	}
	if cfg.Worker.PollInterval.Std() != 30*time.Second {
		t.Errorf("Expected 30s poll interval, got %v", cfg.Worker.PollInterval.Std())
	}
}

func TestLoadConfigEnvSubstitution(t *testing.T) {
	t.Setenv("LF_TEST_OUT", "/tmp/videos")
	path := writeConfig(t, `{
		"pipeline": {"output_dir": "${LF_TEST_OUT}", "max_retries": 2},
		"render": {"timeout": "90s"}
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pipeline.OutputDir != "/tmp/videos" {
		t.Errorf("Expected substituted output dir, got %s", cfg.Pipeline.OutputDir)
	}
	if cfg.Pipeline.MaxRetries != 2 {
		t.Errorf("Expected max_retries 2, got %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Render.Timeout.Std() != 90*time.Second {
		t.Errorf("Expected 90s render timeout, got %v", cfg.Render.Timeout.Std())
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LESSONFORGE_PIPELINE_MAX_SCENE_CONCURRENCY", "3")
	t.Setenv("LESSONFORGE_PIPELINE_USE_RAG", "true")
	t.Setenv("LESSONFORGE_WORKER_POLL_INTERVAL", "5s")
	t.Setenv("LESSONFORGE_LOGGING_DEBUG_DOMAINS", "scene,synth")

	cfg, err := LoadConfig(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Pipeline.MaxSceneConcurrency != 3 {
		t.Errorf("Expected override 3, got %d", cfg.Pipeline.MaxSceneConcurrency)
	}
	if !cfg.Pipeline.UseRAG {
		t.Error("Expected use_rag override")
	}
	if cfg.Worker.PollInterval.Std() != 5*time.Second {
		t.Errorf("Expected 5s poll interval, got %v", cfg.Worker.PollInterval.Std())
	}
	if strings.Join(cfg.Logging.DebugDomains, "|") != "scene|synth" {
		t.Errorf("unexpected debug domains %v", cfg.Logging.DebugDomains)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown model", `{"models": {"scene": "mystery-model"}}`, "models.scene"},
		{"job cap above scene cap", `{"pipeline": {"max_scene_concurrency": 2, "max_job_concurrency": 3}}`, "max_job_concurrency"},
		{"bad visual mode", `{"pipeline": {"visual_mode": "audio"}}`, "visual_mode"},
		{"bad search provider", `{"search": {"provider": "bing"}}`, "search.provider"},
		{"bad quality", `{"render": {"quality": "hk"}}`, "render.quality"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestGetModelProvider(t *testing.T) {
	cases := map[string]string{
		"claude-sonnet-4-5": ProviderAnthropic,
		"gpt-4.1":           ProviderOpenAI,
		"gemini-2.5-flash":  ProviderGoogle,
		"ollama:phi4":       ProviderOllama,
	}
	for model, want := range cases {
		got, err := GetModelProvider(model)
		if err != nil || got != want {
			t.Errorf("GetModelProvider(%q) = %q, %v; want %q", model, got, err, want)
		}
	}
}

func TestLimitsForFallsBackToProvider(t *testing.T) {
	cfg := Default()
	cfg.Models.Limits = map[string]ModelLimits{"gpt-4o": {TokensPerMinute: 10, MaxConcurrency: 1}}

	if got := cfg.LimitsFor("gpt-4o"); got.TokensPerMinute != 10 {
		t.Errorf("Expected explicit limits, got %+v", got)
	}
	if got := cfg.LimitsFor("claude-sonnet-4-5"); got != ProviderDefaults[ProviderAnthropic] {
		t.Errorf("Expected provider defaults, got %+v", got)
	}
}
