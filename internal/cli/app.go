package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"lessonforge/pkg/agent"
	llmmetrics "lessonforge/pkg/agent/middleware/metrics"
	"lessonforge/pkg/config"
	"lessonforge/pkg/fixmemory"
	"lessonforge/pkg/jobs"
	"lessonforge/pkg/knowledge"
	"lessonforge/pkg/logx"
	"lessonforge/pkg/metrics"
	"lessonforge/pkg/persistence"
	"lessonforge/pkg/pipeline"
	"lessonforge/pkg/render"
	"lessonforge/pkg/repair"
	"lessonforge/pkg/scene"
	"lessonforge/pkg/search"
	"lessonforge/pkg/storage"
	"lessonforge/pkg/synth"
	"lessonforge/pkg/templates"
)

const writerQueue = 256

// App is the wired application: one database, one job store, one
// orchestrator. Close releases everything in reverse order.
type App struct {
	Config       *config.Config
	DB           *persistence.DB
	Memory       *fixmemory.Memory
	Jobs         *jobs.MemoryStore
	Gate         *jobs.Gate
	Storage      *storage.Store
	Registry     *prometheus.Registry
	Metrics      *metrics.Prometheus
	Orchestrator *pipeline.Orchestrator

	writer *persistence.Writer
	logger *logx.Logger
}

// loadApp loads configuration, unlocks secrets and wires every component.
func loadApp(ctx context.Context, configPath string, out io.Writer) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := logx.Configure(logx.Options{
		FilePath:     cfg.Logging.File,
		Debug:        cfg.Logging.Debug,
		DebugDomains: cfg.Logging.DebugDomains,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	if err := config.UnlockSecrets(secretsDir(configPath), out); err != nil {
		return nil, fmt.Errorf("failed to unlock secrets: %w", err)
	}
	return wire(ctx, cfg)
}

// wire builds the component graph for cfg.
//
//nolint:cyclop,funlen // linear construction of the component graph
func wire(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, logger: logx.NewLogger("cli")}

	db, err := persistence.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.writer = persistence.NewWriter(db, writerQueue)

	a.Registry = prometheus.NewRegistry()
	a.Metrics = metrics.NewPrometheus(a.Registry)
	var llmRecorder llmmetrics.Recorder = llmmetrics.Nop()
	if cfg.Metrics.Enabled {
		llmRecorder = llmmetrics.NewPrometheusRecorder(a.Registry)
	}

	factory := agent.NewLLMClientFactory(*cfg, agent.WithRecorder(llmRecorder))
	clients, err := factory.CreateClients()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create model clients: %w", err)
	}

	tpl, err := templates.NewRenderer()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}

	a.Memory = fixmemory.New(db, cfg.Pipeline.UseFixMemory)

	web, err := search.New(cfg.Search)
	if err != nil {
		a.logger.Warn("web search unavailable: %v", err)
		web = nil
	}

	var kn *knowledge.Retriever
	if cfg.Pipeline.UseRAG {
		corpus := knowledge.NewCorpus(db)
		if err := loadCorpus(ctx, corpus, cfg.Knowledge.CorpusPath); err != nil {
			a.logger.Warn("documentation corpus not loaded: %v", err)
		}
		kn = knowledge.NewRetriever(knowledge.Options{
			Cache:       knowledge.NewQueryCache(db, cfg.Knowledge.QueryCacheTTL.Std()),
			Corpus:      corpus,
			Helper:      clients.Helper,
			Web:         web,
			Templates:   tpl,
			MaxSnippets: cfg.Knowledge.MaxSnippets,
		})
	}

	syn := synth.New(clients.Scene, synth.Options{
		Memory:        a.Memory,
		Knowledge:     kn,
		Templates:     tpl,
		FormatRetries: cfg.Pipeline.FormatRetries,
		Temperature:   float32(cfg.Pipeline.Temperature),
	})

	var strategies []repair.Strategy
	if cfg.Pipeline.UseWebSearch && web != nil {
		strategies = append(strategies, repair.NewWebSearch(clients.Helper, clients.Scene, web, syn, tpl))
	}
	strategies = append(strategies, repair.NewMemoryFix(clients.Scene, a.Memory, kn, syn, tpl))

	ffmpeg := render.NewFFmpeg(cfg.Render.FFmpegBinary)
	var reviewer scene.Reviewer
	if cfg.Pipeline.UseVisualFixCode && clients.Vision != nil {
		reviewer = repair.NewVisualReviewer(clients.Vision, ffmpeg, cfg.Pipeline.VisualMode, syn, tpl)
	}

	loop := scene.NewLoop(scene.Options{
		Renderer: render.NewManim(render.ManimOptions{
			Binary:  cfg.Render.ManimBinary,
			Quality: cfg.Render.Quality,
			Timeout: cfg.Render.Timeout.Std(),
		}),
		Strategies: strategies,
		Reviewer:   reviewer,
		Memory:     a.Memory,
		Recorder:   a.Metrics,
		MaxRetries: cfg.Pipeline.MaxRetries,
	})

	a.Jobs = jobs.NewMemoryStore(cfg.API.JobTTL.Std(), 0)
	a.Gate = jobs.NewGate(cfg.Pipeline.MaxJobConcurrency)

	var sink storage.Sink = storage.Nop{}
	if cfg.Storage.Enabled {
		a.Storage = storage.New(db, a.writer, cfg.Storage.BlobDir)
		sink = a.Storage
	}

	a.Orchestrator = pipeline.New(pipeline.Options{
		OutputDir:           cfg.Pipeline.OutputDir,
		MaxSceneConcurrency: cfg.Pipeline.MaxSceneConcurrency,
		Planner:             pipeline.NewPlanner(clients.Planner, tpl, cfg.Pipeline.OutlineRetries, float32(cfg.Pipeline.Temperature)),
		Synthesizer:         syn,
		Scenes:              loop,
		Combiner:            ffmpeg,
		Jobs:                a.Jobs,
		Storage:             sink,
		Recorder:            a.Metrics,
	})
	return a, nil
}

func loadCorpus(ctx context.Context, corpus *knowledge.Corpus, path string) error {
	var (
		stats knowledge.LoadStats
		err   error
	)
	if path == "" {
		stats, err = corpus.LoadDefault(ctx)
	} else {
		stats, err = corpus.LoadPath(ctx, path)
	}
	if err != nil {
		return err
	}
	logx.NewLogger("knowledge").Info("corpus: %d documents from %d sources (%d unchanged)", stats.Documents, stats.Sources, stats.Skipped)
	return nil
}

// Close stops background work and closes the database.
func (a *App) Close() {
	if a.Gate != nil {
		a.Gate.Close()
	}
	if a.Jobs != nil {
		a.Jobs.Close()
	}
	if a.writer != nil {
		a.writer.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.logger.Warn("failed to close database: %v", err)
		}
	}
	if err := logx.Close(); err != nil {
		a.logger.Warn("failed to close log file: %v", err)
	}
}
