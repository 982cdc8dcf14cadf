package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/opticut/config"
	"github.com/alejandrodnm/opticut/internal/adapters/metrics"
	"github.com/alejandrodnm/opticut/internal/adapters/notify"
	"github.com/alejandrodnm/opticut/internal/adapters/storage"
	"github.com/alejandrodnm/opticut/internal/cache"
	"github.com/alejandrodnm/opticut/internal/domain"
	"github.com/alejandrodnm/opticut/internal/events"
	"github.com/alejandrodnm/opticut/internal/jobs"
	"github.com/alejandrodnm/opticut/internal/ml"
	"github.com/alejandrodnm/opticut/internal/optimizer"
	"github.com/alejandrodnm/opticut/internal/pool"
	"github.com/alejandrodnm/opticut/internal/ports"
	"github.com/alejandrodnm/opticut/internal/resilience"
)

// Exit codes del runner.
const (
	exitOK        = 0
	exitFailure   = 1
	exitBadInput  = 2
	exitTimeout   = 3
	exitCancelled = 4
)

// scenarioInput es el JSON de entrada de un escenario.
type scenarioInput struct {
	Pieces  []domain.Piece `json:"pieces"`
	Stocks  []domain.Stock `json:"stocks"`
	Options struct {
		Algorithm     string  `json:"algorithm"`
		Kerf          float64 `json:"kerf"`
		AllowRotation bool    `json:"allowRotation"`
	} `json:"options"`
	ShadowAlgorithm string `json:"shadowAlgorithm,omitempty"`
	TenantID        string `json:"tenantId,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	inputPath := flag.String("input", "", "path to scenario JSON file")
	algorithm := flag.String("algorithm", "", "algorithm name override")
	table := flag.Bool("table", false, "print full cutting-plan table (default: compact 1-line)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	shadowReport := flag.String("shadow-report", "", "print shadow comparison for a model type and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(exitFailure)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if *shadowReport != "" {
		os.Exit(runShadowReport(cfg, *shadowReport))
	}

	if *inputPath == "" {
		slog.Error("missing required -input flag")
		os.Exit(exitBadInput)
	}

	input, err := readInput(*inputPath)
	if err != nil {
		slog.Error("failed to read scenario input", "err", err, "path", *inputPath)
		os.Exit(exitBadInput)
	}
	if *algorithm != "" {
		input.Options.Algorithm = *algorithm
	}
	if input.Options.Algorithm == "" {
		slog.Error("no algorithm specified (options.algorithm or -algorithm)")
		os.Exit(exitBadInput)
	}

	slog.Info("opticut starting",
		"algorithm", input.Options.Algorithm,
		"pieces", len(input.Pieces),
		"stocks", len(input.Stocks),
		"dsn", cfg.Storage.DSN,
	)

	store, err := storage.NewSQLite(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(exitFailure)
	}
	defer store.Close()

	sink := metrics.NewMemory()
	bus := events.New(events.DefaultRingSize)

	workers := pool.New(pool.Config{
		MinWorkers:     cfg.Pool.MinThreads,
		MaxWorkers:     cfg.Pool.MaxThreads,
		MaxQueue:       cfg.Pool.MaxQueue,
		DefaultTimeout: cfg.TaskTimeout(),
		Metrics:        sink,
	})

	var predictor ports.Predictor = ml.NullPredictor{}
	var feedback *ml.FeedbackService
	var resolver *ml.Resolver
	if cfg.ML.Enabled {
		feedback = ml.NewFeedbackService(store, sink)
		resolver = ml.NewResolver(store, ml.ResolverConfig{
			TTL:    cfg.ExperimentTTL(),
			Jitter: cfg.ExperimentJitter(),
		}, sink)
	}

	breaker := resilience.NewBreaker("predictor", resilience.BreakerConfig{
		Timeout:           cfg.BreakerTimeout(),
		ErrorThresholdPct: cfg.Breaker.ErrorThresholdPct,
		ResetTimeout:      cfg.BreakerReset(),
		VolumeThreshold:   cfg.Breaker.VolumeThreshold,
	}, sink)

	results := cache.NewMemory(cache.Config{
		DefaultTTL: cfg.CacheTTL(),
		KeyPrefix:  cfg.Cache.KeyPrefix,
	})
	defer results.Disconnect()

	coordinator := jobs.New(jobs.Config{TaskTimeout: cfg.TaskTimeout()}, jobs.Deps{
		Scenarios:   store,
		Plans:       store,
		Registry:    optimizer.DefaultRegistry(),
		Pool:        workers,
		Bus:         bus,
		Predictor:   predictor,
		Breaker:     breaker,
		Resolver:    resolver,
		Feedback:    feedback,
		Notifier:    notify.NewConsole(*table),
		Metrics:     sink,
		ResultCache: results,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scenario := &domain.Scenario{
		Algorithm:       input.Options.Algorithm,
		ShadowAlgorithm: input.ShadowAlgorithm,
		TenantID:        input.TenantID,
		Pieces:          input.Pieces,
		Stocks:          input.Stocks,
		Options: domain.Options{
			Kerf:          input.Options.Kerf,
			AllowRotation: input.Options.AllowRotation,
		},
	}
	if err := store.CreateScenario(ctx, scenario); err != nil {
		slog.Error("failed to create scenario", "err", err)
		os.Exit(exitFailure)
	}

	summary, err := coordinator.RunScenario(ctx, scenario.ID)

	coordinator.Wait()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if serr := workers.Shutdown(shutdownCtx); serr != nil {
		slog.Warn("pool shutdown incomplete", "err", serr)
	}

	if err != nil {
		slog.Error("scenario failed", "scenario_id", scenario.ID, "err", err)
		os.Exit(exitCode(err))
	}

	slog.Info("scenario completed",
		"scenario_id", summary.ScenarioID,
		"plan_id", summary.PlanID,
		"algorithm", summary.Algorithm,
		"efficiency", summary.Efficiency,
		"waste_pct", summary.WastePercentage,
		"unplaced", summary.UnplacedCount,
		"duration_ms", summary.DurationMs,
	)
}

// runShadowReport imprime la recomendación champion/challenger de un model
// type sobre el log de predicciones persistido.
func runShadowReport(cfg *config.Config, modelType string) int {
	store, err := storage.NewSQLite(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		return exitFailure
	}
	defer store.Close()

	comparator := ml.NewComparator(store, ml.CompareConfig{
		WindowDays:     cfg.ML.Shadow.WindowDays,
		MinImprovement: cfg.ML.Shadow.MinImprovement,
		MinDays:        cfg.ML.Shadow.MinDays,
		MinSamples:     cfg.ML.Shadow.MinSamples,
	}, metrics.NewMemory())
	rec, err := comparator.Compare(context.Background(), modelType)
	if err != nil {
		slog.Error("shadow comparison failed", "model_type", modelType, "err", err)
		return exitFailure
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		slog.Error("failed to encode recommendation", "err", err)
		return exitFailure
	}
	os.Stdout.Write(append(out, '\n'))
	return exitOK
}

// readInput parsea el JSON del escenario.
func readInput(path string) (*scenarioInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var input scenarioInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return &input, nil
}

// exitCode mapea el código de dominio al exit code del proceso.
func exitCode(err error) int {
	switch domain.CodeOf(err) {
	case domain.CodeValidation, domain.CodeUnknownAlgorithm:
		return exitBadInput
	case domain.CodeTimeout:
		return exitTimeout
	case domain.CodeCancelled:
		return exitCancelled
	default:
		return exitFailure
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
