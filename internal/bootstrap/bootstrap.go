// Package bootstrap assembles the storage, clients and services shared by the
// HTTP server and the MCP server.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/config"
	"github.com/medical-examination-assistant/internal/database"
	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/feedback"
	"github.com/medical-examination-assistant/internal/knowledge"
	"github.com/medical-examination-assistant/internal/observe"
	"github.com/medical-examination-assistant/internal/repository"
	"github.com/medical-examination-assistant/internal/service"
	"github.com/medical-examination-assistant/pkg/external"
	"github.com/medical-examination-assistant/pkg/llm"
	"github.com/medical-examination-assistant/pkg/llm/anyllm"
	"github.com/medical-examination-assistant/pkg/llm/openai"
)

// App holds every long-lived component
type App struct {
	Config *domain.Config
	Logger *logrus.Logger

	Store       domain.ClinicalStore
	Comparisons feedback.Store
	Clients     *external.ResilientClients
	Cache       *service.AnalysisCache
	Knowledge   *knowledge.Base
	Provider    llm.Provider
	Telemetry   *observe.Provider

	Speech    *service.TranscriptionService
	Pipeline  *service.AgentPipeline
	Matcher   *service.MatchingEngine
	Patients  *service.PatientService
	Sessions  *service.SessionService
	Dashboard *service.DashboardService

	closers []func() error
}

// Options tune what New builds
type Options struct {
	// Metrics installs the OpenTelemetry provider when the config enables it
	Metrics bool
	// AutoMigrate applies pending Postgres migrations on startup
	AutoMigrate bool
}

// NewLogger creates the process logger from the logging section
func NewLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// New builds the application. Close releases everything it opened, also on error.
func New(ctx context.Context, manager *config.Manager, logger *logrus.Logger, opts Options) (*App, error) {
	app := &App{Config: manager.GetConfig(), Logger: logger}
	if err := app.build(ctx, manager, opts); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, manager *config.Manager, opts Options) (err error) {
	cfg := a.Config
	logger := a.Logger

	if err = a.openStorage(ctx, manager, opts.AutoMigrate); err != nil {
		return err
	}

	var metrics *observe.Metrics
	if opts.Metrics && cfg.Metrics.Enabled {
		if a.Telemetry, err = observe.InitProvider(); err != nil {
			return err
		}
		metrics = a.Telemetry.Metrics
		a.closers = append(a.closers, func() error { return a.Telemetry.Shutdown(context.Background()) })
	}

	var his domain.HISClient
	if cfg.HIS.Enabled {
		his = external.NewHISClient(cfg.HIS)
	}
	a.Clients = external.NewResilientClients(
		external.NewTranscriptionClient(cfg.Transcription),
		external.NewDiarizationClient(cfg.Diarization),
		his,
		logger,
	)

	var remote service.RemoteCache
	if cfg.Cache.Enabled {
		client, cacheErr := external.NewCacheClient(cfg.Cache)
		if cacheErr != nil {
			// the memory tier still works without Redis
			logger.WithError(cacheErr).Warn("Redis unavailable, using in-memory analysis cache only")
		} else {
			remote = client
			a.closers = append(a.closers, client.Close)
		}
	}
	a.Cache = service.NewAnalysisCache(service.AnalysisCacheConfig{
		MemorySize: cfg.Cache.MemorySize,
		MemoryTTL:  cfg.Cache.MemoryTTL,
		RemoteTTL:  cfg.Cache.DefaultTTL,
	}, remote, logger)

	if a.Knowledge, err = knowledge.Open(cfg.Knowledge.Dir, cfg.Knowledge.TopK, logger); err != nil {
		return fmt.Errorf("loading knowledge base: %w", err)
	}

	if a.Provider, err = NewProvider(cfg.LLM); err != nil {
		return err
	}
	logger.WithField("provider", a.Provider.Name()).Info("LLM provider ready")

	var hisClient domain.HISClient
	if his != nil {
		hisClient = a.Clients.HIS()
	}

	a.Speech = service.NewTranscriptionService(
		a.Clients.Transcriber(),
		a.Clients.Diarizer(),
		service.NewMedicalTextFixer(a.Provider, cfg.LLM.FixerConcurrency, metrics, logger),
		service.TranscriptionServiceConfig{
			FanoutTimeout: cfg.Speech.FanoutTimeout,
			DoctorFirst:   cfg.Diarization.DoctorFirst,
		},
		metrics,
		logger,
	)
	a.Pipeline = service.NewAgentPipeline(a.Provider, a.Knowledge, a.Cache, cfg.Knowledge.TopK, metrics, logger)
	a.Matcher = service.NewMatchingEngine()
	a.Patients = service.NewPatientService(a.Store, logger)
	a.Sessions = service.NewSessionService(a.Store, a.Patients, hisClient, logger)
	a.Dashboard = service.NewDashboardService(a.Store, a.Sessions, logger)

	return nil
}

// openStorage opens the clinical store and the comparison store for the configured driver
func (a *App) openStorage(ctx context.Context, manager *config.Manager, autoMigrate bool) error {
	cfg := a.Config

	switch cfg.Storage.Driver {
	case domain.StoragePostgres:
		if autoMigrate {
			if err := Migrate(ctx, manager, a.Logger, func(r *database.MigrationRunner) error { return r.Up(ctx) }); err != nil {
				return err
			}
		}

		db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), a.Logger)
		if err != nil {
			return err
		}
		store := repository.NewPostgresStore(db, a.Logger)
		a.Store = store
		a.closers = append(a.closers, store.Close)

		comparisons, err := feedback.NewPostgresStoreFromURL(manager.GetDatabaseURL())
		if err != nil {
			return fmt.Errorf("opening comparison store: %w", err)
		}
		a.Comparisons = comparisons
		a.closers = append(a.closers, comparisons.Close)

	case domain.StorageSQLite:
		store, err := repository.NewSQLiteStore(cfg.Storage.SQLitePath, a.Logger)
		if err != nil {
			return err
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)

		comparisons, err := feedback.NewSQLiteStore(ComparisonsPath(cfg.Storage.SQLitePath))
		if err != nil {
			return fmt.Errorf("opening comparison store: %w", err)
		}
		a.Comparisons = comparisons
		a.closers = append(a.closers, comparisons.Close)

	default:
		return fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}

	a.Logger.WithField("driver", cfg.Storage.Driver).Info("Storage opened")
	return nil
}

// ComparisonsPath places the SQLite comparison database next to the clinical one
func ComparisonsPath(sqlitePath string) string {
	return filepath.Join(filepath.Dir(sqlitePath), "comparisons.db")
}

// Migrate runs fn against the embedded Postgres migrations
func Migrate(ctx context.Context, manager *config.Manager, logger *logrus.Logger, fn func(*database.MigrationRunner) error) error {
	runner, err := database.NewMigrationRunner(manager.GetDatabaseURL(), logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	return fn(runner)
}

// NewProvider creates the chat-completion backend named by the LLM section
func NewProvider(cfg domain.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case domain.LLMProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("llm api key is required for the openai provider (set GROQ_API_KEY or MEDEXAM_LLM_API_KEY)")
		}
		opts := []openai.Option{openai.WithTimeout(cfg.Timeout)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(cfg.APIKey, cfg.Model, opts...)

	case domain.LLMProviderAnyLLM:
		var opts []anyllmlib.Option
		if cfg.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		return anyllm.New(cfg.Backend, cfg.Model, opts...)

	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.WithError(err).Warn("Error during shutdown")
		}
	}
	a.closers = nil
}
