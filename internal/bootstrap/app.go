package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"medreport-backend/internal/analysis"
	"medreport-backend/internal/keyphrases"
	"medreport-backend/internal/llm"
	"medreport-backend/internal/llm/gemini"
	"medreport-backend/internal/llm/openai"
	"medreport-backend/internal/ocr"
	"medreport-backend/internal/ocr/azure"
	"medreport-backend/internal/ocr/pdftext"
	"medreport-backend/internal/queue"
	"medreport-backend/internal/reports"
	"medreport-backend/internal/services/health"
	"medreport-backend/internal/shared/auth"
	"medreport-backend/internal/shared/config"
	"medreport-backend/internal/shared/server"
	"medreport-backend/internal/shared/storage/db"
	"medreport-backend/internal/shared/storage/object"
	localstore "medreport-backend/internal/shared/storage/object/local"
	s3store "medreport-backend/internal/shared/storage/object/s3"
	"medreport-backend/internal/shared/telemetry"
	"medreport-backend/internal/summary"
)

// App holds shared dependencies.
type App struct {
	Config         config.Config
	Router         *gin.Engine
	DB             *sql.DB
	Store          object.ObjectStore
	Queue          queue.Client
	OCR            ocr.Client
	LLM            llm.Client
	Vocabulary     *keyphrases.Vocabulary
	Pipeline       *analysis.Pipeline
	ReportsRepo    reports.Repo
	ReportsService *reports.Service
	HealthService  *health.Service

	closers []func() error
	cancel  context.CancelFunc
}

// Build prepares dependencies and the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{Config: cfg, cancel: cancel}

	sqlDB, shared, err := buildDB(ctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	app.ownDB(sqlDB, shared)

	if app.Store, err = buildStore(ctx, cfg); err != nil {
		app.Close()
		return nil, err
	}
	if app.Queue, err = buildQueue(ctx, cfg); err != nil {
		app.Close()
		return nil, err
	}

	app.OCR = buildOCR(cfg)
	if app.LLM, err = app.buildLLM(ctx, cfg); err != nil {
		app.Close()
		return nil, err
	}
	if app.Vocabulary, err = buildVocabulary(ctx, cfg); err != nil {
		app.Close()
		return nil, err
	}

	summarizer := summary.NewGenerator(app.LLM, summary.Options{
		MaxInputChars: cfg.SummaryMaxInputChars,
		Timeout:       cfg.LLMTimeout,
	})
	extractor := keyphrases.NewExtractor(app.LLM, app.Vocabulary, keyphrases.Options{
		MaxInputChars: cfg.KeyPhraseMaxInputChars,
		Timeout:       cfg.LLMTimeout,
	})
	app.Pipeline = &analysis.Pipeline{
		OCR:        app.OCR,
		Summarizer: summarizer,
		Extractor:  extractor,
		OCRTimeout: cfg.OCRTimeout,
	}

	if app.DB != nil {
		app.ReportsRepo = &reports.PGRepo{DB: app.DB}
	} else {
		app.ReportsRepo = reports.NewMemoryRepo()
	}

	mode := reports.ModeSync
	if cfg.AnalysisMode == "queue" {
		mode = reports.ModeQueue
	}
	app.ReportsService = &reports.Service{
		Repo:       app.ReportsRepo,
		Store:      app.Store,
		Analyzer:   app.Pipeline,
		Queue:      app.Queue,
		Mode:       mode,
		StaleAfter: cfg.StaleAfter,
	}
	app.HealthService = health.NewService(app.DB, app.OCR, app.LLM)

	app.Router = server.NewRouter(server.RouterDeps{
		Reports:         app.ReportsService,
		Health:          app.HealthService,
		Verifier:        auth.NewVerifier(cfg.JWTSecret),
		CORSAllowOrigin: cfg.CORSAllowOrigin,
		AnalysisRate:    cfg.UploadRate,
		AnalysisBurst:   cfg.UploadBurst,
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":      cfg.Env,
		"mode":     mode,
		"database": app.DB != nil,
		"store":    cfg.ObjectStoreType,
		"pipeline": app.Pipeline.Describe(),
	})
	return app, nil
}

// Close stops background watchers and releases clients.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// ownDB attaches sqlDB to the app. A shared handle (the Lambda singleton)
// outlives any one App and is left open by Close.
func (a *App) ownDB(sqlDB *sql.DB, shared bool) {
	a.DB = sqlDB
	if sqlDB != nil && !shared {
		a.closers = append(a.closers, sqlDB.Close)
	}
}

// buildDB returns the database handle, or nil for in-memory repositories.
// shared reports whether the handle is the process-wide Lambda singleton.
func buildDB(ctx context.Context, cfg config.Config) (sqlDB *sql.DB, shared bool, err error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("DATABASE_URL is required")
	}

	shared = db.IsLambdaRuntime()
	if shared {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, false, nil
		}
		return nil, false, err
	}

	if isDevLike(cfg.Env) {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			if !shared {
				_ = sqlDB.Close()
			}
			return nil, false, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, shared, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.QueueURL) == "" {
		if cfg.AnalysisMode == "queue" {
			log.Printf("bootstrap: ANALYSIS_MODE=queue without ANALYSIS_QUEUE_URL; analyses will fail to enqueue")
		}
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.QueueURL, cfg.AWSRegion)
}

func buildOCR(cfg config.Config) ocr.Client {
	switch cfg.OCRProvider {
	case "pdftext":
		return pdftext.New()
	default:
		return azure.New(azure.Options{
			Endpoint:   cfg.AzureEndpoint,
			Key:        cfg.AzureKey,
			Model:      cfg.AzureModel,
			APIVersion: cfg.AzureAPIVersion,
		})
	}
}

func (a *App) buildLLM(ctx context.Context, cfg config.Config) (llm.Client, error) {
	var client llm.Client
	switch cfg.LLMProvider {
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return llm.NotConfigured{Provider: "openai"}, nil
		}
		client = openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.LLMTimeout)
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return llm.NotConfigured{Provider: "gemini"}, nil
		}
		g, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		a.closers = append(a.closers, g.Close)
		client = g
	default:
		return llm.NotConfigured{}, nil
	}
	return llm.WithRetry(client, cfg.LLMRetries), nil
}

func buildVocabulary(ctx context.Context, cfg config.Config) (*keyphrases.Vocabulary, error) {
	path := strings.TrimSpace(cfg.VocabularyFile)
	if path == "" {
		return keyphrases.NewVocabulary(nil), nil
	}
	vocab, err := keyphrases.LoadVocabularyFile(path)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	if err := vocab.Watch(ctx, path); err != nil {
		telemetry.Warn("vocabulary.watch_failed", map[string]any{"path": path, "error": err.Error()})
	}
	return vocab, nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "test":
		return true
	default:
		return false
	}
}
