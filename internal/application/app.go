package application

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/application/usecase"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/extractor"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/llm"
	_ "github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/llm/gemini" // register gemini provider factory
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/logger"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/monitoring"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/persistence"
	httpServer "github.com/ngoclaw/ngoclaw/chatgateway/internal/interfaces/http"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/interfaces/http/handlers"
)

// App 应用程序
type App struct {
	// 配置
	loaded *config.Loaded
	config *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel
	db     *gorm.DB

	// 仓储层
	conversationRepo repository.ConversationRepository
	featureRepo      repository.FeatureRepository
	modelCatalog     repository.ModelCatalog

	// 基础设施
	generator *llm.GuardedClient
	extractor *extractor.Extractor
	monitor   *monitoring.Monitor

	// 应用服务
	chatUseCase         *usecase.ChatUseCase
	streamOrchestrator  *usecase.ChatStreamOrchestrator
	conversationUseCase *usecase.ConversationUseCase
	featureUseCase      *usecase.FeatureUseCase

	httpServer *httpServer.Server
}

// NewApp 创建应用程序（依赖注入容器）
func NewApp(loaded *config.Loaded, log *zap.Logger, level zap.AtomicLevel) (*App, error) {
	app := &App{
		loaded: loaded,
		config: loaded.Config,
		logger: log,
		level:  level,
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	app.initApplicationServices()
	app.initInterfaces()

	if app.config.Database.Seed {
		if err := app.seedData(); err != nil {
			return nil, fmt.Errorf("failed to seed data: %w", err)
		}
	}

	return app, nil
}

// NewAppCLI creates a lightweight app for CLI commands: database and
// catalog only, no generation client and no HTTP server.
func NewAppCLI(cfg *config.Config, log *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: log,
	}
	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}
	if cfg.Database.Seed {
		if err := app.seedData(); err != nil {
			return nil, fmt.Errorf("failed to seed data: %w", err)
		}
	}
	return app, nil
}

// initRepositories 初始化仓储层
func (app *App) initRepositories() error {
	app.logger.Info("Initializing repositories", zap.String("database", app.config.Database.Type))

	db, err := persistence.NewDBConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db

	app.conversationRepo = persistence.NewGormConversationRepository(db)
	app.featureRepo = persistence.NewGormFeatureRepository(db)
	app.modelCatalog = persistence.NewGormModelCatalog(db)
	return nil
}

// initInfrastructure 初始化生成客户端、文件提取与监控
func (app *App) initInfrastructure() error {
	gc := app.config.Gemini
	if gc.APIKey == "" {
		app.logger.Warn("Gemini API key is not configured; generation requests will fail")
	}

	client, err := llm.CreateClient(llm.ProviderConfig{
		Name:        "gemini",
		Type:        llm.DefaultProviderType,
		BaseURL:     gc.BaseURL,
		APIKey:      gc.APIKey,
		Model:       gc.Model,
		IdleTimeout: gc.IdleTimeout,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create generation client: %w", err)
	}

	breaker := llm.NewCircuitBreaker(gc.BreakerThreshold, gc.BreakerRecovery)
	app.generator = llm.NewGuardedClient(client, breaker, gc.Model, app.logger)
	app.extractor = extractor.New(app.logger)
	app.monitor = monitoring.NewMonitor(app.logger)

	app.logger.Info("Generation client ready",
		zap.String("model", gc.Model),
		zap.Duration("idle_timeout", gc.IdleTimeout),
		zap.Int("breaker_threshold", gc.BreakerThreshold),
	)
	return nil
}

func (app *App) chatLimits() usecase.ChatLimits {
	cc := app.config.Chat
	return usecase.ChatLimits{
		MaxMessageLength:      cc.MaxMessageLength,
		MaxSystemPromptLength: cc.MaxSystemPromptLength,
		MaxFileSize:           cc.MaxFileSize,
		TitleLength:           cc.TitleLength,
		DefaultModelID:        cc.DefaultModelID,
	}
}

// initApplicationServices 初始化应用服务
func (app *App) initApplicationServices() {
	limits := app.chatLimits()
	var client service.GenerationClient = app.generator

	app.chatUseCase = usecase.NewChatUseCase(app.conversationRepo, app.modelCatalog, client, app.monitor, limits, app.logger)
	app.streamOrchestrator = usecase.NewChatStreamOrchestrator(
		app.conversationRepo, app.modelCatalog, app.extractor, client, app.monitor, limits, app.logger)
	app.conversationUseCase = usecase.NewConversationUseCase(app.conversationRepo, app.modelCatalog, limits, app.logger)
	app.featureUseCase = usecase.NewFeatureUseCase(app.featureRepo, app.config.Auth.IsAdmin, app.logger)
}

// initInterfaces 初始化接口层
func (app *App) initInterfaces() {
	app.httpServer = httpServer.NewServer(httpServer.Config{
		Addr:       app.config.Server.Addr(),
		Mode:       app.config.Server.Mode,
		UserHeader: app.config.Auth.UserHeader,
	}, httpServer.Handlers{
		Chat: handlers.NewChatHandler(app.chatUseCase, app.streamOrchestrator, handlers.UploadLimits{
			MaxFileSize:    app.config.Chat.MaxFileSize,
			MaxRequestSize: app.config.Chat.MaxRequestSize,
			MaxMemory:      app.config.Chat.MaxUploadMemory,
		}, app.logger),
		Conversations: handlers.NewConversationHandler(app.conversationUseCase),
		Models:        handlers.NewModelHandler(app.modelCatalog),
		Features:      handlers.NewFeatureHandler(app.featureUseCase),
		Metrics:       app.monitor.PrometheusHandler(),
	}, app.monitor, app.logger)
}

// seedData 空表时写入内置模型目录
func (app *App) seedData() error {
	n, err := persistence.SeedModels(context.Background(), app.db, app.logger)
	if err != nil {
		return err
	}
	if n > 0 {
		app.logger.Info("AI model catalog seeded", zap.Int("models", n))
	}
	return nil
}

// Start 启动应用程序
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if app.loaded != nil {
		watching := app.loaded.Watch(func(cfg *config.Config, err error) {
			if err != nil {
				app.logger.Warn("Config reload failed, keeping current settings", zap.Error(err))
				return
			}
			app.level.SetLevel(logger.ParseLevel(cfg.Log.Level))
			app.logger.Info("Config reloaded", zap.String("log_level", cfg.Log.Level))
		})
		if watching {
			app.logger.Info("Watching config file", zap.String("file", app.loaded.File()))
		}
	}

	app.logger.Info("Application started successfully")
	return nil
}

// Stop 停止应用程序
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if app.httpServer != nil {
		if err := app.httpServer.Stop(ctx); err != nil {
			app.logger.Error("Failed to stop HTTP server", zap.Error(err))
		}
	}

	// 关闭数据库连接
	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Application stopped successfully")
	return nil
}

// ModelCatalog returns the AI model catalog (used by the CLI)
func (app *App) ModelCatalog() repository.ModelCatalog {
	return app.modelCatalog
}

// Monitor returns the metrics collector
func (app *App) Monitor() *monitoring.Monitor {
	return app.monitor
}

// Logger returns the application logger
func (app *App) Logger() *zap.Logger {
	return app.logger
}

// AppConfig returns the application config
func (app *App) AppConfig() *config.Config {
	return app.config
}
