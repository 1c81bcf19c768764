// Точка входа docflow — сервис обработки заявлений студентов.
// Загружает конфигурацию, применяет миграции и подключается к PostgreSQL
// (или использует хранилище в памяти), создаёт blob store, каталог типов,
// очередь уведомлений и сервисный слой, запускает HTTP-сервер с JWT
// middleware и graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/docflow/internal/api/handlers"
	"github.com/bigkaa/docflow/internal/api/middleware"
	"github.com/bigkaa/docflow/internal/blobstore"
	"github.com/bigkaa/docflow/internal/catalogseed"
	"github.com/bigkaa/docflow/internal/config"
	"github.com/bigkaa/docflow/internal/database"
	"github.com/bigkaa/docflow/internal/domain/rbac"
	"github.com/bigkaa/docflow/internal/keycloak"
	"github.com/bigkaa/docflow/internal/notify"
	"github.com/bigkaa/docflow/internal/repository"
	"github.com/bigkaa/docflow/internal/repository/memstore"
	"github.com/bigkaa/docflow/internal/server"
	"github.com/bigkaa/docflow/internal/service"
)

// Параметры повторов доставки уведомлений.
const (
	notifyInitialInterval = time.Second
	notifyMaxInterval     = time.Minute
	notifySendTimeout     = 30 * time.Second
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("docflow запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage", cfg.Storage),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	ctx := context.Background()

	// 3. Хранилище заявлений: PostgreSQL (миграции + pgxpool) или память
	var (
		store    repository.Store
		pgDB     *sql.DB
		checkers []handlers.NamedChecker
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		store = repository.NewPgStore(pool)
		checkers = append(checkers, handlers.NamedChecker{Name: "postgresql", Checker: database.NewReadinessChecker(pool)})
	default:
		logger.Warn("Используется хранилище в памяти, данные не сохраняются между рестартами")
		store = memstore.New()
	}

	// 4. Keycloak клиент (client credentials, Admin API)
	kcClient := keycloak.New(
		cfg.KeycloakURL,
		cfg.KeycloakRealm,
		cfg.KeycloakClientID,
		cfg.KeycloakClientSecret,
		nil, // стандартный HTTP-клиент
		logger,
	)
	checkers = append(checkers, handlers.NamedChecker{Name: "keycloak", Checker: kcClient})
	logger.Info("Keycloak клиент создан",
		slog.String("url", cfg.KeycloakURL),
		slog.String("realm", cfg.KeycloakRealm),
	)

	// 5. Blob store
	var (
		blobs    blobstore.Store
		blobsURL string
	)
	switch cfg.BlobBackend {
	case config.BlobSE:
		seStore, err := blobstore.NewSEStore(cfg.SEURL, cfg.SECACertPath, kcClient.TokenProvider(), logger)
		if err != nil {
			logger.Error("Ошибка создания клиента Storage Element", slog.String("error", err.Error()))
			os.Exit(1)
		}
		blobs = seStore
		blobsURL = cfg.SEURL
		checkers = append(checkers, handlers.NamedChecker{Name: "storage_element", Checker: seStore})
	default:
		fileStore, err := blobstore.NewFileStore(cfg.BlobDir, logger)
		if err != nil {
			logger.Error("Ошибка создания файлового хранилища", slog.String("error", err.Error()))
			os.Exit(1)
		}
		blobs = fileStore
		checkers = append(checkers, handlers.NamedChecker{Name: "filestore", Checker: fileStore})
	}

	// 6. Каталог типов заявлений и начальное заполнение
	catalogSvc := service.NewCatalogService(store, blobs, cfg.TypeCacheSize, cfg.TypeCacheTTL, logger)
	if cfg.CatalogSeedPath != "" {
		stats, err := catalogseed.Seed(ctx, cfg.CatalogSeedPath, catalogSvc, logger)
		if err != nil {
			logger.Error("Ошибка заполнения каталога",
				slog.String("path", cfg.CatalogSeedPath),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		logger.Info("Каталог типов заявлений заполнен",
			slog.Int("created", stats.Created),
			slog.Int("skipped", stats.Skipped),
		)
	}

	// 7. Уведомления: SMTP или лог
	var sink notify.Sink
	if cfg.SMTPHost != "" {
		smtpSink, err := notify.NewSMTPSink(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			SSL:      cfg.SMTPSSL,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  notifySendTimeout,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания SMTP-клиента", slog.String("error", err.Error()))
			os.Exit(1)
		}
		sink = smtpSink
	} else {
		logger.Warn("DF_SMTP_HOST не задан, уведомления пишутся в лог")
		sink = notify.NewLogSink(logger)
	}

	dispatcher := notify.NewDispatcher(sink, notify.DispatcherConfig{
		QueueSize:       cfg.NotifyQueueSize,
		Workers:         cfg.NotifyWorkers,
		MaxRetries:      cfg.NotifyMaxRetries,
		InitialInterval: notifyInitialInterval,
		MaxInterval:     notifyMaxInterval,
		SendTimeout:     notifySendTimeout,
	}, logger)
	dispatcher.Start(ctx)

	// 8. Services
	var emails service.EmailResolver
	if kcClient.HasCredentials() {
		emails = kcClient
	}
	lifecycleSvc := service.NewLifecycleService(store, blobs, catalogSvc, dispatcher, emails, logger)
	commentSvc := service.NewCommentService(store, logger)

	// 9. API handler
	healthHandler := handlers.NewHealthHandler(checkers...)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		catalogSvc,
		lifecycleSvc,
		commentSvc,
		cfg.MaxUploadSize,
		logger,
	)

	// 10. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.SECACertPath,
		cfg.JWTIssuer,
		rbac.GroupMapping{
			AdminGroups:     cfg.RoleAdminGroups,
			ProrectorGroups: cfg.RoleProrectorGroups,
			ReviewerGroups:  cfg.RoleReviewerGroups,
		},
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 11. topologymetrics — мониторинг зависимостей
	deps := service.DephealthDeps{
		DB:              pgDB,
		KeycloakJWKSURL: cfg.JWTJWKSURL,
		SEURL:           blobsURL,
	}
	if pgDB != nil {
		deps.PgConnURL = cfg.DatabaseURL()
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"docflow",
		cfg.DephealthGroup,
		deps,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth.Middleware())
	runErr := srv.Run()

	// 13. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	dispatcher.Stop(stopCtx)
	cancel()

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("docflow остановлен")
}
