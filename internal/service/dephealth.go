// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// docflow мониторит до трёх зависимостей:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode, critical);
//     только для DF_STORAGE=postgres
//   - Keycloak — HTTP checker к JWKS endpoint (critical)
//   - Storage Element — HTTP checker к /health/live (critical); только для DF_BLOB_BACKEND=se
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для Keycloak и SE
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthDeps — адреса отслеживаемых зависимостей.
type DephealthDeps struct {
	// DB — *sql.DB из pgxpool через stdlib.OpenDBFromPool (nil — без PostgreSQL)
	DB *sql.DB
	// PgConnURL — URL PostgreSQL для метрик/лейблов, не для подключения
	PgConnURL string
	// KeycloakJWKSURL — URL JWKS endpoint Keycloak
	KeycloakJWKSURL string
	// SEURL — базовый URL Storage Element (пусто — без SE)
	SEURL string
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	names  []string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(
	serviceID string,
	group string,
	deps DephealthDeps,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	deps DephealthDeps,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID string,
	group string,
	deps DephealthDeps,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	if deps.KeycloakJWKSURL == "" {
		return nil, fmt.Errorf("не задан URL JWKS Keycloak")
	}

	opts := []dephealth.Option{dephealth.WithLogger(logger)}
	var names []string

	if deps.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(deps.DB)),
			dephealth.FromURL(deps.PgConnURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
		names = append(names, "postgresql")
	}

	// У Keycloak /health доступен только на management порту,
	// поэтому проверяется path самого JWKS URL.
	opts = append(opts, dephealth.HTTP("keycloak-jwks",
		dephealth.FromURL(deps.KeycloakJWKSURL),
		dephealth.WithHTTPHealthPath(healthPathFromURL(deps.KeycloakJWKSURL, "/health")),
		dephealth.CheckInterval(checkInterval),
		dephealth.Critical(true),
		dephealth.WithHTTPTLSSkipVerify(true), // Dev-среда: self-signed сертификаты
	))
	names = append(names, "keycloak-jwks")

	if deps.SEURL != "" {
		opts = append(opts, dephealth.HTTP("storage-element",
			dephealth.FromURL(deps.SEURL),
			dephealth.WithHTTPHealthPath("/health/live"),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(true),
		))
		names = append(names, "storage-element")
	}

	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		names:  names,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен", slog.Any("dependencies", ds.names))
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

// healthPathFromURL возвращает path из URL или fallback, если path пуст
// или URL некорректен.
func healthPathFromURL(rawURL, fallback string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return fallback
	}
	return parsed.Path
}
