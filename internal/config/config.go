// Пакет config — загрузка и валидация конфигурации docflow
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилища заявлений.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Бэкенды хранилища файлов.
const (
	BlobFilestore = "filestore"
	BlobSE        = "se"
)

// Config содержит все параметры конфигурации docflow.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Хранилище заявлений ---

	// Бэкенд: postgres или memory
	Storage string

	// --- PostgreSQL (только для Storage=postgres) ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Keycloak ---

	// URL Keycloak (например, https://keycloak.university.local)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Client ID для client credentials (обязателен для BlobBackend=se)
	KeycloakClientID string
	// Client Secret для client credentials (обязателен для BlobBackend=se)
	KeycloakClientSecret string

	// --- JWT ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string

	// --- Маппинг групп → ролей ---

	RoleAdminGroups     []string
	RoleProrectorGroups []string
	RoleReviewerGroups  []string

	// --- Хранилище файлов ---

	// Бэкенд: filestore или se
	BlobBackend string
	// Каталог локального хранилища (BlobBackend=filestore)
	BlobDir string
	// URL Storage Element (BlobBackend=se)
	SEURL string
	// Путь к CA-сертификату для TLS-соединений с SE (опционально)
	SECACertPath string
	// Максимальный размер multipart-запроса в байтах
	MaxUploadSize int64

	// --- SMTP ---

	// Хост SMTP (пусто — уведомления пишутся в лог)
	SMTPHost string
	SMTPPort int
	// Неявный TLS (SMTPS, порт 465)
	SMTPSSL      bool
	SMTPUser     string
	SMTPPassword string
	// Адрес отправителя (по умолчанию SMTPUser)
	SMTPFrom string

	// --- Уведомления ---

	// Размер очереди уведомлений
	NotifyQueueSize int
	// Количество воркеров отправки
	NotifyWorkers int
	// Максимум повторов отправки одного уведомления
	NotifyMaxRetries int

	// --- Каталог типов ---

	// Размер LRU-кэша типов заявлений
	TypeCacheSize int
	// TTL записей кэша типов
	TypeCacheTTL time.Duration
	// Путь к YAML-файлу начального наполнения каталога (опционально)
	CatalogSeedPath string

	// --- Зависимости ---

	// Группа topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера и воркеров
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DF_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("DF_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("DF_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DF_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// DF_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DF_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DF_LOG_LEVEL: %w", err)
	}

	// DF_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DF_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DF_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Хранилище заявлений ---

	// DF_STORAGE — бэкенд (по умолчанию postgres)
	cfg.Storage = getEnvDefault("DF_STORAGE", StoragePostgres)
	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		return nil, fmt.Errorf("DF_STORAGE: недопустимое значение %q, допустимые: postgres, memory", cfg.Storage)
	}

	// --- PostgreSQL ---

	if cfg.Storage == StoragePostgres {
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	}

	// --- Keycloak ---

	// DF_KEYCLOAK_URL — обязательный
	cfg.KeycloakURL, err = getEnvRequired("DF_KEYCLOAK_URL")
	if err != nil {
		return nil, err
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	// DF_KEYCLOAK_REALM — realm (по умолчанию docflow)
	cfg.KeycloakRealm = getEnvDefault("DF_KEYCLOAK_REALM", "docflow")
	cfg.KeycloakClientID = getEnvDefault("DF_KEYCLOAK_CLIENT_ID", "")
	cfg.KeycloakClientSecret = getEnvDefault("DF_KEYCLOAK_CLIENT_SECRET", "")

	// --- JWT ---

	cfg.JWTIssuer = getEnvDefault("DF_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))
	cfg.JWTJWKSURL = getEnvDefault("DF_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	// --- Маппинг групп → ролей ---

	cfg.RoleAdminGroups = parseCSV(getEnvDefault("DF_ROLE_ADMIN_GROUPS", "docflow-admins"))
	cfg.RoleProrectorGroups = parseCSV(getEnvDefault("DF_ROLE_PRORECTOR_GROUPS", "docflow-prorectors"))
	cfg.RoleReviewerGroups = parseCSV(getEnvDefault("DF_ROLE_REVIEWER_GROUPS", "docflow-reviewers"))

	// --- Хранилище файлов ---

	// DF_BLOB_BACKEND — бэкенд файлов (по умолчанию filestore)
	cfg.BlobBackend = getEnvDefault("DF_BLOB_BACKEND", BlobFilestore)
	switch cfg.BlobBackend {
	case BlobFilestore:
		cfg.BlobDir = getEnvDefault("DF_BLOB_DIR", "./data/files")
	case BlobSE:
		cfg.SEURL, err = getEnvRequired("DF_SE_URL")
		if err != nil {
			return nil, err
		}
		cfg.SEURL = strings.TrimRight(cfg.SEURL, "/")
		if cfg.KeycloakClientID == "" || cfg.KeycloakClientSecret == "" {
			return nil, fmt.Errorf("DF_KEYCLOAK_CLIENT_ID и DF_KEYCLOAK_CLIENT_SECRET обязательны для DF_BLOB_BACKEND=se")
		}
		cfg.SECACertPath = getEnvDefault("DF_SE_CA_CERT_PATH", "")
	default:
		return nil, fmt.Errorf("DF_BLOB_BACKEND: недопустимое значение %q, допустимые: filestore, se", cfg.BlobBackend)
	}

	// DF_MAX_UPLOAD_SIZE — лимит multipart-запроса (по умолчанию 32 MiB)
	cfg.MaxUploadSize, err = getEnvInt64("DF_MAX_UPLOAD_SIZE", 32<<20)
	if err != nil {
		return nil, fmt.Errorf("DF_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("DF_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}

	// --- SMTP ---

	cfg.SMTPHost = getEnvDefault("DF_SMTP_HOST", "")
	cfg.SMTPPort, err = getEnvInt("DF_SMTP_PORT", 465)
	if err != nil {
		return nil, fmt.Errorf("DF_SMTP_PORT: %w", err)
	}
	cfg.SMTPSSL, err = getEnvBool("DF_SMTP_SSL", true)
	if err != nil {
		return nil, fmt.Errorf("DF_SMTP_SSL: %w", err)
	}
	cfg.SMTPUser = getEnvDefault("DF_SMTP_USER", "")
	cfg.SMTPPassword = getEnvDefault("DF_SMTP_PASSWORD", "")
	cfg.SMTPFrom = getEnvDefault("DF_SMTP_FROM", cfg.SMTPUser)
	if cfg.SMTPHost != "" && cfg.SMTPFrom == "" {
		return nil, fmt.Errorf("DF_SMTP_FROM: обязателен при заданном DF_SMTP_HOST (или задайте DF_SMTP_USER)")
	}

	// --- Уведомления ---

	cfg.NotifyQueueSize, err = getEnvInt("DF_NOTIFY_QUEUE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("DF_NOTIFY_QUEUE_SIZE: %w", err)
	}
	if cfg.NotifyQueueSize < 1 {
		return nil, fmt.Errorf("DF_NOTIFY_QUEUE_SIZE: значение %d должно быть не меньше 1", cfg.NotifyQueueSize)
	}
	cfg.NotifyWorkers, err = getEnvInt("DF_NOTIFY_WORKERS", 2)
	if err != nil {
		return nil, fmt.Errorf("DF_NOTIFY_WORKERS: %w", err)
	}
	if cfg.NotifyWorkers < 1 || cfg.NotifyWorkers > 64 {
		return nil, fmt.Errorf("DF_NOTIFY_WORKERS: значение %d вне допустимого диапазона 1-64", cfg.NotifyWorkers)
	}
	cfg.NotifyMaxRetries, err = getEnvInt("DF_NOTIFY_MAX_RETRIES", 5)
	if err != nil {
		return nil, fmt.Errorf("DF_NOTIFY_MAX_RETRIES: %w", err)
	}
	if cfg.NotifyMaxRetries < 0 {
		return nil, fmt.Errorf("DF_NOTIFY_MAX_RETRIES: значение не может быть отрицательным")
	}

	// --- Каталог типов ---

	cfg.TypeCacheSize, err = getEnvInt("DF_TYPE_CACHE_SIZE", 128)
	if err != nil {
		return nil, fmt.Errorf("DF_TYPE_CACHE_SIZE: %w", err)
	}
	if cfg.TypeCacheSize < 1 {
		return nil, fmt.Errorf("DF_TYPE_CACHE_SIZE: значение %d должно быть не меньше 1", cfg.TypeCacheSize)
	}
	cfg.TypeCacheTTL, err = getEnvDuration("DF_TYPE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DF_TYPE_CACHE_TTL: %w", err)
	}
	cfg.CatalogSeedPath = getEnvDefault("DF_CATALOG_SEED_PATH", "")

	// --- Зависимости ---

	cfg.DephealthGroup = getEnvDefault("DF_DEPHEALTH_GROUP", "docflow")
	cfg.DephealthCheckInterval, err = getEnvDuration("DF_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DF_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("DF_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DF_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadDatabase читает параметры PostgreSQL.
func loadDatabase(cfg *Config) error {
	var err error

	if cfg.DBHost, err = getEnvRequired("DF_DB_HOST"); err != nil {
		return err
	}
	if cfg.DBPort, err = getEnvInt("DF_DB_PORT", 5432); err != nil {
		return fmt.Errorf("DF_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("DF_DB_NAME"); err != nil {
		return err
	}
	if cfg.DBUser, err = getEnvRequired("DF_DB_USER"); err != nil {
		return err
	}
	if cfg.DBPassword, err = getEnvRequired("DF_DB_PASSWORD"); err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("DF_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("DF_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения для golang-migrate (драйвер pgx5).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 — как getEnvInt, для размеров в байтах.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
