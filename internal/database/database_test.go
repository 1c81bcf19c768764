package database

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/docflow/internal/config"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
// Возвращает конфиг, указывающий на контейнер.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("docflow_test"),
		postgres.WithUsername("docflow"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("DF_DB_HOST", host)
	t.Setenv("DF_DB_PORT", port.Port())
	t.Setenv("DF_DB_NAME", "docflow_test")
	t.Setenv("DF_DB_USER", "docflow")
	t.Setenv("DF_DB_PASSWORD", "test-password")
	t.Setenv("DF_DB_SSL_MODE", "disable")
	t.Setenv("DF_KEYCLOAK_URL", "http://localhost:8080")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestMigrate проверяет применение миграций и CHECK-ограничение статуса.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — без ошибки (ErrNoChange)
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"application_types", "application_fields", "comments", "applications"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	// Статус вне перечисления отклоняется на уровне БД
	_, err = pool.Exec(ctx,
		`INSERT INTO application_types (id, name) VALUES ('00000000-0000-0000-0000-000000000001', 't')`)
	if err != nil {
		t.Fatalf("Ошибка вставки типа: %v", err)
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO applications (id, student_id, type_id, status)
		 VALUES ('00000000-0000-0000-0000-000000000002', 's', '00000000-0000-0000-0000-000000000001', 'approved')`)
	if err == nil {
		t.Error("ожидается нарушение CHECK для статуса approved")
	}
}

// TestReadinessChecker проверяет ReadinessChecker.
func TestReadinessChecker(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	status, msg := NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() status = %q, message = %q; ожидали status = %q", status, msg, "ok")
	}
}
