package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/docflow/internal/config"
	"github.com/bigkaa/docflow/internal/database"
	"github.com/bigkaa/docflow/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
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

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

func createTranscriptType(t *testing.T, store *PgStore) *model.ApplicationType {
	t.Helper()
	example := "для посольства"
	typ := &model.ApplicationType{
		ID:   uuid.New().String(),
		Name: "Transcript Request",
		Fields: []model.FieldDefinition{
			{ID: uuid.New().String(), Name: "purpose", Kind: model.FieldKindText, Required: true, Example: &example},
			{ID: uuid.New().String(), Name: "sent_document", Kind: model.FieldKindDocument, Required: true},
		},
	}
	err := store.RunInTx(context.Background(), func(r Repos) error {
		return r.Types.Create(context.Background(), typ)
	})
	if err != nil {
		t.Fatalf("Create типа: %v", err)
	}
	return typ
}

func TestApplicationTypes(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPgStore(pool)
	ctx := context.Background()

	typ := createTranscriptType(t, store)

	got, err := store.Repos().Types.GetByID(ctx, typ.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.Fields) != 2 || got.Fields[0].Name != "purpose" || got.Fields[1].Kind != model.FieldKindDocument {
		t.Errorf("поля типа: %+v", got.Fields)
	}
	if got.Fields[0].Example == nil || *got.Fields[0].Example != "для посольства" {
		t.Errorf("Example не сохранён: %+v", got.Fields[0])
	}

	dup := &model.ApplicationType{ID: uuid.New().String(), Name: "Transcript Request"}
	if err := store.Repos().Types.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("ожидается ErrConflict, получено %v", err)
	}

	if _, err := store.Repos().Types.GetByID(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидается ErrNotFound для некорректного id, получено %v", err)
	}
}

func TestApplicationLifecycleColumns(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPgStore(pool)
	ctx := context.Background()
	typ := createTranscriptType(t, store)

	sent := model.FileRef("fs/2026/transcript.pdf")
	app := &model.Application{
		ID:              uuid.New().String(),
		StudentID:       "student-1",
		StudentEmail:    "student@university.local",
		TypeID:          typ.ID,
		Status:          model.StatusCreated,
		FieldsData:      model.FieldsData{"purpose": "visa", "sent_document": string(sent)},
		SentDocumentRef: &sent,
	}
	if err := store.Repos().Applications.Create(ctx, app); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var updated *model.Application
	err := store.RunInTx(ctx, func(r Repos) error {
		locked, err := r.Applications.GetForUpdate(ctx, app.ID)
		if err != nil {
			return err
		}
		comment := &model.Comment{ID: uuid.New().String(), AuthorID: "reviewer-1", Text: "нет подписи"}
		if err := r.Comments.Create(ctx, comment); err != nil {
			return err
		}
		locked.Status = model.StatusRejected
		locked.ReviewerCommentID = &comment.ID
		locked.StudentID = "intruder"
		if err := r.Applications.Update(ctx, locked); err != nil {
			return err
		}
		updated = locked
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	got, err := store.Repos().Applications.GetByID(ctx, app.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != model.StatusRejected || got.ReviewerCommentID == nil {
		t.Errorf("status/comment: %+v", got)
	}
	if got.StudentID != "student-1" {
		t.Errorf("student_id изменён UPDATE-запросом: %q", got.StudentID)
	}
	if !got.SubmissionDate.Equal(app.SubmissionDate) {
		t.Errorf("submission_date изменена")
	}
	if got.UpdatedAt.Before(app.UpdatedAt) || !got.UpdatedAt.Equal(updated.UpdatedAt) {
		t.Errorf("updated_at не обновлён: %v", got.UpdatedAt)
	}
	if got.TypeName != "Transcript Request" || got.FieldsData["purpose"] != "visa" {
		t.Errorf("TypeName/FieldsData: %+v", got)
	}

	bad := got.Clone()
	bad.Status = "approved"
	if err := store.Repos().Applications.Update(ctx, bad); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("ожидается ErrInvalidStatus, получено %v", err)
	}
}

// TestGetForUpdate_Serializes проверяет, что вторая транзакция видит
// зафиксированное состояние первой.
func TestGetForUpdate_Serializes(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPgStore(pool)
	ctx := context.Background()
	typ := createTranscriptType(t, store)

	app := &model.Application{
		ID: uuid.New().String(), StudentID: "s", TypeID: typ.ID, Status: model.StatusCreated,
	}
	if err := store.Repos().Applications.Create(ctx, app); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.RunInTx(ctx, func(r Repos) error {
				locked, err := r.Applications.GetForUpdate(ctx, app.ID)
				if err != nil {
					return err
				}
				if locked.Status != model.StatusCreated {
					return nil
				}
				time.Sleep(50 * time.Millisecond)
				locked.Status = model.StatusInProgress
				if err := r.Applications.Update(ctx, locked); err != nil {
					return err
				}
				mu.Lock()
				transitions++
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Errorf("переход выполнен %d раз, ожидается 1", transitions)
	}
}

func TestListOrdering(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPgStore(pool)
	ctx := context.Background()
	typ := createTranscriptType(t, store)

	var created []string
	for _, student := range []string{"s1", "s2", "s1"} {
		app := &model.Application{ID: uuid.New().String(), StudentID: student, TypeID: typ.ID, Status: model.StatusCreated}
		if err := store.Repos().Applications.Create(ctx, app); err != nil {
			t.Fatalf("Create: %v", err)
		}
		created = append(created, app.ID)
		time.Sleep(5 * time.Millisecond)
	}

	all, err := store.Repos().Applications.List(ctx, model.ApplicationFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != created[2] || all[2].ID != created[0] {
		t.Errorf("ожидается порядок submission_date DESC")
	}

	s1 := "s1"
	own, err := store.Repos().Applications.List(ctx, model.ApplicationFilter{StudentID: &s1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(own) != 2 {
		t.Errorf("заявлений s1 = %d, ожидается 2", len(own))
	}
}
