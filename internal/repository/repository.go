// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrInvalidStatus — попытка записать статус вне перечисления.
	ErrInvalidStatus = errors.New("недопустимый статус заявления")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repos — набор репозиториев, работающих через одно подключение
// (пул или транзакцию).
type Repos struct {
	Types        ApplicationTypeRepository
	Applications ApplicationRepository
	Comments     CommentRepository
}

// Store — хранилище заявлений с поддержкой транзакций.
// Реализуется PgStore и memstore.Store.
type Store interface {
	// Repos возвращает репозитории вне транзакции (для чтения).
	Repos() Repos
	// RunInTx выполняет fn внутри транзакции.
	// При ошибке fn изменения откатываются.
	RunInTx(ctx context.Context, fn func(r Repos) error) error
}

// PgStore — Store поверх pgxpool.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore создаёт Store поверх пула PostgreSQL.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Repos возвращает репозитории, работающие через пул.
func (s *PgStore) Repos() Repos {
	return newRepos(s.pool)
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (s *PgStore) RunInTx(ctx context.Context, fn func(r Repos) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(newRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

func newRepos(db DBTX) Repos {
	return Repos{
		Types:        NewApplicationTypeRepository(db),
		Applications: NewApplicationRepository(db),
		Comments:     NewCommentRepository(db),
	}
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isInvalidText проверяет ошибку разбора значения (например, не-UUID в id).
// Такие идентификаторы заведомо отсутствуют в таблицах.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02" // invalid_text_representation
	}
	return false
}

// refToText конвертирует ссылку на файл в nullable-строку для pgx.
func refToText(ref *model.FileRef) *string {
	if ref == nil {
		return nil
	}
	s := string(*ref)
	return &s
}

// textToRef — обратное преобразование для Scan.
func textToRef(s *string) *model.FileRef {
	if s == nil {
		return nil
	}
	ref := model.FileRef(*s)
	return &ref
}
