package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// CommentRepository — журнал комментариев (таблица comments).
// Комментарии только создаются и читаются.
type CommentRepository interface {
	// Create сохраняет комментарий, заполняет CreatedAt.
	Create(ctx context.Context, c *model.Comment) error
	// GetByID возвращает комментарий по UUID.
	GetByID(ctx context.Context, id string) (*model.Comment, error)
}

type commentRepo struct {
	db DBTX
}

// NewCommentRepository создаёт репозиторий комментариев.
func NewCommentRepository(db DBTX) CommentRepository {
	return &commentRepo{db: db}
}

func (r *commentRepo) Create(ctx context.Context, c *model.Comment) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO comments (id, author_id, text)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		c.ID, c.AuthorID, c.Text,
	).Scan(&c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: комментарий %s", ErrConflict, c.ID)
		}
		return fmt.Errorf("ошибка создания комментария: %w", err)
	}
	return nil
}

func (r *commentRepo) GetByID(ctx context.Context, id string) (*model.Comment, error) {
	c := &model.Comment{}
	err := r.db.QueryRow(ctx, `
		SELECT id, author_id, text, created_at
		FROM comments
		WHERE id = $1`, id,
	).Scan(&c.ID, &c.AuthorID, &c.Text, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения комментария: %w", err)
	}
	return c, nil
}
