// comments.go — журнал комментариев.
// Комментарии неизменяемы: нет операций редактирования и удаления.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
	"github.com/bigkaa/docflow/internal/repository"
)

// CommentService — операции с комментариями.
type CommentService struct {
	store  repository.Store
	logger *slog.Logger
}

// NewCommentService создаёт сервис комментариев.
func NewCommentService(store repository.Store, logger *slog.Logger) *CommentService {
	return &CommentService{
		store:  store,
		logger: logger.With(slog.String("component", "comment_service")),
	}
}

// AddComment создаёт комментарий автора.
// Возвращает ErrValidation, если текст пуст после удаления пробелов.
func (s *CommentService) AddComment(ctx context.Context, author model.Actor, text string) (*model.Comment, error) {
	c, err := newComment(author, text)
	if err != nil {
		return nil, err
	}

	if err := s.store.Repos().Comments.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("создание комментария: %w", err)
	}

	s.logger.Info("Комментарий создан",
		slog.String("comment_id", c.ID),
		slog.String("author_id", c.AuthorID),
	)
	return c, nil
}

// GetComment возвращает комментарий по ID.
// Студент видит только комментарии к своим заявлениям,
// для чужих возвращается ErrNotFound.
func (s *CommentService) GetComment(ctx context.Context, actor model.Actor, id string) (*model.Comment, error) {
	repos := s.store.Repos()

	c, err := repos.Comments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: комментарий %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("получение комментария: %w", err)
	}

	if rbac.IsStaff(actor.Role) {
		return c, nil
	}

	apps, err := repos.Applications.List(ctx, model.ApplicationFilter{StudentID: &actor.ID})
	if err != nil {
		return nil, fmt.Errorf("получение заявлений студента: %w", err)
	}
	for _, app := range apps {
		if equalPtr(app.ReviewerCommentID, id) || equalPtr(app.ProrectorCommentID, id) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: комментарий %s", ErrNotFound, id)
}

// newComment проверяет текст и формирует комментарий с новым ID.
func newComment(author model.Actor, text string) (*model.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: текст комментария не может быть пустым", ErrValidation)
	}
	return &model.Comment{
		ID:        uuid.New().String(),
		AuthorID:  author.ID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func equalPtr(p *string, v string) bool {
	return p != nil && *p == v
}
