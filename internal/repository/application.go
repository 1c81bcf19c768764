package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// ApplicationRepository — заявления (таблица applications).
// Удаление не предусмотрено.
type ApplicationRepository interface {
	// Create сохраняет новое заявление, заполняет SubmissionDate и UpdatedAt.
	Create(ctx context.Context, app *model.Application) error
	// GetByID возвращает заявление без блокировки.
	GetByID(ctx context.Context, id string) (*model.Application, error)
	// GetForUpdate возвращает заявление и блокирует строку до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (*model.Application, error)
	// Update сохраняет статус, данные полей, ссылки на файлы и комментарии.
	// student_id, type_id и submission_date не изменяются. UpdatedAt обновляется.
	Update(ctx context.Context, app *model.Application) error
	// List возвращает заявления по фильтру, новые первыми (submission_date DESC).
	List(ctx context.Context, filter model.ApplicationFilter) ([]*model.Application, error)
}

type applicationRepo struct {
	db DBTX
}

// NewApplicationRepository создаёт репозиторий заявлений.
func NewApplicationRepository(db DBTX) ApplicationRepository {
	return &applicationRepo{db: db}
}

// selectApplication — общий SELECT с названием типа.
const selectApplication = `
	SELECT a.id, a.student_id, a.student_email, a.type_id, t.name, a.status, a.fields_data,
		a.sent_document_ref, a.ready_document_ref, a.student_signature_ref,
		a.reviewer_comment_id, a.prorector_comment_id, a.submission_date, a.updated_at
	FROM applications a
	JOIN application_types t ON t.id = a.type_id`

func (r *applicationRepo) Create(ctx context.Context, app *model.Application) error {
	if !app.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, app.Status)
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO applications (id, student_id, student_email, type_id, status, fields_data,
			sent_document_ref, ready_document_ref, student_signature_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING submission_date, updated_at`,
		app.ID, app.StudentID, app.StudentEmail, app.TypeID, string(app.Status), fieldsParam(app.FieldsData),
		refToText(app.SentDocumentRef), refToText(app.ReadyDocumentRef), refToText(app.StudentSignatureRef),
	).Scan(&app.SubmissionDate, &app.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: заявление %s", ErrConflict, app.ID)
		}
		return fmt.Errorf("ошибка создания заявления: %w", err)
	}
	return nil
}

func (r *applicationRepo) GetByID(ctx context.Context, id string) (*model.Application, error) {
	return r.getOne(ctx, selectApplication+` WHERE a.id = $1`, id)
}

func (r *applicationRepo) GetForUpdate(ctx context.Context, id string) (*model.Application, error) {
	return r.getOne(ctx, selectApplication+` WHERE a.id = $1 FOR UPDATE OF a`, id)
}

func (r *applicationRepo) getOne(ctx context.Context, query, id string) (*model.Application, error) {
	app, err := scanApplication(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения заявления: %w", err)
	}
	return app, nil
}

func (r *applicationRepo) Update(ctx context.Context, app *model.Application) error {
	if !app.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, app.Status)
	}

	err := r.db.QueryRow(ctx, `
		UPDATE applications
		SET status = $2, fields_data = $3,
			sent_document_ref = $4, ready_document_ref = $5, student_signature_ref = $6,
			reviewer_comment_id = $7, prorector_comment_id = $8,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		app.ID, string(app.Status), fieldsParam(app.FieldsData),
		refToText(app.SentDocumentRef), refToText(app.ReadyDocumentRef), refToText(app.StudentSignatureRef),
		app.ReviewerCommentID, app.ProrectorCommentID,
	).Scan(&app.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления заявления: %w", err)
	}
	return nil
}

func (r *applicationRepo) List(ctx context.Context, filter model.ApplicationFilter) ([]*model.Application, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.StudentID != nil {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", argNum))
		args = append(args, *filter.StudentID)
		argNum++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", argNum))
		args = append(args, string(*filter.Status))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := r.db.Query(ctx, selectApplication+where+` ORDER BY a.submission_date DESC, a.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка заявлений: %w", err)
	}
	defer rows.Close()

	var result []*model.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявления: %w", err)
		}
		result = append(result, app)
	}
	return result, rows.Err()
}

// scanApplication читает строку selectApplication.
func scanApplication(row pgx.Row) (*model.Application, error) {
	app := &model.Application{}
	var status string
	var fields map[string]any
	var sentRef, readyRef, signatureRef *string

	err := row.Scan(
		&app.ID, &app.StudentID, &app.StudentEmail, &app.TypeID, &app.TypeName, &status, &fields,
		&sentRef, &readyRef, &signatureRef,
		&app.ReviewerCommentID, &app.ProrectorCommentID, &app.SubmissionDate, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	app.Status = model.Status(status)
	app.FieldsData = model.FieldsData(fields)
	app.SentDocumentRef = textToRef(sentRef)
	app.ReadyDocumentRef = textToRef(readyRef)
	app.StudentSignatureRef = textToRef(signatureRef)
	return app, nil
}

// fieldsParam подготавливает fields_data для колонки JSONB.
func fieldsParam(d model.FieldsData) map[string]any {
	if d == nil {
		return map[string]any{}
	}
	return map[string]any(d)
}
