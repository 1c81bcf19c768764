package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// ApplicationTypeRepository — каталог типов заявлений
// (таблицы application_types и application_fields).
type ApplicationTypeRepository interface {
	// Create создаёт тип вместе с полями. Порядок полей сохраняется.
	// Вызывается внутри транзакции.
	Create(ctx context.Context, t *model.ApplicationType) error
	// GetByID возвращает тип с полями по UUID.
	GetByID(ctx context.Context, id string) (*model.ApplicationType, error)
	// GetByName возвращает тип с полями по названию.
	GetByName(ctx context.Context, name string) (*model.ApplicationType, error)
	// List возвращает все типы в порядке вставки.
	List(ctx context.Context) ([]*model.ApplicationType, error)
}

// applicationTypeRepo — реализация ApplicationTypeRepository.
type applicationTypeRepo struct {
	db DBTX
}

// NewApplicationTypeRepository создаёт репозиторий типов заявлений.
func NewApplicationTypeRepository(db DBTX) ApplicationTypeRepository {
	return &applicationTypeRepo{db: db}
}

func (r *applicationTypeRepo) Create(ctx context.Context, t *model.ApplicationType) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO application_types (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		t.ID, t.Name, t.Description,
	).Scan(&t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: тип заявления %q уже существует", ErrConflict, t.Name)
		}
		return fmt.Errorf("ошибка создания типа заявления: %w", err)
	}

	for i, f := range t.Fields {
		_, err := r.db.Exec(ctx, `
			INSERT INTO application_fields (id, type_id, position, name, kind, required, example, template_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			f.ID, t.ID, i, f.Name, string(f.Kind), f.Required, f.Example, f.TemplateRef,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: поле %q повторяется в типе %q", ErrConflict, f.Name, t.Name)
			}
			return fmt.Errorf("ошибка создания поля %q: %w", f.Name, err)
		}
	}
	return nil
}

func (r *applicationTypeRepo) GetByID(ctx context.Context, id string) (*model.ApplicationType, error) {
	return r.getOne(ctx, `
		SELECT id, name, description, created_at
		FROM application_types
		WHERE id = $1`, id)
}

func (r *applicationTypeRepo) GetByName(ctx context.Context, name string) (*model.ApplicationType, error) {
	return r.getOne(ctx, `
		SELECT id, name, description, created_at
		FROM application_types
		WHERE name = $1`, name)
}

func (r *applicationTypeRepo) getOne(ctx context.Context, query string, arg string) (*model.ApplicationType, error) {
	t := &model.ApplicationType{}
	err := r.db.QueryRow(ctx, query, arg).Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения типа заявления: %w", err)
	}

	fields, err := r.loadFields(ctx, []string{t.ID})
	if err != nil {
		return nil, err
	}
	t.Fields = fields[t.ID]
	return t, nil
}

func (r *applicationTypeRepo) List(ctx context.Context) ([]*model.ApplicationType, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, created_at
		FROM application_types
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка типов: %w", err)
	}
	defer rows.Close()

	var result []*model.ApplicationType
	var ids []string
	for rows.Next() {
		t := &model.ApplicationType{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования типа: %w", err)
		}
		result = append(result, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения списка типов: %w", err)
	}
	if len(ids) == 0 {
		return result, nil
	}

	fields, err := r.loadFields(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, t := range result {
		t.Fields = fields[t.ID]
	}
	return result, nil
}

// loadFields загружает поля набора типов, сгруппированные по type_id,
// в порядке position.
func (r *applicationTypeRepo) loadFields(ctx context.Context, typeIDs []string) (map[string][]model.FieldDefinition, error) {
	rows, err := r.db.Query(ctx, `
		SELECT type_id, id, name, kind, required, example, template_ref
		FROM application_fields
		WHERE type_id = ANY($1::uuid[])
		ORDER BY type_id, position`, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения полей типа: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]model.FieldDefinition, len(typeIDs))
	for rows.Next() {
		var typeID, kind string
		var f model.FieldDefinition
		if err := rows.Scan(&typeID, &f.ID, &f.Name, &kind, &f.Required, &f.Example, &f.TemplateRef); err != nil {
			return nil, fmt.Errorf("ошибка сканирования поля: %w", err)
		}
		f.Kind = model.FieldKind(kind)
		result[typeID] = append(result[typeID], f)
	}
	return result, rows.Err()
}
