// catalog.go — каталог типов заявлений.
// Типы неизменяемы после создания, поэтому GetType кэшируется
// в LRU с TTL (hashicorp/golang-lru/v2/expirable).
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docflow/internal/blobstore"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/repository"
)

// Prometheus-метрики кэша типов.
var (
	typeCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docflow_type_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш типов заявлений.",
	})
	typeCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docflow_type_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша типов заявлений.",
	})
)

// Upload — загружаемый файл.
type Upload struct {
	// Filename — исходное имя файла (по нему проверяется расширение)
	Filename string
	// Content — содержимое
	Content io.Reader
}

// FieldInput — описание поля при создании типа.
type FieldInput struct {
	Name     string
	Kind     model.FieldKind
	Required bool
	Example  *string
	// Template — шаблон документа (опционально, pdf/docx/doc)
	Template *Upload
}

// TypeInput — данные для создания типа заявления.
type TypeInput struct {
	Name        string
	Description *string
	Fields      []FieldInput
}

// CatalogService — операции с каталогом типов заявлений.
type CatalogService struct {
	store  repository.Store
	blobs  blobstore.Store
	cache  *expirable.LRU[string, *model.ApplicationType]
	logger *slog.Logger
}

// NewCatalogService создаёт сервис каталога.
// cacheSize — максимальное количество типов в кэше, ttl — время жизни записи.
func NewCatalogService(store repository.Store, blobs blobstore.Store, cacheSize int, ttl time.Duration, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		store:  store,
		blobs:  blobs,
		cache:  expirable.NewLRU[string, *model.ApplicationType](cacheSize, nil, ttl),
		logger: logger.With(slog.String("component", "catalog_service")),
	}
}

// ListTypes возвращает все типы в порядке вставки.
func (s *CatalogService) ListTypes(ctx context.Context) ([]*model.ApplicationType, error) {
	types, err := s.store.Repos().Types.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение списка типов: %w", err)
	}
	for _, t := range types {
		s.cache.Add(t.ID, t)
	}
	return cloneTypes(types), nil
}

// GetType возвращает тип по ID.
// Возвращает ErrNotFound, если тип не существует.
func (s *CatalogService) GetType(ctx context.Context, id string) (*model.ApplicationType, error) {
	if t, ok := s.cache.Get(id); ok {
		typeCacheHitsTotal.Inc()
		return cloneType(t), nil
	}
	typeCacheMissesTotal.Inc()

	t, err := s.store.Repos().Types.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: тип заявления %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("получение типа заявления: %w", err)
	}

	s.cache.Add(id, t)
	return cloneType(t), nil
}

// CreateType создаёт тип заявления.
// Тип с существующим названием не перезаписывается: возвращается
// существующий тип и created=false.
func (s *CatalogService) CreateType(ctx context.Context, in TypeInput) (t *model.ApplicationType, created bool, err error) {
	if err := validateTypeInput(in); err != nil {
		return nil, false, err
	}

	name := strings.TrimSpace(in.Name)
	existing, err := s.store.Repos().Types.GetByName(ctx, name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("поиск типа %q: %w", name, err)
	}

	t = &model.ApplicationType{
		ID:          uuid.New().String(),
		Name:        name,
		Description: in.Description,
	}

	// Шаблоны загружаются до транзакции
	for _, f := range in.Fields {
		def := model.FieldDefinition{
			ID:       uuid.New().String(),
			Name:     strings.TrimSpace(f.Name),
			Kind:     f.Kind,
			Required: f.Required,
			Example:  f.Example,
		}
		if f.Template != nil {
			ref, err := s.blobs.Put(ctx, f.Template.Filename, "catalog", f.Template.Content)
			if err != nil {
				return nil, false, fmt.Errorf("сохранение шаблона поля %q: %w", f.Name, err)
			}
			refStr := string(ref)
			def.TemplateRef = &refStr
		}
		t.Fields = append(t.Fields, def)
	}

	err = s.store.RunInTx(ctx, func(r repository.Repos) error {
		return r.Types.Create(ctx, t)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Параллельное создание того же типа
			existing, getErr := s.store.Repos().Types.GetByName(ctx, t.Name)
			if getErr == nil {
				return existing, false, nil
			}
			return nil, false, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, false, fmt.Errorf("создание типа %q: %w", in.Name, err)
	}

	s.logger.Info("Тип заявления создан",
		slog.String("type_id", t.ID),
		slog.String("name", t.Name),
		slog.Int("fields", len(t.Fields)),
	)
	return t, true, nil
}

// validateTypeInput проверяет название, уникальность полей, типы и шаблоны.
func validateTypeInput(in TypeInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: название типа не может быть пустым", ErrValidation)
	}

	seen := make(map[string]bool, len(in.Fields))
	for i, f := range in.Fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("%w: поле #%d без имени", ErrValidation, i+1)
		}
		if seen[name] {
			return fmt.Errorf("%w: поле %q повторяется", ErrValidation, name)
		}
		seen[name] = true

		if !f.Kind.Valid() {
			return fmt.Errorf("%w: поле %q: недопустимый тип %q, допустимые: text, image, document, signature",
				ErrValidation, name, f.Kind)
		}
		if f.Template != nil && !model.HasAllowedExtension(f.Template.Filename, model.DocumentExtensions) {
			return fmt.Errorf("%w: шаблон поля %q: допустимые расширения %s",
				ErrValidation, name, strings.Join(model.DocumentExtensions, ", "))
		}
	}
	return nil
}

func cloneType(t *model.ApplicationType) *model.ApplicationType {
	c := *t
	c.Fields = append([]model.FieldDefinition(nil), t.Fields...)
	return &c
}

func cloneTypes(types []*model.ApplicationType) []*model.ApplicationType {
	result := make([]*model.ApplicationType, 0, len(types))
	for _, t := range types {
		result = append(result, cloneType(t))
	}
	return result
}
