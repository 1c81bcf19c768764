// lifecycle.go — движок жизненного цикла заявления.
//
// Каждый переход выполняется как единое целое:
//  1. проверка роли (lifecycle.Authorize);
//  2. проверка входных данных (комментарий, документ, расширение файла);
//  3. загрузка файлов в blob store (вне транзакции);
//  4. транзакция: SELECT ... FOR UPDATE, повторная проверка статуса,
//     запись статуса и побочных полей, updated_at;
//  5. после фиксации — постановка уведомления в очередь.
//
// Ошибки шагов 1–2 прерывают операцию до любых изменений.
// Ошибка постановки уведомления не откатывает переход и возвращается
// в Result.Warnings.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docflow/internal/blobstore"
	"github.com/bigkaa/docflow/internal/domain/lifecycle"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
	"github.com/bigkaa/docflow/internal/notify"
	"github.com/bigkaa/docflow/internal/repository"
)

// transitionsTotal — счётчик операций жизненного цикла по событию и результату.
var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docflow_transitions_total",
	Help: "Общее количество операций жизненного цикла заявлений.",
}, []string{"event", "result"})

// Notifier — очередь уведомлений (notify.Dispatcher).
type Notifier interface {
	// Enqueue ставит уведомление в очередь без блокировки.
	Enqueue(n notify.Notification) error
}

// EmailResolver — поиск email пользователя по ID (Keycloak Admin API).
// Используется, если в токене студента нет email.
type EmailResolver interface {
	UserEmail(ctx context.Context, id string) (string, error)
}

// Result — результат операции жизненного цикла.
type Result struct {
	// Application — текущее состояние заявления после операции
	Application *model.Application
	// Warnings — некритичные проблемы (например, уведомление не поставлено в очередь)
	Warnings []string
}

// LifecycleService — операции подачи и обработки заявлений.
type LifecycleService struct {
	store    repository.Store
	blobs    blobstore.Store
	catalog  *CatalogService
	notifier Notifier
	emails   EmailResolver
	logger   *slog.Logger
}

// NewLifecycleService создаёт сервис жизненного цикла.
// emails может быть nil.
func NewLifecycleService(
	store repository.Store,
	blobs blobstore.Store,
	catalog *CatalogService,
	notifier Notifier,
	emails EmailResolver,
	logger *slog.Logger,
) *LifecycleService {
	return &LifecycleService{
		store:    store,
		blobs:    blobs,
		catalog:  catalog,
		notifier: notifier,
		emails:   emails,
		logger:   logger.With(slog.String("component", "lifecycle_service")),
	}
}

// Submit подаёт новое заявление студента.
//
// fields — значения текстовых полей, documents — файлы для файловых полей.
// Возвращает ErrValidation, если тип не существует, не заполнено обязательное
// поле, передано неизвестное поле, значение не соответствует виду поля
// или расширение файла не разрешено.
func (s *LifecycleService) Submit(
	ctx context.Context,
	actor model.Actor,
	typeID string,
	fields map[string]any,
	documents map[string]Upload,
) (result *Result, err error) {
	defer func() { observe(lifecycle.EventSubmit, err) }()

	if err := authorize(lifecycle.EventSubmit, actor); err != nil {
		return nil, err
	}

	typ, err := s.catalog.GetType(ctx, typeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: тип заявления %s не существует", ErrValidation, typeID)
		}
		return nil, err
	}

	if err := validateSubmission(typ, fields, documents); err != nil {
		return nil, err
	}

	app := &model.Application{
		ID:           uuid.New().String(),
		StudentID:    actor.ID,
		StudentEmail: s.resolveEmail(ctx, actor),
		TypeID:       typ.ID,
		TypeName:     typ.Name,
		Status:       model.StatusCreated,
		FieldsData:   make(model.FieldsData, len(fields)+len(documents)),
	}
	for name, value := range fields {
		app.FieldsData[name] = value
	}

	// Файлы сохраняются в порядке полей типа
	for _, def := range typ.Fields {
		doc, ok := documents[def.Name]
		if !ok {
			continue
		}
		ref, err := s.blobs.Put(ctx, doc.Filename, actor.ID, doc.Content)
		if err != nil {
			return nil, fmt.Errorf("сохранение файла поля %q: %w", def.Name, err)
		}
		app.FieldsData[def.Name] = string(ref)

		switch def.Name {
		case model.FieldSentDocument:
			app.SentDocumentRef = &ref
		case model.FieldStudentSignature:
			app.StudentSignatureRef = &ref
		}
	}

	err = s.store.RunInTx(ctx, func(r repository.Repos) error {
		return r.Applications.Create(ctx, app)
	})
	if err != nil {
		return nil, fmt.Errorf("создание заявления: %w", err)
	}

	s.logger.Info("Заявление подано",
		slog.String("application_id", app.ID),
		slog.String("student_id", app.StudentID),
		slog.String("type", app.TypeName),
	)

	result = &Result{Application: app}
	s.enqueue(result, actor, "", app)
	return result, nil
}

// Accept принимает заявление в работу: created/under_review → in_progress.
func (s *LifecycleService) Accept(ctx context.Context, id string, actor model.Actor) (result *Result, err error) {
	defer func() { observe(lifecycle.EventAccept, err) }()

	if err := authorize(lifecycle.EventAccept, actor); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, actor, namedEvent(lifecycle.EventAccept), nil)
}

// Reject отклоняет заявление с комментарием.
// Комментарий проректора записывается в ProrectorCommentID,
// проверяющего и администратора — в ReviewerCommentID.
func (s *LifecycleService) Reject(ctx context.Context, id string, actor model.Actor, text string) (result *Result, err error) {
	defer func() { observe(lifecycle.EventReject, err) }()

	if err := authorize(lifecycle.EventReject, actor); err != nil {
		return nil, err
	}
	comment, err := newComment(actor, text)
	if err != nil {
		return nil, err
	}

	return s.transition(ctx, id, actor, namedEvent(lifecycle.EventReject),
		func(ctx context.Context, app *model.Application, r repository.Repos) error {
			if err := r.Comments.Create(ctx, comment); err != nil {
				return fmt.Errorf("создание комментария: %w", err)
			}
			if actor.Role == rbac.RoleProrector {
				app.ProrectorCommentID = &comment.ID
			} else {
				app.ReviewerCommentID = &comment.ID
			}
			return nil
		})
}

// UploadDocument прикладывает документ к заявлению в статусе in_progress.
// Статус не меняется.
func (s *LifecycleService) UploadDocument(ctx context.Context, id string, actor model.Actor, doc *Upload) (result *Result, err error) {
	defer func() { observe(lifecycle.EventUploadDocument, err) }()

	ref, err := s.prepareUpload(ctx, id, actor, lifecycle.EventUploadDocument, doc, model.DocumentExtensions)
	if err != nil {
		return nil, err
	}

	return s.transition(ctx, id, actor, namedEvent(lifecycle.EventUploadDocument),
		func(_ context.Context, app *model.Application, _ repository.Repos) error {
			app.SentDocumentRef = &ref
			return nil
		})
}

// Complete завершает заявление готовым документом (только PDF):
// in_progress → completed.
func (s *LifecycleService) Complete(ctx context.Context, id string, actor model.Actor, readyDoc *Upload) (result *Result, err error) {
	defer func() { observe(lifecycle.EventComplete, err) }()

	ref, err := s.prepareUpload(ctx, id, actor, lifecycle.EventComplete, readyDoc, model.ReadyDocumentExtensions)
	if err != nil {
		return nil, err
	}

	return s.transition(ctx, id, actor, namedEvent(lifecycle.EventComplete),
		func(_ context.Context, app *model.Application, _ repository.Repos) error {
			app.ReadyDocumentRef = &ref
			return nil
		})
}

// ChangeStatus переводит заявление в целевой статус по графу статусов.
// Статусы rejected и completed недоступны: для них есть Reject и Complete.
func (s *LifecycleService) ChangeStatus(ctx context.Context, id string, actor model.Actor, target string) (result *Result, err error) {
	defer func() { observe(lifecycle.EventChangeStatus, err) }()

	if err := authorize(lifecycle.EventChangeStatus, actor); err != nil {
		return nil, err
	}

	status := model.Status(target)
	if err := lifecycle.ValidateTarget(status); err != nil {
		return nil, mapTransitionError(err)
	}

	return s.transition(ctx, id, actor, func(current model.Status) (model.Status, error) {
		if err := lifecycle.CanChangeStatus(current, status); err != nil {
			return "", err
		}
		return status, nil
	}, nil)
}

// Get возвращает заявление. Студенту чужое заявление не видно (ErrNotFound).
func (s *LifecycleService) Get(ctx context.Context, id string, actor model.Actor) (*model.Application, error) {
	if !rbac.IsValidRole(actor.Role) {
		return nil, fmt.Errorf("%w: неизвестная роль %q", ErrForbidden, actor.Role)
	}

	app, err := s.store.Repos().Applications.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, id)
	}
	if !rbac.IsStaff(actor.Role) && app.StudentID != actor.ID {
		return nil, fmt.Errorf("%w: заявление %s", ErrNotFound, id)
	}
	return app, nil
}

// List возвращает заявления по фильтру, новые первыми.
// Для студента фильтр по StudentID принудительно равен его ID.
func (s *LifecycleService) List(ctx context.Context, actor model.Actor, filter model.ApplicationFilter) ([]*model.Application, error) {
	if !rbac.IsValidRole(actor.Role) {
		return nil, fmt.Errorf("%w: неизвестная роль %q", ErrForbidden, actor.Role)
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: недопустимый статус %q", ErrValidation, *filter.Status)
	}
	if !rbac.IsStaff(actor.Role) {
		studentID := actor.ID
		filter.StudentID = &studentID
	}

	apps, err := s.store.Repos().Applications.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("получение списка заявлений: %w", err)
	}
	return apps, nil
}

// OpenFile открывает файл по ссылке.
// Сотрудники открывают любые файлы, студенты — файлы своих заявлений
// и шаблоны полей каталога.
func (s *LifecycleService) OpenFile(ctx context.Context, actor model.Actor, ref model.FileRef) (*blobstore.Object, error) {
	if !rbac.IsValidRole(actor.Role) {
		return nil, fmt.Errorf("%w: неизвестная роль %q", ErrForbidden, actor.Role)
	}

	if !rbac.IsStaff(actor.Role) {
		allowed, err := s.studentCanRead(ctx, actor, ref)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, ref)
		}
	}

	obj, err := s.blobs.Open(ctx, ref)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, blobstore.ErrInvalidRef) {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("открытие файла: %w", err)
	}
	return obj, nil
}

// studentCanRead проверяет, ссылается ли на файл заявление студента
// или поле каталога.
func (s *LifecycleService) studentCanRead(ctx context.Context, actor model.Actor, ref model.FileRef) (bool, error) {
	apps, err := s.store.Repos().Applications.List(ctx, model.ApplicationFilter{StudentID: &actor.ID})
	if err != nil {
		return false, fmt.Errorf("получение заявлений студента: %w", err)
	}
	for _, app := range apps {
		if applicationReferences(app, ref) {
			return true, nil
		}
	}

	types, err := s.catalog.ListTypes(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range types {
		for _, f := range t.Fields {
			if f.TemplateRef != nil && *f.TemplateRef == string(ref) {
				return true, nil
			}
		}
	}
	return false, nil
}

// nextFunc вычисляет статус после перехода по текущему статусу.
type nextFunc func(current model.Status) (model.Status, error)

// mutateFunc применяет побочные эффекты перехода внутри транзакции.
type mutateFunc func(ctx context.Context, app *model.Application, r repository.Repos) error

func namedEvent(event lifecycle.Event) nextFunc {
	return func(current model.Status) (model.Status, error) {
		return lifecycle.Next(event, current)
	}
}

// transition выполняет переход под блокировкой строки заявления.
// Проигравший гонку видит уже зафиксированный статус и получает
// ErrInvalidTransition; его побочные эффекты откатываются вместе с транзакцией.
func (s *LifecycleService) transition(ctx context.Context, id string, actor model.Actor, next nextFunc, mutate mutateFunc) (*Result, error) {
	var (
		app       *model.Application
		oldStatus model.Status
	)

	err := s.store.RunInTx(ctx, func(r repository.Repos) error {
		var err error
		app, err = r.Applications.GetForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err, id)
		}

		oldStatus = app.Status
		newStatus, err := next(oldStatus)
		if err != nil {
			return mapTransitionError(err)
		}
		app.Status = newStatus

		if mutate != nil {
			if err := mutate(ctx, app, r); err != nil {
				return err
			}
		}

		if err := r.Applications.Update(ctx, app); err != nil {
			return fmt.Errorf("сохранение заявления: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Статус заявления изменён",
		slog.String("application_id", app.ID),
		slog.String("actor_id", actor.ID),
		slog.String("role", actor.Role),
		slog.String("old_status", string(oldStatus)),
		slog.String("new_status", string(app.Status)),
	)

	result := &Result{Application: app}
	s.enqueue(result, actor, oldStatus, app)
	return result, nil
}

// prepareUpload проверяет роль, наличие и расширение документа,
// статус заявления (без блокировки) и сохраняет файл в blob store.
// Статус повторно проверяется под блокировкой в transition.
func (s *LifecycleService) prepareUpload(
	ctx context.Context,
	id string,
	actor model.Actor,
	event lifecycle.Event,
	doc *Upload,
	allowed []string,
) (model.FileRef, error) {
	if err := authorize(event, actor); err != nil {
		return "", err
	}
	if doc == nil || doc.Content == nil {
		return "", fmt.Errorf("%w: документ обязателен", ErrValidation)
	}
	if !model.HasAllowedExtension(doc.Filename, allowed) {
		return "", fmt.Errorf("%w: файл %q: допустимые расширения %s",
			ErrValidation, doc.Filename, strings.Join(allowed, ", "))
	}

	app, err := s.store.Repos().Applications.GetByID(ctx, id)
	if err != nil {
		return "", mapRepoError(err, id)
	}
	if _, err := lifecycle.Next(event, app.Status); err != nil {
		return "", mapTransitionError(err)
	}

	ref, err := s.blobs.Put(ctx, doc.Filename, actor.ID, doc.Content)
	if err != nil {
		return "", fmt.Errorf("сохранение документа: %w", err)
	}
	return ref, nil
}

// enqueue ставит уведомление студенту в очередь.
// Ошибка добавляется в предупреждения результата.
func (s *LifecycleService) enqueue(result *Result, actor model.Actor, oldStatus model.Status, app *model.Application) {
	if s.notifier == nil {
		return
	}

	studentName := ""
	if actor.ID == app.StudentID {
		studentName = actor.Username
	}

	n := notify.Notification{
		Recipient:      app.StudentEmail,
		StudentName:    studentName,
		ApplicationID:  app.ID,
		TypeName:       app.TypeName,
		OldStatus:      oldStatus,
		NewStatus:      app.Status,
		SubmissionDate: app.SubmissionDate,
	}
	if err := s.notifier.Enqueue(n); err != nil {
		s.logger.Warn("Уведомление не поставлено в очередь",
			slog.String("application_id", app.ID),
			slog.String("error", err.Error()),
		)
		result.Warnings = append(result.Warnings, fmt.Sprintf("уведомление не отправлено: %s", err))
	}
}

// resolveEmail возвращает email студента из токена или из Keycloak.
func (s *LifecycleService) resolveEmail(ctx context.Context, actor model.Actor) string {
	if actor.Email != "" || s.emails == nil {
		return actor.Email
	}
	email, err := s.emails.UserEmail(ctx, actor.ID)
	if err != nil {
		s.logger.Warn("Не удалось получить email студента",
			slog.String("student_id", actor.ID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return email
}

// validateSubmission проверяет данные подачи против полей типа.
// Собирает все нарушения в одно сообщение.
func validateSubmission(typ *model.ApplicationType, fields map[string]any, documents map[string]Upload) error {
	var problems []string

	for _, name := range sortedKeys(fields) {
		def, ok := typ.Field(name)
		if !ok {
			problems = append(problems, fmt.Sprintf("неизвестное поле %q", name))
			continue
		}
		if def.Kind.IsFile() {
			problems = append(problems, fmt.Sprintf("поле %q должно быть загружено файлом", name))
		}
	}

	for _, name := range sortedKeys(documents) {
		doc := documents[name]
		def, ok := typ.Field(name)
		if !ok {
			problems = append(problems, fmt.Sprintf("неизвестное поле %q", name))
			continue
		}
		if !def.Kind.IsFile() {
			problems = append(problems, fmt.Sprintf("поле %q текстовое, файл не принимается", name))
			continue
		}
		if doc.Content == nil {
			problems = append(problems, fmt.Sprintf("поле %q: пустой файл", name))
			continue
		}
		allowed := uploadExtensions(def)
		if !model.HasAllowedExtension(doc.Filename, allowed) {
			problems = append(problems, fmt.Sprintf("поле %q: файл %q, допустимые расширения %s",
				name, doc.Filename, strings.Join(allowed, ", ")))
		}
	}

	for _, def := range typ.RequiredFields() {
		if def.Kind.IsFile() {
			if _, ok := documents[def.Name]; !ok {
				problems = append(problems, fmt.Sprintf("не загружен обязательный файл %q", def.Name))
			}
			continue
		}
		if isBlank(fields[def.Name]) {
			problems = append(problems, fmt.Sprintf("не заполнено обязательное поле %q", def.Name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// uploadExtensions — разрешённые расширения для файлового поля.
// Поля sent_document и student_signature проверяются по своим спискам.
func uploadExtensions(def model.FieldDefinition) []string {
	switch def.Name {
	case model.FieldSentDocument:
		return model.DocumentExtensions
	case model.FieldStudentSignature:
		return model.SignatureExtensions
	}
	return def.Kind.AllowedExtensions()
}

// isBlank — значение отсутствует или является пустой строкой.
func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	}
	return false
}

// applicationReferences проверяет, ссылается ли заявление на файл.
func applicationReferences(app *model.Application, ref model.FileRef) bool {
	for _, r := range []*model.FileRef{app.SentDocumentRef, app.ReadyDocumentRef, app.StudentSignatureRef} {
		if r != nil && *r == ref {
			return true
		}
	}
	for _, v := range app.FieldsData {
		if s, ok := v.(string); ok && s == string(ref) {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// authorize проверяет роль и переводит отказ в ErrForbidden.
func authorize(event lifecycle.Event, actor model.Actor) error {
	if err := lifecycle.Authorize(event, actor.Role); err != nil {
		return mapTransitionError(err)
	}
	return nil
}

// mapTransitionError переводит lifecycle.TransitionError в ошибки сервиса.
func mapTransitionError(err error) error {
	var te *lifecycle.TransitionError
	if !errors.As(err, &te) {
		return err
	}
	switch te.Code {
	case lifecycle.CodeForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, te.Message)
	case lifecycle.CodeInvalidTarget, lifecycle.CodePayloadRequired:
		return fmt.Errorf("%w: %s", ErrValidation, te.Message)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidTransition, te.Message)
	}
}

// mapRepoError переводит repository.ErrNotFound в ErrNotFound.
func mapRepoError(err error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: заявление %s", ErrNotFound, id)
	}
	return fmt.Errorf("получение заявления: %w", err)
}

// observe учитывает результат операции в метрике.
func observe(event lifecycle.Event, err error) {
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrForbidden):
		result = "forbidden"
	case errors.Is(err, ErrValidation):
		result = "validation"
	case errors.Is(err, ErrInvalidTransition):
		result = "invalid_transition"
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	transitionsTotal.WithLabelValues(string(event), result).Inc()
}
