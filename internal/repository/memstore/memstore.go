// Пакет memstore — хранилище заявлений в памяти процесса.
// Используется при DF_STORAGE=memory и в тестах сервисов.
//
// Транзакции сериализуются одним мьютексом: RunInTx держит блокировку
// на запись до конца fn и восстанавливает снимок данных при ошибке.
// Чтения вне транзакции берут блокировку на чтение.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/repository"
)

// state — данные хранилища.
type state struct {
	types        map[string]*model.ApplicationType
	typeOrder    []string
	applications map[string]*model.Application
	comments     map[string]*model.Comment
}

func newState() *state {
	return &state{
		types:        make(map[string]*model.ApplicationType),
		applications: make(map[string]*model.Application),
		comments:     make(map[string]*model.Comment),
	}
}

// clone возвращает глубокую копию для отката транзакции.
func (s *state) clone() *state {
	c := newState()
	for id, t := range s.types {
		c.types[id] = cloneType(t)
	}
	c.typeOrder = append([]string(nil), s.typeOrder...)
	for id, a := range s.applications {
		c.applications[id] = a.Clone()
	}
	for id, cm := range s.comments {
		v := *cm
		c.comments[id] = &v
	}
	return c
}

// Store — реализация repository.Store в памяти.
type Store struct {
	mu   sync.RWMutex
	data *state
	now  func() time.Time
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		data: newState(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Repos возвращает репозитории вне транзакции.
func (s *Store) Repos() repository.Repos {
	return s.repos(true)
}

// RunInTx выполняет fn под эксклюзивной блокировкой.
// При ошибке fn данные возвращаются к состоянию до вызова.
func (s *Store) RunInTx(ctx context.Context, fn func(r repository.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(s.repos(false)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) repos(locking bool) repository.Repos {
	v := &view{store: s, locking: locking}
	return repository.Repos{
		Types:        &typeRepo{v},
		Applications: &applicationRepo{v},
		Comments:     &commentRepo{v},
	}
}

// view — доступ к данным с блокировкой (вне транзакции) или без неё
// (внутри RunInTx, где мьютекс уже захвачен).
type view struct {
	store   *Store
	locking bool
}

func (v *view) read(fn func(d *state) error) error {
	if v.locking {
		v.store.mu.RLock()
		defer v.store.mu.RUnlock()
	}
	return fn(v.store.data)
}

func (v *view) write(fn func(d *state) error) error {
	if v.locking {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
	}
	return fn(v.store.data)
}

// --- Типы заявлений ---

type typeRepo struct{ v *view }

func (r *typeRepo) Create(_ context.Context, t *model.ApplicationType) error {
	return r.v.write(func(d *state) error {
		if _, ok := d.types[t.ID]; ok {
			return fmt.Errorf("%w: тип заявления %s", repository.ErrConflict, t.ID)
		}
		seen := make(map[string]bool, len(t.Fields))
		for _, existing := range d.types {
			if existing.Name == t.Name {
				return fmt.Errorf("%w: тип заявления %q уже существует", repository.ErrConflict, t.Name)
			}
		}
		for _, f := range t.Fields {
			if seen[f.Name] {
				return fmt.Errorf("%w: поле %q повторяется в типе %q", repository.ErrConflict, f.Name, t.Name)
			}
			seen[f.Name] = true
		}
		t.CreatedAt = r.v.store.now()
		d.types[t.ID] = cloneType(t)
		d.typeOrder = append(d.typeOrder, t.ID)
		return nil
	})
}

func (r *typeRepo) GetByID(_ context.Context, id string) (*model.ApplicationType, error) {
	var result *model.ApplicationType
	err := r.v.read(func(d *state) error {
		t, ok := d.types[id]
		if !ok {
			return repository.ErrNotFound
		}
		result = cloneType(t)
		return nil
	})
	return result, err
}

func (r *typeRepo) GetByName(_ context.Context, name string) (*model.ApplicationType, error) {
	var result *model.ApplicationType
	err := r.v.read(func(d *state) error {
		for _, t := range d.types {
			if t.Name == name {
				result = cloneType(t)
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return result, err
}

func (r *typeRepo) List(_ context.Context) ([]*model.ApplicationType, error) {
	var result []*model.ApplicationType
	err := r.v.read(func(d *state) error {
		for _, id := range d.typeOrder {
			result = append(result, cloneType(d.types[id]))
		}
		return nil
	})
	return result, err
}

// --- Заявления ---

type applicationRepo struct{ v *view }

func (r *applicationRepo) Create(_ context.Context, app *model.Application) error {
	if !app.Status.Valid() {
		return fmt.Errorf("%w: %q", repository.ErrInvalidStatus, app.Status)
	}
	return r.v.write(func(d *state) error {
		if _, ok := d.applications[app.ID]; ok {
			return fmt.Errorf("%w: заявление %s", repository.ErrConflict, app.ID)
		}
		t, ok := d.types[app.TypeID]
		if !ok {
			return fmt.Errorf("ошибка создания заявления: тип %s не существует", app.TypeID)
		}
		now := r.v.store.now()
		app.SubmissionDate = now
		app.UpdatedAt = now
		app.TypeName = t.Name
		if app.FieldsData == nil {
			app.FieldsData = model.FieldsData{}
		}
		d.applications[app.ID] = app.Clone()
		return nil
	})
}

func (r *applicationRepo) GetByID(_ context.Context, id string) (*model.Application, error) {
	var result *model.Application
	err := r.v.read(func(d *state) error {
		a, ok := d.applications[id]
		if !ok {
			return repository.ErrNotFound
		}
		result = a.Clone()
		return nil
	})
	return result, err
}

// GetForUpdate внутри RunInTx эквивалентен GetByID: мьютекс уже захвачен.
func (r *applicationRepo) GetForUpdate(ctx context.Context, id string) (*model.Application, error) {
	return r.GetByID(ctx, id)
}

func (r *applicationRepo) Update(_ context.Context, app *model.Application) error {
	if !app.Status.Valid() {
		return fmt.Errorf("%w: %q", repository.ErrInvalidStatus, app.Status)
	}
	return r.v.write(func(d *state) error {
		stored, ok := d.applications[app.ID]
		if !ok {
			return repository.ErrNotFound
		}
		updated := app.Clone()
		// Неизменяемые после создания поля.
		updated.StudentID = stored.StudentID
		updated.StudentEmail = stored.StudentEmail
		updated.TypeID = stored.TypeID
		updated.TypeName = stored.TypeName
		updated.SubmissionDate = stored.SubmissionDate
		updated.UpdatedAt = r.v.store.now()

		d.applications[app.ID] = updated
		app.UpdatedAt = updated.UpdatedAt
		return nil
	})
}

func (r *applicationRepo) List(_ context.Context, filter model.ApplicationFilter) ([]*model.Application, error) {
	var result []*model.Application
	err := r.v.read(func(d *state) error {
		for _, a := range d.applications {
			if filter.StudentID != nil && a.StudentID != *filter.StudentID {
				continue
			}
			if filter.Status != nil && a.Status != *filter.Status {
				continue
			}
			result = append(result, a.Clone())
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		if !result[i].SubmissionDate.Equal(result[j].SubmissionDate) {
			return result[i].SubmissionDate.After(result[j].SubmissionDate)
		}
		return strings.Compare(result[i].ID, result[j].ID) < 0
	})
	return result, err
}

// --- Комментарии ---

type commentRepo struct{ v *view }

func (r *commentRepo) Create(_ context.Context, c *model.Comment) error {
	return r.v.write(func(d *state) error {
		if _, ok := d.comments[c.ID]; ok {
			return fmt.Errorf("%w: комментарий %s", repository.ErrConflict, c.ID)
		}
		c.CreatedAt = r.v.store.now()
		v := *c
		d.comments[c.ID] = &v
		return nil
	})
}

func (r *commentRepo) GetByID(_ context.Context, id string) (*model.Comment, error) {
	var result *model.Comment
	err := r.v.read(func(d *state) error {
		c, ok := d.comments[id]
		if !ok {
			return repository.ErrNotFound
		}
		v := *c
		result = &v
		return nil
	})
	return result, err
}

func cloneType(t *model.ApplicationType) *model.ApplicationType {
	c := *t
	c.Fields = append([]model.FieldDefinition(nil), t.Fields...)
	return &c
}
