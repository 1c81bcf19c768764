package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/docflow/internal/blobstore"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/notify"
	"github.com/bigkaa/docflow/internal/repository/memstore"
)

// memBlobs — blob store в памяти.
type memBlobs struct {
	mu    sync.Mutex
	files map[model.FileRef][]byte
	puts  int
	err   error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{files: make(map[model.FileRef][]byte)}
}

func (b *memBlobs) Put(_ context.Context, name, owner string, r io.Reader) (model.FileRef, error) {
	if b.err != nil {
		return "", b.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	ref := model.FileRef(fmt.Sprintf("mem:%s-%d/%s", owner, b.puts, name))
	b.files[ref] = data
	return ref, nil
}

func (b *memBlobs) Open(_ context.Context, ref model.FileRef) (*blobstore.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[ref]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return &blobstore.Object{
		ReadCloser: io.NopCloser(bytes.NewReader(data)),
		Name:       blobstore.DisplayName(ref),
		Size:       int64(len(data)),
	}, nil
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts
}

// recordingNotifier — Notifier, запоминающий уведомления.
type recordingNotifier struct {
	mu    sync.Mutex
	items []notify.Notification
	err   error
}

func (n *recordingNotifier) Enqueue(item notify.Notification) error {
	if n.err != nil {
		return n.err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
	return nil
}

func (n *recordingNotifier) all() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.items...)
}

// staticEmails — EmailResolver с фиксированным ответом.
type staticEmails map[string]string

func (e staticEmails) UserEmail(_ context.Context, id string) (string, error) {
	if email, ok := e[id]; ok {
		return email, nil
	}
	return "", errors.New("пользователь не найден")
}

// fixture — сервисы поверх memstore.
type fixture struct {
	store      *memstore.Store
	blobs      *memBlobs
	notifier   *recordingNotifier
	catalog    *CatalogService
	lifecycle  *LifecycleService
	comments   *CommentService
	transcript *model.ApplicationType
}

var (
	student   = model.Actor{ID: "student-1", Username: "ivanov", Email: "ivanov@university.local", Role: "student"}
	student2  = model.Actor{ID: "student-2", Username: "petrov", Email: "petrov@university.local", Role: "student"}
	reviewer  = model.Actor{ID: "reviewer-1", Username: "sidorova", Role: "reviewer"}
	prorector = model.Actor{ID: "prorector-1", Username: "prorector", Role: "prorector"}
	admin     = model.Actor{ID: "admin-1", Username: "admin", Role: "admin"}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store:    memstore.New(),
		blobs:    newMemBlobs(),
		notifier: &recordingNotifier{},
	}
	f.catalog = NewCatalogService(f.store, f.blobs, 16, time.Minute, logger)
	f.lifecycle = NewLifecycleService(f.store, f.blobs, f.catalog, f.notifier, nil, logger)
	f.comments = NewCommentService(f.store, logger)

	example := "Для предоставления в посольство"
	typ, created, err := f.catalog.CreateType(context.Background(), TypeInput{
		Name: "Transcript Request",
		Fields: []FieldInput{
			{Name: "purpose", Kind: model.FieldKindText, Required: true, Example: &example},
			{Name: model.FieldSentDocument, Kind: model.FieldKindDocument, Required: true,
				Template: &Upload{Filename: "template.docx", Content: strings.NewReader("template")}},
			{Name: model.FieldStudentSignature, Kind: model.FieldKindSignature},
			{Name: "photo", Kind: model.FieldKindImage},
		},
	})
	if err != nil || !created {
		t.Fatalf("CreateType: created=%v, err=%v", created, err)
	}
	f.transcript = typ
	return f
}

func doc(name string) map[string]Upload {
	return map[string]Upload{model.FieldSentDocument: {Filename: name, Content: strings.NewReader("content of " + name)}}
}

func upload(name string) *Upload {
	return &Upload{Filename: name, Content: strings.NewReader("content of " + name)}
}

// submit подаёт корректное заявление Transcript Request.
func (f *fixture) submit(t *testing.T, actor model.Actor) *model.Application {
	t.Helper()
	res, err := f.lifecycle.Submit(context.Background(), actor, f.transcript.ID,
		map[string]any{"purpose": "visa"}, doc("passport.pdf"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return res.Application
}

// inProgress подаёт заявление и принимает его в работу.
func (f *fixture) inProgress(t *testing.T) *model.Application {
	t.Helper()
	app := f.submit(t, student)
	res, err := f.lifecycle.Accept(context.Background(), app.ID, reviewer)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return res.Application
}
