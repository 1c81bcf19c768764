package catalogseed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/docflow/internal/blobstore"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/repository/memstore"
	"github.com/bigkaa/docflow/internal/service"
)

func newCatalog(t *testing.T) (*service.CatalogService, *blobstore.FileStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	blobs, err := blobstore.NewFileStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return service.NewCatalogService(memstore.New(), blobs, 16, time.Minute, logger), blobs
}

// TestLoad проверяет разбор YAML-файла.
func TestLoad(t *testing.T) {
	f, err := Load("testdata/catalog.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Types) != 2 {
		t.Fatalf("типов: %d, ожидалось 2", len(f.Types))
	}
	first := f.Types[0]
	if first.Name != "Справка об обучении" || first.Description == nil {
		t.Errorf("первый тип: %+v", first)
	}
	if len(first.Fields) != 3 || first.Fields[1].Kind != model.FieldKindDocument || !first.Fields[1].Required {
		t.Errorf("поля: %+v", first.Fields)
	}
	if first.Fields[1].Template != "templates/spravka.docx" {
		t.Errorf("шаблон: %q", first.Fields[1].Template)
	}
}

// TestLoad_Errors проверяет ошибки разбора.
func TestLoad_Errors(t *testing.T) {
	if _, err := Load("testdata/missing.yaml"); err == nil {
		t.Error("ожидалась ошибка для отсутствующего файла")
	}
	if _, err := Load("testdata/unknown_key.yaml"); err == nil {
		t.Error("ожидалась ошибка для неизвестного ключа")
	}
}

// TestSeed проверяет создание типов, загрузку шаблонов и повторное наполнение.
func TestSeed(t *testing.T) {
	catalog, blobs := newCatalog(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stats, err := Seed(ctx, "testdata/catalog.yaml", catalog, logger)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if stats.Created != 2 || stats.Skipped != 0 {
		t.Errorf("первое наполнение: %+v", stats)
	}

	types, err := catalog.ListTypes(ctx)
	if err != nil {
		t.Fatalf("ListTypes: %v", err)
	}
	if len(types) != 2 || types[0].Name != "Справка об обучении" || types[1].Name != "Академический отпуск" {
		t.Fatalf("типы: %+v", types)
	}

	ref := types[0].Fields[1].TemplateRef
	if ref == nil {
		t.Fatal("шаблон sent_document должен быть загружен")
	}
	obj, err := blobs.Open(ctx, model.FileRef(*ref))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer obj.Close()
	data, _ := io.ReadAll(obj)
	if string(data) != "Шаблон справки об обучении\n" {
		t.Errorf("содержимое шаблона: %q", data)
	}

	stats, err = Seed(ctx, "testdata/catalog.yaml", catalog, logger)
	if err != nil {
		t.Fatalf("повторный Seed: %v", err)
	}
	if stats.Created != 0 || stats.Skipped != 2 {
		t.Errorf("повторное наполнение: %+v", stats)
	}
}

// TestApply_InvalidField проверяет ошибку валидации типа.
func TestApply_InvalidField(t *testing.T) {
	catalog, _ := newCatalog(t)
	f := &File{Types: []TypeSpec{{Name: "Тип", Fields: []FieldSpec{{Name: "x", Kind: "video"}}}}}

	_, err := Apply(context.Background(), f, ".", catalog, slog.Default())
	if !errors.Is(err, service.ErrValidation) {
		t.Fatalf("ожидалась ErrValidation, получено: %v", err)
	}
}

// TestApply_MissingTemplate проверяет ошибку отсутствующего шаблона.
func TestApply_MissingTemplate(t *testing.T) {
	catalog, _ := newCatalog(t)
	f := &File{Types: []TypeSpec{{Name: "Тип", Fields: []FieldSpec{
		{Name: "doc", Kind: model.FieldKindDocument, Template: "nope.docx"},
	}}}}

	if _, err := Apply(context.Background(), f, t.TempDir(), catalog, slog.Default()); err == nil {
		t.Fatal("ожидалась ошибка для отсутствующего шаблона")
	}
}
