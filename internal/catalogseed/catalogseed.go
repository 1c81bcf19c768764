// Пакет catalogseed — начальное наполнение каталога типов заявлений
// из YAML-файла (DF_CATALOG_SEED_PATH).
//
// Формат файла:
//
//	types:
//	  - name: Справка об обучении
//	    description: Справка с места учёбы
//	    fields:
//	      - name: purpose
//	        kind: text
//	        required: true
//	        example: Для предоставления по месту требования
//	      - name: sent_document
//	        kind: document
//	        required: true
//	        template: templates/spravka.docx
//
// Путь шаблона указывается относительно каталога YAML-файла.
// Наполнение только добавляет типы: тип с существующим названием пропускается.
package catalogseed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/service"
)

// File — содержимое YAML-файла каталога.
type File struct {
	Types []TypeSpec `yaml:"types"`
}

// TypeSpec — описание типа заявления.
type TypeSpec struct {
	Name        string      `yaml:"name"`
	Description *string     `yaml:"description"`
	Fields      []FieldSpec `yaml:"fields"`
}

// FieldSpec — описание поля типа.
type FieldSpec struct {
	Name     string          `yaml:"name"`
	Kind     model.FieldKind `yaml:"kind"`
	Required bool            `yaml:"required"`
	Example  *string         `yaml:"example"`
	// Template — путь к файлу шаблона относительно YAML-файла
	Template string `yaml:"template"`
}

// Creator — создание типа заявления (service.CatalogService).
type Creator interface {
	CreateType(ctx context.Context, in service.TypeInput) (*model.ApplicationType, bool, error)
}

// Stats — итог наполнения.
type Stats struct {
	Created int
	Skipped int
}

// Load читает и разбирает YAML-файл каталога.
// Неизвестные ключи считаются ошибкой.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение файла каталога: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("разбор файла каталога %s: %w", path, err)
	}

	for i, t := range f.Types {
		if t.Name == "" {
			return nil, fmt.Errorf("тип #%d: название обязательно", i+1)
		}
	}
	return &f, nil
}

// Seed загружает файл и создаёт отсутствующие типы.
func Seed(ctx context.Context, path string, catalog Creator, logger *slog.Logger) (Stats, error) {
	f, err := Load(path)
	if err != nil {
		return Stats{}, err
	}
	return Apply(ctx, f, filepath.Dir(path), catalog, logger)
}

// Apply создаёт типы из f. baseDir — каталог для относительных путей шаблонов.
func Apply(ctx context.Context, f *File, baseDir string, catalog Creator, logger *slog.Logger) (Stats, error) {
	logger = logger.With(slog.String("component", "catalog_seed"))
	var stats Stats

	for _, spec := range f.Types {
		created, err := applyType(ctx, spec, baseDir, catalog)
		if err != nil {
			return stats, fmt.Errorf("тип %q: %w", spec.Name, err)
		}
		if created {
			stats.Created++
		} else {
			stats.Skipped++
			logger.Debug("Тип заявления уже существует, пропущен", slog.String("name", spec.Name))
		}
	}

	logger.Info("Каталог типов заявлений наполнен",
		slog.Int("created", stats.Created),
		slog.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

// applyType открывает шаблоны и вызывает CreateType.
// Файлы шаблонов закрываются после создания типа.
func applyType(ctx context.Context, spec TypeSpec, baseDir string, catalog Creator) (bool, error) {
	in := service.TypeInput{
		Name:        spec.Name,
		Description: spec.Description,
	}

	var opened []*os.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, fs := range spec.Fields {
		field := service.FieldInput{
			Name:     fs.Name,
			Kind:     fs.Kind,
			Required: fs.Required,
			Example:  fs.Example,
		}
		if fs.Template != "" {
			path := fs.Template
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			file, err := os.Open(path)
			if err != nil {
				return false, fmt.Errorf("шаблон поля %q: %w", fs.Name, err)
			}
			opened = append(opened, file)
			field.Template = &service.Upload{Filename: filepath.Base(path), Content: file}
		}
		in.Fields = append(in.Fields, field)
	}

	_, created, err := catalog.CreateType(ctx, in)
	return created, err
}
