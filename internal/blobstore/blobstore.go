// Пакет blobstore — хранилище загруженных файлов заявлений.
//
// Ссылка на файл (model.FileRef) имеет вид "<backend>:<key>":
//   - fs:<storage_name> — локальная директория (FileStore)
//   - se:<file_id>/<name> — удалённый Storage Element (SEStore)
//
// Запись всегда создаёт новый файл, перезапись не поддерживается.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// Ошибки blob store.
var (
	// ErrNotFound — файл по ссылке не найден.
	ErrNotFound = errors.New("файл не найден")
	// ErrInvalidRef — ссылка не принадлежит хранилищу или повреждена.
	ErrInvalidRef = errors.New("некорректная ссылка на файл")
)

// Store — хранилище файлов.
type Store interface {
	// Put сохраняет содержимое r под новым именем, производным от name.
	// owner — идентификатор загрузившего пользователя.
	Put(ctx context.Context, name, owner string, r io.Reader) (model.FileRef, error)
	// Open открывает файл по ссылке. Вызывающий код обязан закрыть Object.
	Open(ctx context.Context, ref model.FileRef) (*Object, error)
}

// Object — открытый для чтения файл.
type Object struct {
	io.ReadCloser
	// Name — имя файла для Content-Disposition
	Name string
	// ContentType — MIME-тип (пусто, если неизвестен)
	ContentType string
	// Size — размер в байтах (-1, если неизвестен)
	Size int64
}

// splitRef разбирает ссылку на backend и key.
func splitRef(ref model.FileRef) (backend, key string, err error) {
	backend, key, ok := strings.Cut(string(ref), ":")
	if !ok || backend == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return backend, key, nil
}

// DisplayName возвращает имя файла из ссылки (последний сегмент key).
func DisplayName(ref model.FileRef) string {
	_, key, err := splitRef(ref)
	if err != nil {
		return "file"
	}
	return path.Base(key)
}
