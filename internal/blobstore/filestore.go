package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/docflow/internal/domain/model"
)

const backendFS = "fs"

// FileStore — хранилище файлов в локальной директории.
// Запись: temp файл → запись + SHA-256 → fsync → atomic rename.
type FileStore struct {
	// dataDir — корневая директория хранения файлов (DF_BLOB_DIR)
	dataDir string
	logger  *slog.Logger
}

// NewFileStore создаёт FileStore. Создаёт директорию, если она не существует.
func NewFileStore(dataDir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &FileStore{
		dataDir: dataDir,
		logger:  logger.With(slog.String("component", "filestore")),
	}, nil
}

// Put записывает данные на диск с подсчётом SHA-256 на лету.
// Формат имени файла: {name}_{owner}_{timestamp}_{uuid}.{ext}
// При ошибке temp файл удаляется.
func (fs *FileStore) Put(ctx context.Context, name, owner string, r io.Reader) (model.FileRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	storageName := generateStorageName(name, owner)
	fullPath := filepath.Join(fs.dataDir, storageName)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	fs.logger.Debug("Файл сохранён",
		slog.String("storage_name", storageName),
		slog.Int64("size", size),
		slog.String("sha256", hex.EncodeToString(hasher.Sum(nil))),
	)

	return model.FileRef(backendFS + ":" + storageName), nil
}

// Open открывает файл по ссылке fs:<storage_name>.
func (fs *FileStore) Open(_ context.Context, ref model.FileRef) (*Object, error) {
	backend, key, err := splitRef(ref)
	if err != nil {
		return nil, err
	}
	// Ключ — имя файла в dataDir, вложенные пути не допускаются
	if backend != backendFS || key != filepath.Base(key) || key == "." || key == ".." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	f, err := os.Open(filepath.Join(fs.dataDir, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}

	size := int64(-1)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	return &Object{
		ReadCloser:  f,
		Name:        key,
		ContentType: mime.TypeByExtension(filepath.Ext(key)),
		Size:        size,
	}, nil
}

// CheckReady проверяет доступность директории данных.
func (fs *FileStore) CheckReady() (status string, message string) {
	info, err := os.Stat(fs.dataDir)
	if err != nil {
		return "fail", fmt.Sprintf("директория %s недоступна: %v", fs.dataDir, err)
	}
	if !info.IsDir() {
		return "fail", fmt.Sprintf("%s не является директорией", fs.dataDir)
	}
	return "ok", "директория доступна"
}

// generateStorageName генерирует имя файла для хранения на диске.
// Формат: {name}_{owner}_{timestamp}_{uuid}.{ext}
// Пример: zayavlenie_student1_20260921150405_a1b2c3d4.pdf
func generateStorageName(originalFilename, owner string) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	name := strings.TrimSuffix(filepath.Base(originalFilename), filepath.Ext(originalFilename))

	name = sanitize(name)
	user := sanitize(owner)

	// Ограничиваем длину (в рунах) для предотвращения проблем с FS
	name = truncateRunes(name, 50)
	user = truncateRunes(user, 20)

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	return fmt.Sprintf("%s_%s_%s_%s%s", name, user, ts, uid, sanitizeExt(ext))
}

// sanitize убирает небезопасные символы из строки для использования в имени файла.
// Оставляет только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) { // Кириллица
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}

// sanitizeExt оставляет расширение только из латиницы и цифр.
func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	var result strings.Builder
	for _, r := range strings.TrimPrefix(ext, ".") {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return ""
	}
	return "." + result.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
