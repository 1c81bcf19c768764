package blobstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/bigkaa/docflow/internal/domain/model"
)

const backendSE = "se"

// TokenProvider — функция, возвращающая JWT для авторизации запросов к SE.
// Получает токен от Keycloak через Client Credentials flow.
type TokenProvider func(ctx context.Context) (string, error)

// seUploadResponse — часть ответа SE на POST /api/v1/files/upload.
type seUploadResponse struct {
	FileID           string `json:"file_id"`
	OriginalFilename string `json:"original_filename"`
	Size             int64  `json:"size"`
	Checksum         string `json:"checksum"`
}

// seInfo — ответ GET /api/v1/info.
type seInfo struct {
	StorageID string `json:"storage_id"`
	Mode      string `json:"mode"`
	Status    string `json:"status"`
}

// SEStore — хранилище файлов на удалённом Storage Element.
// Поддерживает TLS с кастомным CA (DF_SE_CA_CERT_PATH).
type SEStore struct {
	baseURL       string
	httpClient    *http.Client
	tokenProvider TokenProvider
	logger        *slog.Logger
}

// NewSEStore создаёт клиент Storage Element.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// tokenProvider — функция для получения JWT (может быть nil для SE без авторизации).
func NewSEStore(baseURL, caCertPath string, tokenProvider TokenProvider, logger *slog.Logger) (*SEStore, error) {
	// Без общего таймаута: загрузка потоковая и ограничена ctx запроса
	httpClient := &http.Client{}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата SE: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат SE добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &SEStore{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    httpClient,
		tokenProvider: tokenProvider,
		logger:        logger.With(slog.String("component", "se_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("файл %s не содержит PEM-сертификатов", caCertPath)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Put загружает файл на SE: POST /api/v1/files/upload, multipart-поле file.
// Тело передаётся потоково через io.Pipe.
func (s *SEStore) Put(ctx context.Context, name, owner string, r io.Reader) (model.FileRef, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", path.Base(name))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("description", "docflow: загружено "+owner); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/files/upload", pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("создание запроса Upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if err := s.authorize(ctx, req); err != nil {
		pr.Close()
		return "", err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("запрос Upload к %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("SE %s Upload вернул статус %d: %s", s.baseURL, resp.StatusCode, string(body))
	}

	var uploaded seUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("декодирование ответа Upload от %s: %w", s.baseURL, err)
	}
	if uploaded.FileID == "" {
		return "", fmt.Errorf("SE %s не вернул file_id", s.baseURL)
	}

	s.logger.Debug("Файл загружен на SE",
		slog.String("file_id", uploaded.FileID),
		slog.Int64("size", uploaded.Size),
		slog.String("owner", owner),
	)

	return model.FileRef(backendSE + ":" + uploaded.FileID + "/" + sanitizeRefName(name)), nil
}

// Open скачивает файл с SE: GET /api/v1/files/{file_id}/download.
func (s *SEStore) Open(ctx context.Context, ref model.FileRef) (*Object, error) {
	backend, key, err := splitRef(ref)
	if err != nil {
		return nil, err
	}
	fileID, name, ok := strings.Cut(key, "/")
	if backend != backendSE || !ok || fileID == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	reqURL := fmt.Sprintf("%s/api/v1/files/%s/download", s.baseURL, url.PathEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса Download: %w", err)
	}
	if err := s.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос Download к %s: %w", s.baseURL, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("SE %s Download вернул статус %d: %s", s.baseURL, resp.StatusCode, string(body))
	}

	return &Object{
		ReadCloser:  resp.Body,
		Name:        name,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

// CheckReady запрашивает GET /api/v1/info (публичный endpoint SE).
// Реализует интерфейс handlers.ReadinessChecker.
func (s *SEStore) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/info", nil)
	if err != nil {
		return "fail", fmt.Sprintf("создание запроса Info: %v", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("Storage Element недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("Storage Element вернул статус %d", resp.StatusCode)
	}

	var info seInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "fail", fmt.Sprintf("декодирование Info: %v", err)
	}
	// Режимы ro и ar не принимают загрузки
	if info.Mode != "rw" && info.Mode != "edit" {
		return "fail", fmt.Sprintf("Storage Element %s в режиме %s, запись невозможна", info.StorageID, info.Mode)
	}
	return "ok", fmt.Sprintf("Storage Element %s (%s)", info.StorageID, info.Mode)
}

// authorize добавляет Bearer-токен, если задан tokenProvider.
func (s *SEStore) authorize(ctx context.Context, req *http.Request) error {
	if s.tokenProvider == nil {
		return nil
	}
	token, err := s.tokenProvider(ctx)
	if err != nil {
		return fmt.Errorf("получение токена для SE: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// sanitizeRefName приводит имя файла к виду, пригодному для ссылки.
func sanitizeRefName(name string) string {
	base := path.Base(name)
	ext := strings.ToLower(path.Ext(base))
	return sanitize(strings.TrimSuffix(base, path.Ext(base))) + sanitizeExt(ext)
}
