// client.go — HTTP-клиент к Keycloak.
// Получает service account token через Client Credentials flow
// и кэширует его (обновление за 30s до expiration).
// Токен используется для загрузки файлов на Storage Element
// и для чтения email пользователя через Admin REST API.
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrNoCredentials — client credentials не настроены.
var ErrNoCredentials = errors.New("client credentials Keycloak не настроены")

// ErrUserNotFound — пользователь отсутствует в realm.
var ErrUserNotFound = errors.New("пользователь Keycloak не найден")

// TokenResponse — ответ на запрос токена через Client Credentials flow.
type TokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// User — пользователь Keycloak (поля, нужные для уведомлений).
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// realmInfo — ответ публичного endpoint /realms/{realm}.
type realmInfo struct {
	Realm string `json:"realm"`
}

// Client — HTTP-клиент к Keycloak.
type Client struct {
	baseURL      string // Базовый URL Keycloak (без trailing slash)
	realm        string // Имя realm
	clientID     string // Client ID для Client Credentials flow
	clientSecret string // Client Secret

	httpClient *http.Client
	logger     *slog.Logger

	// Кэш токена доступа
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New создаёт клиент к Keycloak.
// clientID, clientSecret могут быть пустыми: тогда доступны только
// публичные endpoints (CheckReady).
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "keycloak_client")),
	}
}

// HasCredentials — true, если заданы client credentials.
func (c *Client) HasCredentials() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// tokenEndpoint возвращает URL endpoint'а получения токена.
func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, c.realm)
}

// Token возвращает актуальный access token, обновляя при необходимости.
// Токен обновляется за 30 секунд до истечения.
func (c *Client) Token(ctx context.Context) (string, error) {
	if !c.HasCredentials() {
		return "", ErrNoCredentials
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.logger.Debug("Keycloak токен обновлён",
		slog.Time("expires_at", c.tokenExpiry),
	)

	return c.accessToken, nil
}

// requestToken выполняет Client Credentials flow.
func (c *Client) requestToken(ctx context.Context) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена Keycloak: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("Keycloak вернул статус %d при запросе токена: %s", resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена Keycloak: %w", err)
	}

	return &token, nil
}

// GetUser возвращает пользователя по id (sub) через Admin REST API.
// Требует роль view-users у service account.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	reqURL := fmt.Sprintf("%s/admin/realms/%s/users/%s", c.baseURL, c.realm, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса GetUser: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос GetUser: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("Keycloak вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("декодирование пользователя: %w", err)
	}
	return &user, nil
}

// UserEmail возвращает email пользователя.
// Используется, когда токен студента не содержит claim email.
func (c *Client) UserEmail(ctx context.Context, id string) (string, error) {
	user, err := c.GetUser(ctx, id)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

// CheckReady проверяет доступность realm через публичный endpoint.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reqURL := fmt.Sprintf("%s/realms/%s", c.baseURL, c.realm)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "fail", fmt.Sprintf("создание запроса: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("Keycloak вернул статус %d", resp.StatusCode)
	}

	var realm realmInfo
	if err := json.NewDecoder(resp.Body).Decode(&realm); err != nil {
		return "degraded", fmt.Sprintf("некорректный ответ realm: %v", err)
	}

	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}

// TokenProvider возвращает функцию, которая предоставляет access token.
// Используется клиентом Storage Element.
func (c *Client) TokenProvider() func(ctx context.Context) (string, error) {
	return c.Token
}
