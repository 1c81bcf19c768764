// auth.go — JWT middleware для аутентификации и авторизации docflow.
// Извлекает claims из Keycloak JWT, вычисляет роль документооборота
// (realm-роли и маппинг групп) и помещает model.Actor в контекст запроса.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/docflow/internal/api/errors"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
)

const (
	// jwksClientTimeout — таймаут HTTP-запросов к JWKS endpoint.
	jwksClientTimeout = 10 * time.Second
	// jwksRefreshInterval — интервал фонового обновления ключей.
	jwksRefreshInterval = 5 * time.Minute
	// jwtLeeway — допустимое отклонение часов при проверке exp/nbf.
	jwtLeeway = 30 * time.Second
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyActor — пользователь запроса в контексте.
const ContextKeyActor contextKey = "docflow_actor"

// keycloakClaims — raw claims из Keycloak JWT для парсинга.
type keycloakClaims struct {
	jwt.RegisteredClaims
	// PreferredUsername — имя пользователя.
	PreferredUsername string `json:"preferred_username"`
	// Email — электронная почта.
	Email string `json:"email"`
	// RealmAccess — вложенная структура для realm_access.roles.
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
	// Groups — группы пользователя.
	Groups []string `json:"groups,omitempty"`
}

// realmAccess — вложенная структура realm_access в Keycloak JWT.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — middleware для JWT-аутентификации через JWKS Keycloak.
type JWTAuth struct {
	jwks    keyfunc.Keyfunc
	logger  *slog.Logger
	mapping rbac.GroupMapping
	issuer  string
	leeway  time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS из Keycloak.
// jwksURL — URL к JWKS endpoint Keycloak.
// caCertPath — опциональный путь к CA-сертификату для TLS.
// issuer — ожидаемый issuer JWT (обычно https://keycloak/realms/docflow).
// mapping — группы IdP, дающие staff-роли.
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	mapping rbac.GroupMapping,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// HTTP-клиент для JWKS (с кастомным CA или стандартный)
	httpClient := &http.Client{Timeout: jwksClientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если Keycloak ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:    k,
		logger:  logger.With(slog.String("component", "jwt_auth")),
		mapping: mapping,
		issuer:  issuer,
		leeway:  jwtLeeway,
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, mapping rbac.GroupMapping, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:    kf,
		logger:  logger.With(slog.String("component", "jwt_auth")),
		mapping: mapping,
		issuer:  issuer,
	}
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256), вычисляет роль
// и помещает model.Actor в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			rawClaims := &keycloakClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			subject, err := rawClaims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			actor := j.buildActor(rawClaims)
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	}
}

// buildActor формирует model.Actor из raw Keycloak claims.
func (j *JWTAuth) buildActor(raw *keycloakClaims) model.Actor {
	var roles []string
	if raw.RealmAccess != nil {
		roles = raw.RealmAccess.Roles
	}
	return model.Actor{
		ID:       raw.Subject,
		Username: raw.PreferredUsername,
		Email:    raw.Email,
		Role:     rbac.ResolveRole(roles, raw.Groups, j.mapping),
	}
}

// --- RBAC middleware helpers ---

// RequireRole возвращает middleware, требующий одну из указанных ролей.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				apierrors.Unauthorized(w, "Отсутствует пользователь в контексте")
				return
			}

			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", strings.Join(roles, " или ")))
		})
	}
}

// RequireStaff — RequireRole для reviewer, prorector и admin.
func RequireStaff() func(http.Handler) http.Handler {
	return RequireRole(rbac.RoleReviewer, rbac.RoleProrector, rbac.RoleAdmin)
}

// --- Context helpers ---

// ContextWithActor возвращает контекст с пользователем запроса.
func ContextWithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// ActorFromContext извлекает пользователя из контекста запроса.
func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(ContextKeyActor).(model.Actor)
	return actor, ok
}
