// Пакет server — HTTP-сервер docflow с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/docflow/internal/api/handlers"
	"github.com/bigkaa/docflow/internal/api/middleware"
	"github.com/bigkaa/docflow/internal/config"
)

// Server — HTTP-сервер docflow.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// auth — middleware аутентификации (JWTAuth.Middleware()), nil отключает проверку.
func New(cfg *config.Config, logger *slog.Logger, api *handlers.APIHandler, auth func(http.Handler) http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(api, logger, auth),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// NewRouter создаёт chi-роутер со всеми маршрутами API.
func NewRouter(api *handlers.APIHandler, logger *slog.Logger, auth func(http.Handler) http.Handler) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(chimw.RequestID)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics проверяются Kubernetes напрямую, без токена.
	if auth != nil {
		router.Use(authWithExclusions(auth, "/health/", "/metrics"))
	}

	router.Get("/health/live", api.HealthLive)
	router.Get("/health/ready", api.HealthReady)
	router.Get("/metrics", api.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/application-types", api.ListApplicationTypes)
		r.Get("/application-types/{id}", api.GetApplicationType)

		r.Route("/applications", func(r chi.Router) {
			r.Post("/", api.CreateApplication)
			r.Get("/", api.ListApplications)
			r.Get("/{id}", api.GetApplication)

			// Переходы жизненного цикла — только сотрудники
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireStaff())
				r.Post("/{id}/accept", api.AcceptApplication)
				r.Post("/{id}/reject", api.RejectApplication)
				r.Post("/{id}/documents", api.UploadDocument)
				r.Post("/{id}/complete", api.CompleteApplication)
				r.Post("/{id}/status", api.ChangeApplicationStatus)
			})
		})

		r.Get("/comments/{id}", api.GetComment)
		r.Get("/files/*", api.DownloadFile)
	})

	return router
}

// authWithExclusions оборачивает middleware аутентификации, пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, проходят без JWT.
func authWithExclusions(auth func(http.Handler) http.Handler, excludePrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := auth(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
