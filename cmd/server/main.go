package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"

	"github.com/maynagashev/zerotrust/internal/address"
	"github.com/maynagashev/zerotrust/internal/handlers"
	appmiddleware "github.com/maynagashev/zerotrust/internal/middleware"
	"github.com/maynagashev/zerotrust/internal/repository"
	"github.com/maynagashev/zerotrust/internal/services"
	"github.com/maynagashev/zerotrust/internal/storage"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	minioInitTimeout       = 10 * time.Second
	corsMaxAge             = 300 // секунд
)

// Конструкторы хранилищ, подменяются в тестах.
//
//nolint:gochecknoglobals // точки подмены для тестов
var (
	newPostgresDB   = repository.NewPostgresDB
	newSQLiteDB     = repository.NewSQLiteDB
	newMinioStorage = storage.NewMinioAccountStore
)

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db            *sqlx.DB // nil для MinIO
	repo          repository.AccountRepository
	authHandler   *handlers.AuthHandler
	recordHandler *handlers.RecordHandler
}

// close освобождает ресурсы зависимостей.
func (d *dependencies) close() {
	if d.db != nil {
		if closeErr := d.db.Close(); closeErr != nil {
			log.Printf("Ошибка закрытия соединения с БД: %v", closeErr)
		}
	}
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	if err := run(); err != nil {
		log.Printf("Ошибка выполнения сервера: %v", err)
		os.Exit(1)
	}
}

// run содержит основную логику запуска сервера и возвращает ошибку.
func run() error {
	log.Println("Запуск сервера ZeroTrust...")

	cfg, err := parseFlags()
	if err != nil {
		return fmt.Errorf("ошибка конфигурации: %w", err)
	}

	// Инициализация зависимостей
	deps, err := setupDependencies(cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer deps.close()

	r := setupRouter(deps.authHandler, deps.recordHandler, []byte(cfg.JWTSecret), cfg.CORSOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSEnabled() {
			log.Printf("Запуск HTTPS-сервера на порту %s...", cfg.Port)
			log.Printf("Используется сертификат: %s", cfg.CertFile)
			log.Printf("Используется ключ: %s", cfg.KeyFile)
			errCh <- server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
			return
		}
		log.Printf("TLS не настроен, запуск HTTP-сервера на порту %s...", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка запуска сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Получен сигнал завершения, остановка сервера...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	log.Println("Сервер остановлен.")
	return nil
}

// setupDependencies инициализирует и возвращает все необходимые зависимости сервера.
func setupDependencies(cfg *config) (*dependencies, error) {
	deps := &dependencies{}

	// 1. Деривация адресов
	programID, err := address.ParsePublicKey(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("некорректный идентификатор программы: %w", err)
	}
	deriver, err := address.NewDeriver(programID, cfg.RecordNamespace)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации деривации адресов: %w", err)
	}
	log.Printf("Программа %s, пространство имен '%s'", programID, deriver.Namespace())

	// 2. Хранилище слотов
	switch cfg.StorageBackend {
	case backendPostgres:
		if deps.db, err = newPostgresDB(cfg.DatabaseDSN); err != nil {
			return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
		}
		deps.repo = repository.NewSQLAccountRepository(deps.db)
	case backendSQLite:
		if deps.db, err = newSQLiteDB(cfg.DatabaseDSN); err != nil {
			return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
		}
		deps.repo = repository.NewSQLAccountRepository(deps.db)
	case backendMinio:
		ctx, cancel := context.WithTimeout(context.Background(), minioInitTimeout)
		defer cancel()
		store, minioErr := newMinioStorage(ctx, storage.MinioConfig{
			Endpoint:        cfg.MinioEndpoint,
			AccessKeyID:     cfg.MinioUser,
			SecretAccessKey: cfg.MinioPassword,
			UseSSL:          cfg.MinioUseSSL,
			BucketName:      cfg.MinioBucket,
		})
		if minioErr != nil {
			return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", minioErr)
		}
		deps.repo = store
	default:
		return nil, fmt.Errorf("неизвестное хранилище '%s'", cfg.StorageBackend)
	}
	log.Printf("Хранилище слотов: %s", cfg.StorageBackend)

	// 3. Создание сервисов
	authService := services.NewAuthService([]byte(cfg.JWTSecret))
	recordService := services.NewRecordService(deriver, deps.repo)

	// 4. Создание обработчиков
	deps.authHandler = handlers.NewAuthHandler(authService)
	deps.recordHandler = handlers.NewRecordHandler(recordService)

	return deps, nil
}

// setupRouter настраивает и возвращает роутер chi.
// CORS включается только при непустом списке corsOrigins.
func setupRouter(
	authHandler *handlers.AuthHandler,
	recordHandler *handlers.RecordHandler,
	jwtSecret []byte,
	corsOrigins []string,
) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           corsMaxAge,
		}))
	}

	// --- Маршруты --- //
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})

	r.Route("/api", func(r chi.Router) {
		// Публичные маршруты
		r.Post("/auth/challenge", authHandler.Challenge)
		r.Post("/auth/login", authHandler.Login)
		r.Get("/address/{owner}", recordHandler.Address)

		// Приватные маршруты (требуют аутентификации)
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Authenticator(jwtSecret))

			r.Put("/record", recordHandler.Put)
			r.Get("/record", recordHandler.Get)
			r.Delete("/record", recordHandler.Delete)
			r.Get("/balance", recordHandler.Balance)
		})
	})
	return r
}
