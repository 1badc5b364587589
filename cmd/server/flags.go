package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/maynagashev/zerotrust/internal/address"
)

const (
	// Порт по умолчанию для HTTPS (непривилегированный).
	defaultServerPort = "8443"

	backendPostgres = "postgres"
	backendSQLite   = "sqlite"
	backendMinio    = "minio"

	defaultStorageBackend = backendSQLite
	defaultSQLitePath     = "zerotrust.db"
	// Программа по умолчанию: base58(sha256("zerotrust/record-program")).
	defaultProgramID = "3rGqKAP58KorJeXpBdiu7nEmndVBuAPWsWn2w1hFRGmd"

	// Значения по умолчанию для MinIO (из docker-compose).
	defaultMinioEndpoint = "localhost:9000"
	defaultMinioUser     = "minioadmin"
	defaultMinioPassword = "minioadmin"
	defaultMinioBucket   = "zerotrust-records"

	// Переменные окружения.
	envServerPort      = "SERVER_PORT"
	envTLSCertFile     = "TLS_CERT_FILE"
	envTLSKeyFile      = "TLS_KEY_FILE"
	envStorageBackend  = "STORAGE_BACKEND"
	envDatabaseDSN     = "DATABASE_DSN"
	envJWTSecret       = "JWT_SECRET" //nolint:gosec // Ложное срабатывание, это имя переменной окружения
	envProgramID       = "PROGRAM_ID"
	envRecordNamespace = "RECORD_NAMESPACE"
	envMinioEndpoint   = "MINIO_ENDPOINT"
	envMinioUser       = "MINIO_USER"
	envMinioPassword   = "MINIO_PASSWORD" //nolint:gosec // Ложное срабатывание, это имя переменной окружения
	envMinioBucket     = "MINIO_BUCKET"
	envMinioUseSSL     = "MINIO_USE_SSL"
	envCORSOrigins     = "CORS_ORIGINS"
)

// config хранит конфигурацию сервера.
type config struct {
	Port            string
	CertFile        string
	KeyFile         string
	StorageBackend  string
	DatabaseDSN     string
	JWTSecret       string
	ProgramID       string
	RecordNamespace string
	MinioEndpoint   string
	MinioUser       string
	MinioPassword   string
	MinioBucket     string
	MinioUseSSL     bool
	CORSOrigins     []string // пусто - CORS выключен
}

// TLSEnabled сообщает, заданы ли сертификат и ключ.
func (c *config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// parseFlags разбирает флаги и переменные окружения, возвращает config или ошибку.
// Флаги имеют приоритет над переменными окружения.
func parseFlags() (*config, error) {
	cfg := &config{}
	var useSSL, corsOrigins string

	// Определяем флаги
	flag.StringVar(&cfg.Port, "port", "",
		fmt.Sprintf("Порт для запуска сервера (env: %s, default: %s)", envServerPort, defaultServerPort))
	flag.StringVar(&cfg.CertFile, "cert-file", "",
		fmt.Sprintf("Путь к файлу TLS-сертификата (env: %s)", envTLSCertFile))
	flag.StringVar(&cfg.KeyFile, "key-file", "",
		fmt.Sprintf("Путь к файлу TLS-ключа (env: %s)", envTLSKeyFile))
	flag.StringVar(&cfg.StorageBackend, "storage", "",
		fmt.Sprintf("Хранилище слотов: postgres, sqlite или minio (env: %s, default: %s)",
			envStorageBackend, defaultStorageBackend))
	flag.StringVar(&cfg.DatabaseDSN, "database-dsn", "",
		fmt.Sprintf("Строка подключения к PostgreSQL или путь к файлу SQLite (env: %s)", envDatabaseDSN))
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", "",
		fmt.Sprintf("Секрет подписи JWT (env: %s)", envJWTSecret))
	flag.StringVar(&cfg.ProgramID, "program-id", "",
		fmt.Sprintf("Идентификатор программы в base58 (env: %s)", envProgramID))
	flag.StringVar(&cfg.RecordNamespace, "namespace", "",
		fmt.Sprintf("Пространство имен адресов записей (env: %s, default: %s)",
			envRecordNamespace, address.DefaultNamespace))
	flag.StringVar(&cfg.MinioEndpoint, "minio-endpoint", "",
		fmt.Sprintf("Адрес MinIO (env: %s, default: %s)", envMinioEndpoint, defaultMinioEndpoint))
	flag.StringVar(&cfg.MinioUser, "minio-user", "",
		fmt.Sprintf("Логин MinIO (env: %s)", envMinioUser))
	flag.StringVar(&cfg.MinioPassword, "minio-password", "",
		fmt.Sprintf("Пароль MinIO (env: %s)", envMinioPassword))
	flag.StringVar(&cfg.MinioBucket, "minio-bucket", "",
		fmt.Sprintf("Бакет MinIO (env: %s, default: %s)", envMinioBucket, defaultMinioBucket))
	flag.StringVar(&useSSL, "minio-use-ssl", "",
		fmt.Sprintf("Подключаться к MinIO по TLS (env: %s, default: false)", envMinioUseSSL))
	flag.StringVar(&corsOrigins, "cors-origins", "",
		fmt.Sprintf("Разрешенные источники CORS через запятую (env: %s)", envCORSOrigins))

	// Парсим флаги
	flag.Parse()

	// Применяем переменные окружения, если флаги не заданы
	fallback(&cfg.Port, envServerPort, defaultServerPort)
	fallback(&cfg.CertFile, envTLSCertFile, "")
	fallback(&cfg.KeyFile, envTLSKeyFile, "")
	fallback(&cfg.StorageBackend, envStorageBackend, defaultStorageBackend)
	fallback(&cfg.DatabaseDSN, envDatabaseDSN, "")
	fallback(&cfg.JWTSecret, envJWTSecret, "")
	fallback(&cfg.ProgramID, envProgramID, defaultProgramID)
	fallback(&cfg.RecordNamespace, envRecordNamespace, address.DefaultNamespace)
	fallback(&cfg.MinioEndpoint, envMinioEndpoint, defaultMinioEndpoint)
	fallback(&cfg.MinioUser, envMinioUser, defaultMinioUser)
	fallback(&cfg.MinioPassword, envMinioPassword, defaultMinioPassword)
	fallback(&cfg.MinioBucket, envMinioBucket, defaultMinioBucket)
	fallback(&useSSL, envMinioUseSSL, "false")
	fallback(&corsOrigins, envCORSOrigins, "")
	cfg.CORSOrigins = splitList(corsOrigins)

	var err error
	if cfg.MinioUseSSL, err = strconv.ParseBool(useSSL); err != nil {
		return nil, fmt.Errorf("некорректное значение %s: %w", envMinioUseSSL, err)
	}

	// Проверяем обязательные параметры
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("сертификат и ключ TLS задаются вместе (--cert-file/" + envTLSCertFile +
			" и --key-file/" + envTLSKeyFile + ")")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("не указан секрет подписи JWT (--jwt-secret или " + envJWTSecret + ")")
	}
	switch cfg.StorageBackend {
	case backendPostgres:
		if cfg.DatabaseDSN == "" {
			return nil, errors.New("не указана строка подключения к БД (--database-dsn или " + envDatabaseDSN + ")")
		}
	case backendSQLite:
		if cfg.DatabaseDSN == "" {
			cfg.DatabaseDSN = defaultSQLitePath
		}
	case backendMinio:
	default:
		return nil, fmt.Errorf("неизвестное хранилище '%s' (ожидается postgres, sqlite или minio)", cfg.StorageBackend)
	}
	if _, err = address.ParsePublicKey(cfg.ProgramID); err != nil {
		return nil, fmt.Errorf("некорректный идентификатор программы: %w", err)
	}

	return cfg, nil
}

// splitList разбивает список через запятую, отбрасывая пустые элементы.
func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// fallback заполняет пустое значение из переменной окружения или значением по умолчанию.
func fallback(value *string, env, def string) {
	if *value != "" {
		return
	}
	if v, ok := os.LookupEnv(env); ok {
		*value = v
		return
	}
	*value = def
}
