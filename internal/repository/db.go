package repository

import (
	"embed"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Драйвер PostgreSQL, импортируем для регистрации
	_ "modernc.org/sqlite" // Драйвер SQLite без cgo
)

const (
	maxOpenConns    = 25              // Максимальное количество открытых соединений
	maxIdleConns    = 25              // Максимальное количество простаивающих соединений
	connMaxLifetime = 5 * time.Minute // Максимальное время жизни соединения
	connMaxIdleTime = 5 * time.Minute // Максимальное время простоя соединения

	// Имена драйверов database/sql.
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// NewPostgresDB создает подключение к PostgreSQL и применяет схему.
func NewPostgresDB(dsn string) (*sqlx.DB, error) {
	log.Printf("Подключение к PostgreSQL...")

	db, err := sqlx.Connect(driverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err = ApplySchema(db); err != nil {
		closeDB(db)
		return nil, err
	}

	log.Println("Подключение к PostgreSQL успешно установлено.")
	return db, nil
}

// NewSQLiteDB открывает (или создает) файл SQLite и применяет схему.
func NewSQLiteDB(path string) (*sqlx.DB, error) {
	log.Printf("Открытие SQLite '%s'...", path)

	db, err := sqlx.Connect(driverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// SQLite допускает одного писателя, поэтому одно соединение
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err = db.Exec(pragma); err != nil {
			closeDB(db)
			return nil, fmt.Errorf("ошибка выполнения %q: %w", pragma, err)
		}
	}

	if err = ApplySchema(db); err != nil {
		closeDB(db)
		return nil, err
	}

	log.Printf("SQLite '%s' готова к работе.", path)
	return db, nil
}

// ApplySchema создает таблицы, если их нет. Операция идемпотентна.
func ApplySchema(db *sqlx.DB) error {
	file := "schema/" + db.DriverName() + ".sql"
	schema, err := schemaFS.ReadFile(file)
	if err != nil {
		return fmt.Errorf("схема для драйвера '%s' не найдена: %w", db.DriverName(), err)
	}
	if _, err = db.Exec(string(schema)); err != nil {
		return fmt.Errorf("ошибка применения схемы: %w", err)
	}
	return nil
}

func closeDB(db *sqlx.DB) {
	if closeErr := db.Close(); closeErr != nil {
		log.Printf("Ошибка закрытия соединения с БД: %v", closeErr)
	}
}
