package repository_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/zerotrust/internal/models"
	"github.com/maynagashev/zerotrust/internal/repository"
)

func TestNewPostgresDB(t *testing.T) {
	t.Run("Успешное подключение", func(t *testing.T) {
		// Этот тест требует запущенной PostgreSQL базы данных
		dsn := os.Getenv("DATABASE_DSN")
		if dsn == "" {
			t.Skip("Пропуск теста: переменная окружения DATABASE_DSN не установлена")
		}

		db, err := repository.NewPostgresDB(dsn)
		require.NoError(t, err)
		require.NotNil(t, db)

		// Повторное применение схемы не должно падать
		require.NoError(t, repository.ApplySchema(db))
		require.NoError(t, db.Close(), "Ошибка при закрытии соединения с БД")
	})

	t.Run("Ошибка: Невалидный DSN", func(t *testing.T) {
		db, err := repository.NewPostgresDB("это точно не dsn")

		require.Error(t, err)
		assert.Nil(t, db)
		assert.Contains(t, err.Error(), "ошибка подключения к БД")
	})
}

func newTestSQLite(t *testing.T) repository.AccountRepository {
	t.Helper()
	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewSQLAccountRepository(db)
}

func TestNewSQLiteDB_SchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.db")

	db, err := repository.NewSQLiteDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Повторное открытие того же файла применяет схему еще раз
	db, err = repository.NewSQLiteDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestSQLAccountRepository_SQLite(t *testing.T) {
	ctx := context.Background()
	repo := newTestSQLite(t)

	data := make([]byte, 87)
	data[0] = 0xd2

	account := &models.Account{Address: testAddress, Space: len(data), Data: data}
	require.NoError(t, repo.Allocate(ctx, account, testOwner))

	t.Run("Повторное выделение", func(t *testing.T) {
		again := &models.Account{Address: testAddress, Space: len(data), Data: data}
		require.ErrorIs(t, repo.Allocate(ctx, again, testOwner), repository.ErrAccountExists)
	})

	loaded, err := repo.Load(ctx, testAddress)
	require.NoError(t, err)
	assert.Equal(t, testAddress, loaded.Address)
	assert.Equal(t, len(data), loaded.Space)
	assert.Equal(t, repository.MinimumBalance(len(data)), loaded.Lamports)
	assert.Equal(t, data, loaded.Data)

	balance, err := repo.Balance(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, -repository.MinimumBalance(len(data)), balance)

	updated := make([]byte, 87)
	updated[0] = 0xd2
	updated[86] = 0xfb
	stored := &models.Account{Address: testAddress, Data: updated}
	require.NoError(t, repo.Store(ctx, stored))
	assert.False(t, stored.UpdatedAt.IsZero())
	assert.False(t, stored.UpdatedAt.Before(loaded.UpdatedAt))

	loaded, err = repo.Load(ctx, testAddress)
	require.NoError(t, err)
	assert.Equal(t, updated, loaded.Data)

	t.Run("Размер слота не меняется", func(t *testing.T) {
		require.Error(t, repo.Store(ctx, &models.Account{Address: testAddress, Data: make([]byte, 90)}))
		current, errLoad := repo.Load(ctx, testAddress)
		require.NoError(t, errLoad)
		assert.Equal(t, updated, current.Data)
	})

	refunded, err := repo.Deallocate(ctx, testAddress, testOwner)
	require.NoError(t, err)
	assert.Equal(t, repository.MinimumBalance(len(data)), refunded)

	_, err = repo.Load(ctx, testAddress)
	require.ErrorIs(t, err, repository.ErrAccountNotFound)

	balance, err = repo.Balance(ctx, testOwner)
	require.NoError(t, err)
	assert.Zero(t, balance)

	_, err = repo.Deallocate(ctx, testAddress, testOwner)
	require.ErrorIs(t, err, repository.ErrAccountNotFound)
	require.ErrorIs(t, repo.Store(ctx, &models.Account{Address: testAddress, Data: updated}), repository.ErrAccountNotFound)
}
