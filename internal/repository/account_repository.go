package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/maynagashev/zerotrust/internal/models"
)

// AccountRepository определяет операции со слотами хранения по производным адресам.
// Каждая операция фиксируется одной командой или одной транзакцией.
type AccountRepository interface {
	// Load возвращает слот или ErrAccountNotFound.
	Load(ctx context.Context, address string) (*models.Account, error)
	// Allocate создает слот, удерживая депозит MinimumBalance(Space) с payer.
	// Если слот уже существует, возвращает ErrAccountExists.
	Allocate(ctx context.Context, account *models.Account, payer string) error
	// Store перезаписывает данные слота account.Address целиком из account.Data
	// и выставляет account.UpdatedAt.
	Store(ctx context.Context, account *models.Account) error
	// Deallocate удаляет слот и возвращает его депозит refundTo.
	Deallocate(ctx context.Context, address, refundTo string) (int64, error)
	// Balance возвращает чистый баланс депозитов идентичности.
	Balance(ctx context.Context, owner string) (int64, error)
}

// sqlAccountRepository реализует AccountRepository поверх PostgreSQL или SQLite.
// Запросы пишутся с '?' и переводятся в синтаксис драйвера через Rebind.
type sqlAccountRepository struct {
	db *sqlx.DB
}

// NewSQLAccountRepository создает новый экземпляр репозитория слотов.
func NewSQLAccountRepository(db *sqlx.DB) AccountRepository {
	return &sqlAccountRepository{db: db}
}

const (
	selectAccountQuery = `SELECT address, space, lamports, data, created_at, updated_at
	          FROM accounts WHERE address = ?`
	insertAccountQuery = `INSERT INTO accounts (address, space, lamports, data, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (address) DO NOTHING`
	updateAccountQuery = `UPDATE accounts SET data = ?, updated_at = ? WHERE address = ?`
	deleteAccountQuery = `DELETE FROM accounts WHERE address = ? RETURNING lamports`
	creditBalanceQuery = `INSERT INTO balances (owner, lamports, updated_at) VALUES (?, ?, ?)
	          ON CONFLICT (owner) DO UPDATE SET lamports = balances.lamports + excluded.lamports,
	          updated_at = excluded.updated_at`
	selectBalanceQuery = `SELECT lamports FROM balances WHERE owner = ?`
)

// Load находит слот по адресу.
func (r *sqlAccountRepository) Load(ctx context.Context, address string) (*models.Account, error) {
	var account models.Account

	err := r.db.GetContext(ctx, &account, r.db.Rebind(selectAccountQuery), address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		log.Printf("[AccountRepo] Ошибка при поиске слота %s: %v", address, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение слота: %w", err)
	}

	return &account, nil
}

// Allocate создает слот и списывает депозит с payer в одной транзакции.
func (r *sqlAccountRepository) Allocate(ctx context.Context, account *models.Account, payer string) error {
	if len(account.Data) != account.Space {
		return fmt.Errorf("размер данных %d не совпадает с размером слота %d", len(account.Data), account.Space)
	}
	now := time.Now().UTC()
	account.Lamports = MinimumBalance(account.Space)
	account.CreatedAt = now
	account.UpdatedAt = now

	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(insertAccountQuery),
			account.Address, account.Space, account.Lamports, account.Data, now, now)
		if err != nil {
			return fmt.Errorf("ошибка выполнения запроса на создание слота: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("ошибка получения результата создания слота: %w", err)
		}
		if rows == 0 {
			return ErrAccountExists
		}
		if _, err = tx.ExecContext(ctx, tx.Rebind(creditBalanceQuery), payer, -account.Lamports, now); err != nil {
			return fmt.Errorf("ошибка списания депозита: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Printf("[AccountRepo] Ошибка выделения слота %s: %v", account.Address, err)
		return err
	}

	log.Printf("[AccountRepo] Слот %s выделен (%d байт, депозит %d) за счет %s",
		account.Address, account.Space, account.Lamports, payer)
	return nil
}

// Store перезаписывает данные слота.
func (r *sqlAccountRepository) Store(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(updateAccountQuery), account.Data, now, account.Address)
	if err != nil {
		log.Printf("[AccountRepo] Ошибка обновления слота %s: %v", account.Address, err)
		return fmt.Errorf("ошибка выполнения запроса на обновление слота: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения результата обновления слота: %w", err)
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	account.UpdatedAt = now
	return nil
}

// Deallocate удаляет слот и зачисляет его депозит refundTo в одной транзакции.
func (r *sqlAccountRepository) Deallocate(ctx context.Context, address, refundTo string) (int64, error) {
	var refunded int64

	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, tx.Rebind(deleteAccountQuery), address).Scan(&refunded)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("ошибка выполнения запроса на удаление слота: %w", err)
		}
		if _, err = tx.ExecContext(ctx, tx.Rebind(creditBalanceQuery), refundTo, refunded, time.Now().UTC()); err != nil {
			return fmt.Errorf("ошибка возврата депозита: %w", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			log.Printf("[AccountRepo] Ошибка освобождения слота %s: %v", address, err)
		}
		return 0, err
	}

	log.Printf("[AccountRepo] Слот %s освобожден, %d возвращено %s", address, refunded, refundTo)
	return refunded, nil
}

// Balance возвращает баланс owner, 0 если движений не было.
func (r *sqlAccountRepository) Balance(ctx context.Context, owner string) (int64, error) {
	var lamports int64
	err := r.db.GetContext(ctx, &lamports, r.db.Rebind(selectBalanceQuery), owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		log.Printf("[AccountRepo] Ошибка получения баланса %s: %v", owner, err)
		return 0, fmt.Errorf("ошибка выполнения запроса на получение баланса: %w", err)
	}
	return lamports, nil
}

// inTx выполняет fn в транзакции: коммит при nil, откат при ошибке.
func (r *sqlAccountRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[AccountRepo] Ошибка отката транзакции: %v", rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Кастомные ошибки репозитория.
var (
	ErrAccountNotFound = errors.New("слот не найден")
	ErrAccountExists   = errors.New("слот уже выделен")
)
