package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/maynagashev/zerotrust/internal/address"
	"github.com/maynagashev/zerotrust/internal/models"
	"github.com/maynagashev/zerotrust/internal/record"
	"github.com/maynagashev/zerotrust/internal/repository"
	dto "github.com/maynagashev/zerotrust/models"
)

// MaxURILength ограничивает размер слота, а не проверяет корректность ссылки.
const MaxURILength = 1024

// RecordService определяет операции жизненного цикла записи владельца.
// target - адрес, указанный вызывающим; nil означает адрес, производный от ключа.
type RecordService interface {
	// Upsert создает запись или перезаписывает ее хеш и ссылку.
	// Второе значение сообщает, была ли запись создана.
	Upsert(ctx context.Context, signer address.PublicKey, dataHash [record.HashSize]byte, uri string,
		target *address.PublicKey) (*dto.Record, bool, error)
	// Delete удаляет запись и возвращает депозит владельцу.
	Delete(ctx context.Context, signer address.PublicKey, target *address.PublicKey) (*dto.DeletedRecord, error)
	// Get возвращает запись по адресу owner или target.
	Get(ctx context.Context, owner address.PublicKey, target *address.PublicKey) (*dto.Record, error)
	// Address вычисляет производный адрес и bump владельца.
	Address(owner address.PublicKey) (*dto.DerivedAddress, error)
	// Balance возвращает чистый баланс депозитов владельца.
	Balance(ctx context.Context, owner address.PublicKey) (int64, error)
}

// recordService реализует жизненный цикл записей.
var _ RecordService = (*recordService)(nil) // Проверка соответствия интерфейсу

type recordService struct {
	deriver *address.Deriver
	repo    repository.AccountRepository
	locks   addressLocks
}

// NewRecordService создает новый экземпляр сервиса записей.
func NewRecordService(deriver *address.Deriver, repo repository.AccountRepository) RecordService {
	return &recordService{deriver: deriver, repo: repo}
}

// Upsert создает запись владельца или обновляет существующую.
func (s *recordService) Upsert(
	ctx context.Context,
	signer address.PublicKey,
	dataHash [record.HashSize]byte,
	uri string,
	target *address.PublicKey,
) (*dto.Record, bool, error) {
	if len(uri) > MaxURILength {
		return nil, false, ErrURITooLong
	}
	addr, err := s.resolve(signer, target)
	if err != nil {
		return nil, false, err
	}

	unlock := s.locks.lock(addr)
	defer unlock()

	account, err := s.repo.Load(ctx, addr.String())
	if errors.Is(err, repository.ErrAccountNotFound) {
		return s.create(ctx, signer, addr, dataHash, uri)
	}
	if err != nil {
		log.Printf("[RecordService] Ошибка загрузки слота %s: %v", addr, err)
		return nil, false, fmt.Errorf("внутренняя ошибка при загрузке записи: %w", err)
	}

	rec, err := s.authorize(account, signer, addr)
	if err != nil {
		return nil, false, err
	}

	rec.DataHash = dataHash
	rec.URI = uri
	data, err := record.Encode(rec, account.Space)
	if err != nil {
		if errors.Is(err, record.ErrCapacityExceeded) {
			log.Printf("[RecordService] Запись %s не помещается в слот: %v", addr, err)
			return nil, false, fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
		}
		return nil, false, fmt.Errorf("внутренняя ошибка при кодировании записи: %w", err)
	}

	account.Data = data
	if err = s.repo.Store(ctx, account); err != nil {
		log.Printf("[RecordService] Ошибка сохранения записи %s: %v", addr, err)
		return nil, false, fmt.Errorf("внутренняя ошибка при сохранении записи: %w", err)
	}

	log.Printf("[RecordService] Запись %s владельца %s обновлена", addr, signer)
	return recordView(addr, rec, account), false, nil
}

// create выделяет слот и записывает в него полностью заполненную запись.
func (s *recordService) create(
	ctx context.Context,
	signer, addr address.PublicKey,
	dataHash [record.HashSize]byte,
	uri string,
) (*dto.Record, bool, error) {
	expected, bump, err := s.deriver.Derive(signer)
	if err != nil {
		return nil, false, fmt.Errorf("внутренняя ошибка при вычислении адреса: %w", err)
	}
	if expected != addr {
		log.Printf("[RecordService] Адрес %s не принадлежит %s (ожидался %s)", addr, signer, expected)
		return nil, false, ErrAddressMismatch
	}

	rec := &record.Record{Owner: signer, DataHash: dataHash, URI: uri, Bump: bump}
	space := rec.EncodedSize()
	data, err := record.Encode(rec, space)
	if err != nil {
		return nil, false, fmt.Errorf("внутренняя ошибка при кодировании записи: %w", err)
	}

	account := &models.Account{Address: addr.String(), Space: space, Data: data}
	if err = s.repo.Allocate(ctx, account, signer.String()); err != nil {
		if errors.Is(err, repository.ErrAccountExists) {
			return nil, false, ErrConflict
		}
		log.Printf("[RecordService] Ошибка выделения слота %s: %v", addr, err)
		return nil, false, fmt.Errorf("внутренняя ошибка при создании записи: %w", err)
	}
	s.deriver.Remember(signer, bump)

	log.Printf("[RecordService] Запись %s создана для %s (%d байт, bump %d)", addr, signer, space, bump)
	return recordView(addr, rec, account), true, nil
}

// Delete удаляет запись владельца и возвращает депозит.
func (s *recordService) Delete(
	ctx context.Context,
	signer address.PublicKey,
	target *address.PublicKey,
) (*dto.DeletedRecord, error) {
	addr, err := s.resolve(signer, target)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(addr)
	defer unlock()

	account, err := s.load(ctx, addr)
	if err != nil {
		return nil, err
	}
	if _, err = s.authorize(account, signer, addr); err != nil {
		return nil, err
	}

	refunded, err := s.repo.Deallocate(ctx, addr.String(), signer.String())
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrNotFound
		}
		log.Printf("[RecordService] Ошибка освобождения слота %s: %v", addr, err)
		return nil, fmt.Errorf("внутренняя ошибка при удалении записи: %w", err)
	}

	log.Printf("[RecordService] Запись %s удалена, %d возвращено %s", addr, refunded, signer)
	return &dto.DeletedRecord{Address: addr.String(), Refunded: refunded}, nil
}

// Get возвращает запись. Чтение не ограничено владельцем.
func (s *recordService) Get(
	ctx context.Context,
	owner address.PublicKey,
	target *address.PublicKey,
) (*dto.Record, error) {
	addr, err := s.resolve(owner, target)
	if err != nil {
		return nil, err
	}

	account, err := s.load(ctx, addr)
	if err != nil {
		return nil, err
	}
	rec, err := record.Decode(account.Data)
	if err != nil {
		log.Printf("[RecordService] Слот %s не содержит корректной записи: %v", addr, err)
		return nil, fmt.Errorf("внутренняя ошибка при чтении записи: %w", err)
	}
	return recordView(addr, rec, account), nil
}

// Address вычисляет адрес записи владельца. Запрос без аутентификации,
// поэтому кеш bump здесь не пополняется.
func (s *recordService) Address(owner address.PublicKey) (*dto.DerivedAddress, error) {
	addr, bump, err := s.deriver.Derive(owner)
	if err != nil {
		return nil, fmt.Errorf("внутренняя ошибка при вычислении адреса: %w", err)
	}
	return &dto.DerivedAddress{Owner: owner.String(), Address: addr.String(), Bump: bump}, nil
}

// Balance возвращает баланс депозитов владельца.
func (s *recordService) Balance(ctx context.Context, owner address.PublicKey) (int64, error) {
	lamports, err := s.repo.Balance(ctx, owner.String())
	if err != nil {
		log.Printf("[RecordService] Ошибка получения баланса %s: %v", owner, err)
		return 0, fmt.Errorf("внутренняя ошибка при получении баланса: %w", err)
	}
	return lamports, nil
}

func (s *recordService) resolve(owner address.PublicKey, target *address.PublicKey) (address.PublicKey, error) {
	if target != nil {
		return *target, nil
	}
	addr, _, err := s.deriver.Derive(owner)
	if err != nil {
		return address.PublicKey{}, fmt.Errorf("внутренняя ошибка при вычислении адреса: %w", err)
	}
	return addr, nil
}

func (s *recordService) load(ctx context.Context, addr address.PublicKey) (*models.Account, error) {
	account, err := s.repo.Load(ctx, addr.String())
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrNotFound
		}
		log.Printf("[RecordService] Ошибка загрузки слота %s: %v", addr, err)
		return nil, fmt.Errorf("внутренняя ошибка при загрузке записи: %w", err)
	}
	return account, nil
}

// authorize декодирует запись и проверяет, что signer - ее владелец,
// а сохраненный bump воспроизводит адрес слота.
func (s *recordService) authorize(
	account *models.Account,
	signer, addr address.PublicKey,
) (*record.Record, error) {
	rec, err := record.Decode(account.Data)
	if err != nil {
		log.Printf("[RecordService] Слот %s не содержит корректной записи: %v", addr, err)
		return nil, fmt.Errorf("внутренняя ошибка при чтении записи: %w", err)
	}
	if rec.Owner != signer {
		log.Printf("[RecordService] %s не является владельцем записи %s", signer, addr)
		return nil, ErrNotAuthorized
	}
	if err = s.deriver.Verify(signer, rec.Bump, addr); err != nil {
		log.Printf("[RecordService] Bump %d записи %s не воспроизводит адрес: %v", rec.Bump, addr, err)
		return nil, ErrAddressMismatch
	}
	// Дальше адрес владельца пересчитывается по сохраненному bump без поиска
	s.deriver.Remember(signer, rec.Bump)
	return rec, nil
}

func recordView(addr address.PublicKey, rec *record.Record, account *models.Account) *dto.Record {
	return &dto.Record{
		Address:   addr.String(),
		Owner:     rec.Owner.String(),
		DataHash:  hex.EncodeToString(rec.DataHash[:]),
		URI:       rec.URI,
		Bump:      rec.Bump,
		Space:     account.Space,
		Lamports:  account.Lamports,
		CreatedAt: account.CreatedAt,
		UpdatedAt: account.UpdatedAt,
	}
}

// Кастомные ошибки сервиса.
var (
	ErrNotAuthorized    = errors.New("вызывающий не является владельцем записи")
	ErrAddressMismatch  = errors.New("адрес не соответствует владельцу и bump")
	ErrNotFound         = errors.New("запись не найдена")
	ErrCapacityExceeded = errors.New("запись не помещается в выделенный слот")
	ErrURITooLong       = errors.New("ссылка длиннее допустимого")
	ErrConflict         = errors.New("запись создана параллельным запросом")
)
