package services_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/zerotrust/internal/address"
	"github.com/maynagashev/zerotrust/internal/models"
	"github.com/maynagashev/zerotrust/internal/record"
	"github.com/maynagashev/zerotrust/internal/repository"
	"github.com/maynagashev/zerotrust/internal/services"
)

const (
	testProgramID = "3rGqKAP58KorJeXpBdiu7nEmndVBuAPWsWn2w1hFRGmd"
	// Адрес и bump для ключа 0x01 x 32 в пространстве "user".
	ownerOneAddress = "FqQDihdThq5Z9n2uP5YN2P5eXuBtBYg3JgvNPaKh2Uh3"
	ownerOneBump    = 251
)

// MockAccountRepository is a mock implementation of AccountRepository interface.
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Load(ctx context.Context, addr string) (*models.Account, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockAccountRepository) Allocate(ctx context.Context, account *models.Account, payer string) error {
	args := m.Called(ctx, account, payer)
	return args.Error(0)
}

func (m *MockAccountRepository) Store(ctx context.Context, account *models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) Deallocate(ctx context.Context, addr, refundTo string) (int64, error) {
	args := m.Called(ctx, addr, refundTo)
	return args.Get(0).(int64), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockAccountRepository) Balance(ctx context.Context, owner string) (int64, error) {
	args := m.Called(ctx, owner)
	return args.Get(0).(int64), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func key(b byte) address.PublicKey {
	return address.PublicKey(bytes.Repeat([]byte{b}, 32))
}

func hash(b byte) [record.HashSize]byte {
	var h [record.HashSize]byte
	h[record.HashSize-1] = b
	return h
}

func newDeriver(t *testing.T) *address.Deriver {
	t.Helper()
	programID, err := address.ParsePublicKey(testProgramID)
	require.NoError(t, err)
	d, err := address.NewDeriver(programID, address.DefaultNamespace)
	require.NoError(t, err)
	return d
}

// newSQLiteService создает сервис поверх временной базы SQLite.
func newSQLiteService(t *testing.T) (services.RecordService, repository.AccountRepository) {
	t.Helper()
	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := repository.NewSQLAccountRepository(db)
	return services.NewRecordService(newDeriver(t), repo), repo
}

func TestRecordService_Address(t *testing.T) {
	svc := services.NewRecordService(newDeriver(t), new(MockAccountRepository))

	derived, err := svc.Address(key(1))
	require.NoError(t, err)
	assert.Equal(t, key(1).String(), derived.Owner)
	assert.Equal(t, ownerOneAddress, derived.Address)
	assert.Equal(t, uint8(ownerOneBump), derived.Bump)
}

func TestRecordService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSQLiteService(t)
	owner := key(1)

	// Создание
	created, isNew, err := svc.Upsert(ctx, owner, hash(1), "ipfs://first", nil)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, ownerOneAddress, created.Address)
	assert.Equal(t, owner.String(), created.Owner)
	assert.Equal(t, uint8(ownerOneBump), created.Bump)
	assert.Equal(t, record.Space(len("ipfs://first")), created.Space)
	assert.Equal(t, repository.MinimumBalance(created.Space), created.Lamports)

	balance, err := svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, -created.Lamports, balance, "депозит списан с владельца")

	// Обновление той же длины и короче
	updated, isNew, err := svc.Upsert(ctx, owner, hash(2), "ipfs://other", nil)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, created.Address, updated.Address)
	assert.Equal(t, created.Space, updated.Space)

	shorter, _, err := svc.Upsert(ctx, owner, hash(3), "ar://x", nil)
	require.NoError(t, err)
	assert.Equal(t, "ar://x", shorter.URI)

	got, err := svc.Get(ctx, owner, nil)
	require.NoError(t, err)
	assert.Equal(t, "ar://x", got.URI)
	assert.Equal(t, "0000000000000000000000000000000000000000000000000000000000000003", got.DataHash)
	assert.Equal(t, created.Space, got.Space, "размер слота не меняется при обновлении")

	// Удаление возвращает весь депозит
	deleted, err := svc.Delete(ctx, owner, nil)
	require.NoError(t, err)
	assert.Equal(t, ownerOneAddress, deleted.Address)
	assert.Equal(t, created.Lamports, deleted.Refunded)

	balance, err = svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	_, err = svc.Get(ctx, owner, nil)
	require.ErrorIs(t, err, services.ErrNotFound)

	_, err = svc.Delete(ctx, owner, nil)
	require.ErrorIs(t, err, services.ErrNotFound)

	// Повторное создание после удаления
	recreated, isNew, err := svc.Upsert(ctx, owner, hash(4), "ipfs://again", nil)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, ownerOneAddress, recreated.Address)
}

func TestRecordService_Upsert_CapacityExceeded(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSQLiteService(t)
	owner := key(1)

	_, _, err := svc.Upsert(ctx, owner, hash(1), "ipfs://a", nil)
	require.NoError(t, err)

	_, _, err = svc.Upsert(ctx, owner, hash(2), "ipfs://much-longer-than-before", nil)
	require.ErrorIs(t, err, services.ErrCapacityExceeded)

	got, err := svc.Get(ctx, owner, nil)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://a", got.URI, "запись не изменилась")
}

func TestRecordService_Upsert_URITooLong(t *testing.T) {
	svc := services.NewRecordService(newDeriver(t), new(MockAccountRepository))

	uri := string(bytes.Repeat([]byte{'a'}, services.MaxURILength+1))
	_, _, err := svc.Upsert(context.Background(), key(1), hash(1), uri, nil)
	require.ErrorIs(t, err, services.ErrURITooLong)
}

func TestRecordService_ForeignSigner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSQLiteService(t)
	owner, intruder := key(1), key(2)

	created, _, err := svc.Upsert(ctx, owner, hash(1), "ipfs://mine", nil)
	require.NoError(t, err)
	target, err := address.ParsePublicKey(created.Address)
	require.NoError(t, err)

	_, _, err = svc.Upsert(ctx, intruder, hash(9), "ipfs://evil", &target)
	require.ErrorIs(t, err, services.ErrNotAuthorized)

	_, err = svc.Delete(ctx, intruder, &target)
	require.ErrorIs(t, err, services.ErrNotAuthorized)

	// Чтение чужой записи разрешено
	got, err := svc.Get(ctx, intruder, &target)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://mine", got.URI)
	assert.Equal(t, owner.String(), got.Owner)

	balance, err := svc.Balance(ctx, intruder)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance, "отказ не двигает депозиты")
}

func TestRecordService_Create_ForeignAddress(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSQLiteService(t)

	target, err := address.ParsePublicKey(ownerOneAddress)
	require.NoError(t, err)

	// Слот свободен, но адрес производный от другого ключа
	_, _, err = svc.Upsert(ctx, key(2), hash(1), "ipfs://x", &target)
	require.ErrorIs(t, err, services.ErrAddressMismatch)

	_, err = svc.Get(ctx, key(1), nil)
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestRecordService_TamperedBump(t *testing.T) {
	ctx := context.Background()
	svc, repo := newSQLiteService(t)
	owner := key(1)

	created, _, err := svc.Upsert(ctx, owner, hash(1), "ipfs://a", nil)
	require.NoError(t, err)

	// Bump 250 вне кривой, но дает другой адрес
	tampered := &record.Record{Owner: owner, DataHash: hash(1), URI: "ipfs://a", Bump: 250}
	data, err := record.Encode(tampered, created.Space)
	require.NoError(t, err)
	require.NoError(t, repo.Store(ctx, &models.Account{Address: created.Address, Data: data}))

	_, _, err = svc.Upsert(ctx, owner, hash(2), "ipfs://b", nil)
	require.ErrorIs(t, err, services.ErrAddressMismatch)

	_, err = svc.Delete(ctx, owner, nil)
	require.ErrorIs(t, err, services.ErrAddressMismatch)

	// Проверка владельца выполняется раньше проверки bump
	target, err := address.ParsePublicKey(created.Address)
	require.NoError(t, err)
	_, err = svc.Delete(ctx, key(2), &target)
	require.ErrorIs(t, err, services.ErrNotAuthorized)
}

func TestRecordService_ConcurrentUpsert(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSQLiteService(t)
	owner := key(3)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, isNew, err := svc.Upsert(ctx, owner, hash(byte(i)), "ipfs://same-len", nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if isNew {
				created++
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, created, "слот создается ровно один раз")
}

func TestRecordService_RepositoryErrors(t *testing.T) {
	ctx := context.Background()
	owner := key(1)
	dbErr := errors.New("db error")

	tests := []struct {
		name        string
		mockSetup   func(m *MockAccountRepository)
		call        func(svc services.RecordService) error
		expectedErr error
	}{
		{
			name: "Ошибка загрузки при Upsert",
			mockSetup: func(m *MockAccountRepository) {
				m.On("Load", ctx, ownerOneAddress).Return(nil, dbErr).Once()
			},
			call: func(svc services.RecordService) error {
				_, _, err := svc.Upsert(ctx, owner, hash(1), "ipfs://a", nil)
				return err
			},
			expectedErr: dbErr,
		},
		{
			name: "Гонка при выделении слота",
			mockSetup: func(m *MockAccountRepository) {
				m.On("Load", ctx, ownerOneAddress).Return(nil, repository.ErrAccountNotFound).Once()
				m.On("Allocate", ctx, mock.AnythingOfType("*models.Account"), owner.String()).
					Return(repository.ErrAccountExists).Once()
			},
			call: func(svc services.RecordService) error {
				_, _, err := svc.Upsert(ctx, owner, hash(1), "ipfs://a", nil)
				return err
			},
			expectedErr: services.ErrConflict,
		},
		{
			name: "Слот исчез перед освобождением",
			mockSetup: func(m *MockAccountRepository) {
				data, err := record.Encode(&record.Record{Owner: owner, URI: "u", Bump: ownerOneBump}, record.Space(1))
				require.NoError(t, err)
				m.On("Load", ctx, ownerOneAddress).
					Return(&models.Account{Address: ownerOneAddress, Space: len(data), Data: data}, nil).Once()
				m.On("Deallocate", ctx, ownerOneAddress, owner.String()).
					Return(int64(0), repository.ErrAccountNotFound).Once()
			},
			call: func(svc services.RecordService) error {
				_, err := svc.Delete(ctx, owner, nil)
				return err
			},
			expectedErr: services.ErrNotFound,
		},
		{
			name: "Поврежденный слот",
			mockSetup: func(m *MockAccountRepository) {
				m.On("Load", ctx, ownerOneAddress).
					Return(&models.Account{Address: ownerOneAddress, Space: 3, Data: []byte{1, 2, 3}}, nil).Once()
			},
			call: func(svc services.RecordService) error {
				_, err := svc.Get(ctx, owner, nil)
				return err
			},
			expectedErr: record.ErrCorrupted,
		},
		{
			name: "Ошибка получения баланса",
			mockSetup: func(m *MockAccountRepository) {
				m.On("Balance", ctx, owner.String()).Return(int64(0), dbErr).Once()
			},
			call: func(svc services.RecordService) error {
				_, err := svc.Balance(ctx, owner)
				return err
			},
			expectedErr: dbErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockAccountRepository)
			tt.mockSetup(mockRepo)

			svc := services.NewRecordService(newDeriver(t), mockRepo)
			err := tt.call(svc)

			require.ErrorIs(t, err, tt.expectedErr)
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestRecordService_Upsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSQLiteService(t)
	owner := key(1)

	first, isNew, err := svc.Upsert(ctx, owner, hash(5), "ipfs://same", nil)
	require.NoError(t, err)
	assert.True(t, isNew)
	balanceAfterFirst, err := svc.Balance(ctx, owner)
	require.NoError(t, err)

	second, isNew, err := svc.Upsert(ctx, owner, hash(5), "ipfs://same", nil)
	require.NoError(t, err)
	assert.False(t, isNew, "повтор не создает запись заново")

	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, first.Owner, second.Owner)
	assert.Equal(t, first.DataHash, second.DataHash)
	assert.Equal(t, first.URI, second.URI)
	assert.Equal(t, first.Bump, second.Bump)
	assert.Equal(t, first.Space, second.Space)
	assert.Equal(t, first.Lamports, second.Lamports)

	balance, err := svc.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, balanceAfterFirst, balance, "повтор не списывает депозит")

	got, err := svc.Get(ctx, owner, nil)
	require.NoError(t, err)
	assert.Equal(t, first.DataHash, got.DataHash)
	assert.Equal(t, first.URI, got.URI)
}

func TestRecordService_Upsert_UpdatedAt(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSQLiteService(t)
	owner := key(1)

	created, _, err := svc.Upsert(ctx, owner, hash(1), "ipfs://a", nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	updated, _, err := svc.Upsert(ctx, owner, hash(2), "ipfs://b", nil)
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt), "время изменения сдвинулось")
	assert.True(t, updated.CreatedAt.Equal(created.CreatedAt))

	got, err := svc.Get(ctx, owner, nil)
	require.NoError(t, err)
	assert.WithinDuration(t, updated.UpdatedAt, got.UpdatedAt, time.Millisecond)
}

func TestRecordService_UpdatedAtFromStore(t *testing.T) {
	ctx := context.Background()
	owner := key(1)
	rec := &record.Record{Owner: owner, DataHash: hash(1), URI: "ipfs://a", Bump: ownerOneBump}
	data, err := record.Encode(rec, rec.EncodedSize())
	require.NoError(t, err)

	stale := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	written := stale.Add(time.Hour)
	repo := new(MockAccountRepository)
	repo.On("Load", ctx, ownerOneAddress).Return(&models.Account{
		Address: ownerOneAddress, Space: len(data), Data: data, CreatedAt: stale, UpdatedAt: stale,
	}, nil).Once()
	repo.On("Store", ctx, mock.AnythingOfType("*models.Account")).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Account).UpdatedAt = written //nolint:errcheck,forcetypeassert // Acceptable for mocks
	}).Return(nil).Once()

	svc := services.NewRecordService(newDeriver(t), repo)
	updated, isNew, err := svc.Upsert(ctx, owner, hash(2), "ipfs://b", nil)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, written, updated.UpdatedAt)
	assert.Equal(t, stale, updated.CreatedAt)
	repo.AssertExpectations(t)
}

func TestRecordService_BumpCache(t *testing.T) {
	ctx := context.Background()
	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	deriver := newDeriver(t)
	svc := services.NewRecordService(deriver, repository.NewSQLAccountRepository(db))

	// Вычисление адреса без записи ничего не запоминает
	for i := 1; i <= 100; i++ {
		_, err = svc.Address(key(byte(i)))
		require.NoError(t, err)
	}
	_, err = svc.Get(ctx, key(1), nil)
	require.ErrorIs(t, err, services.ErrNotFound)
	assert.Equal(t, 0, deriver.Remembered())

	_, _, err = svc.Upsert(ctx, key(1), hash(1), "ipfs://a", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, deriver.Remembered())

	// После перезапуска bump берется из прочитанной записи
	restarted := newDeriver(t)
	svc = services.NewRecordService(restarted, repository.NewSQLAccountRepository(db))
	_, _, err = svc.Upsert(ctx, key(1), hash(2), "ipfs://b", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, restarted.Remembered())

	derived, err := svc.Address(key(1))
	require.NoError(t, err)
	assert.Equal(t, ownerOneAddress, derived.Address)
	assert.Equal(t, uint8(ownerOneBump), derived.Bump)
}
