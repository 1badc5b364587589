package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/maynagashev/zerotrust/internal/models"
	"github.com/maynagashev/zerotrust/internal/repository"
)

const (
	accountsPrefix          = "accounts"
	balancesPrefix          = "balances"
	objectContentType       = "application/json"
	minioNoSuchKey          = "NoSuchKey"
	minioPreconditionFailed = "PreconditionFailed"
)

// Убедимся, что MinioAccountStore удовлетворяет интерфейсу репозитория.
var _ repository.AccountRepository = (*MinioAccountStore)(nil)

// objectStore операции с объектами, которые нужны хранилищу слотов.
type objectStore interface {
	// Get возвращает содержимое объекта или ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put записывает объект. С ifAbsent запись выполняется только если объекта
	// еще нет, иначе возвращается ErrObjectExists.
	Put(ctx context.Context, key string, payload []byte, ifAbsent bool) error
	// Remove удаляет объект.
	Remove(ctx context.Context, key string) error
}

// MinioAccountStore хранит слоты и балансы объектами MinIO (один JSON на объект).
// Замена объекта атомарна, поэтому частично записанный слот не виден читателям.
type MinioAccountStore struct {
	objects   objectStore
	balanceMu sync.Mutex // Сериализует чтение-изменение-запись балансов
}

// MinioConfig содержит параметры для подключения к MinIO.
type MinioConfig struct {
	Endpoint        string // Адрес MinIO (например, "localhost:9000")
	AccessKeyID     string // Логин
	SecretAccessKey string // Пароль
	UseSSL          bool   // Использовать SSL (обычно false для локальной разработки)
	BucketName      string // Имя бакета для хранения слотов
	Region          string // Регион (не обязательно для MinIO, но может требоваться)
}

// NewMinioAccountStore создает клиент MinIO и при необходимости бакет.
func NewMinioAccountStore(ctx context.Context, cfg MinioConfig) (*MinioAccountStore, error) {
	log.Printf("Инициализация клиента MinIO для эндпоинта %s...", cfg.Endpoint)

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	exists, err := minioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки существования бакета '%s': %w", cfg.BucketName, err)
	}
	if !exists {
		log.Printf("Бакет '%s' не найден, попытка создания...", cfg.BucketName)
		err = minioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, fmt.Errorf("ошибка создания бакета '%s': %w", cfg.BucketName, err)
		}
		log.Printf("Бакет '%s' успешно создан.", cfg.BucketName)
	}

	log.Printf("Клиент MinIO успешно инициализирован для бакета '%s'.", cfg.BucketName)
	return &MinioAccountStore{
		objects: &minioObjects{client: minioClient, bucketName: cfg.BucketName},
	}, nil
}

func accountKey(address string) string {
	return path.Join(accountsPrefix, address+".json")
}

func balanceKey(owner string) string {
	return path.Join(balancesPrefix, owner+".json")
}

// Load читает слот по адресу.
func (s *MinioAccountStore) Load(ctx context.Context, address string) (*models.Account, error) {
	var account models.Account
	if err := s.getJSON(ctx, accountKey(address), &account); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, repository.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Allocate создает объект слота условной записью (If-None-Match: *) и списывает
// депозит с payer. Если списание не удалось, объект слота удаляется.
func (s *MinioAccountStore) Allocate(ctx context.Context, account *models.Account, payer string) error {
	if len(account.Data) != account.Space {
		return fmt.Errorf("размер данных %d не совпадает с размером слота %d", len(account.Data), account.Space)
	}

	key := accountKey(account.Address)
	now := time.Now().UTC()
	account.Lamports = repository.MinimumBalance(account.Space)
	account.CreatedAt = now
	account.UpdatedAt = now
	if err := s.putJSON(ctx, key, account, true); err != nil {
		if errors.Is(err, ErrObjectExists) {
			return repository.ErrAccountExists
		}
		return err
	}

	if err := s.credit(ctx, payer, -account.Lamports); err != nil {
		if rmErr := s.objects.Remove(ctx, key); rmErr != nil {
			log.Printf("[Minio] Ошибка отката выделения слота %s: %v", account.Address, rmErr)
		}
		return fmt.Errorf("ошибка списания депозита: %w", err)
	}

	log.Printf("[Minio] Слот %s выделен (%d байт, депозит %d)", account.Address, account.Space, account.Lamports)
	return nil
}

// Store заменяет данные слота новым объектом.
func (s *MinioAccountStore) Store(ctx context.Context, account *models.Account) error {
	current, err := s.Load(ctx, account.Address)
	if err != nil {
		return err
	}
	if len(account.Data) != current.Space {
		return fmt.Errorf("размер данных %d не совпадает с размером слота %d", len(account.Data), current.Space)
	}
	current.Data = account.Data
	current.UpdatedAt = time.Now().UTC()
	if err = s.putJSON(ctx, accountKey(account.Address), current, false); err != nil {
		return err
	}
	account.UpdatedAt = current.UpdatedAt
	return nil
}

// Deallocate зачисляет депозит refundTo и удаляет объект слота.
// Если удалить объект не удалось, зачисление отменяется.
func (s *MinioAccountStore) Deallocate(ctx context.Context, address, refundTo string) (int64, error) {
	account, err := s.Load(ctx, address)
	if err != nil {
		return 0, err
	}

	if err = s.credit(ctx, refundTo, account.Lamports); err != nil {
		return 0, fmt.Errorf("ошибка возврата депозита: %w", err)
	}
	if err = s.objects.Remove(ctx, accountKey(address)); err != nil {
		if revertErr := s.credit(ctx, refundTo, -account.Lamports); revertErr != nil {
			log.Printf("[Minio] Слот %s не удален, но возврат %d для %s не отменен: %v",
				address, account.Lamports, refundTo, revertErr)
		}
		return 0, fmt.Errorf("ошибка удаления слота из MinIO: %w", err)
	}

	log.Printf("[Minio] Слот %s освобожден, %d возвращено %s", address, account.Lamports, refundTo)
	return account.Lamports, nil
}

// Balance возвращает баланс owner.
func (s *MinioAccountStore) Balance(ctx context.Context, owner string) (int64, error) {
	var balance models.Balance
	if err := s.getJSON(ctx, balanceKey(owner), &balance); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return balance.Lamports, nil
}

func (s *MinioAccountStore) credit(ctx context.Context, owner string, delta int64) error {
	s.balanceMu.Lock()
	defer s.balanceMu.Unlock()

	balance := models.Balance{Owner: owner}
	if err := s.getJSON(ctx, balanceKey(owner), &balance); err != nil && !errors.Is(err, ErrObjectNotFound) {
		return err
	}
	balance.Lamports += delta
	balance.UpdatedAt = time.Now().UTC()
	return s.putJSON(ctx, balanceKey(owner), &balance, false)
}

func (s *MinioAccountStore) putJSON(ctx context.Context, key string, v any, ifAbsent bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ошибка кодирования объекта '%s': %w", key, err)
	}
	return s.objects.Put(ctx, key, payload, ifAbsent)
}

func (s *MinioAccountStore) getJSON(ctx context.Context, key string, v any) error {
	payload, err := s.objects.Get(ctx, key)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("ошибка декодирования объекта '%s': %w", key, err)
	}
	return nil
}

// minioObjects реализует objectStore поверх клиента MinIO.
type minioObjects struct {
	client     *minio.Client
	bucketName string
}

func (o *minioObjects) Get(ctx context.Context, key string) ([]byte, error) {
	object, err := o.client.GetObject(ctx, o.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения объекта из MinIO: %w", err)
	}
	defer func() {
		if closeErr := object.Close(); closeErr != nil {
			log.Printf("[Minio] Ошибка закрытия объекта '%s': %v", key, closeErr)
		}
	}()

	payload, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == minioNoSuchKey {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("ошибка чтения объекта '%s': %w", key, err)
	}
	return payload, nil
}

func (o *minioObjects) Put(ctx context.Context, key string, payload []byte, ifAbsent bool) error {
	opts := minio.PutObjectOptions{ContentType: objectContentType}
	if ifAbsent {
		opts.SetMatchETagExcept("*")
	}
	_, err := o.client.PutObject(ctx, o.bucketName, key, bytes.NewReader(payload), int64(len(payload)), opts)
	if err != nil {
		if ifAbsent && minio.ToErrorResponse(err).Code == minioPreconditionFailed {
			return ErrObjectExists
		}
		log.Printf("[Minio] Ошибка загрузки объекта '%s': %v", key, err)
		return fmt.Errorf("ошибка загрузки объекта в MinIO: %w", err)
	}
	return nil
}

func (o *minioObjects) Remove(ctx context.Context, key string) error {
	if err := o.client.RemoveObject(ctx, o.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("ошибка удаления объекта '%s' из MinIO: %w", key, err)
	}
	return nil
}

// Кастомные ошибки хранилища.
var (
	ErrObjectNotFound = errors.New("объект не найден в хранилище")
	ErrObjectExists   = errors.New("объект уже существует в хранилище")
)
