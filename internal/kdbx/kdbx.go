// Package kdbx хранит ключ ed25519 в зашифрованной базе KeePass (KDBX).
package kdbx

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mr-tron/base58"
	"github.com/tobischo/gokeepasslib/v3"
	w "github.com/tobischo/gokeepasslib/v3/wrappers"
)

const (
	groupName = "zerotrust"
	// KeyEntryTitle заголовок записи с ключом.
	KeyEntryTitle = "ed25519"
)

// OpenFile открывает и дешифрует KDBX файл по указанному пути и паролю.
func OpenFile(filePath string, password string) (*gokeepasslib.Database, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла '%s': %w", filePath, err)
	}
	defer file.Close()

	db := gokeepasslib.NewDatabase()
	db.Credentials = gokeepasslib.NewPasswordCredentials(password)

	if err = gokeepasslib.NewDecoder(file).Decode(db); err != nil {
		return nil, fmt.Errorf("ошибка дешифрования файла '%s': %w", filePath, err)
	}

	// Разблокируем защищенные значения
	if err = db.UnlockProtectedEntries(); err != nil {
		return nil, fmt.Errorf("ошибка разблокировки защищенных полей: %w", err)
	}

	return db, nil
}

// GetAllEntries рекурсивно обходит все группы и возвращает плоский список всех записей.
func GetAllEntries(db *gokeepasslib.Database) []gokeepasslib.Entry {
	var entries []gokeepasslib.Entry
	if db == nil || db.Content == nil || db.Content.Root == nil {
		return entries
	}
	collectEntries(&entries, db.Content.Root.Groups)
	return entries
}

func collectEntries(entries *[]gokeepasslib.Entry, groups []gokeepasslib.Group) {
	for _, group := range groups {
		*entries = append(*entries, group.Entries...)
		collectEntries(entries, group.Groups)
	}
}

// NewKeyDatabase создает базу с одной записью, в которой лежит ключ.
// Секретная часть хранится как защищенное значение Password.
func NewKeyDatabase(password string, key ed25519.PrivateKey) *gokeepasslib.Database {
	now := w.Now()
	times := gokeepasslib.TimeData{
		CreationTime:         &now,
		LastModificationTime: &now,
		LastAccessTime:       &now,
	}

	db := gokeepasslib.NewDatabase()
	db.Credentials = gokeepasslib.NewPasswordCredentials(password)
	db.Content.Root = &gokeepasslib.RootData{
		Groups: []gokeepasslib.Group{
			{
				Name:  groupName,
				UUID:  gokeepasslib.NewUUID(),
				Times: times,
				Entries: []gokeepasslib.Entry{
					{
						UUID:  gokeepasslib.NewUUID(),
						Times: times,
						Values: []gokeepasslib.ValueData{
							{Key: "Title", Value: gokeepasslib.V{Content: KeyEntryTitle}},
							{Key: "UserName", Value: gokeepasslib.V{Content: base58.Encode(key[ed25519.SeedSize:])}},
							{Key: "Password", Value: gokeepasslib.V{
								Content:   hex.EncodeToString(key),
								Protected: w.NewBoolWrapper(true),
							}},
						},
					},
				},
			},
		},
	}
	return db
}

// SaveFile кодирует и сохраняет базу данных KDBX в указанный файл.
func SaveFile(db *gokeepasslib.Database, filePath string, password string) error {
	if db == nil {
		return errors.New("база данных не инициализирована (nil)")
	}

	// Учетные данные нужны для шифрования
	if db.Credentials == nil {
		if password == "" {
			return ErrEmptyPassword
		}
		db.Credentials = gokeepasslib.NewPasswordCredentials(password)
	}

	// Перед кодированием защищенные поля блокируются
	if err := db.LockProtectedEntries(); err != nil {
		return fmt.Errorf("ошибка блокировки защищенных полей: %w", err)
	}

	// Целевой файл заменяется только после успешной записи и закрытия временного
	tmp, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла для '%s': %w", filePath, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // после rename файла уже нет

	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("ошибка установки прав файла '%s': %w", tmpPath, err)
	}
	if err = gokeepasslib.NewEncoder(tmp).Encode(db); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("ошибка кодирования и записи БД в файл '%s': %w", filePath, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия файла '%s': %w", tmpPath, err)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("ошибка замены файла '%s': %w", filePath, err)
	}

	if err = db.UnlockProtectedEntries(); err != nil {
		slog.Warn("Не удалось разблокировать поля после сохранения", "error", err)
	}
	return nil
}

// SaveKey сохраняет ключ в новый KDBX файл, зашифрованный паролем.
func SaveKey(filePath, password string, key ed25519.PrivateKey) error {
	if password == "" {
		return ErrEmptyPassword
	}
	return SaveFile(NewKeyDatabase(password, key), filePath, password)
}

// LoadKey открывает KDBX файл и возвращает байты секретного ключа из записи ed25519.
// Длину и согласованность ключа проверяет вызывающий.
func LoadKey(filePath, password string) ([]byte, error) {
	db, err := OpenFile(filePath, password)
	if err != nil {
		return nil, err
	}
	for _, entry := range GetAllEntries(db) {
		if entry.GetTitle() != KeyEntryTitle {
			continue
		}
		raw, decodeErr := hex.DecodeString(entry.GetPassword())
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyEntryInvalid, decodeErr)
		}
		return raw, nil
	}
	return nil, ErrKeyEntryNotFound
}

// Ошибки работы с KDBX.
var (
	ErrEmptyPassword    = errors.New("пароль не может быть пустым")
	ErrKeyEntryNotFound = errors.New("запись с ключом не найдена")
	ErrKeyEntryInvalid  = errors.New("запись с ключом повреждена")
)
