// Package keystore хранит ключ ed25519 и настройки клиента на диске.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/maynagashev/zerotrust/internal/kdbx"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o700
	lockSuffix      = ".lock"
	kdbxExt         = ".kdbx"
)

// Option параметр чтения и записи ключа.
type Option func(*options)

type options struct {
	password string
}

// WithPassword задает пароль для ключей в формате KDBX.
func WithPassword(password string) Option {
	return func(o *options) { o.password = password }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// IsEncrypted сообщает, хранится ли ключ по path в зашифрованной базе KDBX.
func IsEncrypted(path string) bool {
	return strings.EqualFold(filepath.Ext(path), kdbxExt)
}

// Config настройки клиента.
type Config struct {
	ServerURL string `yaml:"server_url"`
	KeyPath   string `yaml:"key_path"`
	Token     string `yaml:"token,omitempty"`
}

// DefaultConfigDir возвращает каталог настроек клиента.
func DefaultConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("не удалось определить каталог настроек: %w", err)
	}
	return filepath.Join(dir, "zerotrust"), nil
}

// GenerateKey создает новый ключ и сохраняет его в path в hex (64 байта: seed и публичный ключ).
// Для пути с расширением .kdbx ключ шифруется паролем из WithPassword.
// Существующий файл не перезаписывается без overwrite.
func GenerateKey(path string, overwrite bool, opts ...Option) (ed25519.PrivateKey, error) {
	o := buildOptions(opts)
	if IsEncrypted(path) && o.password == "" {
		return nil, ErrPasswordRequired
	}

	unlock, err := lockExclusive(path)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !overwrite {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("%w: %s", ErrKeyExists, path)
		}
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации ключа: %w", err)
	}
	if IsEncrypted(path) {
		err = kdbx.SaveKey(path, o.password, key)
	} else {
		err = writeFile(path, []byte(hex.EncodeToString(key)+"\n"))
	}
	if err != nil {
		return nil, err
	}

	slog.Info("Ключ создан", "path", path)
	return key, nil
}

// LoadKey читает ключ из path. Допускается полный секретный ключ (64 байта) или seed (32 байта).
func LoadKey(path string, opts ...Option) (ed25519.PrivateKey, error) {
	o := buildOptions(opts)
	if IsEncrypted(path) && o.password == "" {
		return nil, ErrPasswordRequired
	}

	lock := flock.New(path + lockSuffix)
	locked, err := lock.TryRLock()
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки файла ключа: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	defer unlockQuietly(lock)

	raw, err := readKey(path, o)
	if err != nil {
		return nil, err
	}
	return parseKey(raw)
}

func readKey(path string, o options) ([]byte, error) {
	if IsEncrypted(path) {
		raw, err := kdbx.LoadKey(path, o.password)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		return raw, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла ключа: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return raw, nil
}

func parseKey(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		key := ed25519.PrivateKey(raw)
		// Публичная половина должна соответствовать seed
		if !key.Equal(ed25519.NewKeyFromSeed(key.Seed())) {
			return nil, fmt.Errorf("%w: публичная часть не соответствует seed", ErrInvalidKey)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: длина %d байт", ErrInvalidKey, len(raw))
	}
}

// LoadConfig читает настройки. Отсутствующий файл дает пустые настройки.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения настроек: %w", err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора настроек %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig записывает настройки в path под эксклюзивной блокировкой.
func SaveConfig(path string, cfg *Config) error {
	unlock, err := lockExclusive(path)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("ошибка кодирования настроек: %w", err)
	}
	return writeFile(path, data)
}

func lockExclusive(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога %s: %w", filepath.Dir(path), err)
	}
	lock := flock.New(path + lockSuffix)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки файла: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return func() { unlockQuietly(lock) }, nil
}

func unlockQuietly(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		slog.Warn("Ошибка снятия блокировки", "path", lock.Path(), "error", err)
	}
}

// writeFile записывает во временный файл и переименовывает, чтобы читатель не увидел половину.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePermissions); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ошибка замены %s: %w", path, err)
	}
	return nil
}

// Ошибки хранилища ключей.
var (
	ErrKeyExists  = errors.New("файл ключа уже существует")
	ErrInvalidKey = errors.New("некорректный файл ключа")
	ErrLocked     = errors.New("файл занят другим процессом")

	ErrPasswordRequired = errors.New("для ключа в формате KDBX нужен пароль")
)
