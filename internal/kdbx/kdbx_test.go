package kdbx_test

import (
	"bytes"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tobischo/gokeepasslib/v3"

	"github.com/maynagashev/zerotrust/internal/kdbx"
)

const (
	testPassword    = "test"
	invalidPassword = "wrongpassword"
)

func testKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
}

func TestSaveAndLoadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.kdbx")
	key := testKey()

	require.NoError(t, kdbx.SaveKey(path, testPassword, key))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Секрет не лежит в файле открытым текстом
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "0707070707")

	raw, err := kdbx.LoadKey(path, testPassword)
	require.NoError(t, err)
	assert.Equal(t, []byte(key), raw)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.kdbx")
	require.NoError(t, kdbx.SaveKey(path, testPassword, testKey()))

	t.Run("Success_With_Correct_Password", func(t *testing.T) {
		db, err := kdbx.OpenFile(path, testPassword)
		require.NoError(t, err)
		entries := kdbx.GetAllEntries(db)
		require.Len(t, entries, 1)
		assert.Equal(t, kdbx.KeyEntryTitle, entries[0].GetTitle())
	})

	t.Run("Error_With_Incorrect_Password", func(t *testing.T) {
		db, err := kdbx.OpenFile(path, invalidPassword)
		require.Error(t, err)
		assert.Nil(t, db)
		assert.Contains(t, err.Error(), "ошибка дешифрования")
	})

	t.Run("Error_With_Nonexistent_File", func(t *testing.T) {
		db, err := kdbx.OpenFile(filepath.Join(t.TempDir(), "nonexistent.kdbx"), testPassword)
		require.Error(t, err)
		assert.Nil(t, db)
		assert.Contains(t, err.Error(), "ошибка открытия файла")
	})
}

func TestLoadKey_NoKeyEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.kdbx")
	db := kdbx.NewKeyDatabase(testPassword, testKey())
	db.Content.Root.Groups[0].Entries = nil
	require.NoError(t, kdbx.SaveFile(db, path, testPassword))

	_, err := kdbx.LoadKey(path, testPassword)
	require.ErrorIs(t, err, kdbx.ErrKeyEntryNotFound)
}

func TestSaveKey_EmptyPassword(t *testing.T) {
	err := kdbx.SaveKey(filepath.Join(t.TempDir(), "id.kdbx"), "", testKey())
	require.ErrorIs(t, err, kdbx.ErrEmptyPassword)

	err = kdbx.SaveFile(nil, filepath.Join(t.TempDir(), "id.kdbx"), testPassword)
	require.Error(t, err)
}

func TestGetAllEntries_Nil(t *testing.T) {
	assert.Empty(t, kdbx.GetAllEntries(nil))

	db := &gokeepasslib.Database{Content: nil}
	assert.Empty(t, kdbx.GetAllEntries(db))

	db.Content = &gokeepasslib.DBContent{Root: nil}
	assert.Empty(t, kdbx.GetAllEntries(db))
}

// TestSaveFile_FailedEncodeKeepsExisting проверяет, что ошибка кодирования
// не портит ранее сохраненный файл и не оставляет временных файлов.
func TestSaveFile_FailedEncodeKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "id.kdbx")
	key := testKey()
	require.NoError(t, kdbx.SaveKey(path, testPassword, key))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// Неизвестный шифр: заголовок успевает записаться, содержимое нет
	broken := kdbx.NewKeyDatabase(testPassword, ed25519.NewKeyFromSeed(bytes.Repeat([]byte{9}, ed25519.SeedSize)))
	broken.Header.FileHeaders.CipherID = []byte{0x01}
	err = kdbx.SaveFile(broken, path, testPassword)
	require.ErrorIs(t, err, gokeepasslib.ErrUnsupportedEncrypterType)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	raw, err := kdbx.LoadKey(path, testPassword)
	require.NoError(t, err)
	assert.Equal(t, []byte(key), raw)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "id.kdbx", files[0].Name())
}
