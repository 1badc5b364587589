package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	// PublicKeyLength размер идентификатора (публичного ключа ed25519) в байтах.
	PublicKeyLength = 32
	// MaxSeedLength максимальная длина одного сида.
	MaxSeedLength = 32
	// MaxSeeds максимальное количество сидов вместе с bump.
	MaxSeeds = 16

	// Суффикс, добавляемый к данным хеша при вычислении производного адреса.
	derivedAddressMarker = "ProgramDerivedAddress"
)

// PublicKey идентификатор владельца или адрес записи (32 байта).
// Текстовое представление - base58.
type PublicKey [PublicKeyLength]byte

// ParsePublicKey разбирает base58-строку в PublicKey.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	return PublicKeyFromBytes(raw)
}

// PublicKeyFromBytes копирует срез длиной PublicKeyLength в PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeyLength {
		return pk, fmt.Errorf("%w: длина %d байт", ErrInvalidPublicKey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String возвращает base58-представление ключа.
func (k PublicKey) String() string {
	return base58.Encode(k[:])
}

// Bytes возвращает копию ключа в виде среза.
func (k PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeyLength)
	copy(b, k[:])
	return b
}

// IsZero сообщает, что ключ не задан.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// MarshalText реализует encoding.TextMarshaler (используется в JSON).
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	pk, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = pk
	return nil
}

// IsOnCurve сообщает, является ли b корректной сжатой точкой кривой edwards25519,
// то есть может ли b быть публичным ключом, для которого существует приватный.
func IsOnCurve(b []byte) bool {
	if len(b) != PublicKeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress вычисляет адрес sha256(seeds || programID || marker).
// Адрес, попадающий на кривую, отвергается с ErrOnCurve.
func CreateProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, error) {
	if len(seeds) > MaxSeeds {
		return PublicKey{}, ErrMaxSeedLength
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return PublicKey{}, ErrMaxSeedLength
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(derivedAddressMarker))

	var addr PublicKey
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr[:]) {
		return PublicKey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress ищет bump от 255 вниз, при котором адрес не лежит на кривой.
func FindProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return PublicKey{}, 0, ErrMaxSeedLength
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		switch {
		case err == nil:
			return addr, uint8(bump), nil
		case errors.Is(err, ErrOnCurve):
			continue
		default:
			return PublicKey{}, 0, err
		}
	}
	return PublicKey{}, 0, ErrNoViableBump
}

// Ошибки вычисления адресов.
var (
	ErrInvalidPublicKey = errors.New("некорректный публичный ключ")
	ErrMaxSeedLength    = errors.New("превышена длина или количество сидов")
	ErrOnCurve          = errors.New("производный адрес лежит на кривой ed25519")
	ErrNoViableBump     = errors.New("не найден bump для производного адреса")
	ErrAddressMismatch  = errors.New("bump не воспроизводит ожидаемый адрес")
)
