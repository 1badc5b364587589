// Package record описывает запись владельца и ее бинарную раскладку в слоте хранения.
//
// Раскладка:
//
//	[0:8]    дискриминатор (заголовок слота)
//	[8:40]   owner
//	[40:72]  data_hash
//	[72:76]  длина uri, little-endian uint32
//	[76:76+n] uri
//	[76+n]   bump
//
// Байты после записи заполнены нулями: слот выделяется один раз и не меняет размер.
package record

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/maynagashev/zerotrust/internal/address"
)

const (
	// HeaderSize размер заголовка слота, зарезервированного перед полями записи.
	HeaderSize = 8
	// HashSize размер хеша целостности.
	HashSize = 32

	uriLenSize = 4
	bumpSize   = 1

	// FixedSize размер записи без байтов uri.
	FixedSize = HeaderSize + address.PublicKeyLength + HashSize + uriLenSize + bumpSize
)

// Discriminator первые 8 байт sha256("account:UserRecord").
var Discriminator = discriminator("UserRecord") //nolint:gochecknoglobals // вычисляется один раз

func discriminator(name string) [HeaderSize]byte {
	var d [HeaderSize]byte
	sum := sha256.Sum256([]byte("account:" + name))
	copy(d[:], sum[:HeaderSize])
	return d
}

// Record запись владельца.
type Record struct {
	Owner    address.PublicKey
	DataHash [HashSize]byte
	URI      string
	Bump     uint8
}

// Space возвращает размер слота, точно вмещающего запись с uri длиной uriLen.
func Space(uriLen int) int {
	return FixedSize + uriLen
}

// EncodedSize размер закодированной записи без выравнивания.
func (r *Record) EncodedSize() int {
	return Space(len(r.URI))
}

// Encode кодирует запись в буфер ровно space байт.
// Если запись не помещается, возвращается ErrCapacityExceeded.
func Encode(r *Record, space int) ([]byte, error) {
	need := r.EncodedSize()
	if need > space {
		return nil, fmt.Errorf("%w: нужно %d байт, выделено %d", ErrCapacityExceeded, need, space)
	}

	buf := make([]byte, space)
	off := copy(buf, Discriminator[:])
	off += copy(buf[off:], r.Owner[:])
	off += copy(buf[off:], r.DataHash[:])
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.URI))) //nolint:gosec // длина ограничена space
	off += uriLenSize
	off += copy(buf[off:], r.URI)
	buf[off] = r.Bump
	return buf, nil
}

// Decode разбирает запись из данных слота.
func Decode(data []byte) (*Record, error) {
	if len(data) < FixedSize {
		return nil, fmt.Errorf("%w: %d байт меньше минимума %d", ErrCorrupted, len(data), FixedSize)
	}
	if [HeaderSize]byte(data[:HeaderSize]) != Discriminator {
		return nil, ErrDiscriminatorMismatch
	}

	r := &Record{}
	off := HeaderSize
	off += copy(r.Owner[:], data[off:])
	off += copy(r.DataHash[:], data[off:])
	uriLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += uriLenSize
	if uriLen > len(data)-off-bumpSize {
		return nil, fmt.Errorf("%w: длина uri %d выходит за пределы слота", ErrCorrupted, uriLen)
	}
	r.URI = string(data[off : off+uriLen])
	off += uriLen
	r.Bump = data[off]
	return r, nil
}

// Ошибки кодирования записи.
var (
	ErrCapacityExceeded      = errors.New("запись не помещается в выделенный слот")
	ErrDiscriminatorMismatch = errors.New("данные слота не являются записью владельца")
	ErrCorrupted             = errors.New("данные записи повреждены")
)
