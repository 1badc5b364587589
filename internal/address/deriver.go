package address

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultNamespace тег пространства имен записей пользователей.
	DefaultNamespace = "user"
	// BumpCacheSize максимальное число запомненных bump.
	BumpCacheSize = 4096
)

// Deriver вычисляет адреса записей владельцев в пределах одной программы и
// одного пространства имен. Bump существующих записей запоминается через
// Remember, для них адрес пересчитывается одним хешем без поиска.
type Deriver struct {
	programID PublicKey
	namespace []byte
	bumps     *lru.Cache[PublicKey, uint8]
}

// NewDeriver создает Deriver для programID и namespace.
func NewDeriver(programID PublicKey, namespace string) (*Deriver, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if len(namespace) > MaxSeedLength {
		return nil, fmt.Errorf("пространство имен '%s': %w", namespace, ErrMaxSeedLength)
	}
	bumps, err := lru.New[PublicKey, uint8](BumpCacheSize)
	if err != nil {
		return nil, fmt.Errorf("кеш bump: %w", err)
	}
	return &Deriver{
		programID: programID,
		namespace: []byte(namespace),
		bumps:     bumps,
	}, nil
}

// ProgramID возвращает идентификатор программы, к которой привязаны адреса.
func (d *Deriver) ProgramID() PublicKey {
	return d.programID
}

// Namespace возвращает тег пространства имен.
func (d *Deriver) Namespace() string {
	return string(d.namespace)
}

func (d *Deriver) seeds(owner PublicKey) [][]byte {
	return [][]byte{d.namespace, owner[:]}
}

// Find выполняет поиск канонического bump для owner.
func (d *Deriver) Find(owner PublicKey) (PublicKey, uint8, error) {
	addr, bump, err := FindProgramAddress(d.seeds(owner), d.programID)
	if err != nil {
		return PublicKey{}, 0, fmt.Errorf("поиск адреса для %s: %w", owner, err)
	}
	return addr, bump, nil
}

// Derive возвращает адрес и bump для owner. Если bump запомнен,
// поиск не выполняется. Сам Derive кеш не пополняет.
func (d *Deriver) Derive(owner PublicKey) (PublicKey, uint8, error) {
	if bump, ok := d.bumps.Get(owner); ok {
		addr, err := d.create(owner, bump)
		if err == nil {
			return addr, bump, nil
		}
		d.bumps.Remove(owner)
	}
	return d.Find(owner)
}

// Remember запоминает bump записи owner. Вызывается только для записей,
// которые созданы или прочитаны из хранилища и прошли Verify.
func (d *Deriver) Remember(owner PublicKey, bump uint8) {
	d.bumps.Add(owner, bump)
}

// Remembered возвращает число запомненных bump.
func (d *Deriver) Remembered() int {
	return d.bumps.Len()
}

// Verify проверяет, что bump воспроизводит expected для owner (один хеш, без поиска).
func (d *Deriver) Verify(owner PublicKey, bump uint8, expected PublicKey) error {
	addr, err := d.create(owner, bump)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAddressMismatch, err)
	}
	if addr != expected {
		return ErrAddressMismatch
	}
	return nil
}

func (d *Deriver) create(owner PublicKey, bump uint8) (PublicKey, error) {
	return CreateProgramAddress(append(d.seeds(owner), []byte{bump}), d.programID)
}
