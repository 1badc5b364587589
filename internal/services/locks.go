package services

import (
	"sync"

	"github.com/maynagashev/zerotrust/internal/address"
)

const lockStripes = 64

// addressLocks сериализует операции над одним адресом: загрузка, проверка и запись
// выполняются под одним мьютексом. Разные адреса попадают в разные полосы
// (адрес - выход sha256, первый байт распределен равномерно).
type addressLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *addressLocks) lock(addr address.PublicKey) func() {
	m := &l.stripes[int(addr[0])%lockStripes]
	m.Lock()
	return m.Unlock
}
