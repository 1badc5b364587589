package models

import "time"

// Account представляет слот хранения по производному адресу.
// Размер Space фиксируется при выделении, Data всегда имеет длину Space.
type Account struct {
	Address   string    `db:"address" json:"address"`   // base58 адрес слота
	Space     int       `db:"space" json:"space"`       // Размер данных в байтах
	Lamports  int64     `db:"lamports" json:"lamports"` // Депозит за хранение, возвращается при удалении
	Data      []byte    `db:"data" json:"data"`         // Закодированная запись
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Balance представляет чистый баланс депозитов идентичности:
// выделение слота списывает депозит, удаление возвращает его.
type Balance struct {
	Owner     string    `db:"owner" json:"owner"`
	Lamports  int64     `db:"lamports" json:"lamports"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
