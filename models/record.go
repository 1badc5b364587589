package models

import "time"

// Record представляет запись владельца вместе с параметрами ее слота.
// Сами данные хранятся вне системы, здесь только хеш и ссылка.
type Record struct {
	Address   string    `json:"address"`   // Производный адрес слота (base58)
	Owner     string    `json:"owner"`     // Публичный ключ владельца (base58)
	DataHash  string    `json:"data_hash"` // Хеш данных, 32 байта в hex
	URI       string    `json:"uri"`       // Ссылка на данные
	Bump      uint8     `json:"bump"`
	Space     int       `json:"space"`    // Размер слота в байтах
	Lamports  int64     `json:"lamports"` // Депозит слота
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertRecordRequest представляет тело запроса на создание или обновление записи.
// Address необязателен: без него используется адрес, производный от ключа вызывающего.
type UpsertRecordRequest struct {
	DataHash string `json:"data_hash"`
	URI      string `json:"uri"`
	Address  string `json:"address,omitempty"`
}

// DeletedRecord представляет результат удаления записи.
type DeletedRecord struct {
	Address  string `json:"address"`
	Refunded int64  `json:"refunded"` // Возвращенный владельцу депозит
}

// DerivedAddress представляет производный адрес записи владельца.
type DerivedAddress struct {
	Owner   string `json:"owner"`
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
}

// BalanceResponse представляет чистый баланс депозитов владельца.
type BalanceResponse struct {
	Owner    string `json:"owner"`
	Lamports int64  `json:"lamports"`
}
