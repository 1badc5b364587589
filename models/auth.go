package models

import "time"

// ChallengeResponse представляет тело ответа с одноразовым nonce для входа.
// Клиент подписывает байты nonce (hex) своим ключом ed25519.
type ChallengeResponse struct {
	ChallengeID string    `json:"challenge_id"`
	Nonce       string    `json:"nonce"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// LoginRequest представляет тело запроса на вход.
type LoginRequest struct {
	PublicKey   string `json:"public_key"`   // base58
	ChallengeID string `json:"challenge_id"` // из ChallengeResponse
	Signature   string `json:"signature"`    // hex, подпись ed25519 над nonce
}

// LoginResponse представляет тело ответа при успешном входе.
type LoginResponse struct {
	Token string `json:"token"`
}
