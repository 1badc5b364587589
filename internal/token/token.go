// Package token выпускает и проверяет JWT, идентифицирующие владельца по его ключу.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maynagashev/zerotrust/internal/address"
)

// Issuer источник токенов.
const Issuer = "zerotrust-server"

// Claims пользовательские данные в JWT.
type Claims struct {
	Owner string `json:"owner"` // base58 публичный ключ владельца
	jwt.RegisteredClaims
}

// Issue создает и подписывает HS256 токен для owner.
func Issue(secret []byte, owner address.PublicKey, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Owner: owner.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи JWT: %w", err)
	}
	return signed, nil
}

// Parse проверяет подпись и срок действия токена и возвращает ключ владельца.
func Parse(secret []byte, tokenString string) (address.PublicKey, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		// Убеждаемся, что метод подписи - HMAC
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return address.PublicKey{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return address.PublicKey{}, ErrInvalidToken
	}

	owner, err := address.ParsePublicKey(claims.Owner)
	if err != nil {
		return address.PublicKey{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return owner, nil
}

// ErrInvalidToken токен не прошел проверку.
var ErrInvalidToken = errors.New("невалидный токен")
