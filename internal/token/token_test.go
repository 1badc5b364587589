package token_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/zerotrust/internal/address"
	"github.com/maynagashev/zerotrust/internal/token"
)

var testSecret = []byte("test-secret")

func TestIssueParse(t *testing.T) {
	owner := address.PublicKey(bytes.Repeat([]byte{1}, 32))

	signed, err := token.Issue(testSecret, owner, time.Now(), time.Hour)
	require.NoError(t, err)

	parsed, err := token.Parse(testSecret, signed)
	require.NoError(t, err)
	assert.Equal(t, owner, parsed)
}

func TestParse_Errors(t *testing.T) {
	owner := address.PublicKey(bytes.Repeat([]byte{1}, 32))

	expired, err := token.Issue(testSecret, owner, time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)

	otherSecret, err := token.Issue([]byte("other"), owner, time.Now(), time.Hour)
	require.NoError(t, err)

	badOwner, err := jwt.NewWithClaims(jwt.SigningMethodHS256, token.Claims{
		Owner: "не ключ",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    token.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, token.Claims{
		Owner: owner.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "Истекший токен", token: expired},
		{name: "Чужой секрет", token: otherSecret},
		{name: "Некорректный владелец", token: badOwner},
		{name: "Чужой издатель", token: wrongIssuer},
		{name: "Мусор", token: "not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := token.Parse(testSecret, tt.token)
			require.ErrorIs(t, err, token.ErrInvalidToken)
		})
	}
}
