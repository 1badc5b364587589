package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/maynagashev/zerotrust/internal/address"
	"github.com/maynagashev/zerotrust/internal/token"
)

// Тип для ключа контекста.
type contextKey string

// OwnerKey ключ для хранения публичного ключа владельца в контексте.
const OwnerKey contextKey = "owner"

// Authenticator проверяет JWT токен и кладет в контекст ключ владельца из claim owner.
func Authenticator(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Получаем заголовок Authorization
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Println("[AuthMiddleware] Заголовок Authorization отсутствует")
				http.Error(w, "Требуется аутентификация", http.StatusUnauthorized)
				return
			}

			// Проверяем формат "Bearer token"
			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" || headerParts[1] == "" {
				log.Printf("[AuthMiddleware] Неверный формат заголовка Authorization: %s", authHeader)
				http.Error(w, "Неверный формат токена", http.StatusUnauthorized)
				return
			}

			owner, err := token.Parse(secret, headerParts[1])
			if err != nil {
				log.Printf("[AuthMiddleware] Ошибка валидации токена: %v", err)
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), OwnerKey, owner)
			log.Printf("[AuthMiddleware] Владелец %s успешно аутентифицирован", owner)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOwnerFromContext извлекает ключ владельца из контекста запроса.
// Возвращает ключ и true, если он найден, иначе нулевой ключ и false.
func GetOwnerFromContext(ctx context.Context) (address.PublicKey, bool) {
	owner, ok := ctx.Value(OwnerKey).(address.PublicKey)
	return owner, ok
}
