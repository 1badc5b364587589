package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/maynagashev/zerotrust/internal/services"
	"github.com/maynagashev/zerotrust/models"
)

// AuthHandler обрабатывает HTTP-запросы, связанные с аутентификацией.
type AuthHandler struct {
	service services.AuthService // Зависимость от интерфейса, а не конкретной реализации
}

// NewAuthHandler создает новый экземпляр AuthHandler.
func NewAuthHandler(s services.AuthService) *AuthHandler {
	return &AuthHandler{service: s}
}

// Challenge выдает одноразовый nonce для подписи.
func (h *AuthHandler) Challenge(w http.ResponseWriter, _ *http.Request) {
	resp, err := h.service.Challenge()
	if err != nil {
		if errors.Is(err, services.ErrTooManyChallenges) {
			http.Error(w, "Слишком много запросов", http.StatusTooManyRequests)
			return
		}
		log.Printf("[AuthHandler] Ошибка выдачи challenge: %v", err)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, resp, "AuthHandler")
}

// Login обрабатывает запрос на вход по подписи nonce.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	// Декодируем JSON из тела запроса
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[AuthHandler] Ошибка декодирования запроса входа: %v", err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	// Валидация входных данных (простая)
	if req.PublicKey == "" || req.ChallengeID == "" || req.Signature == "" {
		log.Printf("[AuthHandler] Пустые поля в запросе входа")
		http.Error(w, "Ключ, challenge и подпись не могут быть пустыми", http.StatusBadRequest)
		return
	}

	log.Printf("[AuthHandler] Попытка входа ключа: %s", req.PublicKey)

	signed, err := h.service.Login(req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidPublicKey):
			http.Error(w, "Некорректный публичный ключ", http.StatusBadRequest)
		case errors.Is(err, services.ErrInvalidChallenge), errors.Is(err, services.ErrInvalidSignature):
			http.Error(w, "Неверная подпись или challenge", http.StatusUnauthorized)
		default:
			log.Printf("[AuthHandler] Внутренняя ошибка при входе %s: %v", req.PublicKey, err)
			http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{Token: signed}, "AuthHandler")
	log.Printf("[AuthHandler] Успешный вход для: %s", req.PublicKey)
}

// writeJSON отправляет v в JSON с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, v any, component string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Клиент уже получил статус, сложно что-то изменить
		log.Printf("[%s] Ошибка кодирования ответа: %v", component, err)
	}
}
