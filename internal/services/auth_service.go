package services

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/zerotrust/internal/address"
	"github.com/maynagashev/zerotrust/internal/token"
	"github.com/maynagashev/zerotrust/models"
)

// AuthService определяет интерфейс для сервиса аутентификации по ключу ed25519.
type AuthService interface {
	// Challenge выдает одноразовый nonce, который клиент должен подписать.
	Challenge() (*models.ChallengeResponse, error)
	// Login проверяет подпись nonce и возвращает JWT токен владельца ключа.
	Login(req models.LoginRequest) (string, error)
}

// Параметры аутентификации.
const (
	ChallengeTTL = 5 * time.Minute
	TokenTTL     = 24 * time.Hour // Время жизни токена - 24 часа
	NonceSize    = 32

	maxPendingChallenges = 10000
)

type challenge struct {
	nonce     []byte
	expiresAt time.Time
}

// Убедимся, что authService удовлетворяет интерфейсу AuthService.
var _ AuthService = (*authService)(nil)

type authService struct {
	secret []byte
	now    func() time.Time

	mu         sync.Mutex
	challenges map[string]challenge
}

// AuthOption настраивает сервис аутентификации.
type AuthOption func(*authService)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) AuthOption {
	return func(s *authService) { s.now = now }
}

// NewAuthService создает новый экземпляр сервиса аутентификации.
func NewAuthService(jwtSecret []byte, opts ...AuthOption) AuthService {
	s := &authService{
		secret:     jwtSecret,
		now:        time.Now,
		challenges: make(map[string]challenge),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Challenge генерирует nonce и запоминает его до истечения ChallengeTTL.
func (s *authService) Challenge() (*models.ChallengeResponse, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		log.Printf("[AuthService] Ошибка генерации nonce: %v", err)
		return nil, errors.New("внутренняя ошибка сервера при генерации nonce")
	}

	now := s.now()
	id := uuid.NewString()
	expiresAt := now.Add(ChallengeTTL)

	s.mu.Lock()
	s.sweep(now)
	if len(s.challenges) >= maxPendingChallenges {
		s.mu.Unlock()
		log.Printf("[AuthService] Превышено число ожидающих challenge: %d", maxPendingChallenges)
		return nil, ErrTooManyChallenges
	}
	s.challenges[id] = challenge{nonce: nonce, expiresAt: expiresAt}
	s.mu.Unlock()

	return &models.ChallengeResponse{
		ChallengeID: id,
		Nonce:       hex.EncodeToString(nonce),
		ExpiresAt:   expiresAt,
	}, nil
}

// Login проверяет подпись и выдает токен. Challenge расходуется при любом исходе.
func (s *authService) Login(req models.LoginRequest) (string, error) {
	now := s.now()
	s.mu.Lock()
	ch, ok := s.challenges[req.ChallengeID]
	delete(s.challenges, req.ChallengeID)
	s.mu.Unlock()

	owner, err := address.ParsePublicKey(req.PublicKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	signature, err := hex.DecodeString(req.Signature)
	if err != nil || len(signature) != ed25519.SignatureSize {
		log.Printf("[AuthService] Некорректная подпись от %s", owner)
		return "", ErrInvalidSignature
	}

	if !ok || !now.Before(ch.expiresAt) {
		log.Printf("[AuthService] Неизвестный или истекший challenge '%s' от %s", req.ChallengeID, owner)
		return "", ErrInvalidChallenge
	}

	if !ed25519.Verify(ed25519.PublicKey(owner.Bytes()), ch.nonce, signature) {
		log.Printf("[AuthService] Подпись %s не прошла проверку", owner)
		return "", ErrInvalidSignature
	}

	signed, err := token.Issue(s.secret, owner, now, TokenTTL)
	if err != nil {
		log.Printf("[AuthService] Ошибка генерации JWT для %s: %v", owner, err)
		return "", errors.New("внутренняя ошибка сервера при генерации токена")
	}

	log.Printf("[AuthService] Ключ %s успешно аутентифицирован", owner)
	return signed, nil
}

// sweep удаляет истекшие challenge. Вызывается под s.mu.
func (s *authService) sweep(now time.Time) {
	for id, ch := range s.challenges {
		if !now.Before(ch.expiresAt) {
			delete(s.challenges, id)
		}
	}
}

// Кастомные ошибки аутентификации.
var (
	ErrInvalidPublicKey  = errors.New("некорректный публичный ключ")
	ErrInvalidSignature  = errors.New("неверная подпись")
	ErrInvalidChallenge  = errors.New("challenge не найден или истек")
	ErrTooManyChallenges = errors.New("слишком много ожидающих challenge")
)
