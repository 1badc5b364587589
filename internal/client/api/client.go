// Package api реализует HTTP клиент сервера записей.
package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/maynagashev/zerotrust/models"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// Client определяет интерфейс для взаимодействия с API сервера записей.
type Client interface {
	// Challenge запрашивает одноразовый nonce для входа.
	Challenge(ctx context.Context) (*models.ChallengeResponse, error)
	// Login обменивает подписанный nonce на JWT токен и сохраняет его.
	Login(ctx context.Context, req models.LoginRequest) (string, error)
	// Address вычисляет адрес записи владельца.
	Address(ctx context.Context, owner string) (*models.DerivedAddress, error)
	// PutRecord создает или обновляет запись. Второе значение true при создании.
	PutRecord(ctx context.Context, req models.UpsertRecordRequest) (*models.Record, bool, error)
	// GetRecord читает запись по адресу; пустой адрес означает свою запись.
	GetRecord(ctx context.Context, address string) (*models.Record, error)
	// DeleteRecord удаляет запись; пустой адрес означает свою запись.
	DeleteRecord(ctx context.Context, address string) (*models.DeletedRecord, error)
	// Balance возвращает баланс депозитов текущего владельца.
	Balance(ctx context.Context) (*models.BalanceResponse, error)
	// SetAuthToken устанавливает JWT токен для аутентифицированных запросов.
	SetAuthToken(token string)
}

// httpClient реализует интерфейс Client для взаимодействия с сервером по HTTP.
type httpClient struct {
	baseURL    string       // Базовый URL сервера, например "https://localhost:8443"
	httpClient *http.Client // HTTP клиент для выполнения запросов
	authToken  string       // JWT токен для аутентифицированных запросов
}

// NewHTTPClient создает новый экземпляр API клиента.
func NewHTTPClient(baseURL string) Client {
	return &httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *httpClient) SetAuthToken(token string) {
	c.authToken = token
}

func (c *httpClient) Challenge(ctx context.Context) (*models.ChallengeResponse, error) {
	var resp models.ChallengeResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/auth/challenge", nil, false, nil, &resp); err != nil {
		return nil, fmt.Errorf("ошибка получения challenge: %w", err)
	}
	return &resp, nil
}

func (c *httpClient) Login(ctx context.Context, req models.LoginRequest) (string, error) {
	var resp models.LoginResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, false, req, &resp); err != nil {
		return "", fmt.Errorf("ошибка входа: %w", err)
	}
	if resp.Token == "" {
		return "", errors.New("сервер вернул пустой токен")
	}

	// Сохраняем токен в клиенте для последующих запросов
	c.authToken = resp.Token
	return resp.Token, nil
}

func (c *httpClient) Address(ctx context.Context, owner string) (*models.DerivedAddress, error) {
	var resp models.DerivedAddress
	path := "/api/address/" + url.PathEscape(owner)
	if _, err := c.do(ctx, http.MethodGet, path, nil, false, nil, &resp); err != nil {
		return nil, fmt.Errorf("ошибка вычисления адреса: %w", err)
	}
	return &resp, nil
}

func (c *httpClient) PutRecord(ctx context.Context, req models.UpsertRecordRequest) (*models.Record, bool, error) {
	var resp models.Record
	status, err := c.do(ctx, http.MethodPut, "/api/record", nil, true, req, &resp)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка записи: %w", err)
	}
	return &resp, status == http.StatusCreated, nil
}

func (c *httpClient) GetRecord(ctx context.Context, address string) (*models.Record, error) {
	var resp models.Record
	if _, err := c.do(ctx, http.MethodGet, "/api/record", addressQuery(address), true, nil, &resp); err != nil {
		return nil, fmt.Errorf("ошибка чтения записи: %w", err)
	}
	return &resp, nil
}

func (c *httpClient) DeleteRecord(ctx context.Context, address string) (*models.DeletedRecord, error) {
	var resp models.DeletedRecord
	if _, err := c.do(ctx, http.MethodDelete, "/api/record", addressQuery(address), true, nil, &resp); err != nil {
		return nil, fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return &resp, nil
}

func (c *httpClient) Balance(ctx context.Context) (*models.BalanceResponse, error) {
	var resp models.BalanceResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/balance", nil, true, nil, &resp); err != nil {
		return nil, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return &resp, nil
}

// Authenticate выполняет вход: запрашивает nonce, подписывает его ключом и получает токен.
func Authenticate(ctx context.Context, c Client, key ed25519.PrivateKey) (string, error) {
	ch, err := c.Challenge(ctx)
	if err != nil {
		return "", err
	}
	nonce, err := hex.DecodeString(ch.Nonce)
	if err != nil {
		return "", fmt.Errorf("сервер вернул некорректный nonce: %w", err)
	}
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return "", errors.New("ключ не является ключом ed25519")
	}
	return c.Login(ctx, models.LoginRequest{
		PublicKey:   base58.Encode(pub),
		ChallengeID: ch.ChallengeID,
		Signature:   hex.EncodeToString(ed25519.Sign(key, nonce)),
	})
}

func addressQuery(address string) url.Values {
	if address == "" {
		return nil
	}
	return url.Values{"address": []string{address}}
}

// do выполняет запрос с JSON телом и декодирует JSON ответ в out.
// Возвращает код ответа; ответы вне 2xx превращаются в *StatusError.
func (c *httpClient) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	auth bool,
	body, out any,
) (int, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("ошибка кодирования запроса: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if c.authToken == "" {
			return 0, ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out != nil {
		if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("ошибка декодирования ответа: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// StatusError ответ сервера с кодом вне 2xx.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("статус %d", e.Code)
	}
	return fmt.Sprintf("статус %d: %s", e.Code, e.Message)
}

// Is сопоставляет код ответа с ошибками пакета.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrAuthorization:
		return e.Code == http.StatusUnauthorized
	case ErrForbidden:
		return e.Code == http.StatusForbidden
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrConflict:
		return e.Code == http.StatusConflict
	case ErrCapacityExceeded:
		return e.Code == http.StatusUnprocessableEntity
	}
	return false
}

// Ошибки клиента.
var (
	ErrAuthorization    = errors.New("ошибка авторизации")
	ErrForbidden        = errors.New("запись принадлежит другому владельцу")
	ErrNotFound         = errors.New("не найдено")
	ErrConflict         = errors.New("адрес не соответствует владельцу")
	ErrCapacityExceeded = errors.New("запись не помещается в слот")
	ErrNoToken          = errors.New("токен аутентификации отсутствует, выполните login")
)
