package handlers

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maynagashev/zerotrust/internal/address"
	"github.com/maynagashev/zerotrust/internal/middleware"
	"github.com/maynagashev/zerotrust/internal/record"
	"github.com/maynagashev/zerotrust/internal/services"
	"github.com/maynagashev/zerotrust/models"
)

// RecordHandler обрабатывает HTTP-запросы, связанные с записями владельцев.
type RecordHandler struct {
	recordService services.RecordService
}

// NewRecordHandler создает новый экземпляр RecordHandler.
func NewRecordHandler(rs services.RecordService) *RecordHandler {
	return &RecordHandler{recordService: rs}
}

// Put обрабатывает PUT запрос на создание или обновление записи.
// Отвечает 201 при создании и 200 при обновлении.
func (h *RecordHandler) Put(w http.ResponseWriter, r *http.Request) {
	signer, ok := middleware.GetOwnerFromContext(r.Context())
	if !ok {
		log.Printf("[RecordHandler:Put] Не удалось получить владельца из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	var req models.UpsertRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[RecordHandler:Put] Ошибка декодирования запроса: %v", err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	dataHash, err := parseDataHash(req.DataHash)
	if err != nil {
		log.Printf("[RecordHandler:Put] Некорректный хеш от %s: %v", signer, err)
		http.Error(w, "Хеш данных должен быть 32 байтами в hex", http.StatusBadRequest)
		return
	}
	target, err := parseTarget(req.Address)
	if err != nil {
		log.Printf("[RecordHandler:Put] Некорректный адрес '%s' от %s", req.Address, signer)
		http.Error(w, "Некорректный адрес", http.StatusBadRequest)
		return
	}

	log.Printf("[RecordHandler:Put] Запрос на запись от владельца %s", signer)

	rec, created, err := h.recordService.Upsert(r.Context(), signer, dataHash, req.URI, target)
	if err != nil {
		writeServiceError(w, err, "RecordHandler:Put")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, rec, "RecordHandler:Put")
}

// Get обрабатывает GET запрос на чтение записи.
// Без параметра address читается запись вызывающего.
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwnerFromContext(r.Context())
	if !ok {
		log.Printf("[RecordHandler:Get] Не удалось получить владельца из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	target, err := parseTarget(r.URL.Query().Get("address"))
	if err != nil {
		http.Error(w, "Некорректный адрес", http.StatusBadRequest)
		return
	}

	rec, err := h.recordService.Get(r.Context(), owner, target)
	if err != nil {
		writeServiceError(w, err, "RecordHandler:Get")
		return
	}
	writeJSON(w, http.StatusOK, rec, "RecordHandler:Get")
}

// Delete обрабатывает DELETE запрос на удаление записи.
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	signer, ok := middleware.GetOwnerFromContext(r.Context())
	if !ok {
		log.Printf("[RecordHandler:Delete] Не удалось получить владельца из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	target, err := parseTarget(r.URL.Query().Get("address"))
	if err != nil {
		http.Error(w, "Некорректный адрес", http.StatusBadRequest)
		return
	}

	log.Printf("[RecordHandler:Delete] Запрос на удаление от владельца %s", signer)

	deleted, err := h.recordService.Delete(r.Context(), signer, target)
	if err != nil {
		writeServiceError(w, err, "RecordHandler:Delete")
		return
	}
	writeJSON(w, http.StatusOK, deleted, "RecordHandler:Delete")
}

// Balance обрабатывает GET запрос на получение баланса депозитов.
func (h *RecordHandler) Balance(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwnerFromContext(r.Context())
	if !ok {
		log.Printf("[RecordHandler:Balance] Не удалось получить владельца из контекста")
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	lamports, err := h.recordService.Balance(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err, "RecordHandler:Balance")
		return
	}
	writeJSON(w, http.StatusOK, models.BalanceResponse{Owner: owner.String(), Lamports: lamports},
		"RecordHandler:Balance")
}

// Address обрабатывает публичный GET запрос на вычисление адреса записи.
func (h *RecordHandler) Address(w http.ResponseWriter, r *http.Request) {
	owner, err := address.ParsePublicKey(chi.URLParam(r, "owner"))
	if err != nil {
		log.Printf("[RecordHandler:Address] Некорректный ключ '%s'", chi.URLParam(r, "owner"))
		http.Error(w, "Некорректный публичный ключ", http.StatusBadRequest)
		return
	}

	derived, err := h.recordService.Address(owner)
	if err != nil {
		writeServiceError(w, err, "RecordHandler:Address")
		return
	}
	writeJSON(w, http.StatusOK, derived, "RecordHandler:Address")
}

func parseDataHash(s string) ([record.HashSize]byte, error) {
	var h [record.HashSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != record.HashSize {
		return h, errInvalidHashLength
	}
	copy(h[:], b)
	return h, nil
}

// parseTarget возвращает nil для пустой строки.
func parseTarget(s string) (*address.PublicKey, error) {
	if s == "" {
		return nil, nil //nolint:nilnil // отсутствие адреса не ошибка
	}
	addr, err := address.ParsePublicKey(s)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// writeServiceError переводит ошибки сервиса записей в HTTP статусы.
func writeServiceError(w http.ResponseWriter, err error, component string) {
	switch {
	case errors.Is(err, services.ErrNotAuthorized):
		http.Error(w, "Вызывающий не является владельцем записи", http.StatusForbidden)
	case errors.Is(err, services.ErrAddressMismatch):
		http.Error(w, "Адрес не соответствует владельцу", http.StatusConflict)
	case errors.Is(err, services.ErrConflict):
		http.Error(w, "Запись изменена параллельным запросом", http.StatusConflict)
	case errors.Is(err, services.ErrNotFound):
		http.Error(w, "Запись не найдена", http.StatusNotFound)
	case errors.Is(err, services.ErrCapacityExceeded):
		http.Error(w, "Запись не помещается в слот", http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrURITooLong):
		http.Error(w, "Ссылка слишком длинная", http.StatusBadRequest)
	default:
		log.Printf("[%s] Внутренняя ошибка: %v", component, err)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
	}
}

var errInvalidHashLength = errors.New("длина хеша не 32 байта")
