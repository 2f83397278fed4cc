package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// errorBody 對外的錯誤格式：穩定的 error kind 加上人可讀的訊息
// 不洩漏任何內部狀態
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: kind, Message: message})
}

// writeDomainError 將 domain 錯誤映射為 HTTP 狀態與穩定的 error kind
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, domain.ErrInvalidTransfer):
		writeError(w, http.StatusBadRequest, "invalid_transfer", err.Error())
	case errors.Is(err, domain.ErrInvalidAccountKind):
		writeError(w, http.StatusBadRequest, "invalid_account_kind", err.Error())
	case errors.Is(err, domain.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, domain.ErrIdempotencyMismatch):
		writeError(w, http.StatusConflict, "idempotency_mismatch", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusBadRequest, "insufficient_funds", err.Error())
	case errors.Is(err, domain.ErrLockTimeout):
		// 沒有任何異動發生，呼叫端可帶同一筆冪等性鍵 backoff 重試
		writeError(w, http.StatusConflict, "lock_timeout", err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "ledger store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
