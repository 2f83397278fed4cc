// Package http 是帳本核心的 REST in-adapter。
// 僅負責 decode/encode 與錯誤映射，所有商業規則都在 usecase 層。
package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

type Server struct {
	engine *usecase.Engine
	query  *usecase.Query
	log    *zap.Logger
}

// NewServer 建立 REST adapter
func NewServer(engine *usecase.Engine, query *usecase.Query, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{engine: engine, query: query, log: log}
}

// ---- DTO ----

type createAccountRequest struct {
	Kind domain.AccountKind `json:"kind"`
}

type transactionRequest struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type transferRequest struct {
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

// transactionDTO 缺值的 from/to 直接省略，不輸出零值 UUID
type transactionDTO struct {
	ID          string          `json:"id"`
	Sequence    uint64          `json:"sequence"`
	Kind        string          `json:"kind"`
	From        *string         `json:"from_account,omitempty"`
	To          *string         `json:"to_account,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	InitiatedBy string          `json:"initiated_by"`
	Timestamp   time.Time       `json:"timestamp"`
}

func toTransactionDTO(t *domain.Transaction) transactionDTO {
	dto := transactionDTO{
		ID:          t.ID.String(),
		Sequence:    t.Sequence,
		Kind:        string(t.Kind),
		Amount:      t.Amount,
		Description: t.Description,
		InitiatedBy: t.InitiatedBy,
		Timestamp:   t.Timestamp,
	}
	if t.From != uuid.Nil {
		s := t.From.String()
		dto.From = &s
	}
	if t.To != uuid.Nil {
		s := t.To.String()
		dto.To = &s
	}
	return dto
}

// ---- Account handlers ----

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	p := principalFrom(r.Context())
	account, err := s.engine.CreateAccount(r.Context(), p.UserID, req.Kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	accounts, err := s.query.AccountsByOwner(r.Context(), p.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if accounts == nil {
		accounts = []*domain.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathUUID(w, r, "accountID")
	if !ok {
		return
	}
	p := principalFrom(r.Context())
	account, err := s.query.Account(r.Context(), p.UserID, accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathUUID(w, r, "accountID")
	if !ok {
		return
	}
	p := principalFrom(r.Context())
	balance, err := s.query.Balance(r.Context(), p.UserID, accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID.String(),
		"balance":    balance,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathUUID(w, r, "accountID")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	p := principalFrom(r.Context())
	history, err := s.query.History(r.Context(), p.UserID, accountID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]transactionDTO, 0, len(history))
	for _, tran := range history {
		dtos = append(dtos, toTransactionDTO(tran))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": dtos})
}

// ---- Transaction handlers ----

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid account_id")
		return
	}
	refID, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	p := principalFrom(r.Context())
	result, err := s.engine.Deposit(r.Context(), refID, p.UserID, accountID, req.Amount, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "deposit successful",
		"transaction":    toTransactionDTO(result.Transaction),
		"new_balance":    result.Balances[accountID],
		"transaction_id": result.Transaction.ID.String(),
	})
}

func (s *Server) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid account_id")
		return
	}
	refID, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	p := principalFrom(r.Context())
	result, err := s.engine.Withdraw(r.Context(), refID, p.UserID, accountID, req.Amount, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "withdrawal successful",
		"transaction":    toTransactionDTO(result.Transaction),
		"new_balance":    result.Balances[accountID],
		"transaction_id": result.Transaction.ID.String(),
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	from, err := uuid.Parse(req.FromAccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid from_account_id")
		return
	}
	to, err := uuid.Parse(req.ToAccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid to_account_id")
		return
	}
	refID, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	p := principalFrom(r.Context())
	result, err := s.engine.Transfer(r.Context(), refID, p.UserID, from, to, req.Amount, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":          "transfer successful",
		"transaction":      toTransactionDTO(result.Transaction),
		"new_from_balance": result.Balances[from],
		"new_to_balance":   result.Balances[to],
		"transaction_id":   result.Transaction.ID.String(),
	})
}

// ---- Admin handlers ----

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid window")
			return
		}
		window = parsed
	}
	stats, err := s.query.Stats(r.Context(), window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":  stats,
		"window": stats.Window.String(),
	})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathUUID(w, r, "accountID")
	if !ok {
		return
	}
	if err := s.engine.SetAccountActive(r.Context(), accountID, false); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "account deactivated"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	repair := r.URL.Query().Get("repair") == "true"
	diffs, err := s.query.Reconcile(r.Context(), repair)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if diffs == nil {
		diffs = []usecase.Discrepancy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"discrepancies": diffs,
		"repaired":      repair,
	})
}

// ---- helpers ----

func pathUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid "+key)
		return uuid.Nil, false
	}
	return id, true
}

// idempotencyKey 讀取重試用的冪等性鍵；沒帶時回傳 uuid.Nil (引擎自行產生)
func idempotencyKey(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(HeaderIdempotencyKey)
	if raw == "" {
		return uuid.Nil, true
	}
	key, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid idempotency key")
		return uuid.Nil, false
	}
	return key, true
}
