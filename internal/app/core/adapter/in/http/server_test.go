package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/http"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

type apiFixture struct {
	handler http.Handler
	t       *testing.T
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ledger, err := memory.NewMemoryLedger(nil)
	require.NoError(t, err)
	guard := usecase.NewAccountGuard(ledger, 5*time.Second)
	engine := usecase.NewEngine(ledger, guard, nil)
	query := usecase.NewQuery(ledger, guard, nil)
	server := httpadapter.NewServer(engine, query, nil)
	return &apiFixture{handler: server.Router(), t: t}
}

type apiRequest struct {
	method  string
	path    string
	user    string
	role    string
	idemKey string
	body    any
}

func (f *apiFixture) do(req apiRequest) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if req.body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(req.body))
	}
	r := httptest.NewRequest(req.method, req.path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if req.user != "" {
		r.Header.Set(httpadapter.HeaderUserID, req.user)
	}
	if req.role != "" {
		r.Header.Set(httpadapter.HeaderUserRole, req.role)
	}
	if req.idemKey != "" {
		r.Header.Set(httpadapter.HeaderIdempotencyKey, req.idemKey)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func (f *apiFixture) createAccount(user string) string {
	f.t.Helper()
	w := f.do(apiRequest{
		method: http.MethodPost, path: "/api/accounts",
		user: user, body: map[string]any{"kind": "checking"},
	})
	require.Equal(f.t, http.StatusCreated, w.Code)
	return decode(f.t, w)["id"].(string)
}

func (f *apiFixture) deposit(user, accountID, amount string) *httptest.ResponseRecorder {
	f.t.Helper()
	return f.do(apiRequest{
		method: http.MethodPost, path: "/api/transactions/deposit", user: user,
		body: map[string]any{"account_id": accountID, "amount": amount, "description": "test"},
	})
}

func TestRequirePrincipal(t *testing.T) {
	f := newAPIFixture(t)

	// 沒有 gateway 解析的身分 header 一律 401
	w := f.do(apiRequest{method: http.MethodGet, path: "/api/accounts"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "unauthorized", decode(t, w)["error"])

	w = f.do(apiRequest{method: http.MethodGet, path: "/api/accounts", user: "alice"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreateAndGetAccount(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createAccount("alice")

	w := f.do(apiRequest{method: http.MethodGet, path: "/api/accounts/" + id, user: "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, id, body["id"])
	require.Equal(t, "alice", body["owner_id"])

	// 別人的帳戶看起來就像不存在
	w = f.do(apiRequest{method: http.MethodGet, path: "/api/accounts/" + id, user: "bob"})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "account_not_found", decode(t, w)["error"])

	// 無效的帳戶種類
	w = f.do(apiRequest{
		method: http.MethodPost, path: "/api/accounts",
		user: "alice", body: map[string]any{"kind": "crypto"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_account_kind", decode(t, w)["error"])
}

func TestDepositWithdrawFlow(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createAccount("alice")

	w := f.deposit("alice", id, "1000.00")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, "1000", body["new_balance"])
	require.NotEmpty(t, body["transaction_id"])

	w = f.do(apiRequest{
		method: http.MethodPost, path: "/api/transactions/withdrawal", user: "alice",
		body: map[string]any{"account_id": id, "amount": "300.00", "description": "rent"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "700", decode(t, w)["new_balance"])

	// 餘額不足
	w = f.do(apiRequest{
		method: http.MethodPost, path: "/api/transactions/withdrawal", user: "alice",
		body: map[string]any{"account_id": id, "amount": "50000.00", "description": "car"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "insufficient_funds", decode(t, w)["error"])

	// 餘額查詢反映最後一筆已提交的交易
	w = f.do(apiRequest{method: http.MethodGet, path: "/api/accounts/" + id + "/balance", user: "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "700", decode(t, w)["balance"])
}

func TestTransferFlow(t *testing.T) {
	f := newAPIFixture(t)
	from := f.createAccount("alice")
	to := f.createAccount("bob")
	require.Equal(t, http.StatusOK, f.deposit("alice", from, "700.00").Code)

	w := f.do(apiRequest{
		method: http.MethodPost, path: "/api/transactions/transfer", user: "alice",
		body: map[string]any{
			"from_account_id": from,
			"to_account_id":   to,
			"amount":          "250.00",
			"description":     "dinner split",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, "450", body["new_from_balance"])
	require.Equal(t, "250", body["new_to_balance"])

	tran := body["transaction"].(map[string]any)
	require.Equal(t, "transfer", tran["kind"])
	require.Equal(t, from, tran["from_account"])
	require.Equal(t, to, tran["to_account"])

	// 同一帳戶互轉
	w = f.do(apiRequest{
		method: http.MethodPost, path: "/api/transactions/transfer", user: "alice",
		body: map[string]any{
			"from_account_id": from, "to_account_id": from,
			"amount": "10.00", "description": "self",
		},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_transfer", decode(t, w)["error"])
}

func TestIdempotencyKeyReplay(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createAccount("alice")
	key := uuid.New().String()

	w1 := f.do(apiRequest{
		method: http.MethodPost, path: "/api/transactions/deposit", user: "alice", idemKey: key,
		body: map[string]any{"account_id": id, "amount": "100.00", "description": "paycheck"},
	})
	require.Equal(t, http.StatusOK, w1.Code)
	w2 := f.do(apiRequest{
		method: http.MethodPost, path: "/api/transactions/deposit", user: "alice", idemKey: key,
		body: map[string]any{"account_id": id, "amount": "100.00", "description": "paycheck"},
	})
	require.Equal(t, http.StatusOK, w2.Code)

	// 重送回到同一筆交易，餘額只套用一次
	body2 := decode(t, w2)
	require.Equal(t, decode(t, w1)["transaction_id"], body2["transaction_id"])
	require.Equal(t, "100", body2["new_balance"])

	// 同一個鍵配上不同金額是呼叫端錯誤，不得回傳舊紀錄
	w := f.do(apiRequest{
		method: http.MethodPost, path: "/api/transactions/deposit", user: "alice", idemKey: key,
		body: map[string]any{"account_id": id, "amount": "999.00", "description": "paycheck"},
	})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "idempotency_mismatch", decode(t, w)["error"])

	// 格式不對的冪等性鍵直接拒絕
	w = f.do(apiRequest{
		method: http.MethodPost, path: "/api/transactions/deposit", user: "alice", idemKey: "not-a-uuid",
		body: map[string]any{"account_id": id, "amount": "1.00", "description": "x"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createAccount("alice")
	require.Equal(t, http.StatusOK, f.deposit("alice", id, "10.00").Code)
	require.Equal(t, http.StatusOK, f.deposit("alice", id, "20.00").Code)

	w := f.do(apiRequest{method: http.MethodGet, path: "/api/accounts/" + id + "/transactions?limit=1", user: "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	trans := decode(t, w)["transactions"].([]any)
	require.Len(t, trans, 1)
	require.Equal(t, "20", trans[0].(map[string]any)["amount"])
}

func TestAdminRoutes(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createAccount("alice")

	// 非 admin 一律 403
	w := f.do(apiRequest{method: http.MethodGet, path: "/api/admin/stats", user: "alice"})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "forbidden", decode(t, w)["error"])

	w = f.do(apiRequest{method: http.MethodGet, path: "/api/admin/stats", user: "ops", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]any)
	require.Equal(t, float64(1), stats["total_accounts"])

	// 停用後帳戶不可再交易
	w = f.do(apiRequest{
		method: http.MethodPost, path: "/api/admin/accounts/" + id + "/deactivate",
		user: "ops", role: "admin",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, http.StatusNotFound, f.deposit("alice", id, "1.00").Code)

	// 乾淨帳本的對帳結果為空
	w = f.do(apiRequest{method: http.MethodPost, path: "/api/admin/reconcile", user: "ops", role: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Empty(t, body["discrepancies"])
	require.Equal(t, false, body["repaired"])
}
