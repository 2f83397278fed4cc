package http

import (
	"context"
	"net/http"
)

// 身分驗證由外部 gateway 負責；這裡只信任 gateway 解析完放進 header 的結果
const (
	HeaderUserID         = "X-User-ID"
	HeaderUserRole       = "X-User-Role"
	HeaderIdempotencyKey = "X-Idempotency-Key"

	roleAdmin = "admin"
)

type ctxKey int

const principalKey ctxKey = iota

// Principal 已解析的呼叫者身分
type Principal struct {
	UserID string
	Role   string
}

// principalFrom 取出 request 上的 Principal
func principalFrom(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey).(Principal)
	return p
}

// requirePrincipal 要求 request 帶有已解析的使用者身分
func requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing resolved principal")
			return
		}
		p := Principal{UserID: userID, Role: r.Header.Get(HeaderUserRole)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

// requireAdmin 管理路由限定
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principalFrom(r.Context()).Role != roleAdmin {
			writeError(w, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
