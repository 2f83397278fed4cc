package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Router 組出 /api 路由
// 與前端 gateway 約定 CORS 全開，收斂交給部署層
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requirePrincipal)

			r.Post("/accounts", s.handleCreateAccount)
			r.Get("/accounts", s.handleListAccounts)
			r.Get("/accounts/{accountID}", s.handleGetAccount)
			r.Get("/accounts/{accountID}/balance", s.handleGetBalance)
			r.Get("/accounts/{accountID}/transactions", s.handleHistory)

			r.Post("/transactions/deposit", s.handleDeposit)
			r.Post("/transactions/withdrawal", s.handleWithdrawal)
			r.Post("/transactions/transfer", s.handleTransfer)
		})

		r.Group(func(r chi.Router) {
			r.Use(requirePrincipal, requireAdmin)

			r.Get("/admin/stats", s.handleStats)
			r.Post("/admin/accounts/{accountID}/deactivate", s.handleDeactivate)
			r.Post("/admin/reconcile", s.handleReconcile)
		})
	})

	return r
}
