package httpserver

import (
	"net/http"

	"papertrade/internal/httputil"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	Handler       *Handler
	WSHandler     http.Handler
	JWTSecret     []byte
	InternalToken string
}

// authed adapts a user-scoped handler to http.HandlerFunc, rejecting
// requests whose context carries no authenticated user.
func authed(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, userID)
	}
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS middleware for development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ws", d.WSHandler.ServeHTTP)
		r.Get("/profiles", d.Handler.Profiles)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.JWTSecret))

			r.Post("/portfolios", authed(d.Handler.CreatePortfolio))
			r.Get("/portfolios", authed(d.Handler.ListPortfolios))
			r.Get("/portfolios/{id}", authed(d.Handler.GetPortfolio))
			r.Get("/portfolios/{id}/metrics", authed(d.Handler.PortfolioMetrics))
			r.Get("/portfolios/{id}/positions", authed(d.Handler.Positions))
			r.Get("/portfolios/{id}/transactions", authed(d.Handler.Transactions))
			r.Get("/portfolios/{id}/fees", authed(d.Handler.Fees))
			r.Get("/portfolios/{id}/snapshots", authed(d.Handler.Snapshots))
			r.Get("/portfolios/{id}/orders", authed(d.Handler.PendingOrders))
			r.Post("/portfolios/{id}/capital", authed(d.Handler.SetInitialCapital))
			r.Post("/portfolios/{id}/reset", authed(d.Handler.ResetPortfolio))

			r.Post("/orders/market", authed(d.Handler.ExecuteMarketOrder))
			r.Post("/orders", authed(d.Handler.PlacePendingOrder))
			r.Post("/positions/{id}/close", authed(d.Handler.ClosePosition))
		})

		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/internal/overnight", d.Handler.RunOvernight)
		})
	})

	return r
}
