package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"papertrade/internal/engine"
	"papertrade/internal/httputil"
	"papertrade/internal/ledgerstore"
	"papertrade/internal/metrics"
	"papertrade/internal/pricing"
	"papertrade/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	engine         *engine.Service
	aggregator     *metrics.Aggregator
	store          ledgerstore.Store
	defaultCapital decimal.Decimal
	defaultProfile string
}

func NewHandler(eng *engine.Service, agg *metrics.Aggregator, store ledgerstore.Store, defaultCapital decimal.Decimal, defaultProfile string) *Handler {
	return &Handler{
		engine:         eng,
		aggregator:     agg,
		store:          store,
		defaultCapital: defaultCapital,
		defaultProfile: defaultProfile,
	}
}

// statusFor maps an engine failure to an HTTP status. The body always
// carries the engine's structured error message.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientShares):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type createPortfolioRequest struct {
	Name           string           `json:"name"`
	InitialCapital *decimal.Decimal `json:"initial_capital,omitempty"`
	BrokerProfile  string           `json:"broker_profile,omitempty"`
}

func (h *Handler) CreatePortfolio(w http.ResponseWriter, r *http.Request, userID string) {
	var req createPortfolioRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Name == "" {
		req.Name = "default"
	}
	capital := h.defaultCapital
	if req.InitialCapital != nil {
		capital = *req.InitialCapital
	}
	profile := h.defaultProfile
	if req.BrokerProfile != "" {
		profile = pricing.ProfileByKey(req.BrokerProfile).Key
	}
	pf, err := h.store.GetOrCreatePortfolio(r.Context(), userID, req.Name, capital, profile)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pf)
}

func (h *Handler) ListPortfolios(w http.ResponseWriter, r *http.Request, userID string) {
	out, err := h.store.ListPortfolios(r.Context(), userID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request, userID string) {
	pf, err := h.store.GetPortfolio(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ledgerstore.ErrNotFound) {
			status = http.StatusNotFound
		}
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pf)
}

func (h *Handler) PortfolioMetrics(w http.ResponseWriter, r *http.Request, userID string) {
	m, err := h.aggregator.ForPortfolio(r.Context(), chi.URLParam(r, "id"), userID, nil)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ledgerstore.ErrNotFound) {
			status = http.StatusNotFound
		}
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (h *Handler) Positions(w http.ResponseWriter, r *http.Request, userID string) {
	portfolioID := chi.URLParam(r, "id")
	if _, err := h.store.GetPortfolio(r.Context(), portfolioID, userID); err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "portfolio not found"})
		return
	}
	var (
		out any
		err error
	)
	if r.URL.Query().Get("status") == "closed" {
		out, err = h.store.ClosedPositions(r.Context(), portfolioID)
	} else {
		out, err = h.store.OpenPositions(r.Context(), portfolioID)
	}
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request, userID string) {
	portfolioID := chi.URLParam(r, "id")
	if _, err := h.store.GetPortfolio(r.Context(), portfolioID, userID); err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "portfolio not found"})
		return
	}
	out, err := h.store.Transactions(r.Context(), portfolioID, limitParam(r))
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) Fees(w http.ResponseWriter, r *http.Request, userID string) {
	portfolioID := chi.URLParam(r, "id")
	if _, err := h.store.GetPortfolio(r.Context(), portfolioID, userID); err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "portfolio not found"})
		return
	}
	totals, err := h.store.FeeTotals(r.Context(), portfolioID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	logs, err := h.store.FeeLogs(r.Context(), portfolioID, limitParam(r))
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"totals": totals, "logs": logs})
}

func (h *Handler) Snapshots(w http.ResponseWriter, r *http.Request, userID string) {
	portfolioID := chi.URLParam(r, "id")
	if _, err := h.store.GetPortfolio(r.Context(), portfolioID, userID); err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "portfolio not found"})
		return
	}
	out, err := h.store.Snapshots(r.Context(), portfolioID, limitParam(r))
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) PendingOrders(w http.ResponseWriter, r *http.Request, userID string) {
	portfolioID := chi.URLParam(r, "id")
	if _, err := h.store.GetPortfolio(r.Context(), portfolioID, userID); err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "portfolio not found"})
		return
	}
	out, err := h.store.PendingOrders(r.Context(), portfolioID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) ExecuteMarketOrder(w http.ResponseWriter, r *http.Request, userID string) {
	var req engine.OrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	req.UserID = userID
	res := h.engine.ExecuteMarketOrder(r.Context(), req)
	if !res.Success {
		httputil.WriteJSON(w, statusFor(res.Err), res)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) PlacePendingOrder(w http.ResponseWriter, r *http.Request, userID string) {
	var req engine.PendingOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	req.UserID = userID
	res := h.engine.PlacePendingOrder(r.Context(), req)
	if !res.Success {
		httputil.WriteJSON(w, statusFor(res.Err), res)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type closePositionRequest struct {
	CurrentPrice decimal.Decimal   `json:"current_price"`
	Reason       types.CloseReason `json:"reason,omitempty"`
}

func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request, userID string) {
	var req closePositionRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	res := h.engine.ClosePosition(r.Context(), chi.URLParam(r, "id"), userID, req.CurrentPrice, req.Reason)
	if !res.Success {
		httputil.WriteJSON(w, statusFor(res.Err), res)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type setCapitalRequest struct {
	Capital decimal.Decimal `json:"capital"`
}

func (h *Handler) SetInitialCapital(w http.ResponseWriter, r *http.Request, userID string) {
	var req setCapitalRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	res := h.engine.SetInitialCapital(r.Context(), chi.URLParam(r, "id"), userID, req.Capital)
	if !res.Success {
		httputil.WriteJSON(w, statusFor(res.Err), res)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) ResetPortfolio(w http.ResponseWriter, r *http.Request, userID string) {
	res := h.engine.ResetPortfolio(r.Context(), chi.URLParam(r, "id"), userID)
	if !res.Success {
		httputil.WriteJSON(w, statusFor(res.Err), res)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Profiles(w http.ResponseWriter, r *http.Request) {
	keys := pricing.ProfileKeys()
	out := make([]pricing.Profile, 0, len(keys))
	for _, k := range keys {
		out = append(out, pricing.ProfileByKey(k))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) RunOvernight(w http.ResponseWriter, r *http.Request) {
	h.engine.ProcessOvernightFees(r.Context())
	w.WriteHeader(http.StatusAccepted)
}
