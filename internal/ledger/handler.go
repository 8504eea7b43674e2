package ledger

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hassad/fund-engine/internal/model"
)

// Handler adapts the engine to HTTP. It is presentation glue: all rules
// live in the engine, the handler only decodes requests, resolves the
// current price for callers that did not supply one, and maps the engine's
// error taxonomy onto status codes.
type Handler struct {
	engine *Engine
}

// NewHandler creates the HTTP adapter for an engine.
func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

// --- Request types ---

// SetPriceRequest is the JSON body for PUT /api/v1/price.
type SetPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// CreateInvestorRequest is the JSON body for POST /api/v1/investors.
type CreateInvestorRequest struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	NationalID string `json:"national_id"`
	Notes      string `json:"notes"`
}

// DepositRequest is the JSON body for POST /api/v1/investors/{id}/deposit.
// A zero price_per_unit asks the handler to resolve the configured current
// price before calling the engine.
type DepositRequest struct {
	Units          decimal.Decimal `json:"units"`
	PricePerUnit   decimal.Decimal `json:"price_per_unit"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// LiquidateRequest is the JSON body for POST /api/v1/investors/{id}/liquidate.
type LiquidateRequest struct {
	Units          decimal.Decimal `json:"units"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// PayoutRequest is the JSON body for POST /api/v1/investors/{id}/payout.
type PayoutRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// --- Handlers ---

// GetPrice handles GET /api/v1/price
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	price, err := h.engine.CurrentUnitPrice(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"price": price})
}

// SetPrice handles PUT /api/v1/price
func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.engine.SetUnitPrice(r.Context(), req.Price); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"price": req.Price})
}

// CreateInvestor handles POST /api/v1/investors
func (h *Handler) CreateInvestor(w http.ResponseWriter, r *http.Request) {
	var req CreateInvestorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	inv, err := h.engine.CreateInvestor(r.Context(), CreateInvestorParams{
		Name:       req.Name,
		Phone:      req.Phone,
		Email:      req.Email,
		NationalID: req.NationalID,
		Notes:      req.Notes,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// ListInvestors handles GET /api/v1/investors
func (h *Handler) ListInvestors(w http.ResponseWriter, r *http.Request) {
	investors, err := h.engine.ListInvestors(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if investors == nil {
		investors = []model.Investor{}
	}
	writeJSON(w, http.StatusOK, investors)
}

// GetInvestor handles GET /api/v1/investors/{investorID}
func (h *Handler) GetInvestor(w http.ResponseWriter, r *http.Request) {
	inv, err := h.engine.InvestorState(r.Context(), chi.URLParam(r, "investorID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// GetTransactions handles GET /api/v1/investors/{investorID}/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.engine.TransactionHistory(r.Context(), chi.URLParam(r, "investorID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// Deposit handles POST /api/v1/investors/{investorID}/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	price := req.PricePerUnit
	if price.IsZero() {
		var err error
		price, err = h.engine.CurrentUnitPrice(r.Context())
		if err != nil {
			writeEngineError(w, err)
			return
		}
	}

	txn, err := h.engine.Deposit(r.Context(), DepositParams{
		InvestorID:     chi.URLParam(r, "investorID"),
		Units:          req.Units,
		PricePerUnit:   price,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// Liquidate handles POST /api/v1/investors/{investorID}/liquidate
func (h *Handler) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	price := req.CurrentPrice
	if price.IsZero() {
		var err error
		price, err = h.engine.CurrentUnitPrice(r.Context())
		if err != nil {
			writeEngineError(w, err)
			return
		}
	}

	txn, err := h.engine.Liquidate(r.Context(), LiquidateParams{
		InvestorID:     chi.URLParam(r, "investorID"),
		Units:          req.Units,
		CurrentPrice:   price,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// Payout handles POST /api/v1/investors/{investorID}/payout
func (h *Handler) Payout(w http.ResponseWriter, r *http.Request) {
	var req PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	txn, err := h.engine.RecordPayout(r.Context(), PayoutParams{
		InvestorID:     chi.URLParam(r, "investorID"),
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// GetSummary handles GET /api/v1/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.engine.FundSummary(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps the engine error taxonomy onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPriceNotConfigured):
		status = http.StatusNotFound
	case errors.Is(err, ErrInsufficientUnits), errors.Is(err, ErrConcurrencyConflict):
		status = http.StatusConflict
	case errors.Is(err, ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeError(w, err.Error(), status)
}
