// Package api exposes the ledger and balance engine over HTTP.
//
// Amounts cross this boundary as shopspring/decimal in major units; the
// ledger underneath works in int64 minor units.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atmx/payment-ledger/internal/account"
	"github.com/atmx/payment-ledger/internal/balance"
	"github.com/atmx/payment-ledger/internal/journal"
	"github.com/atmx/payment-ledger/internal/ledger"
	"github.com/atmx/payment-ledger/internal/model"
	"github.com/atmx/payment-ledger/internal/money"
)

// Handlers serves the ledger and balance endpoints.
type Handlers struct {
	recorder *ledger.Service
	engine   *balance.Engine
	query    *balance.Query
	flusher  *balance.Flusher
	backfill *balance.Backfiller
	validate *validator.Validate
}

// NewHandlers wires the HTTP layer to the domain services.
func NewHandlers(recorder *ledger.Service, engine *balance.Engine, query *balance.Query, flusher *balance.Flusher, backfill *balance.Backfiller) *Handlers {
	return &Handlers{
		recorder: recorder,
		engine:   engine,
		query:    query,
		flusher:  flusher,
		backfill: backfill,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes mounts the API under r. hub may be nil.
func (h *Handlers) Routes(r chi.Router, hub *WSHub) {
	if hub != nil {
		// WebSocket endpoint for real-time balance updates.
		r.Get("/ws", hub.HandleWS)
	}
	r.Post("/ledger/record", h.RecordLedgerEntries)
	r.Post("/balances/apply", h.ApplyLedgerEntries)
	r.Post("/balances/flush", h.Flush)
	r.Post("/balances/backfill", h.Backfill)
	r.Get("/balances/{accountCode}", h.GetBalance)
}

// --- Request/Response types ---

// RecordResponse is the JSON body returned from POST /ledger/record.
type RecordResponse struct {
	Recorded int                 `json:"recorded"`
	Entries  []model.LedgerEntry `json:"entries"`
}

// ApplyRequest is the JSON body for POST /balances/apply.
type ApplyRequest struct {
	LedgerEntries []model.LedgerEntry `json:"ledger_entries" validate:"required,min=1"`
}

// ApplyResponse lists the per-account max entry ids that were applied.
type ApplyResponse struct {
	AppliedEntryIDs []int64 `json:"applied_entry_ids"`
}

// BalanceResponse is the JSON body for GET /balances/{accountCode}.
type BalanceResponse struct {
	AccountCode        string          `json:"account_code"`
	Currency           string          `json:"currency"`
	Balance            decimal.Decimal `json:"balance"`
	BalanceMinor       int64           `json:"balance_minor"`
	SnapshotBalance    decimal.Decimal `json:"snapshot_balance"`
	LastAppliedEntryID int64           `json:"last_applied_entry_id"`
}

// FlushResponse reports how many snapshots a flush wrote.
type FlushResponse struct {
	Flushed int `json:"flushed"`
}

// BackfillRequest is the JSON body for POST /balances/backfill. An empty
// body replays from the start of the ledger.
type BackfillRequest struct {
	AfterID int64 `json:"after_id" validate:"gte=0"`
}

// --- HTTP Handlers ---

// RecordLedgerEntries handles POST /api/v1/ledger/record
func (h *Handlers) RecordLedgerEntries(w http.ResponseWriter, r *http.Request) {
	var cmd ledger.RecordLedgerEntriesCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entries, err := h.recorder.RecordLedgerEntries(r.Context(), cmd)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidCommand) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "failed to record ledger entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	status := http.StatusOK
	if len(entries) > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, RecordResponse{Recorded: len(entries), Entries: entries})
}

// ApplyLedgerEntries handles POST /api/v1/balances/apply
// Folds already-persisted ledger entries into the balance cache, the same
// path the event consumer takes.
func (h *Handlers) ApplyLedgerEntries(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, "ledger_entries must not be empty", http.StatusBadRequest)
		return
	}
	for _, le := range req.LedgerEntries {
		if le.ID <= 0 {
			writeError(w, "ledger entry id must be positive", http.StatusBadRequest)
			return
		}
		if err := journal.Validate(le.JournalEntry); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	ids, err := h.engine.UpdateAccountBalancesBatch(r.Context(), req.LedgerEntries)
	if err != nil {
		writeError(w, "failed to apply balance updates", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, ApplyResponse{AppliedEntryIDs: ids})
}

// GetBalance handles GET /api/v1/balances/{accountCode}
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	code, err := account.Parse(chi.URLParam(r, "accountCode"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.query.RealTimeBalance(r.Context(), code.String())
	if err != nil {
		slog.Error("balance query failed", "account", code.String(), "err", err)
		writeError(w, "failed to load balance", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		AccountCode:        view.AccountCode,
		Currency:           code.Currency,
		Balance:            money.FromMinor(view.Balance, code.Currency),
		BalanceMinor:       view.Balance,
		SnapshotBalance:    money.FromMinor(view.SnapshotBalance, code.Currency),
		LastAppliedEntryID: view.LastAppliedEntryID,
	})
}

// Flush handles POST /api/v1/balances/flush
func (h *Handlers) Flush(w http.ResponseWriter, r *http.Request) {
	n, err := h.flusher.FlushOnce(r.Context())
	if err != nil {
		slog.Error("manual flush failed", "flushed", n, "err", err)
		writeError(w, "flush failed", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, FlushResponse{Flushed: n})
}

// Backfill handles POST /api/v1/balances/backfill
func (h *Handlers) Backfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.backfill.Backfill(r.Context(), req.AfterID)
	if err != nil {
		slog.Error("balance backfill failed", "after_id", req.AfterID, "last_entry_id", res.LastEntryID, "err", err)
		writeError(w, "backfill failed", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
