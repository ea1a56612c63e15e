package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"coinfolio-go/internal/models"
	"coinfolio-go/internal/tracker"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log *zap.Logger
	svc *tracker.Service
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, svc *tracker.Service) *APIHandler {
	return &APIHandler{log: log, svc: svc}
}

// Routes mounts every API endpoint on a chi router.
func (h *APIHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/wallets", h.ListWallets)
		r.Post("/wallets", h.CreateWallet)
		r.Delete("/wallets/{id}", h.DeleteWallet)
		r.Get("/wallets/{id}/positions", h.Positions)
		r.Get("/wallets/{id}/summary", h.Summary)

		r.Get("/transactions", h.ListTransactions)
		r.Post("/transactions", h.CreateTransaction)
		r.Delete("/transactions/{id}", h.DeleteTransaction)
		r.Post("/transactions/import", h.ImportCSV)
		r.Get("/transactions/export", h.ExportCSV)
	})
	return r
}

func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (h *APIHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.svc.ListWallets()
	if err != nil {
		h.fail(w, "Failed to list wallets", err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallets)
}

func (h *APIHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		ParentID *uint  `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	wallet, err := h.svc.CreateWallet(req.Name, req.ParentID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusCreated, wallet)
}

func (h *APIHandler) DeleteWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteWallet(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) Positions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Positions(r.Context(), id)
	if err != nil {
		h.fail(w, "Failed to compute positions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.Summary(r.Context(), id)
	if err != nil {
		h.fail(w, "Failed to compute summary", err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *APIHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	walletID, err := h.queryWallet(r)
	if err != nil {
		http.Error(w, "Invalid wallet parameter", http.StatusBadRequest)
		return
	}
	txs, err := h.svc.ListTransactions(walletID)
	if err != nil {
		h.fail(w, "Failed to list transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

func (h *APIHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx models.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.AddTransaction(&tx); err != nil {
		if errors.Is(err, tracker.ErrDuplicate) {
			http.Error(w, "Duplicate transaction", http.StatusConflict)
			return
		}
		h.fail(w, "Failed to store transaction", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

func (h *APIHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteTransaction(id); err != nil {
		h.fail(w, "Failed to delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	walletID, err := h.queryWallet(r)
	if err != nil {
		http.Error(w, "Invalid wallet parameter", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing CSV file upload", http.StatusBadRequest)
		return
	}
	defer file.Close()

	summary, err := h.svc.ImportCSV(walletID, file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *APIHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	walletID, err := h.queryWallet(r)
	if err != nil {
		http.Error(w, "Invalid wallet parameter", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="transactions.csv"`)
	if err := h.svc.ExportCSV(w, walletID); err != nil {
		h.log.Error("Failed to export transactions", zap.Error(err))
	}
}

func (h *APIHandler) pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

// queryWallet parses the optional ?wallet= parameter.
func (h *APIHandler) queryWallet(r *http.Request) (*uint, error) {
	raw := r.URL.Query().Get("wallet")
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	walletID := uint(id)
	return &walletID, nil
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *APIHandler) fail(w http.ResponseWriter, msg string, err error) {
	h.log.Error(msg, zap.Error(err))
	http.Error(w, msg, http.StatusInternalServerError)
}
