// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/library-borrowing/internal/model"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LibraryHandler holds all HTTP handlers for the library API.
type LibraryHandler struct {
	ledger  *service.Ledger
	catalog *service.Catalog
	log     *zap.Logger
}

// NewLibraryHandler constructs a LibraryHandler.
func NewLibraryHandler(ledger *service.Ledger, catalog *service.Catalog, log *zap.Logger) *LibraryHandler {
	return &LibraryHandler{ledger: ledger, catalog: catalog, log: log}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps service errors to HTTP status codes.
func (h *LibraryHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, service.ErrPermission):
		writeError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrAlreadyDecided),
		errors.Is(err, service.ErrDuplicateAccount):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// mustCaller returns the authenticated account. Routes using it sit behind
// Authenticator, so a missing caller is a wiring bug.
func mustCaller(r *http.Request) *model.Account {
	a, ok := CallerFrom(r.Context())
	if !ok {
		panic("handler: route is missing the Authenticator middleware")
	}
	return a
}

// ─── Catalog ──────────────────────────────────────────────────────────────────

// ListBooks handles GET /books
func (h *LibraryHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.catalog.Books(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if books == nil {
		books = []model.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

// AddBook handles POST /librarian/books
func (h *LibraryHandler) AddBook(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	book, err := h.catalog.AddBook(r.Context(), mustCaller(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

// ListAccounts handles GET /accounts
func (h *LibraryHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.catalog.Accounts(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// CreateAccount handles POST /librarian/accounts
func (h *LibraryHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	account, err := h.catalog.CreateAccount(r.Context(), mustCaller(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// ─── Borrow requests ──────────────────────────────────────────────────────────

// SubmitBorrowRequest handles POST /borrow-requests
func (h *LibraryHandler) SubmitBorrowRequest(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitBorrowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	created, err := h.ledger.Submit(r.Context(), mustCaller(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListOwnBorrowRequests handles GET /borrow-requests
func (h *LibraryHandler) ListOwnBorrowRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.ledger.ListForAccount(r.Context(), mustCaller(r))
	h.writeBorrowRequests(w, r, reqs, err)
}

// ExportBorrowHistory handles GET /borrow-requests/export
func (h *LibraryHandler) ExportBorrowHistory(w http.ResponseWriter, r *http.Request) {
	out, err := h.ledger.ExportCSV(r.Context(), mustCaller(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="borrow_history.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// ListAllBorrowRequests handles GET /librarian/borrow-requests
func (h *LibraryHandler) ListAllBorrowRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.ledger.ListAll(r.Context(), mustCaller(r))
	h.writeBorrowRequests(w, r, reqs, err)
}

// AccountBorrowHistory handles GET /librarian/accounts/{id}/borrow-requests
func (h *LibraryHandler) AccountBorrowHistory(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.ledger.HistoryFor(r.Context(), mustCaller(r), chi.URLParam(r, "id"))
	h.writeBorrowRequests(w, r, reqs, err)
}

// DecideBorrowRequest handles POST /librarian/borrow-requests/{id}/decision
func (h *LibraryHandler) DecideBorrowRequest(w http.ResponseWriter, r *http.Request) {
	var req model.DecisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	decision, ok := model.ParseDecision(req.Action)
	if !ok {
		writeError(w, http.StatusBadRequest, "action must be approve or deny")
		return
	}

	decided, err := h.ledger.Decide(r.Context(), mustCaller(r), chi.URLParam(r, "id"), decision)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

func (h *LibraryHandler) writeBorrowRequests(w http.ResponseWriter, r *http.Request, reqs []model.BorrowRequest, err error) {
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []model.BorrowRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
