package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter builds the full HTTP surface.
func NewRouter(h *LibraryHandler, auth Authenticator, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log
	r.Use(CORS)                    // permissive CORS for demo

	r.Get("/health", HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(BasicAuth(auth, log))

		r.Get("/books", h.ListBooks)
		r.Get("/accounts", h.ListAccounts)

		r.Route("/borrow-requests", func(r chi.Router) {
			r.Post("/", h.SubmitBorrowRequest)
			r.Get("/", h.ListOwnBorrowRequests)
			r.Get("/export", h.ExportBorrowHistory)
		})

		r.Route("/librarian", func(r chi.Router) {
			r.Post("/books", h.AddBook)
			r.Post("/accounts", h.CreateAccount)
			r.Get("/accounts/{id}/borrow-requests", h.AccountBorrowHistory)
			r.Get("/borrow-requests", h.ListAllBorrowRequests)
			r.Post("/borrow-requests/{id}/decision", h.DecideBorrowRequest)
		})
	})

	return r
}
