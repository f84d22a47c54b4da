package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/library-borrowing/internal/model"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/service"
)

type contextKey string

const callerKey contextKey = "caller"

// Authenticator is the subset of the catalog used to resolve credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*model.Account, error)
}

// BasicAuth resolves HTTP basic credentials to an account and stores it in
// the request context. Requests without valid credentials get 401.
func BasicAuth(auth Authenticator, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				unauthorized(w, "authentication required")
				return
			}

			account, err := auth.Authenticate(r.Context(), username, password)
			if err != nil {
				if errors.Is(err, service.ErrInvalidCredentials) {
					unauthorized(w, err.Error())
					return
				}
				log.Error("authenticate", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), account)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="library", charset="UTF-8"`)
	writeError(w, http.StatusUnauthorized, msg)
}

// WithCaller returns a context carrying the authenticated account.
func WithCaller(ctx context.Context, a *model.Account) context.Context {
	return context.WithValue(ctx, callerKey, a)
}

// CallerFrom returns the authenticated account stored by BasicAuth.
func CallerFrom(ctx context.Context) (*model.Account, bool) {
	a, ok := ctx.Value(callerKey).(*model.Account)
	return a, ok && a != nil
}

// Logger writes one structured access log line per request.
func Logger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}

// CORS allows any origin. Fine for a demo; restrict in production.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
