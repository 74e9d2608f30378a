// Package middleware provides HTTP middleware for the nimbusgen server.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/nimbusgen/internal/errors"
	"github.com/3leaps/nimbusgen/internal/observability"
)

// Recovery turns a handler panic into a 500 INTERNAL_ERROR envelope and logs
// the stack. http.ErrAbortHandler is re-raised so net/http can abort the
// connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			requestID := apperrors.RequestIDFromContext(r.Context())
			observability.CLILogger.Error("Panic serving request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))

			env := apperrors.NewEnvelope(r.Context(), apperrors.CodeInternal, fmt.Sprintf("panic: %v", rec), nil)
			writeErrorResponse(w, env, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func writeErrorResponse(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	apperrors.WriteError(w, status, env)
}
