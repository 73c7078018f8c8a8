package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"inkwell/internal/httputil"
)

// Recovery converts handler panics into 500 responses. A panic mid-write
// cannot be turned into a clean response, so the error body is best effort;
// the stack always makes it to the log either way.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					// The server uses this sentinel to abort SSE streams;
					// re-panic so net/http handles it normally.
					panic(v)
				}
				logger.Error("panic recovered",
					"panic", v,
					"method", r.Method,
					"path", r.URL.Path,
					"account_id", httputil.GetAccountID(r),
					"stack", string(debug.Stack()),
				)
				httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
