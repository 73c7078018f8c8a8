package httputil

import (
	"context"
	"net/http"
)

// Context key type to avoid collisions
type contextKey string

const (
	accountIDKey contextKey = "accountID"
)

// WithAccountID adds the authenticated account ID to the request context.
func WithAccountID(r *http.Request, accountID string) *http.Request {
	ctx := context.WithValue(r.Context(), accountIDKey, accountID)
	return r.WithContext(ctx)
}

// GetAccountID retrieves the account ID from context, empty if not set.
func GetAccountID(r *http.Request) string {
	accountID, _ := r.Context().Value(accountIDKey).(string)
	return accountID
}
