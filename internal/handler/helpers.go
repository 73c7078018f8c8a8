package handler

import (
	"errors"
	"net/http"

	"inkwell/internal/domain"
	"inkwell/internal/httputil"
	"inkwell/internal/session"
)

// handleError converts domain errors to HTTP responses.
func handleError(w http.ResponseWriter, err error) {
	var httpErr domain.HTTPError
	if errors.As(err, &httpErr) {
		httputil.RespondError(w, httpErr.StatusCode(), httpErr.Error())
		return
	}
	httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
}

// accountSession resolves the authenticated account's session, writing the
// error response itself when that fails.
func accountSession(w http.ResponseWriter, r *http.Request, sessions *session.Manager) (*session.Session, bool) {
	accountID := httputil.GetAccountID(r)
	if accountID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "missing account")
		return nil, false
	}
	s, err := sessions.Get(r.Context(), accountID)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, "failed to open session")
		return nil, false
	}
	return s, true
}
