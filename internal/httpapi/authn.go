package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cardiavue.org/internal/auth"
)

const msgUnauthenticated = "could not validate credentials"

// protectedHandler runs after the gate has allowed the request.
type protectedHandler func(w http.ResponseWriter, r *http.Request, p auth.Principal)

// guard admits the request only if the bearer principal may perform act on res.
func (a *API) guard(res auth.Resource, act auth.Action, next protectedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := a.gate.Check(r.Context(), r.Header.Get("Authorization"), res, act)
		if err != nil {
			a.writeAuthError(w, r, err, fmt.Sprintf("not enough permissions to %s %s", act, res))
			return
		}
		next(w, r, p)
	}
}

// authenticated admits any active principal.
func (a *API) authenticated(next protectedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := a.gate.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			a.writeAuthError(w, r, err, "not enough permissions")
			return
		}
		next(w, r, p)
	}
}

func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, err error, forbidden string) {
	switch {
	case errors.Is(err, auth.ErrUnavailable):
		a.logger.ErrorContext(r.Context(), "credential store unavailable",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()))
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, forbidden)
	default:
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, msgUnauthenticated)
	}
}
