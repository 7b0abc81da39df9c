package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cardiavue.org/internal/audit"
	"cardiavue.org/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type grantsResponse struct {
	Role   auth.Role    `json:"role"`
	Grants []auth.Grant `json:"grants"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := a.authn.Login(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrAuthFailure):
		a.metrics.ObserveLogin("failure")
		a.audit(r, auth.Principal{}, "auth.login_failed", map[string]any{"username": req.Username})
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "incorrect username or password")
		return
	case errors.Is(err, auth.ErrUnavailable):
		a.metrics.ObserveLogin("unavailable")
		a.writeAuthError(w, r, err, "")
		return
	default:
		a.metrics.ObserveLogin("error")
		a.logger.ErrorContext(r.Context(), "login failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	a.metrics.ObserveLogin("success")
	a.audit(r, sess.Principal, "auth.login", map[string]any{"expires_at": sess.ExpiresAt})
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: sess.AccessToken,
		TokenType:   sess.TokenType,
		ExpiresAt:   sess.ExpiresAt,
	})
}

// logout keeps no server state; the client discards its token.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (a *API) me(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	writeJSON(w, http.StatusOK, p)
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	grants := a.policy.GrantsFor(p.Role)
	if grants == nil {
		grants = []auth.Grant{}
	}
	writeJSON(w, http.StatusOK, grantsResponse{Role: p.Role, Grants: grants})
}

func (a *API) audit(r *http.Request, actor auth.Principal, event string, fields map[string]any) {
	if err := audit.LogEvent(r.Context(), a.logger, actor, event, fields); err != nil {
		a.logger.WarnContext(r.Context(), "audit log failed", slog.String("error", err.Error()))
	}
}
