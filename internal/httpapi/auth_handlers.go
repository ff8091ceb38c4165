package httpapi

import (
	"errors"
	"net/http"
	"time"

	"posehub.org/internal/auth"
)

type loginRequest struct {
	Credential string `json:"credential"`
}

type sessionResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	PrincipalID      int64     `json:"principal_id"`
	DisplayName      string    `json:"display_name,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Credential == "" {
		writeError(w, http.StatusBadRequest, "credential is required")
		return
	}

	sess, err := a.sessions.Login(r.Context(), req.Credential, deviceInfo(r))
	if err != nil {
		if errors.Is(err, auth.ErrRateLimited) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many attempts")
			return
		}
		// Unknown credential and infrastructure trouble both read the same
		// from outside; details are in the audit trail.
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:      sess.AccessToken,
		AccessExpiresAt:  sess.AccessExpiresAt,
		RefreshToken:     sess.RefreshToken,
		RefreshExpiresAt: sess.RefreshExpiresAt,
		PrincipalID:      sess.Principal.ID,
		DisplayName:      sess.Principal.DisplayName,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	sess, err := a.sessions.Refresh(r.Context(), req.RefreshToken, deviceInfo(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:      sess.AccessToken,
		AccessExpiresAt:  sess.AccessExpiresAt,
		RefreshToken:     sess.RefreshToken,
		RefreshExpiresAt: sess.RefreshExpiresAt,
		PrincipalID:      sess.Principal.ID,
		DisplayName:      sess.Principal.DisplayName,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.sessions.Logout(r.Context(), token, req.RefreshToken, deviceInfo(r)); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	principalID, ok := auth.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := a.sessions.LogoutAll(r.Context(), principalID, deviceInfo(r)); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out_everywhere"})
}

type changeCredentialRequest struct {
	OldCredential string `json:"old_credential"`
	NewCredential string `json:"new_credential"`
}

func (a *API) handleChangeCredential(w http.ResponseWriter, r *http.Request) {
	principalID, ok := auth.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req changeCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := a.sessions.ChangeCredential(r.Context(), principalID, req.OldCredential, req.NewCredential, deviceInfo(r))
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "new credential too short")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "credential change failed")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "credential_changed"})
	}
}

type revokeRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

func (a *API) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.PrincipalIDFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "manual_revoke"
	}
	if err := a.sessions.RevokeAccessToken(r.Context(), req.Token, req.Reason, deviceInfo(r)); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}
