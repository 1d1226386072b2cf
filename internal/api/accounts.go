package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sheetflow/sheetflow/internal/auth"
	"github.com/sheetflow/sheetflow/internal/catalog"
	"github.com/sheetflow/sheetflow/internal/config"
)

type signupRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func handleSignup(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUTH_NOT_CONFIGURED", "account storage is not configured", false, nil)
		return
	}

	var req signupRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid signup request body", false, map[string]any{"details": err.Error()})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(r.Context(), w, http.StatusBadRequest, "EMAIL_INVALID", "a valid email is required", false, nil)
		return
	}

	hash, err := auth.HashPassword(req.Password, cfg.Auth.BcryptCost)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			writeError(r.Context(), w, http.StatusBadRequest, "PASSWORD_TOO_SHORT", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "PASSWORD_INVALID", err.Error(), false, nil)
		return
	}

	user, err := deps.Catalog.CreateUser(r.Context(), catalog.CreateUserInput{
		Email:        email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, catalog.ErrExists) {
			writeError(r.Context(), w, http.StatusConflict, "EMAIL_TAKEN", "an account with this email already exists", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to create account", true, map[string]any{"details": err.Error()})
		return
	}

	response := map[string]any{"user": userJSON(user)}
	if deps.Sessions != nil {
		token, expires, err := deps.Sessions.Issue(user.UserID, user.Email)
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_ERROR", "failed to issue session token", true, map[string]any{"details": err.Error()})
			return
		}
		response["token"] = token
		response["expires_at"] = expires
	}
	writeJSON(w, http.StatusCreated, response)
}

func handleSignin(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUTH_NOT_CONFIGURED", "account storage is not configured", false, nil)
		return
	}

	var req signinRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid signin request body", false, map[string]any{"details": err.Error()})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := deps.Catalog.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "email or password is incorrect", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load account", true, map[string]any{"details": err.Error()})
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(r.Context(), w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "email or password is incorrect", false, nil)
		return
	}

	response := map[string]any{"user": userJSON(user)}
	if deps.Sessions != nil {
		token, expires, err := deps.Sessions.Issue(user.UserID, user.Email)
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_ERROR", "failed to issue session token", true, map[string]any{"details": err.Error()})
			return
		}
		response["token"] = token
		response["expires_at"] = expires
	}
	writeJSON(w, http.StatusOK, response)
}

func handleSignout(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "signed_out"})
		return
	}
	token := auth.ExtractToken(r)
	if token == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TOKEN_REQUIRED", "a bearer token is required to sign out", false, nil)
		return
	}
	if err := deps.Sessions.Revoke(token); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "TOKEN_INVALID", "token could not be revoked", false, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "signed_out"})
}

func handleMe(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUTH_NOT_CONFIGURED", "account storage is not configured", false, nil)
		return
	}
	ownerID, err := ownerFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return
	}
	user, err := deps.Catalog.GetUserByID(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "USER_NOT_FOUND", "account was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load account", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userJSON(user)})
}

func userJSON(user catalog.User) map[string]any {
	return map[string]any{
		"user_id":      user.UserID,
		"email":        user.Email,
		"display_name": user.DisplayName,
		"created_at":   user.CreatedAt,
	}
}

// ownerFromRequest resolves the acting account. The session middleware puts an
// identity on the context; without a configured secret the X-User-ID header
// stands in, which keeps the dev and test profiles usable without tokens.
func ownerFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.UserID) != "" {
			return identity.UserID, nil
		}
	}
	ownerID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if ownerID == "" {
		return "", fmt.Errorf("user context is required")
	}
	return ownerID, nil
}
