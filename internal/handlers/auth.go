package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pliu/sealedchat/internal/apperr"
	"github.com/pliu/sealedchat/internal/auth"
	"github.com/pliu/sealedchat/internal/chat"
	"github.com/pliu/sealedchat/internal/middleware"
	"github.com/pliu/sealedchat/internal/models"
	"github.com/pliu/sealedchat/internal/store"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthHandler struct {
	Store  store.Store
	Keys   *chat.Keys
	Signer *auth.Signer
	Logger *slog.Logger
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" || creds.Password == "" {
		writeError(w, h.Logger, r, apperr.InvalidInput("username and password are required"))
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}

	user := &models.User{Username: creds.Username, Password: string(hashedPassword)}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			writeError(w, h.Logger, r, apperr.StorageUnavailable(err))
			return
		}
		h.Logger.Info("signup rejected", "username", creds.Username, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"success":false,"error":"username already exists"}`))
		return
	}

	h.Logger.Info("user signed up", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

// Login verifies credentials, makes sure the user holds an encryption
// key and sets the signed session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}

	user, err := h.Store.GetUserByUsername(r.Context(), creds.Username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			writeError(w, h.Logger, r, apperr.StorageUnavailable(err))
			return
		}
		writeError(w, h.Logger, r, apperr.New(apperr.CodeUnauthenticated, "invalid credentials"))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password)); err != nil {
		writeError(w, h.Logger, r, apperr.New(apperr.CodeUnauthenticated, "invalid credentials"))
		return
	}

	user, err = h.Keys.EnsureUserKey(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    h.Signer.Sign(user.ID),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	// Also setting a username cookie for frontend convenience
	http.SetCookie(w, &http.Cookie{
		Name:  "username",
		Value: user.Username,
		Path:  "/",
	})

	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// SearchUsers returns users matching ?q=, excluding the caller. Keys of
// other users are never returned.
func (h *AuthHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusOK, map[string]any{"users": []models.User{}})
		return
	}

	users, err := h.Store.SearchUsers(r.Context(), query)
	if err != nil {
		writeError(w, h.Logger, r, apperr.StorageUnavailable(err))
		return
	}

	self := middleware.UserID(r.Context())
	found := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID == self {
			continue
		}
		u.EncryptionKey = ""
		found = append(found, u)
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": found})
}
