package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-replay/internal/auth"
	"github.com/ukydev/fleet-replay/internal/middleware"
	"github.com/ukydev/fleet-replay/internal/models"
)

// Authenticator checks credentials and issues tokens
type Authenticator interface {
	Login(username, password string) (*models.LoginResponse, error)
}

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService Authenticator
	logger      logrus.FieldLogger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService Authenticator, logger logrus.FieldLogger) *AuthHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthHandler{authService: authService, logger: logger}
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var loginReq models.LoginRequest
	if err := json.Unmarshal(body, &loginReq); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if loginReq.Username == "" || loginReq.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	resp, err := h.authService.Login(loginReq.Username, loginReq.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.WithField("username", loginReq.Username).Info("Failed login attempt")
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		h.logger.WithError(err).Error("Failed to issue token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Me returns the claims of the authenticated caller
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
