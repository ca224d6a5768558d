package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"paklaw.com/paklaw-assist/internal/auth"
	"paklaw.com/paklaw-assist/internal/core"
	"paklaw.com/paklaw-assist/internal/logging"
)

type contextKey string

const (
	sessionIDKey   contextKey = "sessionID"
	coordinatorKey contextKey = "coordinator"
)

type APIHandler struct {
	chatService *core.ChatService
	tokens      *auth.TokenIssuer
	logger      *slog.Logger
}

func NewAPIHandler(cs *core.ChatService, tokens *auth.TokenIssuer) *APIHandler {
	return &APIHandler{
		chatService: cs,
		tokens:      tokens,
		logger:      logging.NewModuleLogger("api", "handlers"),
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := h.tokens.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		coordinator, err := h.chatService.Session(claims.SessionID)
		if err != nil {
			http.Error(w, "Session expired, please log in again", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionIDKey, claims.SessionID)
		ctx = context.WithValue(ctx, coordinatorKey, coordinator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) (string, *core.SessionCoordinator) {
	sid, _ := r.Context().Value(sessionIDKey).(string)
	c, _ := r.Context().Value(coordinatorKey).(*core.SessionCoordinator)
	return sid, c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	err := h.chatService.Register(r.Context(), auth.RegisterRequest{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrDuplicateEmail):
		http.Error(w, "Email already exists", http.StatusConflict)
	case err != nil:
		h.logger.Error("Failed to register user", "error", err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	sessionID, user, err := h.chatService.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.logger.Error("Login failed", "error", err)
		http.Error(w, "Failed to log in", http.StatusInternalServerError)
		return
	}

	token, err := h.tokens.GenerateJWT(user.Email, user.Username, sessionID)
	if err != nil {
		h.logger.Error("Failed to generate token", "email", user.Email, "error", err)
		_ = h.chatService.Logout(r.Context(), sessionID)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, Username: user.Username, Email: user.Email})
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionFrom(r)
	resp := map[string]string{"status": "logged_out"}
	if err := h.chatService.Logout(r.Context(), sid); err != nil {
		h.logger.Error("Logout did not save the open chat", "error", err)
		resp["warning"] = "Your last chat could not be saved."
	}
	writeJSON(w, http.StatusOK, resp)
}

type SessionResponse struct {
	Username string           `json:"username"`
	Email    string           `json:"email"`
	Session  core.SessionView `json:"session"`
}

func (h *APIHandler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	_, c := sessionFrom(r)
	writeJSON(w, http.StatusOK, SessionResponse{Username: c.Username(), Email: c.Email(), Session: c.Snapshot()})
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

type PostMessageResponse struct {
	Reply  core.Reply `json:"reply"`
	ChatID string     `json:"chat_id"`
	Title  string     `json:"title"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	_, c := sessionFrom(r)

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	reply, err := c.SendMessage(r.Context(), req.Content)
	if err != nil {
		h.writeSessionError(w, err, "Failed to post message")
		return
	}
	view := c.Snapshot()
	writeJSON(w, http.StatusOK, PostMessageResponse{Reply: reply, ChatID: view.ChatID, Title: view.Title})
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	_, c := sessionFrom(r)
	writeJSON(w, http.StatusOK, c.ListChats(r.URL.Query().Get("q")))
}

func (h *APIHandler) NewChatHandler(w http.ResponseWriter, r *http.Request) {
	_, c := sessionFrom(r)
	if err := c.NewChat(r.Context()); err != nil {
		h.writeSessionError(w, err, "Failed to save the current chat")
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (h *APIHandler) OpenChatHandler(w http.ResponseWriter, r *http.Request) {
	_, c := sessionFrom(r)
	chatID := chi.URLParam(r, "chatID")
	if err := c.SwitchChat(r.Context(), chatID); err != nil {
		h.writeSessionError(w, err, "Failed to open chat")
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active_sessions": h.chatService.ActiveSessions()})
}

func (h *APIHandler) writeSessionError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, core.ErrEmptyMessage):
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
	case errors.Is(err, core.ErrChatNotFound):
		http.Error(w, "Chat not found", http.StatusNotFound)
	case errors.Is(err, core.ErrSessionClosed):
		http.Error(w, "Session expired, please log in again", http.StatusUnauthorized)
	default:
		h.logger.Error(fallback, "error", err)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}
