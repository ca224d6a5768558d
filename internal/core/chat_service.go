package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"paklaw.com/paklaw-assist/internal/auth"
	"paklaw.com/paklaw-assist/internal/logging"
	"paklaw.com/paklaw-assist/internal/store"
)

var ErrSessionNotFound = errors.New("session not found")

// Authenticator registers and verifies users.
type Authenticator interface {
	Register(ctx context.Context, req auth.RegisterRequest) error
	Authenticate(ctx context.Context, email, password string) (*store.User, error)
}

type activeSession struct {
	coordinator *SessionCoordinator
	lastSeen    time.Time
}

// ChatService keeps one SessionCoordinator per login. Sessions idle longer
// than idleTimeout are flushed and dropped on the next login.
type ChatService struct {
	users       Authenticator
	chats       ChatStore
	router      *Router
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*activeSession
	now      func() time.Time
	logger   *slog.Logger
}

func NewChatService(users Authenticator, chats ChatStore, router *Router, idleTimeout time.Duration) *ChatService {
	return &ChatService{
		users:       users,
		chats:       chats,
		router:      router,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*activeSession),
		now:         time.Now,
		logger:      logging.NewModuleLogger("core", "chat_service"),
	}
}

func (s *ChatService) Register(ctx context.Context, req auth.RegisterRequest) error {
	if err := s.users.Register(ctx, req); err != nil {
		return err
	}
	s.logger.Info("Registered user", "email", auth.NormalizeEmail(req.Email))
	return nil
}

// Login verifies the credentials and opens a new session for the user.
func (s *ChatService) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	user, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	s.evictIdle(ctx)

	sessionID := uuid.NewString()
	coordinator := NewSessionCoordinator(ctx, s.chats, s.router, user.Email, user.Username)

	s.mu.Lock()
	s.sessions[sessionID] = &activeSession{coordinator: coordinator, lastSeen: s.now()}
	s.mu.Unlock()
	return sessionID, user, nil
}

// Session returns the coordinator of a live session.
func (s *ChatService) Session(sessionID string) (*SessionCoordinator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	active.lastSeen = s.now()
	return active.coordinator, nil
}

// Logout flushes and removes the session. The session is gone even when
// the final save fails.
func (s *ChatService) Logout(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	active, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	if err := active.coordinator.Logout(ctx); err != nil {
		return fmt.Errorf("logged out but the open chat was not saved: %w", err)
	}
	return nil
}

// Shutdown logs out every live session.
func (s *ChatService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*activeSession)
	s.mu.Unlock()

	for id, active := range sessions {
		if err := active.coordinator.Logout(ctx); err != nil {
			s.logger.Error("Failed to save chat on shutdown", "session_id", id, "email", active.coordinator.Email(), "error", err)
		}
	}
}

func (s *ChatService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *ChatService) evictIdle(ctx context.Context) {
	if s.idleTimeout <= 0 {
		return
	}
	cutoff := s.now().Add(-s.idleTimeout)

	s.mu.Lock()
	var expired []*activeSession
	for id, active := range s.sessions {
		if active.lastSeen.Before(cutoff) {
			expired = append(expired, active)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, active := range expired {
		if err := active.coordinator.Logout(ctx); err != nil {
			s.logger.Error("Failed to save idle session", "email", active.coordinator.Email(), "error", err)
		}
	}
	if len(expired) > 0 {
		s.logger.Info("Evicted idle sessions", "count", len(expired))
	}
}
