package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"paklaw.com/paklaw-assist/internal/logging"
	"paklaw.com/paklaw-assist/internal/store"
)

// timestampLayout is RFC 3339 with a fixed nine-digit fraction, so stored
// timestamps also order correctly as strings.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	ErrChatNotFound  = errors.New("chat not found")
	ErrSessionClosed = errors.New("session has been logged out")
)

// ChatStore persists the chat archive of each user. LoadArchive swallows
// read failures; ReadArchive reports them.
type ChatStore interface {
	LoadArchive(ctx context.Context, email string) store.ChatArchive
	ReadArchive(ctx context.Context, email string) (store.ChatArchive, error)
	SaveArchive(ctx context.Context, email string, archive store.ChatArchive) error
}

type ChatSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"`
	Messages  int    `json:"messages"`
}

// SessionView is a copy of the open chat, safe to hand to callers.
type SessionView struct {
	ChatID   string          `json:"chat_id,omitempty"`
	Title    string          `json:"title,omitempty"`
	Started  bool            `json:"started"`
	Messages []store.Message `json:"messages"`
	Memory   Memory          `json:"memory"`
}

// SessionCoordinator owns one logged-in user's open chat and archive. Every
// transition that leaves the current chat flushes it to the store first.
type SessionCoordinator struct {
	mu       sync.Mutex
	email    string
	username string
	chats    ChatStore
	router   *Router
	session  *ConversationSession
	archive  store.ChatArchive
	closed   bool
	now      func() time.Time
	logger   *slog.Logger
}

// NewSessionCoordinator logs a user in: the archive is loaded and an empty
// session is opened.
func NewSessionCoordinator(ctx context.Context, chats ChatStore, router *Router, email, username string) *SessionCoordinator {
	c := &SessionCoordinator{
		email:    email,
		username: username,
		chats:    chats,
		router:   router,
		session:  NewConversationSession(),
		archive:  chats.LoadArchive(ctx, email),
		now:      time.Now,
		logger:   logging.NewModuleLogger("core", "session"),
	}
	c.logger.Info("User logged in", "email", email, "stored_chats", len(c.archive))
	return c
}

func (c *SessionCoordinator) Email() string    { return c.email }
func (c *SessionCoordinator) Username() string { return c.username }

// SendMessage routes one user message and persists the chat afterwards. A
// failed save is logged; the reply is still returned.
func (c *SessionCoordinator) SendMessage(ctx context.Context, input string) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Reply{}, ErrSessionClosed
	}

	reply, err := c.router.Route(ctx, input, c.session)
	if err != nil {
		return Reply{}, err
	}
	if err := c.flush(ctx); err != nil {
		c.logger.Error("Failed to save chat after turn", "email", c.email, "chat_id", c.session.ChatID, "error", err)
	}
	return reply, nil
}

// NewChat saves the open chat and starts an empty one.
func (c *SessionCoordinator) NewChat(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}

	if err := c.flush(ctx); err != nil {
		return err
	}
	c.session.reset()
	return nil
}

// SwitchChat saves the open chat and resumes chatID from the archive.
func (c *SessionCoordinator) SwitchChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}

	if err := c.flush(ctx); err != nil {
		return err
	}
	chat, ok := c.archive[chatID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	c.session.resume(chatID, chat)
	c.router.RebuildMemory(c.session)
	c.logger.Info("Switched chat", "email", c.email, "chat_id", chatID, "messages", len(chat.Messages))
	return nil
}

// Logout saves the open chat and ends the session. The session is closed
// even when the save fails; the error is returned for reporting.
func (c *SessionCoordinator) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	err := c.flush(ctx)
	c.closed = true
	c.session.reset()
	c.archive = nil
	c.logger.Info("User logged out", "email", c.email)
	return err
}

// ListChats returns stored chats newest first, optionally filtered by a
// case-insensitive title substring.
func (c *SessionCoordinator) ListChats(query string) []ChatSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]ChatSummary, 0, len(c.archive))
	for id, chat := range c.archive {
		if query != "" && !strings.Contains(strings.ToLower(chat.Title), query) {
			continue
		}
		out = append(out, ChatSummary{ID: id, Title: chat.Title, Timestamp: chat.Timestamp, Messages: len(chat.Messages)})
	}
	sort.Slice(out, func(i, j int) bool {
		ti, ei := time.Parse(time.RFC3339Nano, out[i].Timestamp)
		tj, ej := time.Parse(time.RFC3339Nano, out[j].Timestamp)
		if ei == nil && ej == nil && !ti.Equal(tj) {
			return ti.After(tj)
		}
		if (ei == nil) != (ej == nil) {
			return ei == nil
		}
		if ei != nil && out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *SessionCoordinator) Snapshot() SessionView {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionView{
		ChatID:   c.session.ChatID,
		Title:    c.session.Title,
		Started:  c.session.Started,
		Messages: append([]store.Message{}, c.session.Messages...),
		Memory:   c.session.Memory.Clone(),
	}
}

// flush writes the open chat into the archive and saves it. Chats saved by
// other sessions of the same user since login are merged in first; when the
// stored archive cannot be read nothing is written.
func (c *SessionCoordinator) flush(ctx context.Context) error {
	if c.session.IsEmpty() || c.session.ChatID == "" {
		return nil
	}

	merged, err := c.chats.ReadArchive(ctx, c.email)
	if err != nil {
		return fmt.Errorf("failed to reload chats before saving %s: %w", c.session.ChatID, err)
	}
	for id, chat := range c.archive {
		if _, ok := merged[id]; !ok {
			merged[id] = chat
		}
	}
	merged[c.session.ChatID] = store.StoredChat{
		Title:     c.session.Title,
		Messages:  append([]store.Message{}, c.session.Messages...),
		Timestamp: c.now().UTC().Format(timestampLayout),
	}

	if err := c.chats.SaveArchive(ctx, c.email, merged); err != nil {
		return fmt.Errorf("failed to save chat %s: %w", c.session.ChatID, err)
	}
	c.archive = merged
	return nil
}
