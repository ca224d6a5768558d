package store

import (
	"fmt"
	"time"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func (m Message) Validate() error {
	if m.Role != RoleUser && m.Role != RoleBot {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	return nil
}

// StoredChat is the persisted form of one conversation. It is always
// replaced as a whole.
type StoredChat struct {
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Timestamp string    `json:"timestamp"` // ISO-8601
}

func (c StoredChat) Validate() error {
	for i, m := range c.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// ChatArchive maps chat id to chat for a single user.
type ChatArchive map[string]StoredChat

func (a ChatArchive) Validate() error {
	for id, chat := range a {
		if id == "" {
			return fmt.Errorf("chat with empty id")
		}
		if err := chat.Validate(); err != nil {
			return fmt.Errorf("chat %s: %w", id, err)
		}
	}
	return nil
}
