package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite driver

	"paklaw.com/paklaw-assist/internal/logging"
)

var ErrDuplicateEmail = errors.New("email already registered")

// chatSchemaVersion is written with every chat row; rows with another
// version are skipped on load.
const chatSchemaVersion = 1

type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	if !strings.Contains(dataSourceName, "?") {
		dataSourceName += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logging.NewModuleLogger("store", "sqlite")}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT NOT NULL,
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chats (
        email TEXT NOT NULL,
        chat_id TEXT NOT NULL,
        title TEXT NOT NULL,
        messages_json TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        schema_version INTEGER NOT NULL,
        PRIMARY KEY (email, chat_id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, "SELECT id, username, email, password_hash, created_at FROM users WHERE email = ?", email).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO users (username, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		username, email, passwordHash, time.Now().UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(ctx, id)
}

func (s *SQLiteStore) getUserByID(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, "SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// Chat archive methods

// LoadArchive returns every stored chat of email. A failed read is logged
// and yields an empty archive.
func (s *SQLiteStore) LoadArchive(ctx context.Context, email string) ChatArchive {
	archive, err := s.ReadArchive(ctx, email)
	if err != nil {
		s.logger.Error("Failed to load chat archive, continuing with no prior chats", "email", email, "error", err)
		return make(ChatArchive)
	}
	return archive
}

// ReadArchive returns every readable chat of email. Corrupt rows and rows
// of another schema version are logged and skipped; they stay in the table.
func (s *SQLiteStore) ReadArchive(ctx context.Context, email string) (ChatArchive, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT chat_id, title, messages_json, timestamp, schema_version FROM chats WHERE email = ?", email)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	archive := make(ChatArchive)
	for rows.Next() {
		var (
			chatID, messagesJSON string
			chat                 StoredChat
			version              int
		)
		if err := rows.Scan(&chatID, &chat.Title, &messagesJSON, &chat.Timestamp, &version); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		if err := decodeChatRow(&chat, messagesJSON, version); err != nil {
			s.logger.Warn("Skipping unreadable chat row", "email", email, "chat_id", chatID, "error", err)
			continue
		}
		archive[chatID] = chat
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat rows: %w", err)
	}
	return archive, nil
}

func decodeChatRow(chat *StoredChat, messagesJSON string, version int) error {
	if version != chatSchemaVersion {
		return fmt.Errorf("unsupported schema version %d", version)
	}
	if err := json.Unmarshal([]byte(messagesJSON), &chat.Messages); err != nil {
		return fmt.Errorf("malformed messages: %w", err)
	}
	return chat.Validate()
}

// SaveArchive makes archive the stored chats of email inside one
// transaction. Readable rows missing from archive are deleted; rows that
// ReadArchive skips are left in place. Other users' rows are never touched.
func (s *SQLiteStore) SaveArchive(ctx context.Context, email string, archive ChatArchive) error {
	if err := archive.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid archive: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stale, err := s.staleChatIDs(ctx, tx, email, archive)
	if err != nil {
		return err
	}
	for _, chatID := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE email = ? AND chat_id = ?", email, chatID); err != nil {
			return fmt.Errorf("failed to delete chat %s: %w", chatID, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chats (email, chat_id, title, messages_json, timestamp, schema_version) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email, chat_id) DO UPDATE SET title = excluded.title, messages_json = excluded.messages_json,
		timestamp = excluded.timestamp, schema_version = excluded.schema_version`)
	if err != nil {
		return fmt.Errorf("failed to prepare chat insert: %w", err)
	}
	defer stmt.Close()

	for chatID, chat := range archive {
		messages := chat.Messages
		if messages == nil {
			messages = []Message{}
		}
		messagesJSON, err := json.Marshal(messages)
		if err != nil {
			return fmt.Errorf("failed to marshal messages for chat %s: %w", chatID, err)
		}
		if _, err := stmt.ExecContext(ctx, email, chatID, chat.Title, string(messagesJSON), chat.Timestamp, chatSchemaVersion); err != nil {
			return fmt.Errorf("failed to upsert chat %s: %w", chatID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chats: %w", err)
	}
	return nil
}

// staleChatIDs lists readable rows of email that archive no longer holds.
func (s *SQLiteStore) staleChatIDs(ctx context.Context, tx *sql.Tx, email string, archive ChatArchive) ([]string, error) {
	rows, err := tx.QueryContext(ctx, "SELECT chat_id, messages_json, schema_version FROM chats WHERE email = ?", email)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing chats: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var (
			chatID, messagesJSON string
			version              int
		)
		if err := rows.Scan(&chatID, &messagesJSON, &version); err != nil {
			return nil, fmt.Errorf("failed to scan existing chat: %w", err)
		}
		if _, kept := archive[chatID]; kept {
			continue
		}
		var chat StoredChat
		if err := decodeChatRow(&chat, messagesJSON, version); err != nil {
			s.logger.Warn("Keeping unreadable chat row", "email", email, "chat_id", chatID, "error", err)
			continue
		}
		stale = append(stale, chatID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate existing chats: %w", err)
	}
	return stale, nil
}
