package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"paklaw.com/paklaw-assist/internal/logging"
)

const documentVersion = 1

var errMalformedDocument = errors.New("malformed chat document")

// chatDocument is the on-disk layout of FileStore.
type chatDocument struct {
	Version int                    `json:"version"`
	Users   map[string]ChatArchive `json:"users"`
}

// FileStore keeps every user's chats in a single JSON document. Saves are
// read-modify-write over the whole document, serialized within this process
// only; separate processes sharing the file can still lose updates.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, logger: logging.NewModuleLogger("store", "file")}
}

func (s *FileStore) LoadArchive(ctx context.Context, email string) ChatArchive {
	archive, err := s.ReadArchive(ctx, email)
	if err != nil {
		s.logger.Error("Failed to read chat document, continuing with no prior chats", "path", s.path, "error", err)
		return make(ChatArchive)
	}
	return archive
}

// ReadArchive returns the chats of email. A document whose content cannot be
// parsed reads as empty, since SaveArchive sets it aside before writing; a
// failure to read the file at all is returned.
func (s *FileStore) ReadArchive(_ context.Context, email string) (ChatArchive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument()
	if errors.Is(err, errMalformedDocument) {
		s.logger.Warn("Chat document unreadable, it will be set aside on the next save", "path", s.path, "error", err)
		return make(ChatArchive), nil
	}
	if err != nil {
		return nil, err
	}
	archive := doc.Users[email]
	if archive == nil {
		return make(ChatArchive), nil
	}
	return archive, nil
}

func (s *FileStore) SaveArchive(_ context.Context, email string, archive ChatArchive) error {
	if err := archive.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid archive: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument()
	if err != nil {
		// keep the unreadable document for recovery instead of overwriting it
		backup := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UnixNano())
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			return fmt.Errorf("failed to set aside unreadable chat document: %w", renameErr)
		}
		s.logger.Error("Chat document unreadable, moved aside", "path", s.path, "backup", backup, "error", err)
		doc = chatDocument{Version: documentVersion, Users: map[string]ChatArchive{}}
	}

	doc.Users[email] = archive
	return s.writeDocument(doc)
}

// readDocument accepts the versioned layout and the legacy unversioned
// {email: {chat_id: chat}} layout. A missing file is an empty document.
func (s *FileStore) readDocument() (chatDocument, error) {
	empty := chatDocument{Version: documentVersion, Users: map[string]ChatArchive{}}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return empty, nil
		}
		return empty, err
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return empty, fmt.Errorf("%w: %v", errMalformedDocument, err)
	}

	doc := empty
	if _, versioned := top["version"]; versioned {
		if err := json.Unmarshal(data, &doc); err != nil {
			return empty, fmt.Errorf("%w: %v", errMalformedDocument, err)
		}
		if doc.Version != documentVersion {
			return empty, fmt.Errorf("%w: unsupported version %d", errMalformedDocument, doc.Version)
		}
		if doc.Users == nil {
			doc.Users = map[string]ChatArchive{}
		}
	} else {
		legacy := map[string]ChatArchive{}
		if err := json.Unmarshal(data, &legacy); err != nil {
			return empty, fmt.Errorf("%w: legacy layout: %v", errMalformedDocument, err)
		}
		doc.Users = legacy
	}

	for email, archive := range doc.Users {
		if err := archive.Validate(); err != nil {
			return empty, fmt.Errorf("%w: invalid chats for %s: %v", errMalformedDocument, email, err)
		}
	}
	return doc, nil
}

func (s *FileStore) writeDocument(doc chatDocument) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create chat document dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chat document: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp chat document: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write chat document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close chat document: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace chat document: %w", err)
	}
	return nil
}
