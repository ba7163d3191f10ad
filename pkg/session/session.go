// Package session persists the authenticated user session of the CLI.
//
// The session is an explicit value owned by a Store. A session is considered
// authenticated iff it carries an access token; expiry is not verified
// locally, the backend answers 401 when the token is no longer accepted.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileName is the session file name inside the store directory.
const FileName = "session.json"

// ErrNotAuthenticated is returned when an operation needs a token and the
// session has none.
var ErrNotAuthenticated = errors.New("not authenticated")

// User is the profile returned by the backend.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Tier  string `json:"tier,omitempty"`
}

// Session is the persisted authentication state.
//
// NOTE: This is the on-disk contract of session.json.
type Session struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	User         *User     `json:"user,omitempty"`
	BaseURL      string    `json:"base_url,omitempty"`
	SavedAt      time.Time `json:"saved_at,omitempty"`
}

// Authenticated reports whether s carries an access token.
func (s Session) Authenticated() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

// Store persists one Session under a directory.
//
// Directory layout:
//
//	<dir>/session.json
//
// Writes are atomic (temp file + rename). A Store is safe for concurrent use.
type Store struct {
	dir string

	mu      sync.RWMutex
	current Session
}

// NewStore returns a Store persisting under dir. An empty dir keeps the
// session in memory only.
func NewStore(dir string) *Store {
	return &Store{dir: strings.TrimSpace(dir)}
}

// NewMemoryStore returns a Store that never touches disk.
func NewMemoryStore(s Session) *Store {
	return &Store{current: s}
}

// Path returns the session file path, or "" for an in-memory store.
func (s *Store) Path() string {
	if s.dir == "" {
		return ""
	}
	return filepath.Join(s.dir, FileName)
}

// Init loads the persisted session. A missing file yields an empty session.
func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir == "" {
		return nil
	}

	b, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			s.current = Session{}
			return nil
		}
		return fmt.Errorf("read session: %w", err)
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		s.current = Session{}
		return nil
	}

	var sess Session
	if err := json.Unmarshal([]byte(trimmed), &sess); err != nil {
		return fmt.Errorf("parse %s: %w", FileName, err)
	}
	s.current = sess
	return nil
}

// Current returns a copy of the current session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.current
	if cur.User != nil {
		u := *cur.User
		cur.User = &u
	}
	return cur
}

// Token returns the access token or ErrNotAuthenticated.
func (s *Store) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.current.Authenticated() {
		return "", ErrNotAuthenticated
	}
	return s.current.AccessToken, nil
}

// Save replaces the session and persists it.
func (s *Store) Save(sess Session) error {
	if sess.SavedAt.IsZero() {
		sess.SavedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLocked(sess); err != nil {
		return err
	}
	s.current = sess
	return nil
}

// SetUser updates the user profile of the current session.
func (s *Store) SetUser(u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	next.User = &u
	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.current = next
	return nil
}

// Clear drops token and user and removes the session file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = Session{}
	if s.dir == "" {
		return nil
	}
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (s *Store) writeLocked(sess Session) error {
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	b, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(s.dir, FileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp session file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}

	if err := os.Rename(tmpName, s.Path()); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}
