package client

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Session is the client-side credential state.
type Session struct {
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token,omitempty"`
}

// TokenStore persists the session between client runs.
type TokenStore interface {
	Load() (Session, error)
	Save(s Session) error
	Clear() error
}

// MemoryTokenStore keeps the session in process memory.
type MemoryTokenStore struct {
	mu sync.Mutex
	s  Session
}

func (m *MemoryTokenStore) Load() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, nil
}

func (m *MemoryTokenStore) Save(s Session) error {
	m.mu.Lock()
	m.s = s
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenStore) Clear() error {
	m.mu.Lock()
	m.s = Session{}
	m.mu.Unlock()
	return nil
}

// FileTokenStore keeps the session as JSON in a 0600 file.
type FileTokenStore struct {
	Path string
}

// DefaultConfigDir is $XDG_CONFIG_HOME/lms or ~/.config/lms.
func DefaultConfigDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "lms")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "lms")
}

// NewFileTokenStore stores the session in dir/session.json.
func NewFileTokenStore(dir string) *FileTokenStore {
	return &FileTokenStore{Path: filepath.Join(dir, "session.json")}
}

// Load returns an empty session when the file does not exist.
func (f *FileTokenStore) Load() (Session, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (f *FileTokenStore) Save(s Session) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

func (f *FileTokenStore) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
