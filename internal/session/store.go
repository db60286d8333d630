package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vinayprograms/agentmux/internal/durable"
)

// ErrNotFound is returned by Load when no session.json exists for the id.
var ErrNotFound = errors.New("session: not found")

const sessionFileName = "session.json"

// record is the on-disk JSON shape for a Session (§6: session.json).
type record struct {
	ID            string     `json:"id"`
	State         State      `json:"state"`
	ProviderName  string     `json:"provider_name"`
	Model         string     `json:"model"`
	CreatedAt     time.Time  `json:"created_at"`
	SuspendedAt   *time.Time `json:"suspended_at"`
	ProviderState string     `json:"provider_state"`
}

func toRecord(s *Session) record {
	return record{
		ID:            s.ID,
		State:         s.State,
		ProviderName:  s.ProviderName,
		Model:         s.Model,
		CreatedAt:     s.CreatedAt,
		SuspendedAt:   s.SuspendedAt,
		ProviderState: base64.StdEncoding.EncodeToString(s.ProviderState),
	}
}

func fromRecord(r record) (*Session, error) {
	blob, err := base64.StdEncoding.DecodeString(r.ProviderState)
	if err != nil {
		return nil, fmt.Errorf("session: decode provider_state: %w", err)
	}
	return &Session{
		ID:            r.ID,
		State:         r.State,
		ProviderName:  r.ProviderName,
		Model:         r.Model,
		CreatedAt:     r.CreatedAt,
		SuspendedAt:   r.SuspendedAt,
		ProviderState: blob,
	}, nil
}

// Store persists Session records under <root>/<session-hex>/session.json.
// It is stateless over the filesystem: no caching, no locking beyond what
// atomic rename already provides.
type Store struct {
	root string
}

// NewStore constructs a Store rooted at a sessions directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// AgentDir returns the per-session directory path.
func (s *Store) AgentDir(id string) string {
	return filepath.Join(s.root, id)
}

// Save writes s atomically (temp file, fsync, rename) with the provider
// state blob base64-encoded inside the JSON.
func (s *Store) Save(sess *Session) error {
	dir := s.AgentDir(sess.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: mkdir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(toRecord(sess), "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	return durable.WriteFileAtomic(filepath.Join(dir, sessionFileName), data, 0o644)
}

// Load reads a session record, or fails with ErrNotFound.
func (s *Store) Load(id string) (*Session, error) {
	path := filepath.Join(s.AgentDir(id), sessionFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("session: unmarshal %s: %w", path, err)
	}
	return fromRecord(r)
}

// Scan enumerates every session.json under root. Non-directory entries and
// directories without a session.json are ignored.
func (s *Store) Scan() ([]*Session, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: scan %s: %w", s.root, err)
	}

	var out []*Session
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sess, err := s.Load(e.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// Recover loads every known session, flipping any left ACTIVE (a crash mid
// run) to SUSPENDED and persisting the correction before returning.
func (s *Store) Recover() ([]*Session, error) {
	sessions, err := s.Scan()
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.State == StateActive {
			sess.State = StateSuspended
			sess.SuspendedAt = timePtr(nowUTC())
			if err := s.Save(sess); err != nil {
				return nil, fmt.Errorf("session: persist crash recovery for %s: %w", sess.ID, err)
			}
		}
	}
	return sessions, nil
}

func timePtr(t time.Time) *time.Time { return &t }
func nowUTC() time.Time              { return time.Now().UTC() }
