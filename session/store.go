// Package session persists settled conversations and assigns session ids.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KamdynS/advisor/conversation"
)

// ErrNotFound is returned by Get for an unknown session id.
var ErrNotFound = errors.New("session not found")

// DefaultListLimit is used by List when limit <= 0.
const DefaultListLimit = 20

// Record is one persisted conversation.
type Record struct {
	ID        string                 `json:"id"`
	Mode      string                 `json:"mode"`
	Turn      int                    `json:"turn"`
	Messages  []conversation.Message `json:"messages"`
	Summary   string                 `json:"summary"`
	StartedAt time.Time              `json:"startedAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
	// EndedAt is set once the session is closed; later saves keep it.
	EndedAt *time.Time `json:"endedAt,omitempty"`
}

// Ended reports whether the session has been closed.
func (r *Record) Ended() bool { return r.EndedAt != nil }

// Store saves records. Save assigns an id when rec.ID is empty and upserts
// otherwise; it returns the id the record is stored under.
type Store interface {
	Save(ctx context.Context, rec *Record) (string, error)
}

// History is implemented by stores that can read records back.
type History interface {
	Get(ctx context.Context, id string) (*Record, error)
	// List returns up to limit records, most recently updated first.
	List(ctx context.Context, limit int) ([]*Record, error)
	// End marks a session closed. Ending an ended session keeps the first
	// timestamp. Unknown ids return ErrNotFound.
	End(ctx context.Context, id string) error
}

// newID returns a fresh session id.
func newID() string { return uuid.NewString() }

func cloneRecord(r *Record) *Record {
	cp := *r
	cp.Messages = make([]conversation.Message, len(r.Messages))
	for i, m := range r.Messages {
		m.Metadata = m.Metadata.Clone()
		cp.Messages[i] = m
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

// MemoryStore is an in-process Store and History.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ History = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, rec *Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneRecord(rec)
	if cp.ID == "" {
		cp.ID = newID()
	}
	now := s.now().UTC()
	if prev, ok := s.records[cp.ID]; ok {
		cp.StartedAt = prev.StartedAt
		if cp.EndedAt == nil {
			cp.EndedAt = prev.EndedAt
		}
	} else if cp.StartedAt.IsZero() {
		cp.StartedAt = now
	}
	cp.UpdatedAt = now
	s.records[cp.ID] = cp
	return cp.ID, nil
}

// Get implements History.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(r), nil
}

// List implements History.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, cloneRecord(r))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// End implements History.
func (s *MemoryStore) End(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if r.EndedAt == nil {
		now := s.now().UTC()
		r.EndedAt = &now
	}
	return nil
}
