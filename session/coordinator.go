package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KamdynS/advisor/conversation"
	"github.com/KamdynS/advisor/observability"
)

// DefaultDebounce is the settle quiet period applied by configuration loaders.
const DefaultDebounce = 500 * time.Millisecond

// Config controls the Coordinator.
type Config struct {
	// Debounce is the quiet period after the last settle before saving.
	// Zero or negative persists inline.
	Debounce time.Duration
	// SaveTimeout bounds each Save call; 0 means 10s.
	SaveTimeout time.Duration
}

// Coordinator collapses settle notifications per conversation into one save
// per completed turn and attaches the assigned session id.
type Coordinator struct {
	store Store
	cfg   Config
	hooks *observability.Hooks

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	conv  *conversation.Conversation
	timer *time.Timer

	// saveMu serializes saves for one conversation.
	saveMu    sync.Mutex
	savedTurn int
	savedLen  int
}

// NewCoordinator creates a coordinator writing to store.
func NewCoordinator(store Store, cfg Config, hooks *observability.Hooks) *Coordinator {
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 10 * time.Second
	}
	return &Coordinator{store: store, cfg: cfg, hooks: hooks, entries: make(map[string]*entry)}
}

// OnSettled records that conv has stopped streaming. Saving happens after the
// debounce period, or before return when debouncing is disabled. Errors are
// reported through hooks only.
func (c *Coordinator) OnSettled(ctx context.Context, conv *conversation.Conversation) {
	c.mu.Lock()
	e, ok := c.entries[conv.Key()]
	if !ok {
		e = &entry{conv: conv}
		c.entries[conv.Key()] = e
	}
	if c.cfg.Debounce <= 0 {
		c.mu.Unlock()
		c.persist(ctx, e)
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(c.cfg.Debounce, func() { c.fire(e, t) })
	e.timer = t
	c.mu.Unlock()
}

// fire runs a debounce timer's save. A timer that was replaced after it had
// already fired, or whose conversation was forgotten, does nothing.
func (c *Coordinator) fire(e *entry, t *time.Timer) {
	c.mu.Lock()
	current := e.timer == t && c.entries[e.conv.Key()] == e
	if current {
		e.timer = nil
	}
	c.mu.Unlock()
	if current {
		c.persist(context.Background(), e)
	}
}

// Flush saves every conversation with a pending debounce immediately.
func (c *Coordinator) Flush(ctx context.Context) {
	c.mu.Lock()
	var due []*entry
	for _, e := range c.entries {
		if e.timer != nil && e.timer.Stop() {
			e.timer = nil
			due = append(due, e)
		}
	}
	c.mu.Unlock()
	for _, e := range due {
		c.persist(ctx, e)
	}
}

// Forget drops the coordinator's state for conv, cancelling any pending save.
func (c *Coordinator) Forget(conv *conversation.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[conv.Key()]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.entries, conv.Key())
	}
}

// End saves any pending turn for conv, marks its session ended when the store
// keeps history, and forgets the conversation. A conversation that was never
// saved has nothing to end.
func (c *Coordinator) End(ctx context.Context, conv *conversation.Conversation) error {
	c.mu.Lock()
	e, ok := c.entries[conv.Key()]
	if ok && e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	c.mu.Unlock()
	if ok {
		c.persist(ctx, e)
	}
	c.Forget(conv)

	id := conv.SessionID()
	if id == "" {
		return nil
	}
	h, ok := c.store.(History)
	if !ok {
		return nil
	}
	if err := h.End(ctx, id); err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	return nil
}

// Saved reports whether the conversation's current turn has been persisted.
func (c *Coordinator) Saved(conv *conversation.Conversation) bool {
	c.mu.Lock()
	e, ok := c.entries[conv.Key()]
	c.mu.Unlock()
	if !ok {
		return false
	}
	snap := conv.Snapshot()
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	return e.savedTurn == snap.Turn && e.savedLen == len(snap.Messages)
}

func (c *Coordinator) persist(ctx context.Context, e *entry) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	snap := e.conv.Snapshot()
	if len(snap.Messages) == 0 {
		return
	}
	if snap.Turn == e.savedTurn && len(snap.Messages) == e.savedLen {
		return
	}
	rec := &Record{
		ID:       snap.SessionID,
		Mode:     snap.Mode,
		Turn:     snap.Turn,
		Messages: snap.Messages,
		Summary:  conversation.Summary(snap.Messages),
	}
	sctx, cancel := context.WithTimeout(ctx, c.cfg.SaveTimeout)
	defer cancel()
	start := time.Now()
	id, err := c.store.Save(sctx, rec)
	latency := time.Since(start)
	if err != nil {
		c.hooks.SafePersist(ctx, snap.SessionID, latency, err)
		c.hooks.SafeLog(ctx, "warn", "session save failed", map[string]any{"session_id": snap.SessionID, "turn": snap.Turn, "error": err.Error()})
		return
	}
	e.conv.AttachSession(id)
	e.savedTurn = snap.Turn
	e.savedLen = len(snap.Messages)
	c.hooks.SafePersist(ctx, id, latency, nil)
}
