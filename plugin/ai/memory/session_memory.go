package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Options configures SessionMemory.
type Options struct {
	// MaxTurns is the sliding window kept per session (default 100).
	MaxTurns int
	// Checkpointer is optional. Without it, sessions live for the process lifetime.
	Checkpointer Checkpointer
	// IdleTTL evicts sessions untouched for this long. Only applies with a
	// checkpointer, since evicted sessions are restored from it (default 1h).
	IdleTTL time.Duration
	// CleanupInterval is how often idle sessions are scanned (default 10m).
	CleanupInterval time.Duration
}

// SessionMemory manages in-memory session turns with a sliding window.
// Thread-safe for concurrent access.
type SessionMemory struct {
	mu       sync.Mutex
	sessions map[string]*session
	maxTurns int
	ckpt     Checkpointer
	idleTTL  time.Duration
	now      func() time.Time

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type session struct {
	mu         sync.Mutex
	turns      []Turn
	nextIndex  int64
	lastAccess time.Time
	loaded     bool
}

var _ Memory = (*SessionMemory)(nil)

// NewSessionMemory creates a session store.
func NewSessionMemory(opts Options) *SessionMemory {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 100
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = time.Hour
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &SessionMemory{
		sessions: make(map[string]*session),
		maxTurns: opts.MaxTurns,
		ckpt:     opts.Checkpointer,
		idleTTL:  opts.IdleTTL,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	if m.ckpt != nil {
		m.wg.Add(1)
		go m.cleanupLoop(opts.CleanupInterval)
	}
	return m
}

// Close stops the cleanup goroutine and closes the checkpointer.
func (m *SessionMemory) Close() error {
	m.cancel()
	m.wg.Wait()
	if m.ckpt != nil {
		return m.ckpt.Close()
	}
	return nil
}

// session returns the locked session, restoring it from the checkpoint on first access.
// Without a checkpointer, unknown sessions are only created when create is set;
// otherwise session returns nil. Callers must unlock s.mu of a non-nil session.
func (m *SessionMemory) session(ctx context.Context, sessionID string, create bool) (*session, error) {
	var s *session
	for {
		m.mu.Lock()
		cur, ok := m.sessions[sessionID]
		if !ok {
			if !create && m.ckpt == nil {
				m.mu.Unlock()
				return nil, nil
			}
			cur = &session{}
			m.sessions[sessionID] = cur
		}
		m.mu.Unlock()

		cur.mu.Lock()
		m.mu.Lock()
		live := m.sessions[sessionID] == cur
		m.mu.Unlock()
		if live {
			s = cur
			break
		}
		// Evicted between lookup and lock.
		cur.mu.Unlock()
	}

	s.lastAccess = m.now()
	if s.loaded || m.ckpt == nil {
		s.loaded = true
		return s, nil
	}
	turns, next, found, err := m.ckpt.Load(ctx, sessionID, m.maxTurns)
	if err != nil {
		s.mu.Unlock()
		return nil, errors.Wrapf(err, "failed to restore session %s", sessionID)
	}
	if found {
		s.turns = turns
		s.nextIndex = next
	}
	s.loaded = true
	return s, nil
}

func (m *SessionMemory) Append(ctx context.Context, sessionID string, turns ...Turn) ([]Turn, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if len(turns) == 0 {
		return nil, nil
	}
	s, err := m.session(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	committed := cloneTurns(turns)
	now := m.now()
	for i := range committed {
		committed[i].Index = s.nextIndex + int64(i)
		if committed[i].Timestamp.IsZero() {
			committed[i].Timestamp = now
		}
	}

	if m.ckpt != nil {
		if err := m.ckpt.Save(ctx, sessionID, committed); err != nil {
			return nil, errors.Wrapf(err, "failed to checkpoint session %s", sessionID)
		}
	}

	s.nextIndex += int64(len(committed))
	s.turns = append(s.turns, committed...)
	// Sliding window: keep only the most recent turns.
	if len(s.turns) > m.maxTurns {
		s.turns = append([]Turn(nil), s.turns[len(s.turns)-m.maxTurns:]...)
	}
	return cloneTurns(committed), nil
}

func (m *SessionMemory) Get(ctx context.Context, sessionID string) ([]Turn, error) {
	s, err := m.session(ctx, sessionID, false)
	if err != nil || s == nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return cloneTurns(s.turns), nil
}

func (m *SessionMemory) Reset(ctx context.Context, sessionID string) error {
	s, err := m.session(ctx, sessionID, false)
	if err != nil || s == nil {
		return err
	}
	defer s.mu.Unlock()

	if m.ckpt != nil {
		if err := m.ckpt.Reset(ctx, sessionID, s.nextIndex); err != nil {
			return errors.Wrapf(err, "failed to reset session %s", sessionID)
		}
	}
	s.turns = nil
	return nil
}

// Sessions returns the number of sessions held in memory.
func (m *SessionMemory) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// cleanupLoop periodically evicts idle sessions; they are restored from the
// checkpoint on next access. Stops when the context is cancelled.
func (m *SessionMemory) cleanupLoop(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if n := m.evictIdle(); n > 0 {
				slog.Debug("evicted idle sessions", "count", n)
			}
		}
	}
}

func (m *SessionMemory) evictIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for id, s := range m.sessions {
		// Skip sessions that are busy right now.
		if !s.mu.TryLock() {
			continue
		}
		if now.Sub(s.lastAccess) > m.idleTTL {
			delete(m.sessions, id)
			evicted++
		}
		s.mu.Unlock()
	}
	return evicted
}
