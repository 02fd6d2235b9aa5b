package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chatterflow/chatterflow/engine/chatterlang"
	"github.com/chatterflow/chatterflow/engine/pipe"
	"github.com/chatterflow/chatterflow/pkg/resilience"
	"github.com/google/uuid"
)

// Event is one record on a session's output stream.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Output    any       `json:"output"`
	Type      string    `json:"type"` // "user", "response", "error"
}

// HistoryEntry records one processed input and its outputs.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Input     any       `json:"input"`
	Output    []any     `json:"output"`
}

// Session holds one client's compiled graph, output queue, and history.
type Session struct {
	ID string

	mu           sync.Mutex
	outputs      []Event
	history      []HistoryEntry
	processor    pipe.Segment
	runtime      *pipe.Runtime
	lastActivity time.Time
	limiter      *resilience.Limiter

	outputCap  int
	historyCap int
	onOutput   func(Event)
	script     string
	consts     map[string]any
	log        *slog.Logger
}

func newSession(id string, cfg Config) *Session {
	s := &Session{
		ID:           id,
		outputCap:    cfg.OutputQueueCap,
		historyCap:   cfg.HistoryCap,
		script:       cfg.Script,
		consts:       cfg.Consts,
		lastActivity: time.Now(),
		log:          cfg.Logger,
	}
	if s.outputCap <= 0 {
		s.outputCap = 1000
	}
	if s.historyCap <= 0 {
		s.historyCap = 1000
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RatePerSecond, Burst: burst})
	}
	return s
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the last-activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Allow applies the per-session rate limit.
func (s *Session) Allow() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// ensureProcessor builds the compiled graph on first use, giving each session an
// isolated constant and variable store.
func (s *Session) ensureProcessor() (pipe.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processor != nil {
		return s.processor, nil
	}
	rt := pipe.NewRuntime()
	rt.Log = s.log
	rt.MergeConsts(s.consts, false)
	s.runtime = rt

	if s.script == "" {
		s.processor = passthrough()
		return s.processor, nil
	}
	compiled, err := chatterlang.Compile(s.script, rt)
	if err != nil {
		return nil, err
	}
	s.processor = compiled
	return s.processor, nil
}

// Runtime exposes the session's isolated runtime; nil until the first
// Process call compiles the graph.
func (s *Session) Runtime() *pipe.Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime
}

// passthrough is the default processor: every input item is its own
// output.
func passthrough() pipe.Segment {
	return pipe.NewSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		return in
	})
}

// Process runs one input item through the session's graph, recording
// output and history.
func (s *Session) Process(ctx context.Context, input any) ([]any, error) {
	s.Touch()
	s.PushOutput(Event{Timestamp: time.Now(), Output: input, Type: "user"})

	proc, err := s.ensureProcessor()
	if err != nil {
		s.recordError(input, err)
		return nil, err
	}

	items, err := pipe.Collect(ctx, pipe.Apply(ctx, proc, pipe.Once(input)))
	if err != nil {
		s.recordError(input, err)
		return nil, err
	}

	outputs := make([]any, 0, len(items))
	for _, item := range items {
		if pipe.IsMeta(item) {
			continue
		}
		outputs = append(outputs, item)
		s.PushOutput(Event{Timestamp: time.Now(), Output: item, Type: "response"})
	}

	s.appendHistory(HistoryEntry{Timestamp: time.Now(), Input: input, Output: outputs})
	return outputs, nil
}

func (s *Session) recordError(input any, err error) {
	s.PushOutput(Event{Timestamp: time.Now(), Output: err.Error(), Type: "error"})
	s.appendHistory(HistoryEntry{
		Timestamp: time.Now(),
		Input:     input,
		Output:    []any{map[string]any{"error": err.Error()}},
	})
}

// PushOutput enqueues an event, dropping the oldest when full, and
// invokes the output hook.
func (s *Session) PushOutput(ev Event) {
	if s.onOutput != nil {
		s.onOutput(ev)
	}
	s.mu.Lock()
	if len(s.outputs) >= s.outputCap {
		s.outputs = s.outputs[1:]
	}
	s.outputs = append(s.outputs, ev)
	s.mu.Unlock()
}

// DrainOutput removes and returns all queued events.
func (s *Session) DrainOutput() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outputs) == 0 {
		return nil
	}
	out := s.outputs
	s.outputs = nil
	return out
}

func (s *Session) appendHistory(entry HistoryEntry) {
	s.mu.Lock()
	if len(s.history) >= s.historyCap {
		s.history = s.history[1:]
	}
	s.history = append(s.history, entry)
	s.mu.Unlock()
}

// History returns up to limit entries, newest last. limit <= 0 returns all.
func (s *Session) History(limit int) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

// ClearHistory empties the session history.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

// Manager owns the session map and expiry.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
	log      *slog.Logger

	// OnOutput, when set before sessions are created, observes every
	// output event (the server uses it to mirror events onto NATS).
	OnOutput func(Event)
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		log:      log,
	}
}

// GetOrCreate returns the session for an ID, creating one when unknown. An
// unknown non-empty ID is re-adopted (the client keeps its cookie across
// server restarts). An empty ID mints a new one.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		if s, ok := m.sessions[id]; ok {
			return s, false
		}
	} else {
		id = uuid.NewString()
	}
	s := newSession(id, m.cfg)
	s.onOutput = m.OnOutput
	m.sessions[id] = s
	return s, true
}

// Get returns an existing session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the live session count.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CleanupExpired deletes sessions idle longer than ttl and returns how
// many were removed.
func (m *Manager) CleanupExpired(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	cutoff := time.Now().Add(-ttl)
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// StartCleanup runs the expiry worker until the context ends. The worker
// never dies to a panic: it logs, sleeps briefly, and continues.
func (m *Manager) StartCleanup(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runCleanup(ttl)
			}
		}
	}()
}

func (m *Manager) runCleanup(ttl time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("session cleanup panicked", "panic", r)
			time.Sleep(time.Second)
		}
	}()
	if removed := m.CleanupExpired(ttl); removed > 0 {
		m.log.Info("expired sessions removed", "count", removed, "remaining", m.Len())
	}
}
