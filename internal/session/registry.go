// Package session owns the per-conversation state: each uploaded flight
// log gets its own tabular store, ingestion summary, and a trailing
// window of conversation history, keyed by an opaque session id.
package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"flightlens/internal/ingest"
	"flightlens/internal/logging"
	"flightlens/internal/tabular"
	"flightlens/internal/validator"
)

// historyWindow bounds the conversation history kept per session. Older
// turns fall off the front.
const historyWindow = 20

// Turn is one conversation entry, either role "user" or "model".
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the state for one uploaded flight log.
type Session struct {
	ID         string
	CreatedAt  time.Time
	LastAccess time.Time
	Store      *tabular.Store
	Summary    *ingest.Summary
	// Extras holds the log's sibling collections (params, events,
	// trajectories, ...) verbatim; they are never tabulated.
	Extras map[string]json.RawMessage
	// Validations is the trailing window of query-validation reports
	// for this session's turns.
	Validations *validator.History

	mu           sync.Mutex
	history      []Turn
	messageCount int
}

// Lock serializes turn processing for this session. Concurrent chat
// requests on the same session run one at a time.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// AppendTurn records a conversation entry, trimming to the history
// window. Callers must hold the session lock.
func (s *Session) AppendTurn(role, text string) {
	s.history = append(s.history, Turn{Role: role, Text: text, Timestamp: time.Now()})
	if len(s.history) > historyWindow {
		s.history = s.history[len(s.history)-historyWindow:]
	}
	s.messageCount++
}

// History returns a copy of the trailing conversation window. Callers
// must hold the session lock.
func (s *Session) History() []Turn {
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// MessageCount reports turns recorded over the session lifetime,
// including those trimmed from the window.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}

// Stats is the aggregate view over all live sessions.
type Stats struct {
	ActiveSessions int       `json:"activeSessions"`
	TotalMessages  int       `json:"totalMessages"`
	TotalTables    int       `json:"totalTables"`
	OldestCreated  time.Time `json:"oldestCreated,omitempty"`
}

// Registry maps session ids to sessions and evicts the idle ones.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration

	stop     chan struct{}
	done     chan struct{}
	sweeping bool
}

// NewRegistry creates a registry with the given idle TTL. Call
// StartSweeper to begin periodic eviction and Close to stop it.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Create parses and ingests a flight log into a fresh store and
// registers the resulting session.
func (r *Registry) Create(raw map[string]json.RawMessage) (*Session, error) {
	parsed, err := ingest.ParseLog(raw)
	if err != nil {
		return nil, err
	}

	store, err := tabular.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	summary, err := ingest.NewIngester(store).Ingest(parsed)
	if err != nil {
		store.Close()
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		LastAccess:  now,
		Store:       store,
		Summary:     summary,
		Extras:      parsed.Extras,
		Validations: validator.NewHistory(),
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	logging.Session("session %s created: %d tables, %d skipped, %d active sessions",
		sess.ID, len(summary.TablesCreated), len(summary.Skipped), count)
	return sess, nil
}

// Get returns a live session and refreshes its last-access time. An
// expired session is evicted on touch rather than waiting for the
// sweeper.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok && time.Since(sess.LastAccess) > r.ttl {
		delete(r.sessions, id)
		r.mu.Unlock()
		sess.Store.Close()
		logging.SessionDebug("session %s expired on access", id)
		return nil, fmt.Errorf("session %s not found or expired", id)
	}
	if ok {
		sess.LastAccess = time.Now()
	}
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("session %s not found or expired", id)
	}
	return sess, nil
}

// Delete removes a session and closes its store. Unknown ids are a
// no-op.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		sess.Store.Close()
	}
}

// Sweep evicts every session idle past the TTL and returns how many
// were removed.
func (r *Registry) Sweep() int {
	now := time.Now()

	r.mu.Lock()
	var expired []*Session
	for id, sess := range r.sessions {
		if now.Sub(sess.LastAccess) > r.ttl {
			delete(r.sessions, id)
			expired = append(expired, sess)
		}
	}
	r.mu.Unlock()

	for _, sess := range expired {
		sess.Store.Close()
		logging.SessionDebug("session %s evicted after %s idle", sess.ID, r.ttl)
	}
	if len(expired) > 0 {
		logging.Session("swept %d expired sessions", len(expired))
	}
	return len(expired)
}

// StartSweeper runs Sweep on the given interval until Close.
func (r *Registry) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	r.mu.Lock()
	if r.sweeping {
		r.mu.Unlock()
		return
	}
	r.sweeping = true
	r.mu.Unlock()
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-r.stop:
				return
			}
		}
	}()
}

// Close stops the sweeper and closes every remaining session store.
func (r *Registry) Close() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	r.mu.Lock()
	sweeping := r.sweeping
	r.mu.Unlock()
	if sweeping {
		<-r.done
	}

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Store.Close()
	}
}

// Stats aggregates counts across live sessions.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{ActiveSessions: len(r.sessions)}
	for _, sess := range r.sessions {
		st.TotalMessages += sess.MessageCount()
		st.TotalTables += len(sess.Summary.TablesCreated)
		if st.OldestCreated.IsZero() || sess.CreatedAt.Before(st.OldestCreated) {
			st.OldestCreated = sess.CreatedAt
		}
	}
	return st
}

// IDs returns the live session ids, sorted. Diagnostic use.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
