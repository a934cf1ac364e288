package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ImagePipe/internal/models"
)

// SessionStore keeps the per-participant conversation sessions. Sessions are
// ephemeral by design: a restart clears all in-flight conversations, which is
// acceptable because every flow restarts cleanly from its command.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*models.Session)}
}

// Get returns the session for the participant, or nil when idle.
func (s *SessionStore) Get(participant string) *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[participant]
}

// Begin replaces any existing session for the participant with a fresh one
// for the given flow and initial state.
func (s *SessionStore) Begin(participant, chatID string, flow models.FlowID, state models.StateID) *models.Session {
	sess := &models.Session{
		Participant:  participant,
		ChatID:       chatID,
		Flow:         flow,
		State:        state,
		LastActivity: time.Now(),
	}
	s.mu.Lock()
	if _, existed := s.sessions[participant]; existed {
		slog.Debug("SessionStore.Begin: replacing existing session", "participant", participant, "flow", flow)
	}
	s.sessions[participant] = sess
	s.mu.Unlock()
	return sess
}

// Clear removes the participant's session. Clearing an idle participant is a
// no-op.
func (s *SessionStore) Clear(participant string) {
	s.mu.Lock()
	delete(s.sessions, participant)
	s.mu.Unlock()
}

// Touch updates the session's last-activity timestamp, if a session exists.
func (s *SessionStore) Touch(participant string) {
	s.mu.Lock()
	if sess, ok := s.sessions[participant]; ok {
		sess.Touch(time.Now())
	}
	s.mu.Unlock()
}

// Sweep partitions sessions by inactivity. Sessions idle longer than stall
// are removed and returned as stalled. Sessions idle longer than step that
// have not been warned yet are marked warned with their activity timestamp
// refreshed, so each stalled step produces exactly one reminder before the
// stall threshold eventually reaps the session.
func (s *SessionStore) Sweep(step, stall time.Duration) (stalled, warned []*models.Session) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for participant, sess := range s.sessions {
		elapsed := now.Sub(sess.LastActivity)
		switch {
		case elapsed > stall:
			delete(s.sessions, participant)
			stalled = append(stalled, sess)
		case elapsed > step && !sess.Warned:
			sess.Warned = true
			sess.LastActivity = now
			warned = append(warned, sess)
		}
	}
	return stalled, warned
}

// Len returns the number of active sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
