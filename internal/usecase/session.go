package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/retina-screen/internal/hydrator"
	"github.com/example/retina-screen/internal/intake"
	"github.com/example/retina-screen/internal/orchestrator"
	"github.com/example/retina-screen/internal/report"
	"github.com/example/retina-screen/internal/screening"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session is one pass through the screening workflow: an intake, its orchestrator, the
// notifications they raise and at most one mounted report view.
type Session struct {
	ID        string
	CreatedAt time.Time

	notifications *screening.NotificationQueue
	intake        *intake.Intake
	orchestrator  *orchestrator.Orchestrator

	mu       sync.Mutex
	lastSeen time.Time
	handoff  *handoff
	view     *hydrator.View
	dismiss  context.CancelFunc
	surface  *report.Surface
}

// handoff remembers which candidate produced the result behind a ticket.
type handoff struct {
	ticket    string
	candidate *screening.UploadCandidate
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// dismissReport unmounts the active report view, cancelling it if it is still loading.
func (s *Session) dismissReport() {
	s.mu.Lock()
	cancel := s.dismiss
	s.view = nil
	s.dismiss = nil
	s.surface = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) mountReport(view *hydrator.View, cancel context.CancelFunc) {
	s.dismissReport()
	s.mu.Lock()
	s.view = view
	s.dismiss = cancel
	s.mu.Unlock()
}

// unmountIf drops view if it is still the mounted one.
func (s *Session) unmountIf(view *hydrator.View) {
	s.mu.Lock()
	if s.view != view {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.dismissReport()
}

// attachSurface stores the rendered surface for view; false if view was dismissed meanwhile.
func (s *Session) attachSurface(view *hydrator.View, surface *report.Surface) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view != view {
		return false
	}
	s.surface = surface
	return true
}

func (s *Session) currentSurface() *report.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface
}

func (s *Session) reportState() hydrator.State {
	s.mu.Lock()
	view := s.view
	s.mu.Unlock()
	if view == nil {
		return ""
	}
	return view.State()
}

func (s *Session) recordHandoff(ticket string, candidate *screening.UploadCandidate) {
	s.mu.Lock()
	s.handoff = &handoff{ticket: ticket, candidate: candidate}
	s.mu.Unlock()
}

// takeHandoff returns the candidate recorded for ticket, consuming it.
func (s *Session) takeHandoff(ticket string) *screening.UploadCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handoff == nil || s.handoff.ticket != ticket {
		return nil
	}
	c := s.handoff.candidate
	s.handoff = nil
	return c
}

// sessionStore is an in-memory registry of live sessions.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*Session)}
}

func (st *sessionStore) put(s *Session) {
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
}

func (st *sessionStore) get(id string) (*Session, bool) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	return s, ok
}

// expire removes sessions idle since before cutoff that have no submission in flight.
func (st *sessionStore) expire(cutoff time.Time) []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	var removed []*Session
	for id, s := range st.sessions {
		s.mu.Lock()
		idle := s.lastSeen.Before(cutoff)
		s.mu.Unlock()
		if idle && !s.orchestrator.Busy() {
			delete(st.sessions, id)
			removed = append(removed, s)
		}
	}
	return removed
}

func (st *sessionStore) count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
