// Package registry creates and destroys session coordinators keyed by call
// identifier, garbage-collects inactive ones, and carries the
// location-transparent broadcast path between sessions and their
// observers.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ent0n29/trunkline/internal/bridge"
	"github.com/ent0n29/trunkline/internal/observability"
)

var ErrNotFound = errors.New("session not found")

// Factory builds one session coordinator. The supervisor passes itself as
// the broadcaster so fan-out goes through an addressed send rather than
// shared socket access.
type Factory func(id string, b bridge.Broadcaster) *bridge.Session

type Supervisor struct {
	mu                sync.RWMutex
	sessions          map[string]*bridge.Session
	factory           Factory
	inactivityTimeout time.Duration
	observerGrace     time.Duration
	metrics           *observability.Metrics
}

func NewSupervisor(factory Factory, inactivityTimeout, observerGrace time.Duration, metrics *observability.Metrics) *Supervisor {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 5 * time.Minute
	}
	if observerGrace <= 0 {
		observerGrace = 30 * time.Second
	}
	return &Supervisor{
		sessions:          make(map[string]*bridge.Session),
		factory:           factory,
		inactivityTimeout: inactivityTimeout,
		observerGrace:     observerGrace,
		metrics:           metrics,
	}
}

// GetOrCreate returns the session for a call id, creating it on first
// inbound connection of any kind.
func (s *Supervisor) GetOrCreate(id string) *bridge.Session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess = s.factory(id, s)
	s.sessions[id] = sess
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return sess
}

func (s *Supervisor) Get(id string) (*bridge.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Remove resets and drops a session.
func (s *Supervisor) Remove(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		s.metrics.SessionEvents.WithLabelValues("removed").Inc()
		s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	s.mu.Unlock()

	if ok {
		sess.Reset()
	}
}

func (s *Supervisor) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Broadcast implements bridge.Broadcaster: an addressed send to the named
// session's observer fan-out. The addressed session may live in another
// process in a distributed deployment; this is the only cross-session
// path.
func (s *Supervisor) Broadcast(sessionID string, payload []byte) error {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	sess.DeliverBroadcast(payload)
	return nil
}

// StartJanitor expires sessions in the background until ctx is done.
func (s *Supervisor) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.expireInactive()
			}
		}
	}()
}

// expireInactive removes sessions with zero live connections past the
// global inactivity timeout, and sessions whose telephony leg is gone with
// no observers remaining past the grace period.
func (s *Supervisor) expireInactive() {
	now := time.Now().UTC()
	var expired []*bridge.Session

	s.mu.Lock()
	for id, sess := range s.sessions {
		idle := now.Sub(sess.LastActivity())
		drop := false
		switch {
		case sess.LiveConnCount() == 0 && idle >= s.inactivityTimeout:
			drop = true
		case !sess.TelephonyOpen() && sess.ObserverCount() == 0 && idle >= s.observerGrace:
			drop = true
		}
		if drop {
			delete(s.sessions, id)
			expired = append(expired, sess)
		}
	}
	if len(expired) > 0 {
		s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.metrics.SessionEvents.WithLabelValues("expired").Inc()
		sess.Reset()
	}
}
