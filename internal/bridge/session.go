// Package bridge contains the per-call session coordinator: the stateful
// actor that owns one phone call's lifecycle, relays audio between the
// telephony leg and the model leg, handles caller barge-in, and drives
// hold music around function calls.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/ent0n29/trunkline/internal/holdmusic"
	"github.com/ent0n29/trunkline/internal/observability"
	"github.com/ent0n29/trunkline/internal/protocol"
	"github.com/ent0n29/trunkline/internal/tools"
	"github.com/ent0n29/trunkline/internal/transport"
)

// ModelConn is the model leg. The socket may already be open at the moment
// of acceptance, so liveness is checked synchronously via Ready in addition
// to the OnOpen fallback.
type ModelConn interface {
	transport.Conn
	Ready() bool
	OnOpen(func())
	ReadPump(onMessage func(raw []byte), onClose func(err error))
}

// ModelDialer performs the model handshake. The bearer credential travels
// inside the dialer, bound when the telephony leg attaches.
type ModelDialer func(ctx context.Context) (ModelConn, error)

// Broadcaster is the registry's location-transparent cross-session send.
// Observers of a call may be served by a different process than the one
// running this coordinator.
type Broadcaster interface {
	Broadcast(sessionID string, payload []byte) error
}

const unsetOffset = int64(-1)

// Session owns all state for one phone call. Every handler serializes on
// mu; the suspension points (model handshake, tool invocation, asset load)
// run off-lock and re-enter through methods that re-check liveness.
type Session struct {
	ID string

	mu                sync.Mutex
	telephony         transport.Conn
	model             ModelConn
	dialing           bool
	primaryObserverID string
	observers         map[string]transport.Conn

	config    map[string]any
	streamSid string
	callSid   string

	active                bool
	lastAssistantItemID   string
	responseStartOffsetMs int64
	latestMediaOffsetMs   int64

	createdAt      time.Time
	lastActivityAt time.Time

	toolQueue   []protocol.ModelItem
	toolRunning bool

	dialer      ModelDialer
	hold        *holdmusic.Scheduler
	tools       *tools.Registry
	broadcaster Broadcaster
	metrics     *observability.Metrics
	greeting    string
	defaults    map[string]any
}

// Deps wires a session's collaborators.
type Deps struct {
	Tools       *tools.Registry
	Hold        *holdmusic.Scheduler
	Broadcaster Broadcaster
	Metrics     *observability.Metrics
	// Greeting is the fixed system instruction sent after session.created.
	Greeting string
	// Voice and Instructions seed the default session configuration that a
	// stored observer config overrides.
	Voice        string
	Instructions string
}

func NewSession(id string, deps Deps) *Session {
	now := time.Now().UTC()
	greeting := deps.Greeting
	if greeting == "" {
		greeting = "Greet the caller warmly, introduce yourself briefly, and ask how you can help."
	}
	voice := deps.Voice
	if voice == "" {
		voice = "alloy"
	}
	instructions := deps.Instructions
	if instructions == "" {
		instructions = "You are a helpful phone assistant. Keep answers short and conversational; the caller hears you over a telephone line."
	}

	return &Session{
		ID:                    id,
		observers:             make(map[string]transport.Conn),
		responseStartOffsetMs: unsetOffset,
		createdAt:             now,
		lastActivityAt:        now,
		hold:                  deps.Hold,
		tools:                 deps.Tools,
		broadcaster:           deps.Broadcaster,
		metrics:               deps.Metrics,
		greeting:              greeting,
		defaults: map[string]any{
			"modalities":          []string{"text", "audio"},
			"voice":               voice,
			"instructions":        instructions,
			"input_audio_format":  "g711_ulaw",
			"output_audio_format": "g711_ulaw",
			"turn_detection":      map[string]any{"type": "server_vad"},
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
		},
	}
}

// OnTelephonyConnect registers conn as the telephony leg, force-closing any
// prior one, and records the dialer (carrying the backend credential) for
// the model leg. The model is not dialed yet: no audio timing context
// exists until the leg announces stream start.
func (s *Session) OnTelephonyConnect(conn transport.Conn, dialer ModelDialer) {
	s.mu.Lock()
	old := s.telephony
	s.telephony = conn
	if dialer != nil {
		s.dialer = dialer
	}
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

// OnObserverConnect adds conn to the observer set. A primary observer
// replaces the previous primary's identifier but does not close the prior
// socket; multiple simultaneous observers are supported.
func (s *Session) OnObserverConnect(conn transport.Conn, primary bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers[conn.ID()] = conn
	if primary {
		s.primaryObserverID = conn.ID()
	}
	s.lastActivityAt = time.Now().UTC()
}

// OnAnyConnClose removes conn from whichever role holds it. A closed
// telephony leg tears down call-scoped state but leaves the session alive
// for observer reconnection; a closed model leg just clears the reference
// so the next stream-start redials.
func (s *Session) OnAnyConnClose(conn transport.Conn) {
	s.mu.Lock()
	switch {
	case s.telephony != nil && s.telephony.ID() == conn.ID():
		s.mu.Unlock()
		s.teardownCall()
		return
	case s.model != nil && s.model.ID() == conn.ID():
		s.model = nil
	default:
		delete(s.observers, conn.ID())
		if s.primaryObserverID == conn.ID() {
			s.primaryObserverID = ""
		}
	}
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()
}

// teardownCall ends the call-scoped portion of the session: hold music,
// the telephony and model legs, stream identity, and timing state.
// Observers and the stored config survive for reconnection.
func (s *Session) teardownCall() {
	if s.hold != nil {
		s.hold.Reset()
	}

	s.mu.Lock()
	tele := s.telephony
	model := s.model
	s.telephony = nil
	s.model = nil
	s.dialing = false
	s.streamSid = ""
	s.callSid = ""
	s.active = false
	s.lastAssistantItemID = ""
	s.responseStartOffsetMs = unsetOffset
	s.latestMediaOffsetMs = 0
	s.toolQueue = nil
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()

	if tele != nil {
		_ = tele.Close()
	}
	if model != nil {
		_ = model.Close()
	}
}

// Reset clears every field to its initial state without destroying the
// session identity, so observers may reconnect to the same call id.
func (s *Session) Reset() {
	s.teardownCall()

	s.mu.Lock()
	observers := s.observers
	s.observers = make(map[string]transport.Conn)
	s.primaryObserverID = ""
	s.config = nil
	s.dialer = nil
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()

	for _, c := range observers {
		_ = c.Close()
	}
}

// DeliverBroadcast fans a payload out to every observer beyond the
// primary. The registry calls this on the addressed session.
func (s *Session) DeliverBroadcast(payload []byte) {
	s.mu.Lock()
	conns := make([]transport.Conn, 0, len(s.observers))
	for id, c := range s.observers {
		if id == s.primaryObserverID {
			continue
		}
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Send(payload)
	}
}

// LastActivity reports the most recent handler activity, for GC.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// LiveConnCount counts every attached transport.
func (s *Session) LiveConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.observers)
	if s.telephony != nil {
		n++
	}
	if s.model != nil {
		n++
	}
	return n
}

// TelephonyOpen reports whether a telephony leg is attached.
func (s *Session) TelephonyOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telephony != nil
}

// ObserverCount reports the observer set size.
func (s *Session) ObserverCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}
