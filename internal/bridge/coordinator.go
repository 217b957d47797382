package bridge

import (
	"context"
	"log"
	"time"

	"github.com/ent0n29/trunkline/internal/policy"
	"github.com/ent0n29/trunkline/internal/protocol"
	"github.com/ent0n29/trunkline/internal/reliability"
	"github.com/ent0n29/trunkline/internal/transport"
)

// OnTelephonyMessage dispatches one raw frame from the telephony leg.
func (s *Session) OnTelephonyMessage(raw []byte) {
	msg, err := protocol.ParseTelephonyMessage(raw)
	if err != nil {
		log.Printf("session %s: dropping telephony frame: %v", s.ID, err)
		return
	}

	switch m := msg.(type) {
	case protocol.TelephonyStart:
		s.handleStreamStart(m)
	case protocol.TelephonyMedia:
		s.handleMedia(m)
	case protocol.TelephonyStop:
		s.teardownCall()
	case protocol.TelephonyConnected, protocol.TelephonyMark:
		// Connection preamble and returned flow-control marks carry no
		// state the coordinator needs.
	}
}

func (s *Session) handleStreamStart(m protocol.TelephonyStart) {
	s.mu.Lock()
	s.streamSid = m.StreamSid
	s.callSid = m.Start.CallSid
	s.latestMediaOffsetMs = 0
	s.lastAssistantItemID = ""
	s.responseStartOffsetMs = unsetOffset
	s.active = false
	s.lastActivityAt = time.Now().UTC()
	needDial := s.model == nil && !s.dialing && s.dialer != nil
	if needDial {
		s.dialing = true
	}
	s.mu.Unlock()

	if needDial {
		go s.dialModel()
	}
}

func (s *Session) handleMedia(m protocol.TelephonyMedia) {
	s.mu.Lock()
	s.latestMediaOffsetMs = m.TimestampMs()
	s.lastActivityAt = time.Now().UTC()
	model := s.model
	s.mu.Unlock()

	if model != nil {
		_ = model.Send(protocol.InputAudioAppend(m.Media.Payload))
	}
}

// OnObserverMessage dispatches one raw frame from an observer leg. Hold
// music controls are intercepted; session configuration is both retained
// and forwarded; everything else passes through to the model verbatim.
func (s *Session) OnObserverMessage(_ transport.Conn, raw []byte) {
	msg, err := protocol.ParseObserverMessage(raw)
	if err != nil {
		log.Printf("session %s: dropping observer frame: %v", s.ID, err)
		return
	}

	s.mu.Lock()
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()

	switch m := msg.(type) {
	case protocol.ObserverHoldMusicStart:
		if s.hold != nil {
			s.metrics.HoldMusicStarts.Inc()
			_ = s.hold.Start(s.holdSink, m.Track)
		}
	case protocol.ObserverHoldMusicStop:
		if s.hold != nil {
			_ = s.hold.Stop()
		}
	case protocol.ObserverSessionUpdate:
		s.mu.Lock()
		s.config = m.Session
		model := s.model
		s.mu.Unlock()
		if model != nil {
			_ = model.Send(m.Raw)
		}
	case protocol.ObserverPassthrough:
		s.mu.Lock()
		model := s.model
		s.mu.Unlock()
		if model != nil {
			_ = model.Send(m.Raw)
		}
	}
}

// OnModelMessage is the central dispatch for model server events.
func (s *Session) OnModelMessage(raw []byte) {
	msg, err := protocol.ParseModelEvent(raw)
	if err != nil {
		log.Printf("session %s: dropping model frame: %v", s.ID, err)
		return
	}

	s.mu.Lock()
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()

	switch m := msg.(type) {
	case protocol.ModelSessionCreated:
		s.metrics.ModelEvents.WithLabelValues(protocol.ModelTypeSessionCreated).Inc()
		s.handleSessionCreated()
		s.fanOut(protocol.ModelTypeSessionCreated, m.Raw)
	case protocol.ModelSpeechStarted:
		s.metrics.ModelEvents.WithLabelValues(protocol.ModelTypeSpeechStarted).Inc()
		s.handleSpeechStarted()
		s.fanOut(protocol.ModelTypeSpeechStarted, m.Raw)
	case protocol.ModelAudioDelta:
		s.handleAudioDelta(m)
	case protocol.ModelOutputItemDone:
		s.metrics.ModelEvents.WithLabelValues(protocol.ModelTypeOutputItemDone).Inc()
		if m.Item.Type == protocol.ItemTypeFunctionCall {
			s.handleFunctionCall(m.Item)
			s.fanOut(protocol.ModelTypeOutputItemDone, m.Raw)
		}
	case protocol.ModelItemCreated:
		s.fanOut(protocol.ModelTypeItemCreated, m.Raw)
	case protocol.ModelTranscriptionCompleted:
		s.fanOut(protocol.ModelTypeTranscriptionCompleted, m.Raw)
	case protocol.ModelContentPartAdded:
		s.fanOut(protocol.ModelTypeContentPartAdded, m.Raw)
	case protocol.ModelTranscriptDelta:
		s.fanOut(protocol.ModelTypeAudioTranscriptDelta, m.Raw)
	case protocol.ModelError:
		s.metrics.ModelEvents.WithLabelValues(protocol.ModelTypeError).Inc()
		s.handleModelError(m)
	case protocol.ModelUnknown:
		// No transition and not broadcastable.
	}
}

// handleModelError drops the model leg and redials when the backend
// signals a transient condition a fresh connection may clear. The caller's
// audio path stays up throughout. Anything else is logged and left alone.
func (s *Session) handleModelError(m protocol.ModelError) {
	if !reliability.IsRetryableModelErrorCode(m.Error.Code) {
		log.Printf("session %s: model error: %s %s", s.ID, m.Error.Code, m.Error.Message)
		return
	}
	log.Printf("session %s: transient model error %s, redialing: %s", s.ID, m.Error.Code, m.Error.Message)

	s.mu.Lock()
	old := s.model
	s.model = nil
	s.active = false
	needDial := s.telephony != nil && !s.dialing && s.dialer != nil
	if needDial {
		s.dialing = true
	}
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if needDial {
		go s.dialModel()
	}
}

// handleSessionCreated merges defaults, the stored observer config, and the
// forced tool list, then sends the greeting and asks for a response.
func (s *Session) handleSessionCreated() {
	s.mu.Lock()
	merged := s.mergedSessionConfigLocked()
	model := s.model
	s.active = true
	s.mu.Unlock()

	if model == nil {
		return
	}
	_ = model.Send(protocol.SessionUpdate(merged))
	_ = model.Send(protocol.SystemItemCreate(s.greeting))
	_ = model.Send(protocol.ResponseCreate())
}

// mergedSessionConfigLocked layers defaults under the stored config and
// forces the tool list: the union of built-in schemas and any tools in the
// stored config, with built-ins winning on name conflicts.
func (s *Session) mergedSessionConfigLocked() map[string]any {
	merged := make(map[string]any, len(s.defaults)+len(s.config)+2)
	for k, v := range s.defaults {
		merged[k] = v
	}
	for k, v := range s.config {
		merged[k] = v
	}

	seen := make(map[string]bool)
	toolList := make([]any, 0)
	if s.tools != nil {
		for _, schema := range s.tools.Schemas() {
			toolList = append(toolList, schema)
			seen[schema.Name] = true
		}
	}
	if cfgTools, ok := s.config["tools"].([]any); ok {
		for _, t := range cfgTools {
			tm, ok := t.(map[string]any)
			if !ok {
				continue
			}
			name, _ := tm["name"].(string)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			toolList = append(toolList, tm)
		}
	}
	merged["tools"] = toolList
	merged["tool_choice"] = "auto"
	return merged
}

// handleSpeechStarted runs the truncation protocol: only when an assistant
// utterance is actually in flight, tell the model where the caller cut it
// off and flush the telephony leg's buffered audio.
func (s *Session) handleSpeechStarted() {
	s.mu.Lock()
	if s.lastAssistantItemID == "" || s.responseStartOffsetMs == unsetOffset {
		s.mu.Unlock()
		return
	}
	elapsed := s.latestMediaOffsetMs - s.responseStartOffsetMs
	if elapsed < 0 {
		elapsed = 0
	}
	itemID := s.lastAssistantItemID
	streamSid := s.streamSid
	model := s.model
	tele := s.telephony
	s.lastAssistantItemID = ""
	s.responseStartOffsetMs = unsetOffset
	s.mu.Unlock()

	s.metrics.Truncations.Inc()
	if model != nil {
		_ = model.Send(protocol.ItemTruncate(itemID, elapsed))
	}
	if tele != nil {
		_ = tele.Send(protocol.OutboundClear(streamSid))
	}
}

// handleAudioDelta forwards assistant audio to the telephony leg followed
// by a flow-control mark, pinning the utterance's start offset on the
// first delta.
func (s *Session) handleAudioDelta(m protocol.ModelAudioDelta) {
	s.mu.Lock()
	if s.responseStartOffsetMs == unsetOffset {
		s.responseStartOffsetMs = s.latestMediaOffsetMs
	}
	if m.ItemID != "" {
		s.lastAssistantItemID = m.ItemID
	}
	streamSid := s.streamSid
	tele := s.telephony
	s.mu.Unlock()

	if tele == nil || streamSid == "" {
		return
	}
	_ = tele.Send(protocol.OutboundMedia(streamSid, m.Delta))
	_ = tele.Send(protocol.OutboundMark(streamSid, "assistant-chunk"))
}

// handleFunctionCall starts hold music (if idle) and queues the tool call.
// Calls are serialized per session; a second call arriving while one is in
// flight waits its turn. Start flips the playing flag before returning, so
// the stop at the end of the tool run always observes it.
func (s *Session) handleFunctionCall(item protocol.ModelItem) {
	if s.hold != nil && !s.hold.Playing() {
		s.metrics.HoldMusicStarts.Inc()
		_ = s.hold.Start(s.holdSink, "")
	}

	s.mu.Lock()
	s.toolQueue = append(s.toolQueue, item)
	if !s.toolRunning {
		s.toolRunning = true
		go s.toolLoop()
	}
	s.mu.Unlock()
}

func (s *Session) toolLoop() {
	for {
		s.mu.Lock()
		if len(s.toolQueue) == 0 {
			s.toolRunning = false
			s.mu.Unlock()
			return
		}
		item := s.toolQueue[0]
		s.toolQueue = s.toolQueue[1:]
		s.mu.Unlock()

		s.runTool(item)
	}
}

// runTool invokes one handler. Hold music stops on every exit path,
// including a panicking handler.
func (s *Session) runTool(item protocol.ModelItem) {
	defer func() {
		if s.hold != nil {
			s.hold.Reset()
		}
		if r := recover(); r != nil {
			s.metrics.FunctionCalls.WithLabelValues(item.Name, "panic").Inc()
			log.Printf("session %s: tool %q panicked: %v", s.ID, item.Name, r)
		}
	}()

	output, err := s.tools.Invoke(context.Background(), item.Name, item.Arguments)
	if err != nil {
		s.metrics.FunctionCalls.WithLabelValues(item.Name, "error").Inc()
		log.Printf("session %s: tool %q failed: %v", s.ID, item.Name, err)
		return
	}
	s.metrics.FunctionCalls.WithLabelValues(item.Name, "ok").Inc()

	// The handler may have outlived the call; never write to a gone leg.
	s.mu.Lock()
	model := s.model
	s.mu.Unlock()
	if model == nil {
		return
	}
	_ = model.Send(protocol.FunctionCallOutput(item.CallID, output))
	_ = model.Send(protocol.ResponseCreate())
}

// holdSink pushes one hold-music frame to the telephony leg.
func (s *Session) holdSink(payloadBase64 string) {
	s.mu.Lock()
	tele := s.telephony
	streamSid := s.streamSid
	s.mu.Unlock()

	if tele != nil && streamSid != "" {
		_ = tele.Send(protocol.OutboundMedia(streamSid, payloadBase64))
	}
}

// fanOut forwards an allow-listed model event to the primary observer
// directly and to every other observer through the registry broadcast.
// Secondary observers get speech content with identifiers masked; the
// primary operator console gets the original.
func (s *Session) fanOut(eventType string, raw []byte) {
	if !protocol.BroadcastableModelEvents[eventType] {
		return
	}

	s.mu.Lock()
	primary := s.observers[s.primaryObserverID]
	s.mu.Unlock()

	if primary != nil {
		_ = primary.Send(raw)
	}
	if s.broadcaster != nil {
		_ = s.broadcaster.Broadcast(s.ID, policy.RedactTranscriptEvent(raw))
	}
}

// dialModel performs the model handshake off-lock. The socket may be open
// at acceptance, so liveness is checked synchronously and the open
// callback is only a fallback; registration is idempotent between the two
// paths.
func (s *Session) dialModel() {
	s.mu.Lock()
	dialer := s.dialer
	s.mu.Unlock()
	if dialer == nil {
		s.mu.Lock()
		s.dialing = false
		s.mu.Unlock()
		return
	}

	conn, err := dialer(context.Background())

	s.mu.Lock()
	s.dialing = false
	s.mu.Unlock()

	if err != nil {
		// The session stays usable for audio capture; the next
		// stream-start retries the handshake.
		log.Printf("session %s: model handshake failed: %v", s.ID, err)
		return
	}

	if conn.Ready() {
		s.registerModel(conn)
	} else {
		conn.OnOpen(func() { s.registerModel(conn) })
	}
	conn.ReadPump(s.OnModelMessage, func(error) { s.OnAnyConnClose(conn) })
}

// registerModel installs conn as the model leg, force-closing any prior
// one. Registering the same conn twice is a no-op; a conn arriving after
// the caller hung up is closed instead of installed.
func (s *Session) registerModel(conn ModelConn) {
	s.mu.Lock()
	if s.model != nil && s.model.ID() == conn.ID() {
		s.mu.Unlock()
		return
	}
	if s.telephony == nil {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	old := s.model
	s.model = conn
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}
