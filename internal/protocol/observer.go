package protocol

import (
	"encoding/json"
	"fmt"
)

// Observer leg vocabulary. Two control messages are handled by the bridge
// itself; session.update is both retained and forwarded; anything else is
// passed through to the model leg verbatim.

const (
	ObserverTypeSessionUpdate  = "session.update"
	ObserverTypeHoldMusicStart = "hold_music.start"
	ObserverTypeHoldMusicStop  = "hold_music.stop"
)

type observerEnvelope struct {
	Type string `json:"type"`
}

type ObserverSessionUpdate struct {
	Type    string         `json:"type"`
	Session map[string]any `json:"session"`
	Raw     []byte         `json:"-"`
}

type ObserverHoldMusicStart struct {
	Type  string `json:"type"`
	Track string `json:"track,omitempty"`
}

type ObserverHoldMusicStop struct {
	Type string `json:"type"`
}

// ObserverPassthrough is any other observer message, forwarded to the model
// leg unchanged when one is connected and otherwise ignored.
type ObserverPassthrough struct {
	Type string
	Raw  []byte
}

// ParseObserverMessage dispatches a raw observer frame into its typed
// variant.
func ParseObserverMessage(raw []byte) (any, error) {
	var env observerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid observer envelope: %w", err)
	}

	switch env.Type {
	case ObserverTypeSessionUpdate:
		var msg ObserverSessionUpdate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Raw = raw
		return msg, nil
	case ObserverTypeHoldMusicStart:
		var msg ObserverHoldMusicStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case ObserverTypeHoldMusicStop:
		return ObserverHoldMusicStop{Type: env.Type}, nil
	default:
		return ObserverPassthrough{Type: env.Type, Raw: raw}, nil
	}
}

// BroadcastableModelEvents is the fixed allow-list of model event types
// fanned out to every connected observer.
var BroadcastableModelEvents = map[string]bool{
	ModelTypeSessionCreated:         true,
	ModelTypeSpeechStarted:          true,
	ModelTypeItemCreated:            true,
	ModelTypeTranscriptionCompleted: true,
	ModelTypeContentPartAdded:       true,
	ModelTypeAudioTranscriptDelta:   true,
	ModelTypeOutputItemDone:         true,
}
