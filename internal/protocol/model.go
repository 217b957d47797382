package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Model leg vocabulary: OpenAI realtime events over a websocket. Server
// events are parsed into a closed set of variants; everything the bridge
// does not act on lands in ModelUnknown with the raw frame preserved for
// observer fan-out.

const (
	// Client event types.
	ModelTypeSessionUpdate    = "session.update"
	ModelTypeInputAudioAppend = "input_audio_buffer.append"
	ModelTypeItemCreate       = "conversation.item.create"
	ModelTypeItemTruncate     = "conversation.item.truncate"
	ModelTypeResponseCreate   = "response.create"

	// Server event types the coordinator dispatches on.
	ModelTypeSessionCreated         = "session.created"
	ModelTypeSpeechStarted          = "input_audio_buffer.speech_started"
	ModelTypeAudioDelta             = "response.audio.delta"
	ModelTypeOutputItemDone         = "response.output_item.done"
	ModelTypeItemCreated            = "conversation.item.created"
	ModelTypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	ModelTypeContentPartAdded       = "response.content_part.added"
	ModelTypeAudioTranscriptDelta   = "response.audio_transcript.delta"
	ModelTypeError                  = "error"
	ItemTypeFunctionCall            = "function_call"
)

type modelEnvelope struct {
	Type string `json:"type"`
}

// ModelItem is the conversation item shape shared by item-carrying events.
type ModelItem struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type,omitempty"`
	Role      string          `json:"role,omitempty"`
	Status    string          `json:"status,omitempty"`
	Name      string          `json:"name,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type ModelSessionCreated struct {
	EventID string         `json:"event_id,omitempty"`
	Session map[string]any `json:"session,omitempty"`
	Raw     []byte         `json:"-"`
}

type ModelSpeechStarted struct {
	EventID      string `json:"event_id,omitempty"`
	AudioStartMs int64  `json:"audio_start_ms,omitempty"`
	ItemID       string `json:"item_id,omitempty"`
	Raw          []byte `json:"-"`
}

type ModelAudioDelta struct {
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta"`
	Raw        []byte `json:"-"`
}

type ModelOutputItemDone struct {
	EventID string    `json:"event_id,omitempty"`
	Item    ModelItem `json:"item"`
	Raw     []byte    `json:"-"`
}

type ModelItemCreated struct {
	EventID string    `json:"event_id,omitempty"`
	Item    ModelItem `json:"item"`
	Raw     []byte    `json:"-"`
}

type ModelTranscriptionCompleted struct {
	EventID    string `json:"event_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Raw        []byte `json:"-"`
}

type ModelContentPartAdded struct {
	EventID string `json:"event_id,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	Raw     []byte `json:"-"`
}

type ModelTranscriptDelta struct {
	EventID string `json:"event_id,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	Delta   string `json:"delta,omitempty"`
	Raw     []byte `json:"-"`
}

type ModelError struct {
	EventID string `json:"event_id,omitempty"`
	Error   struct {
		Type    string `json:"type,omitempty"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
	Raw []byte `json:"-"`
}

// ModelUnknown carries any server event the coordinator has no transition
// for. It is never an error; the raw frame stays available for fan-out.
type ModelUnknown struct {
	Type string
	Raw  []byte
}

// ParseModelEvent dispatches a raw model frame into its typed variant.
func ParseModelEvent(raw []byte) (any, error) {
	var env modelEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid model envelope: %w", err)
	}

	switch env.Type {
	case ModelTypeSessionCreated:
		var msg ModelSessionCreated
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Raw = raw
		return msg, nil
	case ModelTypeSpeechStarted:
		var msg ModelSpeechStarted
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Raw = raw
		return msg, nil
	case ModelTypeAudioDelta:
		var msg ModelAudioDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Raw = raw
		return msg, nil
	case ModelTypeOutputItemDone:
		var msg ModelOutputItemDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Raw = raw
		return msg, nil
	case ModelTypeItemCreated:
		var msg ModelItemCreated
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Raw = raw
		return msg, nil
	case ModelTypeTranscriptionCompleted:
		var msg ModelTranscriptionCompleted
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Raw = raw
		return msg, nil
	case ModelTypeContentPartAdded:
		var msg ModelContentPartAdded
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Raw = raw
		return msg, nil
	case ModelTypeAudioTranscriptDelta:
		var msg ModelTranscriptDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Raw = raw
		return msg, nil
	case ModelTypeError:
		var msg ModelError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Raw = raw
		return msg, nil
	default:
		return ModelUnknown{Type: env.Type, Raw: raw}, nil
	}
}

func newEventID() string {
	return "evt_" + uuid.NewString()[:12]
}

// SessionUpdate builds a session.update client event.
func SessionUpdate(session map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{
		"event_id": newEventID(),
		"type":     ModelTypeSessionUpdate,
		"session":  session,
	})
	return b
}

// InputAudioAppend builds an input_audio_buffer.append event carrying the
// telephony payload unmodified.
func InputAudioAppend(audioBase64 string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event_id": newEventID(),
		"type":     ModelTypeInputAudioAppend,
		"audio":    audioBase64,
	})
	return b
}

// SystemItemCreate builds a conversation.item.create event holding a system
// instruction, used for the call greeting.
func SystemItemCreate(text string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event_id": newEventID(),
		"type":     ModelTypeItemCreate,
		"item": map[string]any{
			"type": "message",
			"role": "system",
			"content": []map[string]string{
				{"type": "input_text", "text": text},
			},
		},
	})
	return b
}

// FunctionCallOutput builds a conversation.item.create event carrying a
// tool result back to the model.
func FunctionCallOutput(callID, output string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event_id": newEventID(),
		"type":     ModelTypeItemCreate,
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
	return b
}

// ItemTruncate builds a conversation.item.truncate event cutting assistant
// audio at audioEndMs.
func ItemTruncate(itemID string, audioEndMs int64) []byte {
	b, _ := json.Marshal(map[string]any{
		"event_id":      newEventID(),
		"type":          ModelTypeItemTruncate,
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  audioEndMs,
	})
	return b
}

// ResponseCreate asks the model to generate a response.
func ResponseCreate() []byte {
	b, _ := json.Marshal(map[string]any{
		"event_id": newEventID(),
		"type":     ModelTypeResponseCreate,
	})
	return b
}
