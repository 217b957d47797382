package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Telephony leg vocabulary: Twilio-style media stream framing. Inbound
// events arrive as JSON text frames tagged with an "event" field; outbound
// frames use the same envelope.

type TelephonyEventKind string

const (
	TelephonyKindConnected TelephonyEventKind = "connected"
	TelephonyKindStart     TelephonyEventKind = "start"
	TelephonyKindMedia     TelephonyEventKind = "media"
	TelephonyKindStop      TelephonyEventKind = "stop"
	TelephonyKindMark      TelephonyEventKind = "mark"
)

var ErrUnknownTelephonyEvent = errors.New("unknown telephony event")

type telephonyEnvelope struct {
	Event TelephonyEventKind `json:"event"`
}

type TelephonyConnected struct {
	Event    TelephonyEventKind `json:"event"`
	Protocol string             `json:"protocol,omitempty"`
	Version  string             `json:"version,omitempty"`
}

type TelephonyStartMeta struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid,omitempty"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type TelephonyStart struct {
	Event          TelephonyEventKind `json:"event"`
	SequenceNumber string             `json:"sequenceNumber,omitempty"`
	StreamSid      string             `json:"streamSid"`
	Start          TelephonyStartMeta `json:"start"`
}

type TelephonyMediaMeta struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type TelephonyMedia struct {
	Event     TelephonyEventKind `json:"event"`
	StreamSid string             `json:"streamSid"`
	Media     TelephonyMediaMeta `json:"media"`
}

// TimestampMs returns the media frame's stream clock in milliseconds.
// The wire carries it as a decimal string.
func (m TelephonyMedia) TimestampMs() int64 {
	ms, err := strconv.ParseInt(m.Media.Timestamp, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

type TelephonyStop struct {
	Event     TelephonyEventKind `json:"event"`
	StreamSid string             `json:"streamSid"`
	Stop      struct {
		AccountSid string `json:"accountSid,omitempty"`
		CallSid    string `json:"callSid,omitempty"`
	} `json:"stop"`
}

type TelephonyMark struct {
	Event     TelephonyEventKind `json:"event"`
	StreamSid string             `json:"streamSid"`
	Mark      struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// ParseTelephonyMessage dispatches a raw telephony frame into its typed
// variant. Unrecognized event kinds are a protocol error; the caller drops
// the frame and keeps the session alive.
func ParseTelephonyMessage(raw []byte) (any, error) {
	var env telephonyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid telephony envelope: %w", err)
	}

	switch env.Event {
	case TelephonyKindConnected:
		var msg TelephonyConnected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TelephonyKindStart:
		var msg TelephonyStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.StreamSid == "" && msg.Start.StreamSid != "" {
			msg.StreamSid = msg.Start.StreamSid
		}
		if msg.StreamSid == "" || msg.Start.CallSid == "" {
			return nil, errors.New("invalid start: missing streamSid or callSid")
		}
		return msg, nil
	case TelephonyKindMedia:
		var msg TelephonyMedia
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Media.Payload == "" {
			return nil, errors.New("invalid media: empty payload")
		}
		return msg, nil
	case TelephonyKindStop:
		var msg TelephonyStop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TelephonyKindMark:
		var msg TelephonyMark
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTelephonyEvent, env.Event)
	}
}

// OutboundMedia builds an outbound audio frame for the telephony leg.
// payload is base64 mu-law audio, passed through unmodified.
func OutboundMedia(streamSid, payload string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event":     TelephonyKindMedia,
		"streamSid": streamSid,
		"media":     map[string]string{"payload": payload},
	})
	return b
}

// OutboundMark builds a flow-control marker frame. The telephony leg echoes
// it back once the audio queued before it has played out.
func OutboundMark(streamSid, name string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event":     TelephonyKindMark,
		"streamSid": streamSid,
		"mark":      map[string]string{"name": name},
	})
	return b
}

// OutboundClear instructs the telephony leg to drop buffered outbound audio.
func OutboundClear(streamSid string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event":     "clear",
		"streamSid": streamSid,
	})
	return b
}
