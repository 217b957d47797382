package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseTelephonyStart(t *testing.T) {
	raw := []byte(`{"event":"start","sequenceNumber":"1","streamSid":"SD1","start":{"streamSid":"SD1","callSid":"CA1","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`)
	msg, err := ParseTelephonyMessage(raw)
	if err != nil {
		t.Fatalf("ParseTelephonyMessage() error = %v", err)
	}
	start, ok := msg.(TelephonyStart)
	if !ok {
		t.Fatalf("parsed type = %T, want TelephonyStart", msg)
	}
	if start.StreamSid != "SD1" || start.Start.CallSid != "CA1" {
		t.Fatalf("unexpected start: %+v", start)
	}
	if start.Start.MediaFormat.SampleRate != 8000 {
		t.Fatalf("sample rate = %d, want 8000", start.Start.MediaFormat.SampleRate)
	}
}

func TestParseTelephonyMediaTimestamp(t *testing.T) {
	raw := []byte(`{"event":"media","streamSid":"SD1","media":{"track":"inbound","timestamp":"1375","payload":"AAAA"}}`)
	msg, err := ParseTelephonyMessage(raw)
	if err != nil {
		t.Fatalf("ParseTelephonyMessage() error = %v", err)
	}
	media := msg.(TelephonyMedia)
	if media.TimestampMs() != 1375 {
		t.Fatalf("TimestampMs() = %d, want 1375", media.TimestampMs())
	}
	if media.Media.Payload != "AAAA" {
		t.Fatalf("payload = %q, want AAAA", media.Media.Payload)
	}
}

func TestParseTelephonyRejectsUnknownEvent(t *testing.T) {
	if _, err := ParseTelephonyMessage([]byte(`{"event":"dtmf"}`)); err == nil {
		t.Fatalf("expected error for unknown event")
	}
}

func TestParseModelEventVariants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"session created", `{"type":"session.created","session":{"id":"sess_1"}}`, "protocol.ModelSessionCreated"},
		{"speech started", `{"type":"input_audio_buffer.speech_started","audio_start_ms":1400}`, "protocol.ModelSpeechStarted"},
		{"audio delta", `{"type":"response.audio.delta","item_id":"item1","delta":"BBBB"}`, "protocol.ModelAudioDelta"},
		{"function done", `{"type":"response.output_item.done","item":{"type":"function_call","name":"get_current_time","call_id":"call_1","arguments":"{}"}}`, "protocol.ModelOutputItemDone"},
		{"transcript delta", `{"type":"response.audio_transcript.delta","delta":"hel"}`, "protocol.ModelTranscriptDelta"},
	}

	for _, tc := range cases {
		msg, err := ParseModelEvent([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: ParseModelEvent() error = %v", tc.name, err)
		}
		got := typeName(msg)
		if got != tc.want {
			t.Fatalf("%s: parsed type = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestParseModelEventUnknownIsNotAnError(t *testing.T) {
	msg, err := ParseModelEvent([]byte(`{"type":"rate_limits.updated"}`))
	if err != nil {
		t.Fatalf("ParseModelEvent() error = %v", err)
	}
	unk, ok := msg.(ModelUnknown)
	if !ok {
		t.Fatalf("parsed type = %T, want ModelUnknown", msg)
	}
	if unk.Type != "rate_limits.updated" {
		t.Fatalf("unknown type = %q", unk.Type)
	}
}

func TestItemTruncatePayload(t *testing.T) {
	var got struct {
		Type         string `json:"type"`
		ItemID       string `json:"item_id"`
		ContentIndex int    `json:"content_index"`
		AudioEndMs   int64  `json:"audio_end_ms"`
		EventID      string `json:"event_id"`
	}
	if err := json.Unmarshal(ItemTruncate("item1", 400), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != ModelTypeItemTruncate || got.ItemID != "item1" || got.AudioEndMs != 400 {
		t.Fatalf("unexpected truncate payload: %+v", got)
	}
	if got.EventID == "" {
		t.Fatalf("event_id missing")
	}
}

func TestOutboundMediaPassthrough(t *testing.T) {
	var got struct {
		Event     string `json:"event"`
		StreamSid string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(OutboundMedia("SD1", "BBBB"), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Event != "media" || got.StreamSid != "SD1" || got.Media.Payload != "BBBB" {
		t.Fatalf("unexpected outbound media: %+v", got)
	}
}

func TestParseObserverMessages(t *testing.T) {
	msg, err := ParseObserverMessage([]byte(`{"type":"hold_music.start","track":"jazz"}`))
	if err != nil {
		t.Fatalf("ParseObserverMessage() error = %v", err)
	}
	start, ok := msg.(ObserverHoldMusicStart)
	if !ok || start.Track != "jazz" {
		t.Fatalf("unexpected parse: %T %+v", msg, msg)
	}

	msg, err = ParseObserverMessage([]byte(`{"type":"session.update","session":{"voice":"ash"}}`))
	if err != nil {
		t.Fatalf("ParseObserverMessage() error = %v", err)
	}
	upd, ok := msg.(ObserverSessionUpdate)
	if !ok || upd.Session["voice"] != "ash" {
		t.Fatalf("unexpected parse: %T %+v", msg, msg)
	}

	msg, err = ParseObserverMessage([]byte(`{"type":"response.cancel"}`))
	if err != nil {
		t.Fatalf("ParseObserverMessage() error = %v", err)
	}
	if _, ok := msg.(ObserverPassthrough); !ok {
		t.Fatalf("parsed type = %T, want ObserverPassthrough", msg)
	}
}

func typeName(v any) string {
	switch v.(type) {
	case ModelSessionCreated:
		return "protocol.ModelSessionCreated"
	case ModelSpeechStarted:
		return "protocol.ModelSpeechStarted"
	case ModelAudioDelta:
		return "protocol.ModelAudioDelta"
	case ModelOutputItemDone:
		return "protocol.ModelOutputItemDone"
	case ModelTranscriptDelta:
		return "protocol.ModelTranscriptDelta"
	default:
		return "unknown"
	}
}
