package holdmusic

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/trunkline/internal/assets"
	"github.com/ent0n29/trunkline/internal/audio"
)

type chunkCollector struct {
	mu     sync.Mutex
	chunks []string
}

func (c *chunkCollector) sink(payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, payload)
}

func (c *chunkCollector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.chunks))
	copy(out, c.chunks)
	return out
}

func waitForChunks(t *testing.T, c *chunkCollector, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d chunks (got %d)", n, len(c.snapshot()))
	return nil
}

func TestStartIsIdempotent(t *testing.T) {
	s := New(assets.NewMemStore(), time.Millisecond, "")
	defer s.Reset()
	var c chunkCollector

	if err := s.Start(c.sink, ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(c.sink, ""); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if !s.Playing() {
		t.Fatalf("scheduler should be playing")
	}

	// Exactly one schedule: chunk cadence should roughly match one emitter.
	waitForChunks(t, &c, 3)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if s.Playing() {
		t.Fatalf("scheduler should be stopped")
	}
}

func TestSynthesizedFallbackEmitsFullFramesAndLoops(t *testing.T) {
	// Empty store: no default asset, so playback must come from the
	// synthesized tone and wrap when the buffer is exhausted.
	s := New(assets.NewMemStore(), time.Millisecond, "")
	defer s.Reset()
	var c chunkCollector

	if err := s.Start(c.sink, ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The 2s tone holds 100 frames; collect past the wrap point.
	chunks := waitForChunks(t, &c, 105)
	_ = s.Stop()

	for i, payload := range chunks {
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			t.Fatalf("chunk %d is not base64: %v", i, err)
		}
		if len(raw) != FrameSize {
			t.Fatalf("chunk %d has %d bytes, want %d", i, len(raw), FrameSize)
		}
	}
	// After wrap, emission restarts from the buffer head.
	if chunks[100] != chunks[0] {
		t.Fatalf("looped chunk differs from first chunk")
	}
}

func TestMissingCustomTrackFallsBackToDefault(t *testing.T) {
	store := assets.NewMemStore()
	defaultTrack := make([]byte, FrameSize*2)
	for i := range defaultTrack {
		defaultTrack[i] = 0x55
	}
	store.Put("default.ulaw", defaultTrack)

	s := New(store, time.Millisecond, "")
	defer s.Reset()
	var c chunkCollector

	if err := s.Start(c.sink, "bagpipes"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	chunks := waitForChunks(t, &c, 1)
	_ = s.Stop()

	raw, err := base64.StdEncoding.DecodeString(chunks[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range raw {
		if b != 0x55 {
			t.Fatalf("expected default track bytes, got %x", raw)
		}
	}
}

func TestConfiguredDefaultTrackPlaysWhenNoTrackNamed(t *testing.T) {
	store := assets.NewMemStore()
	jazz := make([]byte, FrameSize*2)
	for i := range jazz {
		jazz[i] = 0x2A
	}
	store.Put("jazz.ulaw", jazz)
	// No default.ulaw: only the configured default can reach the asset.

	s := New(store, time.Millisecond, "jazz")
	defer s.Reset()
	var c chunkCollector

	if err := s.Start(c.sink, ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	chunks := waitForChunks(t, &c, 1)
	_ = s.Stop()

	raw, err := base64.StdEncoding.DecodeString(chunks[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range raw {
		if b != 0x2A {
			t.Fatalf("expected configured default track bytes, got %x", raw)
		}
	}
}

func TestMissingNamedTrackFallsBackToConfiguredDefault(t *testing.T) {
	store := assets.NewMemStore()
	jazz := make([]byte, FrameSize*2)
	for i := range jazz {
		jazz[i] = 0x2A
	}
	store.Put("jazz.ulaw", jazz)

	s := New(store, time.Millisecond, "jazz")
	defer s.Reset()
	var c chunkCollector

	if err := s.Start(c.sink, "bagpipes"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	chunks := waitForChunks(t, &c, 1)
	_ = s.Stop()

	raw, err := base64.StdEncoding.DecodeString(chunks[0])
	if err != nil {
		t.Fatal(err)
	}
	if raw[0] != 0x2A {
		t.Fatalf("expected configured default track bytes, got %x", raw[0])
	}
}

func TestWrongRateWAVAssetIsTreatedAsMissing(t *testing.T) {
	store := assets.NewMemStore()
	pcm := make([]int16, 44100)
	store.Put("default.ulaw", audio.EncodeWAVPCM16LE(pcm, 44100))

	s := New(store, time.Millisecond, "")
	defer s.Reset()
	var c chunkCollector

	if err := s.Start(c.sink, ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	chunks := waitForChunks(t, &c, 1)
	_ = s.Stop()

	// A silent 44.1 kHz asset must not be transcoded; the synthesized
	// tone takes over, and its frames are never all-silence.
	raw, err := base64.StdEncoding.DecodeString(chunks[0])
	if err != nil {
		t.Fatal(err)
	}
	silence := audio.LinearToMulaw(0)
	allSilent := true
	for _, b := range raw {
		if b != silence {
			allSilent = false
			break
		}
	}
	if allSilent {
		t.Fatalf("wrong-rate asset was played instead of the fallback tone")
	}
}

func TestTelephonyRateWAVAssetIsTranscoded(t *testing.T) {
	store := assets.NewMemStore()
	pcm := make([]int16, FrameSize*2)
	for i := range pcm {
		pcm[i] = 8000
	}
	store.Put("default.ulaw", audio.EncodeWAVPCM16LE(pcm, 8000))

	s := New(store, time.Millisecond, "")
	defer s.Reset()
	var c chunkCollector

	if err := s.Start(c.sink, ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	chunks := waitForChunks(t, &c, 1)
	_ = s.Stop()

	raw, err := base64.StdEncoding.DecodeString(chunks[0])
	if err != nil {
		t.Fatal(err)
	}
	want := audio.LinearToMulaw(8000)
	if raw[0] != want {
		t.Fatalf("transcoded byte = %x, want %x", raw[0], want)
	}
}

func TestShortAssetIsTreatedAsMissing(t *testing.T) {
	store := assets.NewMemStore()
	store.Put("default.ulaw", []byte{1, 2, 3})

	s := New(store, time.Millisecond, "")
	defer s.Reset()
	var c chunkCollector

	if err := s.Start(c.sink, ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	chunks := waitForChunks(t, &c, 1)
	raw, err := base64.StdEncoding.DecodeString(chunks[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != FrameSize {
		t.Fatalf("chunk has %d bytes, want synthesized full frame", len(raw))
	}
}

func TestResetNeverFails(t *testing.T) {
	s := New(assets.NewMemStore(), time.Millisecond, "")
	s.Reset()
	s.Reset()
	var c chunkCollector
	if err := s.Start(c.sink, ""); err != nil {
		t.Fatal(err)
	}
	s.Reset()
	if s.Playing() {
		t.Fatalf("Reset should stop playback")
	}
}
