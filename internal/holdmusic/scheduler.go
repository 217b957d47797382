// Package holdmusic produces a steady secondary audio stream for the
// telephony leg while the model is busy with a function call.
package holdmusic

import (
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/ent0n29/trunkline/internal/assets"
	"github.com/ent0n29/trunkline/internal/audio"
)

const (
	// One 20ms frame of 8kHz mu-law audio.
	FrameSize     = 160
	FrameInterval = 20 * time.Millisecond

	DefaultTrack = "default"

	toneFreqHz     = 440.0
	toneDurationMs = 2000
	toneSampleRate = 8000
	toneAmplitude  = 0.30
)

// trackTable maps the small set of named tracks to asset file names.
var trackTable = map[string]string{
	"default":   "default.ulaw",
	"jazz":      "jazz.ulaw",
	"classical": "classical.ulaw",
}

// Sink receives one base64-encoded mu-law frame per emission tick.
type Sink func(payloadBase64 string)

// Scheduler owns a looping, cancellable, fixed-cadence chunk emitter.
// Start and Stop are idempotent; Reset never fails.
type Scheduler struct {
	store        assets.Store
	interval     time.Duration
	defaultTrack string

	mu      sync.Mutex
	playing bool
	buffer  []byte
	cursor  int
	stop    chan struct{}
}

// New builds a scheduler over the given asset store. interval <= 0 selects
// the real-time frame cadence; defaultTrack "" selects DefaultTrack. The
// default is what plays when Start is given no track name, and what a
// named-but-missing track falls back to.
func New(store assets.Store, interval time.Duration, defaultTrack string) *Scheduler {
	if interval <= 0 {
		interval = FrameInterval
	}
	if defaultTrack == "" {
		defaultTrack = DefaultTrack
	}
	return &Scheduler{store: store, interval: interval, defaultTrack: defaultTrack}
}

// Start begins looping playback of the named track through sink. Starting
// while already playing is a no-op returning success. A named-but-missing
// custom track falls back to the default asset; with no stored asset at all
// a short sine tone is synthesized as the loop buffer.
func (s *Scheduler) Start(sink Sink, trackName string) error {
	if sink == nil {
		return errors.New("holdmusic: sink is required")
	}

	s.mu.Lock()
	if s.playing {
		s.mu.Unlock()
		return nil
	}
	s.playing = true
	s.cursor = 0
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	// The playing flag is visible immediately; the asset load may touch
	// disk and happens off the caller's path. A Stop racing the load wins.
	go func() {
		buffer := s.loadBuffer(trackName)
		s.mu.Lock()
		if s.stop != stop {
			s.mu.Unlock()
			return
		}
		s.buffer = buffer
		s.mu.Unlock()
		s.emitLoop(sink, stop)
	}()
	return nil
}

// Stop cancels the scheduled emission and drops the buffer so a different
// track can be selected next time. Stopping while idle is a no-op
// returning success.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return nil
	}
	close(s.stop)
	s.stop = nil
	s.playing = false
	s.buffer = nil
	s.cursor = 0
	return nil
}

// Reset is the unconditional hard stop used at call teardown.
func (s *Scheduler) Reset() {
	_ = s.Stop()
}

// Playing reports whether an emission schedule is active.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Scheduler) loadBuffer(trackName string) []byte {
	if trackName == "" {
		trackName = s.defaultTrack
	}
	if b, ok := s.loadTrack(trackName); ok {
		return b
	}
	if trackName != s.defaultTrack {
		if b, ok := s.loadTrack(s.defaultTrack); ok {
			return b
		}
	}
	return audio.SynthesizeTone(toneFreqHz, toneDurationMs, toneSampleRate, toneAmplitude)
}

func (s *Scheduler) loadTrack(name string) ([]byte, bool) {
	if s.store == nil {
		return nil, false
	}
	fileName, ok := trackTable[name]
	if !ok {
		fileName = name
	}
	b, ok, err := s.store.Get(fileName)
	if err != nil || !ok {
		return nil, false
	}
	if audio.IsWAV(b) {
		pcm, sampleRate, err := audio.ParseWAVPCM16LE(b)
		if err != nil {
			return nil, false
		}
		// Anything but telephony rate would play at the wrong speed;
		// treat it like a missing track so the fallback chain applies.
		if sampleRate != toneSampleRate {
			return nil, false
		}
		b = audio.EncodeMulaw(pcm)
	}
	// A buffer shorter than one frame can never emit; treat it as missing.
	if len(b) < FrameSize {
		return nil, false
	}
	return b, true
}

// emitLoop slices one full frame per tick, wrapping the cursor to zero
// instead of ever emitting a short chunk.
func (s *Scheduler) emitLoop(sink Sink, stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if !s.playing || len(s.buffer) < FrameSize {
			s.mu.Unlock()
			return
		}
		if s.cursor+FrameSize > len(s.buffer) {
			s.cursor = 0
		}
		chunk := make([]byte, FrameSize)
		copy(chunk, s.buffer[s.cursor:s.cursor+FrameSize])
		s.cursor += FrameSize
		s.mu.Unlock()

		sink(base64.StdEncoding.EncodeToString(chunk))
	}
}
