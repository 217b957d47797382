// Command holdtool prepares and inspects hold-music assets. It converts
// 8 kHz PCM WAV files into the mu-law format the scheduler streams,
// renders stored mu-law assets back to WAV for audition, and synthesizes
// a tone track for environments with no recorded music.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ent0n29/trunkline/internal/audio"
	"github.com/ent0n29/trunkline/internal/holdmusic"
)

type options struct {
	mode string
	in   string
	out  string
	freq float64
	ms   int
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "holdtool: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "holdtool: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	flag.StringVar(&cfg.mode, "mode", "", "transcode (wav -> ulaw asset), audition (ulaw asset -> wav), or synth (tone -> wav)")
	flag.StringVar(&cfg.in, "in", "", "input file (transcode: wav, audition: ulaw)")
	flag.StringVar(&cfg.out, "out", "", "output file")
	flag.Float64Var(&cfg.freq, "freq", 440, "tone frequency in Hz (synth)")
	flag.IntVar(&cfg.ms, "ms", 2000, "tone duration in milliseconds (synth)")
	flag.Parse()

	switch cfg.mode {
	case "transcode", "audition":
		if cfg.in == "" || cfg.out == "" {
			return cfg, fmt.Errorf("%s needs -in and -out", cfg.mode)
		}
	case "synth":
		if cfg.out == "" {
			return cfg, fmt.Errorf("synth needs -out")
		}
	case "":
		return cfg, fmt.Errorf("-mode is required")
	default:
		return cfg, fmt.Errorf("unknown mode %q", cfg.mode)
	}
	return cfg, nil
}

func run(cfg options) error {
	switch cfg.mode {
	case "transcode":
		return transcode(cfg.in, cfg.out)
	case "audition":
		return audition(cfg.in, cfg.out)
	default:
		return synth(cfg.out, cfg.freq, cfg.ms)
	}
}

// transcode converts an 8 kHz PCM16 WAV into a raw mu-law asset the
// scheduler can loop. Other sample rates are rejected rather than
// resampled.
func transcode(in, out string) error {
	b, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	pcm, sampleRate, err := audio.ParseWAVPCM16LE(b)
	if err != nil {
		return fmt.Errorf("parse %s: %w", in, err)
	}
	if sampleRate != 8000 {
		return fmt.Errorf("%s is %d Hz, assets must be 8000 Hz", in, sampleRate)
	}
	ulaw := audio.EncodeMulaw(pcm)
	if len(ulaw) < holdmusic.FrameSize {
		return fmt.Errorf("%s is shorter than one frame", in)
	}
	return os.WriteFile(out, ulaw, 0o644)
}

// audition renders a stored mu-law asset back to WAV so an operator can
// listen to what the scheduler would play.
func audition(in, out string) error {
	ulaw, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	if len(ulaw) == 0 {
		return fmt.Errorf("%s is empty", in)
	}
	pcm := make([]int16, len(ulaw))
	for i, u := range ulaw {
		pcm[i] = audio.MulawToLinear(u)
	}
	return os.WriteFile(out, audio.EncodeWAVPCM16LE(pcm, 8000), 0o644)
}

// synth writes the scheduler's last-resort tone as a WAV, which doubles
// as a quick check of what callers hear when no asset is installed.
func synth(out string, freq float64, ms int) error {
	ulaw := audio.SynthesizeTone(freq, ms, 8000, 0.30)
	pcm := make([]int16, len(ulaw))
	for i, u := range ulaw {
		pcm[i] = audio.MulawToLinear(u)
	}
	return os.WriteFile(out, audio.EncodeWAVPCM16LE(pcm, 8000), 0o644)
}
