package audio

import "math"

// G.711 mu-law companding for 8kHz telephony audio.

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// LinearToMulaw compands one 16-bit PCM sample to an 8-bit mu-law byte.
func LinearToMulaw(sample int16) byte {
	sign := byte(0)
	v := int(sample)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exp := 7
	for mask := 0x4000; exp > 0 && v&mask == 0; mask >>= 1 {
		exp--
	}
	mant := byte((v >> uint(exp+3)) & 0x0F)
	return ^(sign | byte(exp)<<4 | mant)
}

// MulawToLinear expands one mu-law byte back to a 16-bit PCM sample.
func MulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	v := (int(mant) << 3) + muLawBias
	v <<= uint(exp)
	v -= muLawBias
	if sign != 0 {
		return int16(-v)
	}
	return int16(v)
}

// EncodeMulaw compands a PCM16 buffer sample by sample.
func EncodeMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = LinearToMulaw(s)
	}
	return out
}

// SynthesizeTone renders a fixed-frequency sine wave as mu-law bytes at
// sampleRate Hz. amplitude is a 0..1 scale against full int16 range.
func SynthesizeTone(freqHz float64, durationMs int, sampleRate int, amplitude float64) []byte {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	if amplitude < 0 {
		amplitude = 0
	} else if amplitude > 1 {
		amplitude = 1
	}
	n := sampleRate * durationMs / 1000
	out := make([]byte, n)
	scale := amplitude * 32767
	for i := 0; i < n; i++ {
		sample := int16(scale * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate)))
		out[i] = LinearToMulaw(sample)
	}
	return out
}
