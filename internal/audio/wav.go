package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// IsWAV reports whether b starts with a RIFF/WAVE header.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE"))
}

// ParseWAVPCM16LE extracts mono PCM16LE samples and the sample rate from a
// WAV container. Only uncompressed 16-bit mono PCM is accepted; hold-music
// tracks are expected in that shape when not already raw mu-law.
func ParseWAVPCM16LE(b []byte) ([]int16, int, error) {
	if !IsWAV(b) {
		return nil, 0, ErrNotWAV
	}

	var (
		sampleRate int
		dataChunk  []byte
		haveFmt    bool
	)

	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		if off+size > len(b) {
			return nil, 0, fmt.Errorf("wav chunk %q overruns buffer", id)
		}
		chunk := b[off : off+size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("wav fmt chunk too small (%d bytes)", size)
			}
			audioFormat := binary.LittleEndian.Uint16(chunk[0:2])
			numChannels := binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitsPerSample := binary.LittleEndian.Uint16(chunk[14:16])
			if audioFormat != 1 || numChannels != 1 || bitsPerSample != 16 {
				return nil, 0, fmt.Errorf("unsupported wav format: format=%d channels=%d bits=%d", audioFormat, numChannels, bitsPerSample)
			}
			haveFmt = true
		case "data":
			dataChunk = chunk
		}

		off += size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt || dataChunk == nil {
		return nil, 0, errors.New("wav stream missing fmt or data chunk")
	}

	samples := make([]int16, len(dataChunk)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(dataChunk[2*i : 2*i+2]))
	}
	return samples, sampleRate, nil
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono samples in a WAV container.
// Used by asset tooling to round-trip synthesized tracks.
func EncodeWAVPCM16LE(pcm []int16, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(pcm) * 2)
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	for _, s := range pcm {
		binary.Write(&buf, binary.LittleEndian, uint16(s))
	}
	return buf.Bytes()
}
