// Package pcm provides helpers for the raw audio format used throughout the
// pipeline: 16 kHz mono signed 16-bit little-endian PCM. Queue payloads carry
// this format base64-encoded; everything in-process works on raw bytes.
package pcm

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// SampleRate is the pipeline-wide audio sample rate in Hz.
	SampleRate = 16000

	// BytesPerSample is the width of one s16le sample.
	BytesPerSample = 2
)

// ChunkSizeBytes returns the exact byte length of a chunk of the given
// duration, e.g. 280 ms → 8960 bytes at 16 kHz.
func ChunkSizeBytes(chunkMs int) int {
	return SampleRate * chunkMs / 1000 * BytesPerSample
}

// DurationMs returns the duration in milliseconds of a raw PCM byte run.
func DurationMs(n int) int64 {
	return int64(n) * 1000 / (SampleRate * BytesPerSample)
}

// ToFloat32 converts s16le bytes to normalized float32 samples in [-1, 1].
// A trailing odd byte is ignored.
func ToFloat32(b []byte) []float32 {
	n := len(b) / BytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// RMS computes the root-mean-square amplitude of s16le samples in native
// int16 units. Returns 0 for empty input.
func RMS(b []byte) float64 {
	n := len(b) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// EncodeWAV wraps raw s16le mono PCM in a minimal RIFF/WAVE header so it can
// be posted to HTTP transcription and diarization services.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8
	dataLen := len(pcm)

	buf := make([]byte, 0, 44+dataLen)
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataLen))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // PCM
	buf = binary.LittleEndian.AppendUint16(buf, numChannels)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(blockAlign))
	buf = binary.LittleEndian.AppendUint16(buf, bitsPerSample)
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataLen))
	buf = append(buf, pcm...)
	return buf
}

// ValidateChunk checks that a payload has the exact byte length expected for
// the given duration.
func ValidateChunk(b []byte, durationMs int) error {
	want := ChunkSizeBytes(durationMs)
	if len(b) != want {
		return fmt.Errorf("pcm: chunk is %d bytes, want %d for %d ms", len(b), want, durationMs)
	}
	return nil
}
