package ingest

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Theesthan/VoxSentinel/internal/config"
	"github.com/Theesthan/VoxSentinel/pkg/pcm"
)

// writeWAV writes a minimal RIFF/WAVE file with the given format and samples.
func writeWAV(t *testing.T, path string, sampleRate uint32, channels, bits uint16, samples []byte) {
	t.Helper()
	var buf bytes.Buffer

	dataLen := uint32(len(samples))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, channels)
	binary.Write(&buf, binary.LittleEndian, sampleRate)
	byteRate := sampleRate * uint32(channels) * uint32(bits/8)
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, channels*(bits/8))
	binary.Write(&buf, binary.LittleEndian, bits)

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(samples)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

func TestWAVExtractor_ReadsSampleData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "in.wav")
	samples := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	writeWAV(t, path, uint32(pcm.SampleRate), 1, 16, samples)

	e := &WAVExtractor{Path: path}
	rc, err := e.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, samples) {
		t.Errorf("read %v, want %v", got, samples)
	}
}

func TestWAVExtractor_RejectsWrongFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		sampleRate uint32
		channels   uint16
		bits       uint16
	}{
		{"stereo", uint32(pcm.SampleRate), 2, 16},
		{"44k1", 44100, 1, 16},
		{"8bit", uint32(pcm.SampleRate), 1, 8},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "in.wav")
			writeWAV(t, path, tc.sampleRate, tc.channels, tc.bits, []byte{0, 0})

			e := &WAVExtractor{Path: path}
			if _, err := e.Open(context.Background()); err == nil {
				t.Error("expected format error, got nil")
			}
		})
	}
}

func TestWAVExtractor_RejectsNonWAV(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, []byte("definitely not audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &WAVExtractor{Path: path}
	if _, err := e.Open(context.Background()); err == nil {
		t.Error("expected error for non-WAV file, got nil")
	}
}

func TestNewExtractor_SelectsByProtocol(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spec StreamSpec
		want string
	}{
		{StreamSpec{ID: "a", URL: "rtsp://cam/audio", Protocol: config.ProtocolRTSP}, "ffmpeg"},
		{StreamSpec{ID: "b", URL: "https://cdn/x.m3u8", Protocol: config.ProtocolHLS}, "ffmpeg"},
		{StreamSpec{ID: "c", URL: "file:///tmp/x.wav", Protocol: config.ProtocolFile}, "wav"},
		{StreamSpec{ID: "d", URL: "/tmp/x.mp3", Protocol: config.ProtocolFile}, "ffmpeg"},
	}
	for _, tc := range tests {
		e, err := NewExtractor(tc.spec)
		if err != nil {
			t.Fatalf("NewExtractor(%+v): %v", tc.spec, err)
		}
		if e.Name() != tc.want {
			t.Errorf("NewExtractor(%+v).Name() = %q, want %q", tc.spec, e.Name(), tc.want)
		}
	}

	if _, err := NewExtractor(StreamSpec{ID: "e", URL: "x", Protocol: "srt"}); err == nil {
		t.Error("expected error for unsupported protocol")
	}
}
