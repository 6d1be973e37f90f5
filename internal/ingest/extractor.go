// Package ingest pulls audio out of monitored sources, normalises it to
// 16 kHz mono s16le PCM, slices it into fixed-length chunks, and publishes
// them onto the stream's audio queue. A supervisor owns the lifecycle of all
// per-stream pipelines and keeps them aligned with the control-plane API.
package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/Theesthan/VoxSentinel/internal/config"
	"github.com/Theesthan/VoxSentinel/pkg/pcm"
)

// Extractor opens an audio source and yields raw PCM at the pipeline format
// (16 kHz mono s16le). The returned reader blocks on live sources and hits
// io.EOF when a finite source (file, VOD playlist) is exhausted.
type Extractor interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Name() string
}

// NewExtractor selects an extractor for the given stream definition.
// RTSP and HLS sources always go through ffmpeg; files go through the native
// WAV reader when they already match the pipeline format, and through ffmpeg
// otherwise.
func NewExtractor(spec StreamSpec) (Extractor, error) {
	switch spec.Protocol {
	case config.ProtocolRTSP, config.ProtocolHLS:
		return &FFmpegExtractor{URL: spec.URL, Protocol: spec.Protocol}, nil
	case config.ProtocolFile:
		path := strings.TrimPrefix(spec.URL, "file://")
		if strings.HasSuffix(strings.ToLower(path), ".wav") {
			return &WAVExtractor{Path: path}, nil
		}
		return &FFmpegExtractor{URL: path, Protocol: spec.Protocol}, nil
	default:
		return nil, fmt.Errorf("ingest: unsupported protocol %q", spec.Protocol)
	}
}

// FFmpegExtractor shells out to ffmpeg to demux and resample arbitrary
// sources into the pipeline PCM format. ffmpeg must be on PATH.
type FFmpegExtractor struct {
	URL      string
	Protocol config.Protocol

	// Binary overrides the ffmpeg executable name, used in tests.
	Binary string
}

// Name returns "ffmpeg".
func (e *FFmpegExtractor) Name() string { return "ffmpeg" }

// Open starts the ffmpeg subprocess and returns its stdout as the PCM
// reader. Closing the reader kills the subprocess.
func (e *FFmpegExtractor) Open(ctx context.Context) (io.ReadCloser, error) {
	bin := e.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if e.Protocol == config.ProtocolRTSP {
		// TCP avoids packet loss on congested links.
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", e.URL,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", fmt.Sprint(pcm.SampleRate),
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ingest: ffmpeg stdout pipe: %w", err)
	}
	cmd.Stderr = &prefixLimitWriter{limit: 4096}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ingest: start ffmpeg for %q: %w", e.URL, err)
	}

	return &processReader{rc: stdout, cmd: cmd}, nil
}

// processReader couples a subprocess stdout with its lifecycle.
type processReader struct {
	rc  io.ReadCloser
	cmd *exec.Cmd
}

func (p *processReader) Read(b []byte) (int, error) { return p.rc.Read(b) }

// Close terminates the subprocess and reaps it.
func (p *processReader) Close() error {
	_ = p.rc.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	err := p.cmd.Wait()
	// A killed process always reports an exit error; that is expected here.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// prefixLimitWriter keeps the first limit bytes of ffmpeg stderr so that a
// startup failure can be diagnosed without unbounded buffering.
type prefixLimitWriter struct {
	buf   []byte
	limit int
}

func (w *prefixLimitWriter) Write(p []byte) (int, error) {
	if remaining := w.limit - len(w.buf); remaining > 0 {
		if len(p) > remaining {
			w.buf = append(w.buf, p[:remaining]...)
		} else {
			w.buf = append(w.buf, p...)
		}
	}
	return len(p), nil
}

func (w *prefixLimitWriter) String() string { return string(w.buf) }

// WAVExtractor reads a RIFF/WAVE file that already matches the pipeline
// format. Files in any other layout must go through [FFmpegExtractor].
type WAVExtractor struct {
	Path string
}

// Name returns "wav".
func (e *WAVExtractor) Name() string { return "wav" }

// Open validates the WAV header and returns a reader positioned at the start
// of the sample data.
func (e *WAVExtractor) Open(_ context.Context) (io.ReadCloser, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open wav %q: %w", e.Path, err)
	}
	if err := skipToWAVData(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("ingest: wav %q: %w", e.Path, err)
	}
	return f, nil
}

// skipToWAVData walks the RIFF chunk list, validates the fmt chunk against
// the pipeline format, and leaves r positioned at the data payload.
func skipToWAVData(r io.ReadSeeker) error {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return errors.New("not a RIFF/WAVE file")
	}

	sawFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return fmt.Errorf("read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			var fmtChunk [16]byte
			if _, err := io.ReadFull(r, fmtChunk[:]); err != nil {
				return fmt.Errorf("read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(fmtChunk[0:2])
			channels := binary.LittleEndian.Uint16(fmtChunk[2:4])
			sampleRate := binary.LittleEndian.Uint32(fmtChunk[4:8])
			bitsPerSample := binary.LittleEndian.Uint16(fmtChunk[14:16])
			if audioFormat != 1 || channels != 1 || int(sampleRate) != pcm.SampleRate || bitsPerSample != 16 {
				return fmt.Errorf("unsupported format: codec=%d channels=%d rate=%d bits=%d (want PCM mono %d Hz 16-bit)",
					audioFormat, channels, sampleRate, bitsPerSample, pcm.SampleRate)
			}
			if size > 16 {
				if _, err := r.Seek(int64(size-16), io.SeekCurrent); err != nil {
					return err
				}
			}
			sawFmt = true
		case "data":
			if !sawFmt {
				return errors.New("data chunk before fmt chunk")
			}
			return nil
		default:
			// Skip unrelated chunks (LIST, fact, ...). Chunks are word-aligned.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return err
			}
		}
	}
}
