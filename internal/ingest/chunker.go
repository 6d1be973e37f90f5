package ingest

import "github.com/Theesthan/VoxSentinel/pkg/pcm"

// Chunker slices a continuous PCM byte stream into fixed-length chunks.
// Bytes that do not fill a complete chunk stay buffered until the next Feed
// call; a trailing partial chunk at end of stream is discarded, never padded.
//
// Chunker is not safe for concurrent use; each pipeline owns exactly one.
type Chunker struct {
	size int
	buf  []byte
}

// NewChunker creates a chunker emitting chunks of chunkMs milliseconds.
func NewChunker(chunkMs int) *Chunker {
	size := pcm.ChunkSizeBytes(chunkMs)
	return &Chunker{
		size: size,
		buf:  make([]byte, 0, size*2),
	}
}

// ChunkSize returns the emitted chunk length in bytes.
func (c *Chunker) ChunkSize() int { return c.size }

// Feed appends p to the internal buffer and returns every complete chunk now
// available, in order. The returned slices are copies and remain valid after
// subsequent Feed calls.
func (c *Chunker) Feed(p []byte) [][]byte {
	c.buf = append(c.buf, p...)

	var chunks [][]byte
	for len(c.buf) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.buf[:c.size])
		chunks = append(chunks, chunk)
		c.buf = c.buf[c.size:]
	}

	// Reclaim capacity once the backlog drains, otherwise the buffer creeps
	// up to the largest burst ever seen.
	if len(c.buf) == 0 && cap(c.buf) > c.size*4 {
		c.buf = make([]byte, 0, c.size*2)
	}
	return chunks
}

// Pending returns how many buffered bytes await the next complete chunk.
func (c *Chunker) Pending() int { return len(c.buf) }

// Reset drops any buffered partial chunk. Called between sessions so stale
// audio from a dropped connection never leaks into the next one.
func (c *Chunker) Reset() {
	c.buf = c.buf[:0]
}
