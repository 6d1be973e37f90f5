// Package queue provides the Redis-backed transport connecting the pipeline
// stages: durable ordered streams (Redis Streams) for chunk/token flow and
// transient pub/sub channels for events.
//
// Streams are approx-trimmed at a fixed maxlen so slow consumers lose oldest
// entries instead of growing Redis without bound; the loss is observable via
// the queue trim metrics. Readers keep a last-seen cursor and block for at
// most one second per read so stop signals are honoured promptly.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// defaultMaxLen is the approximate cap applied to every stream.
	defaultMaxLen = 10000

	// readBlock bounds how long a single read blocks. Keeping this short
	// lets per-stream loops notice cancellation quickly.
	readBlock = time.Second

	// readCount is the batch size for stream reads.
	readCount = 10
)

// Bus wraps a Redis client with the publish/read conventions shared by all
// pipeline stages. It is safe for concurrent use.
type Bus struct {
	rdb    *redis.Client
	maxLen int64
}

// Option configures a [Bus].
type Option func(*Bus)

// WithMaxLen overrides the approximate per-stream entry cap.
func WithMaxLen(n int64) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxLen = n
		}
	}
}

// New creates a [Bus] on top of an existing Redis client. The caller retains
// ownership of the client.
func New(rdb *redis.Client, opts ...Option) *Bus {
	b := &Bus{rdb: rdb, maxLen: defaultMaxLen}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Client exposes the underlying Redis client for components that need raw
// commands (dedup keys, throttle sorted sets, health pings).
func (b *Bus) Client() *redis.Client { return b.rdb }

// Publish appends an entry to the named stream with approximate maxlen
// trimming and returns the assigned entry ID.
func (b *Bus) Publish(ctx context.Context, stream string, fields map[string]any) (string, error) {
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("queue: xadd %s: %w", stream, err)
	}
	return id, nil
}

// PublishJSON appends an entry whose single field carries v as JSON.
func (b *Bus) PublishJSON(ctx context.Context, stream, field string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("queue: marshal for %s: %w", stream, err)
	}
	return b.Publish(ctx, stream, map[string]any{field: string(data)})
}

// PublishEvent sends v as JSON on a pub/sub channel. Unlike streams, events
// are transient: subscribers that are not listening miss them.
func (b *Bus) PublishEvent(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue: marshal event for %s: %w", channel, err)
	}
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("queue: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription on exact channel names.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return b.rdb.Subscribe(ctx, channels...)
}

// PSubscribe opens a pub/sub subscription on channel patterns
// (e.g. "match_events:*").
func (b *Bus) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return b.rdb.PSubscribe(ctx, patterns...)
}

// Reader is a single-consumer cursor over one stream. It is not safe for
// concurrent use; each pipeline stage owns its reader.
type Reader struct {
	bus    *Bus
	stream string
	lastID string
}

// ReaderOption configures a [Reader].
type ReaderOption func(*Reader)

// FromStart makes the reader begin at the oldest retained entry instead of
// tailing new entries only.
func FromStart() ReaderOption {
	return func(r *Reader) { r.lastID = "0" }
}

// NewReader creates a cursor over stream. By default it tails entries
// appended after creation.
func (b *Bus) NewReader(stream string, opts ...ReaderOption) *Reader {
	r := &Reader{bus: b, stream: stream, lastID: "$"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read blocks for up to one second and returns the next batch of entries,
// advancing the cursor. A timeout with no entries returns (nil, nil).
func (r *Reader) Read(ctx context.Context) ([]redis.XMessage, error) {
	res, err := r.bus.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.stream, r.lastID},
		Count:   readCount,
		Block:   readBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: xread %s: %w", r.stream, err)
	}
	var msgs []redis.XMessage
	for _, stream := range res {
		msgs = append(msgs, stream.Messages...)
	}
	if len(msgs) > 0 {
		r.lastID = msgs[len(msgs)-1].ID
	}
	return msgs, nil
}

// StringField extracts a string field from a stream entry's value map.
// Returns "" when absent or not a string.
func StringField(values map[string]any, key string) string {
	v, ok := values[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
