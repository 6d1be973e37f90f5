package alert

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// wsWriteTimeout bounds one broadcast write per client.
const wsWriteTimeout = 5 * time.Second

// allStreams is the registry key for clients without a stream_id filter.
const allStreams = "*"

// Hub is the websocket delivery channel: an HTTP handler that upgrades
// connections and a per-stream client registry the dispatcher broadcasts
// into. A client subscribes to one stream via the stream_id query parameter
// or to all streams by omitting it. Clients whose writes fail are pruned.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[string]map[*websocket.Conn]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		log:     slog.With("component", "alert_channel", "channel", "websocket"),
		clients: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Handler returns the upgrade endpoint to mount on the admin mux.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			h.log.Warn("websocket accept failed", "error", err)
			return
		}

		streamID := r.URL.Query().Get("stream_id")
		if streamID == "" {
			streamID = allStreams
		}
		if !h.register(streamID, conn) {
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		}
		h.log.Info("websocket client connected", "stream_id", streamID)

		// Drain the connection so control frames are processed; the first
		// read error means the client is gone.
		ctx := r.Context()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				break
			}
		}
		h.unregister(streamID, conn)
		conn.Close(websocket.StatusNormalClosure, "")
		h.log.Info("websocket client disconnected", "stream_id", streamID)
	})
}

func (h *Hub) register(streamID string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.clients[streamID] == nil {
		h.clients[streamID] = make(map[*websocket.Conn]struct{})
	}
	h.clients[streamID][conn] = struct{}{}
	return true
}

func (h *Hub) unregister(streamID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[streamID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.clients, streamID)
		}
	}
}

// recipients snapshots the connections subscribed to streamID.
func (h *Hub) recipients(streamID string) []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	var conns []*websocket.Conn
	for c := range h.clients[streamID] {
		conns = append(conns, c)
	}
	for c := range h.clients[allStreams] {
		conns = append(conns, c)
	}
	return conns
}

// Name returns "websocket".
func (h *Hub) Name() string { return "websocket" }

// Enabled always reports true; a hub with no clients simply delivers to
// nobody.
func (h *Hub) Enabled() bool { return true }

// Send broadcasts the alert to every client subscribed to its stream and
// reports whether at least one client received it. Stale clients are pruned
// on write failure.
func (h *Hub) Send(ctx context.Context, a types.Alert) (bool, error) {
	conns := h.recipients(a.StreamID)
	delivered := 0
	for _, conn := range conns {
		wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		err := wsjson.Write(wctx, conn, a)
		cancel()
		if err != nil {
			h.prune(conn)
			continue
		}
		delivered++
	}
	return delivered > 0, nil
}

// prune removes conn from every registry entry and closes it.
func (h *Hub) prune(conn *websocket.Conn) {
	h.mu.Lock()
	for streamID, set := range h.clients {
		if _, ok := set[conn]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(h.clients, streamID)
			}
		}
	}
	h.mu.Unlock()
	conn.Close(websocket.StatusAbnormalClosure, "write failed")
	h.log.Debug("pruned stale websocket client")
}

// Close disconnects every client and rejects new registrations.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	var conns []*websocket.Conn
	for _, set := range h.clients {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.clients = make(map[string]map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "shutting down")
	}
	return nil
}
