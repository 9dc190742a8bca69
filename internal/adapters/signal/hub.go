// Package signal carries the signaling wire format and the WebSocket hub
// that pushes candidates to subscribers.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dkeye/rtcsignal/internal/app"
	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	errConnClosed   = errors.New("connection closed")
)

// Flusher pushes whatever is queued for a bucket to the sink.
type Flusher interface {
	Flush(ctx context.Context, bucket domain.SessionKey) error
}

type wsConn struct {
	conn   *websocket.Conn
	send   chan []byte
	misses atomic.Int32

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// Hub is the push-delivery CandidateSink: one WebSocket subscriber per
// bucket, a newer subscriber replaces the older one.
type Hub struct {
	Flusher Flusher
	Policy  app.Policy

	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[domain.SessionKey]*wsConn
}

var _ core.CandidateSink = (*Hub)(nil)

func NewHub(f Flusher, policy app.Policy, allowedOrigins []string) *Hub {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Hub{
		Flusher: f,
		Policy:  policy,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		subs: make(map[domain.SessionKey]*wsConn),
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" || slices.Contains(allowed, "*") {
		return true
	}
	return slices.Contains(allowed, origin)
}

// HandleSubscribe upgrades the request and streams candidates produced for
// bucket until either side goes away.
func (h *Hub) HandleSubscribe(ctx context.Context, c *gin.Context, bucket domain.SessionKey) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("bucket", bucket.String()).Msg("new candidate subscriber")

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
	}
	h.register(bucket, conn)

	ctx, cancel := context.WithCancel(ctx)
	go h.writePump(ctx, conn)
	go h.readPump(ctx, cancel, bucket, conn)

	if h.Flusher != nil {
		if err := h.Flusher.Flush(ctx, bucket); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("bucket", bucket.String()).Msg("initial flush")
		}
	}
}

func (h *Hub) register(bucket domain.SessionKey, conn *wsConn) {
	h.mu.Lock()
	old := h.subs[bucket]
	h.subs[bucket] = conn
	h.mu.Unlock()
	if old != nil {
		log.Info().Str("module", "signal").Str("bucket", bucket.String()).Msg("replacing subscriber")
		old.Close()
	}
}

func (h *Hub) unregister(bucket domain.SessionKey, conn *wsConn) {
	h.mu.Lock()
	if h.subs[bucket] == conn {
		delete(h.subs, bucket)
	}
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) Subscribed(bucket domain.SessionKey) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[bucket]
	return ok
}

// Deliver sends one batch. An error means the batch was not handed over
// and stays with the caller.
func (h *Hub) Deliver(_ context.Context, bucket domain.SessionKey, recs []domain.CandidateRecord) error {
	h.mu.RLock()
	conn, ok := h.subs[bucket]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no subscriber for %s", domain.ErrNotFound, bucket)
	}

	data, err := json.Marshal(PushMessage{Type: PushTypeCandidates, Candidates: FromRecords(recs)})
	if err != nil {
		return err
	}
	err = conn.TrySend(data)
	switch {
	case err == nil:
		conn.misses.Store(0)
		return nil
	case errors.Is(err, ErrBackpressure):
		misses := int(conn.misses.Add(1))
		if h.Policy.OnBackPressure(bucket, misses) == app.Disconnect {
			log.Warn().Str("module", "signal").Str("bucket", bucket.String()).Int("misses", misses).Msg("slow subscriber dropped")
			h.unregister(bucket, conn)
		}
		return err
	default:
		h.unregister(bucket, conn)
		return fmt.Errorf("%w: subscriber for %s gone", domain.ErrNotFound, bucket)
	}
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[domain.SessionKey]*wsConn)
	h.mu.Unlock()
	for _, c := range subs {
		c.Close()
	}
}
