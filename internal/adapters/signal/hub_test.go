package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/rtcsignal/internal/app"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pubABC = domain.SessionKey{ID: "abc", Role: domain.RolePublisher}

type recordingFlusher struct {
	mu      sync.Mutex
	buckets []domain.SessionKey
}

func (f *recordingFlusher) Flush(_ context.Context, bucket domain.SessionKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets = append(f.buckets, bucket)
	return nil
}

func (f *recordingFlusher) flushed() []domain.SessionKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SessionKey(nil), f.buckets...)
}

func serveHub(t *testing.T, h *Hub) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		h.HandleSubscribe(context.Background(), c, pubABC)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed(nil, "https://a.example"))
	assert.True(t, originAllowed([]string{"*"}, "https://a.example"))
	assert.True(t, originAllowed([]string{"https://a.example"}, "https://a.example"))
	assert.True(t, originAllowed([]string{"https://a.example"}, ""))
	assert.False(t, originAllowed([]string{"https://a.example"}, "https://b.example"))
}

func TestDeliverWithoutSubscriber(t *testing.T) {
	h := NewHub(nil, nil, nil)
	err := h.Deliver(context.Background(), pubABC, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubscribeFlushesAndReceivesBatches(t *testing.T) {
	f := &recordingFlusher{}
	h := NewHub(f, app.SimplePolicy{}, []string{"*"})
	defer h.Close()

	ws, _, err := websocket.DefaultDialer.Dial(serveHub(t, h), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return len(f.flushed()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []domain.SessionKey{pubABC}, f.flushed())
	require.True(t, h.Subscribed(pubABC))

	rec := domain.CandidateRecord{SessionID: "abc", Role: domain.RolePublisher, ICE: domain.ICECandidate{Candidate: "cand1"}}
	require.NoError(t, h.Deliver(context.Background(), pubABC, []domain.CandidateRecord{rec}))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	var msg PushMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, PushTypeCandidates, msg.Type)
	require.Len(t, msg.Candidates, 1)
	assert.Equal(t, "cand1", msg.Candidates[0].Candidate)

	// subscriber leaving unregisters the bucket
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return !h.Subscribed(pubABC) }, time.Second, time.Millisecond)
}

func TestRejectedOrigin(t *testing.T) {
	h := NewHub(nil, nil, []string{"https://a.example"})
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(serveHub(t, h), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, h.Subscribed(pubABC))
}

func TestSlowSubscriberDroppedByPolicy(t *testing.T) {
	h := NewHub(nil, app.SimplePolicy{MaxMisses: 2}, nil)

	var serverConn *websocket.Conn
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConn = c
		close(ready)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()
	<-ready

	// no write pump and no buffer: every send backs up
	h.register(pubABC, &wsConn{conn: serverConn, send: make(chan []byte)})

	err = h.Deliver(context.Background(), pubABC, nil)
	require.ErrorIs(t, err, ErrBackpressure)
	assert.True(t, h.Subscribed(pubABC))

	err = h.Deliver(context.Background(), pubABC, nil)
	require.ErrorIs(t, err, ErrBackpressure)
	assert.False(t, h.Subscribed(pubABC))
}
