package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/rtcsignal/internal/adapters/signal"
	"github.com/dkeye/rtcsignal/internal/app"
	"github.com/dkeye/rtcsignal/internal/app/orch"
	"github.com/dkeye/rtcsignal/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, cfg *config.Config) (*gin.Engine, *orch.Coordinator) {
	t.Helper()
	if cfg.BasePath == "" {
		cfg.BasePath = "/api/signal"
	}
	coord := orch.New(orch.Options{Topology: orch.TopologyRelay, RequestTimeout: 50 * time.Millisecond},
		app.NewStore(nil), app.NewCandidateQueue(nil))
	return SetupRouter(context.Background(), cfg, coord, nil), coord
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env signal.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error
}

func TestCreateSessionGeneratesID(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{})

	w := do(t, r, http.MethodPost, "/api/signal/session/publisher", "")
	require.Equal(t, http.StatusCreated, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["sessionId"])
	assert.Equal(t, "publisher", body["role"])
	assert.Equal(t, "created", body["state"])
}

func TestErrorEnvelope(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{})

	w := do(t, r, http.MethodPost, "/api/signal/session/publisher", `{"sessionId":"abc"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodPost, "/api/signal/session/publisher", `{"sessionId":"abc"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, signal.CodeDuplicateSession, errorCode(t, w))

	w = do(t, r, http.MethodGet, "/api/signal/session/publisher?sessionId=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, signal.CodeNotFound, errorCode(t, w))

	w = do(t, r, http.MethodPost, "/api/signal/offer/speaker", `{"sessionId":"abc","sdp":"O1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, signal.CodeBadRequest, errorCode(t, w))

	w = do(t, r, http.MethodPost, "/api/signal/offer/publisher", `{"sessionId":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/signal/offer/publisher", `{"sessionId":"abc","sdp":"O1"}`)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, signal.CodeSignalingTimeout, errorCode(t, w))

	w = do(t, r, http.MethodPost, "/api/signal/offer/publisher", `{"sessionId":"abc","sdp":"O2"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, signal.CodeDescriptionConflict, errorCode(t, w))

	w = do(t, r, http.MethodPost, "/api/signal/state/publisher", `{"sessionId":"abc","state":"connected"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, signal.CodeInvalidTransition, errorCode(t, w))

	w = do(t, r, http.MethodPost, "/api/signal/state/publisher", `{"sessionId":"abc","state":"sleepy"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRelayHandshakeAndPoll(t *testing.T) {
	r, coord := newTestRouter(t, &config.Config{})
	coord.Opts.RequestTimeout = 2 * time.Second

	w := do(t, r, http.MethodPost, "/api/signal/session/publisher", `{"sessionId":"abc"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	go func() {
		for i := 0; i < 200; i++ {
			w := do(t, r, http.MethodGet, "/api/signal/offer/publisher?sessionId=abc", "")
			if w.Code == http.StatusOK {
				do(t, r, http.MethodPost, "/api/signal/answer/publisher", `{"sessionId":"abc","sdp":"A1"}`)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	w = do(t, r, http.MethodPost, "/api/signal/offer/publisher", `{"sessionId":"abc","sdp":"O1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sdp":"A1"}`, w.Body.String())

	w = do(t, r, http.MethodPost, "/api/signal/candidate/publisher",
		`{"sessionId":"abc","candidate":"cand1","sdpMid":"0","sdpMLineIndex":0}`)
	require.Equal(t, http.StatusNoContent, w.Code)
	// a null candidate is the end-of-candidates marker
	w = do(t, r, http.MethodPost, "/api/signal/candidate/publisher", `{"sessionId":"abc","candidate":null}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodGet, "/api/signal/candidate/poll?sessionId=abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"candidate":"cand1","sdpMid":"0","sdpMLineIndex":0}]`, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/signal/candidate/poll?sessionId=abc&role=publisher", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.True(t, coord.GatheringComplete("abc", "publisher"))
}

func TestOfferWithoutCreateSession(t *testing.T) {
	r, coord := newTestRouter(t, &config.Config{})
	coord.Opts.RequestTimeout = 2 * time.Second

	w := do(t, r, http.MethodPost, "/api/signal/candidate/publisher", `{"sessionId":"fresh","candidate":"early"}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	go func() {
		for i := 0; i < 200; i++ {
			w := do(t, r, http.MethodGet, "/api/signal/offer/publisher?sessionId=fresh", "")
			if w.Code == http.StatusOK {
				do(t, r, http.MethodPost, "/api/signal/answer/publisher", `{"sessionId":"fresh","sdp":"A1"}`)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	w = do(t, r, http.MethodPost, "/api/signal/offer/publisher", `{"sessionId":"fresh","sdp":"O1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sdp":"A1"}`, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/signal/session/publisher?sessionId=fresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"answered"`)

	w = do(t, r, http.MethodGet, "/api/signal/candidate/poll?sessionId=fresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"candidate":"early","sdpMid":null,"sdpMLineIndex":null}]`, w.Body.String())
}

func TestClosedSessionIsGone(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{})
	do(t, r, http.MethodPost, "/api/signal/session/subscriber", `{"sessionId":"abc"}`)

	w := do(t, r, http.MethodDelete, "/api/signal/session/subscriber?sessionId=abc", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodDelete, "/api/signal/session/subscriber?sessionId=abc", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodPost, "/api/signal/candidate/subscriber", `{"sessionId":"abc","candidate":"late"}`)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, signal.CodeSessionTerminated, errorCode(t, w))

	w = do(t, r, http.MethodGet, "/api/signal/session/subscriber?sessionId=abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"closed"`)
}

func TestCandidateRateLimit(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{CandidateRateLimit: 2, CandidateRateWindow: time.Minute})
	do(t, r, http.MethodPost, "/api/signal/session/publisher", `{"sessionId":"abc"}`)

	for i := 0; i < 2; i++ {
		w := do(t, r, http.MethodPost, "/api/signal/candidate/publisher", `{"sessionId":"abc","candidate":"c"}`)
		require.Equal(t, http.StatusNoContent, w.Code)
	}
	w := do(t, r, http.MethodPost, "/api/signal/candidate/publisher", `{"sessionId":"abc","candidate":"c"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, signal.CodeRateLimited, errorCode(t, w))
}

func TestReaperRemovalResetsRateLimit(t *testing.T) {
	r, coord := newTestRouter(t, &config.Config{CandidateRateLimit: 1, CandidateRateWindow: time.Minute})
	coord.Opts.IdleTimeout = time.Nanosecond
	coord.Opts.RemoveGrace = time.Nanosecond

	w := do(t, r, http.MethodPost, "/api/signal/candidate/publisher", `{"sessionId":"abc","candidate":"c"}`)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodPost, "/api/signal/candidate/publisher", `{"sessionId":"abc","candidate":"c"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// first sweep fails the idle session, second removes the tombstone
	time.Sleep(time.Millisecond)
	coord.Sweep()
	time.Sleep(time.Millisecond)
	coord.Sweep()

	w = do(t, r, http.MethodGet, "/api/signal/session/publisher?sessionId=abc", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/signal/candidate/publisher", `{"sessionId":"abc","candidate":"c"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestPushDisabledWithoutHub(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{})
	w := do(t, r, http.MethodGet, "/api/signal/ws/candidates?sessionId=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{})
	w := do(t, r, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, w.Body.String())
}
