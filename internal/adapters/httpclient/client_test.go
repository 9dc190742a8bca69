package httpclient

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	router "github.com/dkeye/rtcsignal/internal/adapters/http"
	"github.com/dkeye/rtcsignal/internal/adapters/signal"
	"github.com/dkeye/rtcsignal/internal/app"
	"github.com/dkeye/rtcsignal/internal/app/orch"
	"github.com/dkeye/rtcsignal/internal/config"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T, opts orch.Options) (*Client, *orch.Coordinator) {
	t.Helper()
	return newServerWithConfig(t, opts, &config.Config{Mode: "test", BasePath: "/api/signal"})
}

func newServerWithConfig(t *testing.T, opts orch.Options, cfg *config.Config) (*Client, *orch.Coordinator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	coord := orch.New(opts, app.NewStore(nil), app.NewCandidateQueue(nil))
	var hub *signal.Hub
	if opts.Delivery == orch.DeliveryPush {
		hub = signal.NewHub(coord, nil, nil)
		coord.Sink = hub
		t.Cleanup(hub.Close)
	}
	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, coord, hub))
	t.Cleanup(srv.Close)
	return New(srv.URL + "/api/signal"), coord
}

var (
	pubABC = domain.SessionKey{ID: "abc", Role: domain.RolePublisher}
	subABC = domain.SessionKey{ID: "abc", Role: domain.RoleSubscriber}
)

func TestHandshakeOverHTTP(t *testing.T) {
	ctx := context.Background()
	publisher, _ := newServer(t, orch.Options{Topology: orch.TopologyRelay, RequestTimeout: 2 * time.Second})
	answering := New(publisher.BaseURL)

	require.NoError(t, publisher.CreateSession(ctx, pubABC))

	go func() {
		for i := 0; i < 200; i++ {
			offer, err := answering.PendingOffer(ctx, pubABC)
			if err == nil {
				assert.Equal(t, "O1", offer)
				assert.NoError(t, answering.SubmitAnswer(ctx, pubABC, "A1"))
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	answer, err := publisher.SubmitOffer(ctx, pubABC, "O1")
	require.NoError(t, err)
	assert.Equal(t, "A1", answer)

	mid := "0"
	require.NoError(t, publisher.SubmitCandidate(ctx, pubABC, domain.ICECandidate{Candidate: "cand1", SDPMid: &mid}))

	got, err := answering.PollCandidates(ctx, "abc", domain.RolePublisher)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cand1", got[0].Candidate)
	require.NotNil(t, got[0].SDPMid)
	assert.Equal(t, "0", *got[0].SDPMid)
	assert.Nil(t, got[0].SDPMLineIndex)

	got, err = answering.PollCandidates(ctx, "abc", domain.RolePublisher)
	require.NoError(t, err)
	assert.Empty(t, got)

	sess, err := publisher.GetSession(ctx, pubABC)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAnswered, sess.State)
	assert.Equal(t, "A1", sess.RemoteDescription)
}

func TestErrorsMapToSentinels(t *testing.T) {
	ctx := context.Background()
	c, _ := newServer(t, orch.Options{Topology: orch.TopologyRelay, RequestTimeout: 30 * time.Millisecond})

	require.NoError(t, c.CreateSession(ctx, pubABC))
	require.ErrorIs(t, c.CreateSession(ctx, pubABC), domain.ErrDuplicateSession)

	_, err := c.GetSession(ctx, subABC)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.SubmitOffer(ctx, pubABC, "O1")
	require.ErrorIs(t, err, domain.ErrSignalingTimeout)

	_, err = c.SubmitOffer(ctx, pubABC, "O2")
	require.ErrorIs(t, err, domain.ErrDescriptionConflict)

	require.ErrorIs(t, c.ReportState(ctx, pubABC, domain.StateConnected), domain.ErrInvalidTransition)

	require.NoError(t, c.CloseSession(ctx, pubABC))
	err = c.SubmitCandidate(ctx, pubABC, domain.ICECandidate{Candidate: "late"})
	require.ErrorIs(t, err, domain.ErrSessionTerminated)
}

func TestRateLimitMapsToSentinel(t *testing.T) {
	ctx := context.Background()
	c, _ := newServerWithConfig(t, orch.Options{Topology: orch.TopologyRelay},
		&config.Config{Mode: "test", BasePath: "/api/signal", CandidateRateLimit: 1, CandidateRateWindow: time.Minute})

	require.NoError(t, c.SubmitCandidate(ctx, pubABC, domain.ICECandidate{Candidate: "c1"}))
	err := c.SubmitCandidate(ctx, pubABC, domain.ICECandidate{Candidate: "c2"})
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestClientDeadlineIsSignalingTimeout(t *testing.T) {
	c, _ := newServer(t, orch.Options{Topology: orch.TopologyRelay, RequestTimeout: 5 * time.Second})
	require.NoError(t, c.CreateSession(context.Background(), pubABC))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.SubmitOffer(ctx, pubABC, "O1")
	require.ErrorIs(t, err, domain.ErrSignalingTimeout)
}

func TestUnreachableServerIsTransportError(t *testing.T) {
	srv := httptest.NewServer(nil)
	base := srv.URL
	srv.Close()

	c := New(base)
	err := c.CreateSession(context.Background(), pubABC)
	require.ErrorIs(t, err, domain.ErrTransport)
}

func TestSubscribeCandidatesPush(t *testing.T) {
	c, coord := newServer(t, orch.Options{Topology: orch.TopologyRelay, Delivery: orch.DeliveryPush})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.CreateSession(ctx, pubABC))
	require.NoError(t, c.SubmitCandidate(ctx, pubABC, domain.ICECandidate{Candidate: "c1"}))

	got := make(chan string, 8)
	done := make(chan error, 1)
	go func() {
		done <- c.SubscribeCandidates(ctx, "abc", domain.RolePublisher, func(ic domain.ICECandidate) {
			got <- ic.Candidate
		})
	}()

	select {
	case s := <-got:
		assert.Equal(t, "c1", s)
	case <-time.After(2 * time.Second):
		t.Fatal("queued candidate was not pushed on subscribe")
	}

	require.NoError(t, c.SubmitCandidate(ctx, pubABC, domain.ICECandidate{Candidate: "c2"}))
	require.NoError(t, c.SubmitCandidate(ctx, pubABC, domain.ICECandidate{Candidate: "c3"}))
	for _, want := range []string{"c2", "c3"} {
		select {
		case s := <-got:
			assert.Equal(t, want, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing %s", want)
		}
	}
	assert.Zero(t, coord.Queue.Len(pubABC))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}
