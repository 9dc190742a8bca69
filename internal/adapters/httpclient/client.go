// Package httpclient is the client side of the signaling HTTP API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dkeye/rtcsignal/internal/adapters/signal"
	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client implements core.SignalingTransport. Error envelopes are mapped
// back to the domain sentinels; network failures become domain.ErrTransport
// and deadline hits domain.ErrSignalingTimeout.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Dialer  *websocket.Dialer
}

var _ core.SignalingTransport = (*Client)(nil)

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
		Dialer:  websocket.DefaultDialer,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return netErr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var env signal.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil || env.Error == "" {
			return fmt.Errorf("%w: %s %s: %s", domain.ErrTransport, method, path, resp.Status)
		}
		return fmt.Errorf("%w: %s", signal.ErrorOf(env.Error), env.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrTransport, path, err)
	}
	return nil
}

func netErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrSignalingTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTransport, err)
}

func rolePath(prefix string, role domain.Role) string {
	return prefix + "/" + url.PathEscape(string(role))
}

func sessionQuery(id domain.SessionID) url.Values {
	return url.Values{"sessionId": {string(id)}}
}

func (c *Client) CreateSession(ctx context.Context, key domain.SessionKey) error {
	return c.do(ctx, http.MethodPost, rolePath("/session", key.Role), nil,
		signal.SessionRequest{SessionID: string(key.ID)}, nil)
}

func (c *Client) GetSession(ctx context.Context, key domain.SessionKey) (domain.Session, error) {
	var sess domain.Session
	err := c.do(ctx, http.MethodGet, rolePath("/session", key.Role), sessionQuery(key.ID), nil, &sess)
	return sess, err
}

func (c *Client) CloseSession(ctx context.Context, key domain.SessionKey) error {
	return c.do(ctx, http.MethodDelete, rolePath("/session", key.Role), sessionQuery(key.ID), nil, nil)
}

func (c *Client) SubmitOffer(ctx context.Context, key domain.SessionKey, sdp string) (string, error) {
	var resp signal.SDPResponse
	err := c.do(ctx, http.MethodPost, rolePath("/offer", key.Role), nil,
		signal.OfferRequest{SessionID: string(key.ID), SDP: sdp}, &resp)
	return resp.SDP, err
}

// PendingOffer and SubmitAnswer are the answering peer's half of the relay topology.
func (c *Client) PendingOffer(ctx context.Context, key domain.SessionKey) (string, error) {
	var resp signal.SDPResponse
	err := c.do(ctx, http.MethodGet, rolePath("/offer", key.Role), sessionQuery(key.ID), nil, &resp)
	return resp.SDP, err
}

func (c *Client) SubmitAnswer(ctx context.Context, key domain.SessionKey, sdp string) error {
	return c.do(ctx, http.MethodPost, rolePath("/answer", key.Role), nil,
		signal.OfferRequest{SessionID: string(key.ID), SDP: sdp}, nil)
}

func (c *Client) SubmitCandidate(ctx context.Context, key domain.SessionKey, cand domain.ICECandidate) error {
	return c.do(ctx, http.MethodPost, rolePath("/candidate", key.Role), nil,
		signal.CandidateRequest{SessionID: string(key.ID), CandidateWire: signal.FromICE(cand)}, nil)
}

func (c *Client) PollCandidates(ctx context.Context, id domain.SessionID, producer domain.Role) ([]domain.ICECandidate, error) {
	q := sessionQuery(id)
	q.Set("role", string(producer))
	var wire []signal.CandidateWire
	if err := c.do(ctx, http.MethodGet, "/candidate/poll", q, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]domain.ICECandidate, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.ICE())
	}
	return out, nil
}

func (c *Client) ReportState(ctx context.Context, key domain.SessionKey, state domain.State) error {
	return c.do(ctx, http.MethodPost, rolePath("/state", key.Role), nil,
		signal.StateRequest{SessionID: string(key.ID), State: string(state)}, nil)
}

func (c *Client) wsURL(id domain.SessionID, producer domain.Role) (string, error) {
	u, err := url.Parse(c.BaseURL + "/ws/candidates")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := sessionQuery(id)
	q.Set("role", string(producer))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) SubscribeCandidates(ctx context.Context, id domain.SessionID, producer domain.Role, fn func(domain.ICECandidate)) error {
	u, err := c.wsURL(id, producer)
	if err != nil {
		return err
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return netErr(ctx, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logger := log.With().Str("module", "httpclient").Str("sid", string(id)).Str("producer", string(producer)).Logger()
	logger.Info().Msg("subscribed to candidates")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: candidate stream: %v", domain.ErrTransport, err)
		}
		var msg signal.PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("bad push message")
			continue
		}
		if msg.Type != signal.PushTypeCandidates {
			continue
		}
		for _, w := range msg.Candidates {
			fn(w.ICE())
		}
	}
}
