package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dkeye/rtcsignal/internal/adapters/signal"
	"github.com/dkeye/rtcsignal/internal/app/orch"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Handlers struct {
	Coord   *orch.Coordinator
	Hub     *signal.Hub
	Limiter *RateLimiter

	// ctx outlives single requests; WebSocket pumps run on it.
	ctx context.Context
}

func writeError(c *gin.Context, err error) {
	status, code := signal.StatusOf(err)
	ev := log.Debug()
	if status >= http.StatusInternalServerError {
		ev = log.Warn()
	}
	ev.Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	c.AbortWithStatusJSON(status, signal.ErrorResponse{Error: code, Message: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	writeError(c, fmt.Errorf("%w: %v", signal.ErrBadRequest, err))
}

func sessionKey(role, id string) (domain.SessionKey, error) {
	r, err := domain.ParseRole(role)
	if err != nil {
		return domain.SessionKey{}, err
	}
	sid := domain.SessionID(id)
	if err := sid.Validate(); err != nil {
		return domain.SessionKey{}, err
	}
	return domain.SessionKey{ID: sid, Role: r}, nil
}

// producerRole reads ?role=, defaulting to publisher like the viewer pages do.
func producerRole(c *gin.Context) (domain.Role, error) {
	return domain.ParseRole(c.DefaultQuery("role", string(domain.RolePublisher)))
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.Coord.Store.Len()})
}

func (h *Handlers) CreateSession(c *gin.Context) {
	var req signal.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	role, err := domain.ParseRole(c.Param("role"))
	if err != nil {
		writeError(c, err)
		return
	}
	sess, err := h.Coord.CreateSession(c.Request.Context(), domain.SessionKey{ID: domain.SessionID(req.SessionID), Role: role})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handlers) GetSession(c *gin.Context) {
	key, err := sessionKey(c.Param("role"), c.Query("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	sess, err := h.Coord.Get(key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handlers) CloseSession(c *gin.Context) {
	key, err := sessionKey(c.Param("role"), c.Query("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Coord.Close(c.Request.Context(), key); err != nil {
		writeError(c, err)
		return
	}
	h.Limiter.Forget(key)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) SubmitOffer(c *gin.Context) {
	var req signal.OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key, err := sessionKey(c.Param("role"), req.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	answer, err := h.Coord.SubmitOffer(c.Request.Context(), key, req.SDP)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, signal.SDPResponse{SDP: answer})
}

func (h *Handlers) PendingOffer(c *gin.Context) {
	key, err := sessionKey(c.Param("role"), c.Query("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	offer, err := h.Coord.PendingOffer(key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, signal.SDPResponse{SDP: offer})
}

func (h *Handlers) SubmitAnswer(c *gin.Context) {
	var req signal.OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key, err := sessionKey(c.Param("role"), req.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Coord.SubmitAnswer(c.Request.Context(), key, req.SDP); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) SubmitCandidate(c *gin.Context) {
	var req signal.CandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key, err := sessionKey(c.Param("role"), req.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !h.Limiter.Allow(key) {
		writeError(c, fmt.Errorf("%w: candidates for %s", signal.ErrRateLimited, key))
		return
	}
	if err := h.Coord.SubmitCandidate(c.Request.Context(), key, req.ICE()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) PollCandidates(c *gin.Context) {
	role, err := producerRole(c)
	if err != nil {
		writeError(c, err)
		return
	}
	key, err := sessionKey(string(role), c.Query("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	recs, err := h.Coord.DrainCandidates(c.Request.Context(), key.ID, key.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, signal.FromRecords(recs))
}

func (h *Handlers) ReportState(c *gin.Context) {
	var req signal.StateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key, err := sessionKey(c.Param("role"), req.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	st, err := domain.ParseState(req.State)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Coord.ReportState(c.Request.Context(), key, st); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) SubscribeCandidates(c *gin.Context) {
	if h.Hub == nil {
		badRequest(c, errors.New("push delivery is disabled"))
		return
	}
	role, err := producerRole(c)
	if err != nil {
		writeError(c, err)
		return
	}
	bucket, err := sessionKey(string(role), c.Query("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	ctx := h.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	h.Hub.HandleSubscribe(ctx, c, bucket)
}
