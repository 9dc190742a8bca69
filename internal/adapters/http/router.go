package http

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/dkeye/rtcsignal/internal/adapters/signal"
	"github.com/dkeye/rtcsignal/internal/app/orch"
	"github.com/dkeye/rtcsignal/internal/config"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SetupRouter mounts the signaling API under cfg.BasePath. hub may be nil
// when candidates are delivered by polling. It hooks coord.OnRemove, so it
// must run before the coordinator's reaper starts.
func SetupRouter(ctx context.Context, cfg *config.Config, coord *orch.Coordinator, hub *signal.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	h := &Handlers{
		Coord:   coord,
		Hub:     hub,
		Limiter: NewRateLimiter(cfg.CandidateRateLimit, cfg.CandidateRateWindow),
		ctx:     ctx,
	}
	prev := coord.OnRemove
	coord.OnRemove = func(key domain.SessionKey) {
		h.Limiter.Forget(key)
		if prev != nil {
			prev(key)
		}
	}

	r.GET("/healthz", h.Health)

	api := r.Group(cfg.BasePath)
	api.POST("/session/:role", h.CreateSession)
	api.GET("/session/:role", h.GetSession)
	api.DELETE("/session/:role", h.CloseSession)
	api.POST("/offer/:role", h.SubmitOffer)
	api.GET("/offer/:role", h.PendingOffer)
	api.POST("/answer/:role", h.SubmitAnswer)
	api.POST("/candidate/:role", h.SubmitCandidate)
	api.GET("/candidate/poll", h.PollCandidates)
	api.POST("/state/:role", h.ReportState)
	api.GET("/ws/candidates", h.SubscribeCandidates)

	log.Info().Str("module", "adapters.http").Str("base_path", cfg.BasePath).Msg("router setup")
	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}
