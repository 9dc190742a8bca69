package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/rtcsignal/internal/adapters/http"
	"github.com/dkeye/rtcsignal/internal/adapters/rtc"
	wshub "github.com/dkeye/rtcsignal/internal/adapters/signal"
	"github.com/dkeye/rtcsignal/internal/app"
	"github.com/dkeye/rtcsignal/internal/app/orch"
	"github.com/dkeye/rtcsignal/internal/app/sfu"
	"github.com/dkeye/rtcsignal/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	topology, err := orch.ParseTopology(cfg.Topology)
	if err != nil {
		log.Fatal().Err(err).Msg("bad topology")
	}
	delivery, err := orch.ParseDelivery(cfg.Delivery)
	if err != nil {
		log.Fatal().Err(err).Msg("bad delivery")
	}

	coord := orch.New(orch.Options{
		Topology:       topology,
		Delivery:       delivery,
		RequestTimeout: cfg.RequestTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		RemoveGrace:    cfg.RemoveGrace,
		SweepInterval:  cfg.SweepInterval,
	}, app.NewStore(time.Now), app.NewCandidateQueue(time.Now))

	if topology == orch.TopologyAnswer {
		answerer := rtc.NewAnswerer(rtc.Configuration(cfg.ICEServers), sfu.NewRelayManager())
		answerer.WaitForGathering = cfg.WaitForGathering
		answerer.OnCandidate = coord.RelayCandidate
		coord.Answerer = answerer
	}

	var hub *wshub.Hub
	if delivery == orch.DeliveryPush {
		hub = wshub.NewHub(coord, app.SimplePolicy{}, cfg.AllowedOrigins)
		coord.Sink = hub
		defer hub.Close()
	}

	r := router.SetupRouter(ctx, cfg, coord, hub)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("topology", string(topology)).Str("delivery", string(delivery)).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return coord.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}
