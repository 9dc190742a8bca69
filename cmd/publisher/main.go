// Command publisher streams RTP received on local UDP ports (from gstreamer
// or ffmpeg) to the signaling server as the publisher of a session.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rtcsignal/internal/adapters/httpclient"
	"github.com/dkeye/rtcsignal/internal/adapters/rtc"
	"github.com/dkeye/rtcsignal/internal/client"
	"github.com/dkeye/rtcsignal/internal/config"
	"github.com/dkeye/rtcsignal/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	opts, err := client.OptionsFromConfig(cfg.Client, domain.RolePublisher)
	if err != nil {
		log.Fatal().Err(err).Msg("bad client config")
	}
	log.Info().Str("session_id", string(opts.Key.ID)).Msg("publishing")

	media := &rtc.UDPSource{
		VideoAddr: cfg.Client.RTPVideoAddr,
		AudioAddr: cfg.Client.RTPAudioAddr,
		StreamID:  string(opts.Key.ID),
	}
	factory := &rtc.Factory{Config: rtc.Configuration(cfg.ICEServers), Key: opts.Key}
	m := client.NewManager(opts, httpclient.New(cfg.Client.ServerURL), factory, media)

	if err := m.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("initialize")
	}
	<-ctx.Done()

	stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := m.Teardown(stopCtx); err != nil {
		log.Error().Err(err).Msg("teardown")
	}
}
