// Command viewer joins a session as a receive-only subscriber and logs the
// tracks it gets.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rtcsignal/internal/adapters/httpclient"
	"github.com/dkeye/rtcsignal/internal/adapters/rtc"
	"github.com/dkeye/rtcsignal/internal/client"
	"github.com/dkeye/rtcsignal/internal/config"
	"github.com/dkeye/rtcsignal/internal/core"
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
	if cfg.Client.SessionID == "" {
		log.Fatal().Msg("client.session_id is required to watch a stream")
	}

	opts, err := client.OptionsFromConfig(cfg.Client, domain.RoleSubscriber)
	if err != nil {
		log.Fatal().Err(err).Msg("bad client config")
	}

	factory := &rtc.Factory{Config: rtc.Configuration(cfg.ICEServers), Key: opts.Key}
	m := client.NewManager(opts, httpclient.New(cfg.Client.ServerURL), trackLogger{factory}, nil)
	m.OnStatus(func(s client.Status) {
		if s == client.StatusError {
			cancel()
		}
	})

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

// trackLogger reports incoming tracks and discards their payload.
type trackLogger struct {
	f *rtc.Factory
}

func (t trackLogger) NewPeerConnection() (core.PeerConnection, error) {
	pc, err := t.f.NewPeerConnection()
	if err != nil {
		return nil, err
	}
	conn := pc.(*rtc.Connection)
	conn.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("receiving track")
		buf := make([]byte, 1500)
		for ctx.Err() == nil {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	})
	return conn, nil
}
