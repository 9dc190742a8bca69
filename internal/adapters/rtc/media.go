package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const defaultMTU = 1500

// UDPSource captures RTP that an external encoder (gstreamer, ffmpeg) sends
// to local UDP ports: H264 for video, Opus for audio.
type UDPSource struct {
	VideoAddr string
	AudioAddr string
	StreamID  string
	MTU       int
}

var _ core.MediaSource = (*UDPSource)(nil)

// Media is what UDPSource hands out. Close stops the pumps and waits for them.
type Media struct {
	tracks []webrtc.TrackLocal
	conns  []*net.UDPConn
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func (m *Media) Tracks() []webrtc.TrackLocal { return m.tracks }

func (m *Media) Close() error {
	m.cancel()
	var errs []error
	for _, c := range m.conns {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	m.wg.Wait()
	return errors.Join(errs...)
}

func (s *UDPSource) Acquire(ctx context.Context) (core.LocalMedia, error) {
	if s.VideoAddr == "" && s.AudioAddr == "" {
		return nil, errors.New("no RTP input configured")
	}
	streamID := s.StreamID
	if streamID == "" {
		streamID = "rtcsignal"
	}
	mtu := s.MTU
	if mtu <= 0 {
		mtu = defaultMTU
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &Media{cancel: cancel}

	inputs := []struct {
		addr, kind, mime string
	}{
		{s.VideoAddr, "video", webrtc.MimeTypeH264},
		{s.AudioAddr, "audio", webrtc.MimeTypeOpus},
	}
	for _, in := range inputs {
		if in.addr == "" {
			continue
		}
		track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: in.mime}, in.kind, streamID)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("%s track: %w", in.kind, err)
		}
		conn, err := listenUDP(in.addr)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.tracks = append(m.tracks, track)
		m.conns = append(m.conns, conn)
		tag := in.kind
		m.wg.Go(func() { PumpRTP(pumpCtx, conn, track, mtu, tag) })
	}
	return m, nil
}

func listenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return conn, nil
}

// PumpRTP forwards RTP datagrams from conn to track until ctx ends or conn
// is closed. Non-RTP datagrams are ignored.
func PumpRTP(ctx context.Context, conn *net.UDPConn, track *webrtc.TrackLocalStaticRTP, mtu int, tag string) {
	logger := log.With().Str("module", "media").Str("tag", tag).Logger()
	buf := make([]byte, mtu)
	for {
		// short deadline so cancellation is noticed
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				select {
				case <-ctx.Done():
					logger.Info().Msg("rtp pump stopped")
					return
				default:
					continue
				}
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error().Err(err).Msg("udp read")
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if err := track.WriteRTP(&pkt); err != nil {
			logger.Error().Err(err).Msg("write to track")
			return
		}
	}
}
