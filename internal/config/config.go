package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	BasePath string `mapstructure:"base_path"`
	LogLevel string `mapstructure:"log_level"`

	Topology         string        `mapstructure:"topology"`
	Delivery         string        `mapstructure:"delivery"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	RemoveGrace      time.Duration `mapstructure:"remove_grace"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	WaitForGathering bool          `mapstructure:"wait_for_gathering"`

	ICEServers     []string `mapstructure:"ice_servers"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	CandidateRateLimit  int           `mapstructure:"candidate_rate_limit"`
	CandidateRateWindow time.Duration `mapstructure:"candidate_rate_window"`

	Client ClientConfig `mapstructure:"client"`
}

// ClientConfig drives cmd/publisher and cmd/viewer.
type ClientConfig struct {
	ServerURL        string        `mapstructure:"server_url"`
	SessionID        string        `mapstructure:"session_id"`
	Delivery         string        `mapstructure:"delivery"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxEmptyPolls    int           `mapstructure:"max_empty_polls"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	CandidateRetries int           `mapstructure:"candidate_retries"`
	RetryBase        time.Duration `mapstructure:"retry_base"`
	RTPVideoAddr     string        `mapstructure:"rtp_video_addr"`
	RTPAudioAddr     string        `mapstructure:"rtp_audio_addr"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName over the defaults; a missing file is not an error.
// RTCSIGNAL_* variables override both, e.g. RTCSIGNAL_CLIENT_SESSION_ID.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("RTCSIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(fileName); statErr == nil {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("topology", cfg.Topology).
		Str("delivery", cfg.Delivery).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("base_path", "/api/signal")
	v.SetDefault("log_level", "info")
	v.SetDefault("topology", "answer")
	v.SetDefault("delivery", "poll")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("idle_timeout", "2m")
	v.SetDefault("remove_grace", "30s")
	v.SetDefault("sweep_interval", "5s")
	v.SetDefault("wait_for_gathering", false)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("candidate_rate_limit", 200)
	v.SetDefault("candidate_rate_window", "10s")

	v.SetDefault("client.server_url", "http://localhost:8080/api/signal")
	v.SetDefault("client.session_id", "")
	v.SetDefault("client.delivery", "poll")
	v.SetDefault("client.poll_interval", "1s")
	v.SetDefault("client.max_empty_polls", 5)
	v.SetDefault("client.request_timeout", "10s")
	v.SetDefault("client.candidate_retries", 3)
	v.SetDefault("client.retry_base", "200ms")
	v.SetDefault("client.rtp_video_addr", "127.0.0.1:5004")
	v.SetDefault("client.rtp_audio_addr", "127.0.0.1:5006")
}
