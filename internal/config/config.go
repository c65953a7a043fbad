package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`

	Token   TokenConfig   `mapstructure:"token" yaml:"token"`
	LiveKit LiveKitConfig `mapstructure:"livekit" yaml:"livekit"`
	Calls   CallsConfig   `mapstructure:"calls" yaml:"calls"`
	Live    LiveConfig    `mapstructure:"live" yaml:"live"`
}

// TokenConfig verifies handshake credentials issued by the auth service.
type TokenConfig struct {
	Secret   string `mapstructure:"secret" yaml:"secret"`
	Issuer   string `mapstructure:"issuer" yaml:"issuer"`
	Audience string `mapstructure:"audience" yaml:"audience"`
}

// LiveKitConfig points at the media provider. Empty key disables call
// initiation.
type LiveKitConfig struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	APISecret string `mapstructure:"api_secret" yaml:"api_secret"`
	URL       string `mapstructure:"url" yaml:"url"`
}

// CallsConfig tunes call signaling.
type CallsConfig struct {
	RingTimeout time.Duration `mapstructure:"ring_timeout" yaml:"ring_timeout"`
}

// LiveConfig tunes the broadcast controller.
type LiveConfig struct {
	CommentLimit  int           `mapstructure:"comment_limit" yaml:"comment_limit"`
	CommentWindow time.Duration `mapstructure:"comment_window" yaml:"comment_window"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "rtc.db",
		Calls: CallsConfig{
			RingTimeout: 60 * time.Second,
		},
		Live: LiveConfig{
			CommentLimit:  3,
			CommentWindow: 10 * time.Second,
		},
	}
}
