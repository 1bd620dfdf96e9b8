package config

import (
	"os"
	"time"

	"go.uber.org/zap"
)

// Control backends accepted by NOWPLAYER_CONTROL
const (
	ControlMPRIS     = "mpris"
	ControlPlayerctl = "playerctl"
)

const (
	defaultHubURL            = "ws://127.0.0.1:8080/ws"
	defaultListenAddr        = "0.0.0.0:8080"
	defaultControlBackend    = ControlMPRIS
	defaultSampleInterval    = time.Second
	defaultKeepaliveInterval = 15 * time.Second
	defaultPingInterval      = 15 * time.Second
	defaultIdleTimeout       = 15 * time.Second
)

// AppConfig holds application configuration
type AppConfig struct {
	logger            *zap.Logger
	hubURL            string
	listenAddr        string
	controlBackend    string
	sampleInterval    time.Duration
	keepaliveInterval time.Duration
	pingInterval      time.Duration
	idleTimeout       time.Duration
}

// NewAppConfig creates a new application configuration instance
func NewAppConfig(logger *zap.Logger) *AppConfig {
	// Read from environment variables or use defaults
	cfg := &AppConfig{
		logger:         logger,
		hubURL:         envString("NOWPLAYER_HUB_URL", defaultHubURL),
		listenAddr:     envString("NOWPLAYER_LISTEN_ADDR", defaultListenAddr),
		controlBackend: envString("NOWPLAYER_CONTROL", defaultControlBackend),
	}

	cfg.sampleInterval = cfg.envDuration("NOWPLAYER_SAMPLE_INTERVAL", defaultSampleInterval)
	cfg.keepaliveInterval = cfg.envDuration("NOWPLAYER_KEEPALIVE_INTERVAL", defaultKeepaliveInterval)
	cfg.pingInterval = cfg.envDuration("NOWPLAYER_PING_INTERVAL", defaultPingInterval)
	cfg.idleTimeout = cfg.envDuration("NOWPLAYER_IDLE_TIMEOUT", defaultIdleTimeout)

	switch cfg.controlBackend {
	case ControlMPRIS, ControlPlayerctl:
	default:
		logger.Warn("Unknown control backend, falling back to default",
			zap.String("backend", cfg.controlBackend),
			zap.String("default", defaultControlBackend))
		cfg.controlBackend = defaultControlBackend
	}

	logger.Info("Configuration loaded",
		zap.String("hubURL", cfg.hubURL),
		zap.String("listenAddr", cfg.listenAddr),
		zap.String("control", cfg.controlBackend),
		zap.Duration("sampleInterval", cfg.sampleInterval),
		zap.Duration("keepaliveInterval", cfg.keepaliveInterval),
		zap.Duration("pingInterval", cfg.pingInterval),
		zap.Duration("idleTimeout", cfg.idleTimeout))

	return cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return os.ExpandEnv(v)
	}
	return fallback
}

// envDuration parses a Go duration ("1s", "250ms") and falls back on
// missing, malformed or non-positive values.
func (c *AppConfig) envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		c.logger.Warn("Invalid duration, using default",
			zap.String("key", key),
			zap.String("value", raw),
			zap.Duration("default", fallback))
		return fallback
	}
	return d
}

// GetHubURL returns the WebSocket URL of the hub
func (c *AppConfig) GetHubURL() string {
	return c.hubURL
}

// GetListenAddr returns the address the hub listens on
func (c *AppConfig) GetListenAddr() string {
	return c.listenAddr
}

// GetControlBackend returns the transport-control backend
func (c *AppConfig) GetControlBackend() string {
	return c.controlBackend
}

// GetSampleInterval returns the media sampling interval
func (c *AppConfig) GetSampleInterval() time.Duration {
	return c.sampleInterval
}

// GetKeepaliveInterval returns the daemon keepalive interval
func (c *AppConfig) GetKeepaliveInterval() time.Duration {
	return c.keepaliveInterval
}

// GetPingInterval returns the hub ping interval
func (c *AppConfig) GetPingInterval() time.Duration {
	return c.pingInterval
}

// GetIdleTimeout returns the hub idle timeout
func (c *AppConfig) GetIdleTimeout() time.Duration {
	return c.idleTimeout
}
