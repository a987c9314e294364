// Package config loads the relay's environment-driven configuration.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envListenAddr      = "LISTEN_ADDR"
	envMode            = "MODE"
	envLogFormat       = "LOG_FORMAT"
	envLogLevel        = "LOG_LEVEL"
	envShutdownTimeout = "SHUTDOWN_TIMEOUT"
	envAllowedOrigins  = "ALLOWED_ORIGINS"

	envAuthRequired = "AUTH_REQUIRED"
	envAuthMode     = "AUTH_MODE"
	envAuthKey      = "AUTH_KEY"
	envJWTSecret    = "JWT_SECRET"

	envMaxTokens          = "MAX_TOKENS"
	envTokenTTL           = "TOKEN_TTL"
	envTokenSweepInterval = "TOKEN_SWEEP_INTERVAL"

	envRoomCapacity         = "ROOM_CAPACITY"
	envMaxMessageBytes      = "MAX_MESSAGE_BYTES"
	envMaxMessagesPerSecond = "MAX_MESSAGES_PER_SECOND"

	envMaxConnsPerIP     = "MAX_CONNS_PER_IP"
	envRateWindow        = "RATE_WINDOW"
	envHeartbeatInterval = "HEARTBEAT_INTERVAL"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxTokens          = 10000
	DefaultTokenTTL           = 24 * time.Hour
	DefaultTokenSweepInterval = time.Hour

	DefaultRoomCapacity         = 10
	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMaxMessagesPerSecond = 50

	DefaultMaxConnsPerIP     = 10
	DefaultRateWindow        = time.Minute
	DefaultHeartbeatInterval = 30 * time.Second
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// AuthMode selects how connection admission validates credentials when
// AUTH_REQUIRED is set.
type AuthMode string

const (
	// AuthModeToken validates opaque tokens issued by POST /auth.
	AuthModeToken AuthMode = "token"
	// AuthModeJWT validates HS256 JWTs minted by an external issuer.
	AuthModeJWT AuthMode = "jwt"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	AuthRequired bool
	AuthMode     AuthMode
	AuthKey      string
	JWTSecret    string

	MaxTokens          int
	TokenTTL           time.Duration
	TokenSweepInterval time.Duration

	RoomCapacity         int
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	MaxConnsPerIP     int
	RateWindow        time.Duration
	HeartbeatInterval time.Duration
}

// Load reads configuration from the process environment and args.
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

// load is the testable core: lookup replaces os.LookupEnv.
func load(lookup func(string) (string, bool), args []string) (Config, error) {
	cfg := Config{
		ListenAddr:      envOrDefault(lookup, envListenAddr, DefaultListenAddr),
		ShutdownTimeout: DefaultShutdownTimeout,

		AuthMode: AuthModeToken,

		MaxTokens:          DefaultMaxTokens,
		TokenTTL:           DefaultTokenTTL,
		TokenSweepInterval: DefaultTokenSweepInterval,

		RoomCapacity:         DefaultRoomCapacity,
		MaxMessageBytes:      DefaultMaxMessageBytes,
		MaxMessagesPerSecond: DefaultMaxMessagesPerSecond,

		MaxConnsPerIP:     DefaultMaxConnsPerIP,
		RateWindow:        DefaultRateWindow,
		HeartbeatInterval: DefaultHeartbeatInterval,
	}

	fs := flag.NewFlagSet("signal-relay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	listenAddr := fs.String("listen-addr", "", "listen address (overrides LISTEN_ADDR)")
	modeFlag := fs.String("mode", "", "dev or prod (overrides MODE)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	modeRaw := envOrDefault(lookup, envMode, string(ModeDev))
	if *modeFlag != "" {
		modeRaw = *modeFlag
	}
	mode, err := parseMode(modeRaw)
	if err != nil {
		return Config{}, err
	}
	cfg.Mode = mode
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	cfg.LogFormat, err = parseLogFormat(envOrDefault(lookup, envLogFormat, defaultLogFormat(mode)))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel, err = parseLogLevel(envOrDefault(lookup, envLogLevel, defaultLogLevel(mode)))
	if err != nil {
		return Config{}, err
	}

	if raw, ok := lookup(envAllowedOrigins); ok && strings.TrimSpace(raw) != "" {
		for _, o := range strings.Split(raw, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{envShutdownTimeout, &cfg.ShutdownTimeout},
		{envTokenTTL, &cfg.TokenTTL},
		{envTokenSweepInterval, &cfg.TokenSweepInterval},
		{envRateWindow, &cfg.RateWindow},
		{envHeartbeatInterval, &cfg.HeartbeatInterval},
	} {
		if err := envDuration(lookup, d.env, d.dst); err != nil {
			return Config{}, err
		}
	}

	for _, n := range []struct {
		env string
		dst *int
	}{
		{envMaxTokens, &cfg.MaxTokens},
		{envRoomCapacity, &cfg.RoomCapacity},
		{envMaxMessagesPerSecond, &cfg.MaxMessagesPerSecond},
		{envMaxConnsPerIP, &cfg.MaxConnsPerIP},
	} {
		if err := envInt(lookup, n.env, n.dst); err != nil {
			return Config{}, err
		}
	}

	if raw, ok := lookup(envMaxMessageBytes); ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envMaxMessageBytes, raw)
		}
		cfg.MaxMessageBytes = v
	}

	if raw, ok := lookup(envAuthRequired); ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %q", envAuthRequired, raw)
		}
		cfg.AuthRequired = v
	}
	if raw, ok := lookup(envAuthMode); ok {
		switch AuthMode(strings.ToLower(strings.TrimSpace(raw))) {
		case AuthModeToken:
			cfg.AuthMode = AuthModeToken
		case AuthModeJWT:
			cfg.AuthMode = AuthModeJWT
		default:
			return Config{}, fmt.Errorf("invalid %s: %q (want token or jwt)", envAuthMode, raw)
		}
	}
	cfg.AuthKey, _ = lookup(envAuthKey)
	cfg.JWTSecret, _ = lookup(envJWTSecret)

	if cfg.RoomCapacity < 1 {
		return Config{}, fmt.Errorf("invalid %s: must be >= 1", envRoomCapacity)
	}
	if cfg.AuthRequired {
		switch cfg.AuthMode {
		case AuthModeToken:
			if cfg.AuthKey == "" {
				return Config{}, fmt.Errorf("%s is required when %s=true and %s=token", envAuthKey, envAuthRequired, envAuthMode)
			}
		case AuthModeJWT:
			if cfg.JWTSecret == "" {
				return Config{}, fmt.Errorf("%s is required when %s=jwt", envJWTSecret, envAuthMode)
			}
		}
	}

	return cfg, nil
}

// NewLogger builds the process logger from the loaded config.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler
	if cfg.LogFormat == LogFormatJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envDuration(lookup func(string) (string, bool), key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	*dst = d
	return nil
}

func envInt(lookup func(string) (string, bool), key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	*dst = v
	return nil
}

func parseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeDev:
		return ModeDev, nil
	case ModeProd:
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid %s: %q (want dev or prod)", envMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch LogFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid %s: %q (want text or json)", envLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s: %q", envLogLevel, raw)
	}
}

func defaultLogFormat(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevel(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}
