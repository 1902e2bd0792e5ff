package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}
	// IdentityHeader carries the authenticated user id set by the trusted edge.
	IdentityHeader string

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the gateway is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	// Browser origins allowed to open interview sockets and call the REST API.
	AllowedOrigins map[string]struct{} // empty => same-origin/non-browser only

	// Interview WebSocket.
	WSMaxFrameBytes    int64
	WSPingInterval     time.Duration
	WSWriteTimeout     time.Duration
	WSReadTimeout      time.Duration
	MaxSessionDuration time.Duration
	HandshakeTimeout   time.Duration
	UploadTimeout      time.Duration
	DrainTimeout       time.Duration
	CooldownMaxEntries int

	// Client audio ceiling; 0 disables it. PCM16 mono at 16 kHz is 32000 B/s.
	WSInboundBytesPerSecond int64

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	DatabaseURL string

	S3Bucket          string
	S3Prefix          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiVoice   string
	GeminiBaseURL string

	// Optional workflow bridge and shared cooldown store.
	NATSURL       string
	NATSToken     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MetricsNamespace string

	LogLevel  slog.Level
	LogFormat string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("INTERVIEW_ADDR", ":8080"),
		AuthMode:            AuthMode(envOr("INTERVIEW_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:             make(map[string]struct{}),
		IdentityHeader:      http.CanonicalHeaderKey(envOr("INTERVIEW_IDENTITY_HEADER", "X-User-ID")),
		TrustProxyHeaders:   envBoolOr("INTERVIEW_TRUST_PROXY_HEADERS", false),
		AllowedOrigins:      make(map[string]struct{}),
		WSMaxFrameBytes:     envInt64Or("INTERVIEW_WS_MAX_FRAME_BYTES", 256<<10), // 256 KiB
		WSPingInterval:      envDurationOr("INTERVIEW_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("INTERVIEW_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:       envDurationOr("INTERVIEW_WS_READ_TIMEOUT", 0),
		MaxSessionDuration:  envDurationOr("INTERVIEW_MAX_SESSION_DURATION", 90*time.Minute),
		HandshakeTimeout:    envDurationOr("INTERVIEW_HANDSHAKE_TIMEOUT", 10*time.Second),
		UploadTimeout:       envDurationOr("INTERVIEW_UPLOAD_TIMEOUT", 30*time.Second),
		DrainTimeout:        envDurationOr("INTERVIEW_DRAIN_TIMEOUT", 60*time.Second),
		CooldownMaxEntries:  envIntOr("INTERVIEW_COOLDOWN_MAX_ENTRIES", 10000),
		ReadHeaderTimeout:   envDurationOr("INTERVIEW_READ_HEADER_TIMEOUT", 10*time.Second),
		HandlerTimeout:      envDurationOr("INTERVIEW_HANDLER_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("INTERVIEW_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		DatabaseURL:         envOr("INTERVIEW_DATABASE_URL", os.Getenv("DATABASE_URL")),
		S3Bucket:            envOr("INTERVIEW_S3_BUCKET", ""),
		S3Prefix:            envOr("INTERVIEW_S3_PREFIX", ""),
		S3Region:            envOr("INTERVIEW_S3_REGION", "us-east-1"),
		S3Endpoint:          envOr("INTERVIEW_S3_ENDPOINT", ""),
		S3AccessKeyID:       envOr("INTERVIEW_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:   envOr("INTERVIEW_S3_SECRET_ACCESS_KEY", ""),
		GeminiAPIKey:        envOr("INTERVIEW_GEMINI_API_KEY", os.Getenv("GEMINI_API_KEY")),
		GeminiModel:         envOr("INTERVIEW_GEMINI_MODEL", ""),
		GeminiVoice:         envOr("INTERVIEW_GEMINI_VOICE", ""),
		GeminiBaseURL:       envOr("INTERVIEW_GEMINI_BASE_URL", ""),
		NATSURL:             envOr("INTERVIEW_NATS_URL", ""),
		NATSToken:           envOr("INTERVIEW_NATS_TOKEN", ""),
		RedisAddr:           envOr("INTERVIEW_REDIS_ADDR", ""),
		RedisPassword:       envOr("INTERVIEW_REDIS_PASSWORD", ""),
		RedisDB:             envIntOr("INTERVIEW_REDIS_DB", 0),
		MetricsNamespace:    envOr("INTERVIEW_METRICS_NAMESPACE", "interview"),
		LogFormat:           strings.ToLower(envOr("INTERVIEW_LOG_FORMAT", "json")),
	}
	cfg.WSInboundBytesPerSecond = envInt64Or("INTERVIEW_WS_INBOUND_BYTES_PER_SECOND", 4*32000)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.GeminiAPIKey = strings.TrimSpace(cfg.GeminiAPIKey)

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("INTERVIEW_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("INTERVIEW_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("INTERVIEW_ALLOWED_ORIGINS")) {
		cfg.AllowedOrigins[origin] = struct{}{}
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(envOr("INTERVIEW_LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("INTERVIEW_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("INTERVIEW_LOG_FORMAT must be one of json|text")
	}

	if strings.TrimSpace(cfg.IdentityHeader) == "" {
		return Config{}, fmt.Errorf("INTERVIEW_IDENTITY_HEADER must not be empty")
	}
	if cfg.WSMaxFrameBytes <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_WS_MAX_FRAME_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSInboundBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("INTERVIEW_WS_INBOUND_BYTES_PER_SECOND must be >= 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("INTERVIEW_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.MaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_MAX_SESSION_DURATION must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.UploadTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_UPLOAD_TIMEOUT must be > 0")
	}
	if cfg.DrainTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_DRAIN_TIMEOUT must be > 0")
	}
	if cfg.CooldownMaxEntries <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_COOLDOWN_MAX_ENTRIES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_HANDLER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.RedisDB < 0 {
		return Config{}, fmt.Errorf("INTERVIEW_REDIS_DB must be >= 0")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("INTERVIEW_DATABASE_URL must be set")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("INTERVIEW_API_KEYS must be set when INTERVIEW_AUTH_MODE=required")
	}

	return cfg, nil
}

// ValidateServe checks the settings only the serve command needs.
func (c Config) ValidateServe() error {
	if strings.TrimSpace(c.S3Bucket) == "" {
		return fmt.Errorf("INTERVIEW_S3_BUCKET must be set")
	}
	if strings.TrimSpace(c.S3Region) == "" {
		return fmt.Errorf("INTERVIEW_S3_REGION must not be empty")
	}
	if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
		return fmt.Errorf("INTERVIEW_S3_ACCESS_KEY_ID and INTERVIEW_S3_SECRET_ACCESS_KEY must be set together")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("INTERVIEW_GEMINI_API_KEY must be set")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
