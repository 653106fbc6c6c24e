// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database paths, the chat webhook credentials, scanner cadences,
// rate limiting, and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// CliqConfig defines the outbound chat webhook settings.
type CliqConfig struct {
	BaseURL     string        // CLIQ_BASE_URL (e.g. "https://cliq.zoho.com/api/v2")
	BotName     string        // CLIQ_BOT_NAME (unique name of the installed bot)
	Token       string        // CLIQ_API_TOKEN (zapikey)
	SendTimeout time.Duration // CLIQ_SEND_TIMEOUT per-attempt HTTP timeout
	RetryDelay  time.Duration // CLIQ_RETRY_DELAY pause before the single retry
	RateRPS     float64       // CLIQ_RATE_RPS outbound tokens per second
	RateBurst   int           // CLIQ_RATE_BURST outbound bucket size
}

// ScanConfig defines the scheduled sweep cadences.
type ScanConfig struct {
	OverdueInterval time.Duration // SCAN_OVERDUE_INTERVAL
	DueSoonInterval time.Duration // SCAN_DUE_SOON_INTERVAL
	DueSoonWindow   time.Duration // SCAN_DUE_SOON_WINDOW look-ahead horizon
	PollInterval    time.Duration // SCAN_POLL_INTERVAL store change poll
	ReplayGrace     time.Duration // SCAN_REPLAY_GRACE max age for "new" records
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath       string        // SQLite path
	AppBaseURL   string        // task app base URL for deep links
	LinkCodeTTL  time.Duration // linking code lifetime
	DispatchSize int           // max concurrent sends during fan-out

	// Chat webhook
	Cliq CliqConfig

	// Scheduled sweeps
	Scan ScanConfig

	// Inbound rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS CORSConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:       getenv("DB_PATH", "notify.db"),
		AppBaseURL:   strings.TrimRight(getenv("APP_BASE_URL", "https://app.example.com"), "/"),
		LinkCodeTTL:  getdur("LINK_CODE_TTL", 10*time.Minute),
		DispatchSize: getint("DISPATCH_CONCURRENCY", 4),

		// Chat webhook
		Cliq: CliqConfig{
			BaseURL:     strings.TrimRight(getenv("CLIQ_BASE_URL", "https://cliq.zoho.com/api/v2"), "/"),
			BotName:     getenv("CLIQ_BOT_NAME", ""),
			Token:       getenv("CLIQ_API_TOKEN", ""),
			SendTimeout: getdur("CLIQ_SEND_TIMEOUT", 10*time.Second),
			RetryDelay:  getdur("CLIQ_RETRY_DELAY", time.Second),
			RateRPS:     getfloat("CLIQ_RATE_RPS", 10.0),
			RateBurst:   getint("CLIQ_RATE_BURST", 20),
		},

		// Scheduled sweeps
		Scan: ScanConfig{
			OverdueInterval: getdur("SCAN_OVERDUE_INTERVAL", 24*time.Hour),
			DueSoonInterval: getdur("SCAN_DUE_SOON_INTERVAL", time.Hour),
			DueSoonWindow:   getdur("SCAN_DUE_SOON_WINDOW", 24*time.Hour),
			PollInterval:    getdur("SCAN_POLL_INTERVAL", 5*time.Second),
			ReplayGrace:     getdur("SCAN_REPLAY_GRACE", 45*time.Second),
		},

		// Inbound rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-tasker-notify"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.LinkCodeTTL <= 0 {
		return cfg, errors.New("LINK_CODE_TTL must be > 0")
	}
	if cfg.DispatchSize < 1 {
		return cfg, errors.New("DISPATCH_CONCURRENCY must be >= 1")
	}
	if cfg.Cliq.SendTimeout <= 0 {
		return cfg, errors.New("CLIQ_SEND_TIMEOUT must be > 0")
	}
	if cfg.Cliq.RetryDelay < 0 {
		return cfg, errors.New("CLIQ_RETRY_DELAY must be >= 0")
	}
	if cfg.Cliq.RateRPS < 0 {
		return cfg, errors.New("CLIQ_RATE_RPS must be >= 0")
	}
	if cfg.Cliq.RateBurst < 1 {
		return cfg, errors.New("CLIQ_RATE_BURST must be >= 1")
	}
	if cfg.Scan.OverdueInterval <= 0 || cfg.Scan.DueSoonInterval <= 0 || cfg.Scan.PollInterval <= 0 {
		return cfg, errors.New("scan intervals must be positive durations")
	}
	if cfg.Scan.DueSoonWindow <= 0 {
		return cfg, errors.New("SCAN_DUE_SOON_WINDOW must be > 0")
	}
	if cfg.Scan.ReplayGrace <= 0 {
		return cfg, errors.New("SCAN_REPLAY_GRACE must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
