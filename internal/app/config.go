package app

import (
	"strings"
	"time"
)

// Config contains all runtime configuration loaded from environment
// variables: host/port, Mongo URI, Redis connection, JWT signing key,
// chat pagination knobs, TLS paths, plus the ambient HTTP server and
// CORS knobs every deployment of this kind of service needs.
type Config struct {
	Host     string
	Port     string
	HTTPAddr string

	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// MongoURI is the document store connection string. Empty means
	// run against the in-memory dev store (no persistence).
	MongoURI string
	MongoDB  string

	// Redis connection: either a full RedisURI, or discrete host/port.
	RedisHost string
	RedisPort string
	RedisURI  string

	JWTExpiresIn        time.Duration
	JWTRefreshExpiresIn time.Duration

	// AuthSalt is an external pepper the identity provider mixes into
	// passcode hashing before the opaque envelope reaches this service;
	// this core never hashes a passcode itself, so this value is
	// carried for config parity but not exercised by any component.
	AuthSalt string

	ChatPerPage int
	ChatHistory int
	ChatMaxPins int

	TLSCertFile string
	TLSKeyFile  string

	// Strict CORS allowlist for browser clients.
	//
	// Rules:
	// - exact origin: "https://app.example.com"
	// - wildcard port: "http://localhost:*"
	// - wildcard all: "*" (not recommended with credentials)
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true, /readyz returns 503 unless the document store is
	// configured and reachable.
	ReadinessRequireDB bool

	// Security policy: if true, JWT_SECRET must be >= 32 bytes.
	RequireStrongJWTSecret bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	host := EnvString("APP_HOST", "0.0.0.0")
	port := EnvString("APP_PORT", "8080")

	corsDefault := "http://localhost:*,http://127.0.0.1:*"
	corsRaw := EnvString("NIGHTLINE_CORS_ALLOWED_ORIGINS", corsDefault)

	return Config{
		Host:     host,
		Port:     port,
		HTTPAddr: host + ":" + port,

		LogLevel:  EnvString("NIGHTLINE_LOG_LEVEL", "info"),
		LogFormat: EnvString("NIGHTLINE_LOG_FORMAT", "auto"),

		ReadHeaderTimeout: EnvDuration("NIGHTLINE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("NIGHTLINE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("NIGHTLINE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("NIGHTLINE_HTTP_IDLE_TIMEOUT", 960*time.Second),

		MaxHeaderBytes: EnvInt("NIGHTLINE_HTTP_MAX_HEADER_BYTES", 1<<20),

		MongoURI: EnvString("MONGO_URI", ""),
		MongoDB:  EnvString("MONGO_DB", "nightline"),

		RedisHost: EnvString("REDIS_HOST", ""),
		RedisPort: EnvString("REDIS_PORT", "6379"),
		RedisURI:  EnvString("REDIS_URI", ""),

		JWTExpiresIn:        EnvDuration("JWT_EXPIRES_IN", 15*time.Minute),
		JWTRefreshExpiresIn: EnvDuration("JWT_REFRESH_EXPIRES_IN", 7*24*time.Hour),
		AuthSalt:            EnvString("AUTH_SALT", ""),

		ChatPerPage: EnvInt("CHAT_PER_PAGE", 10),
		ChatHistory: EnvInt("CHAT_HISTORY", 20),
		ChatMaxPins: EnvInt("CHAT_MAX_PINS", 5),

		TLSCertFile: EnvString("TLS_CERT_FILE", ""),
		TLSKeyFile:  EnvString("TLS_KEY_FILE", ""),

		CORSAllowedOrigins:   parseCSV(corsRaw),
		CORSAllowCredentials: EnvBool("NIGHTLINE_HTTP_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("NIGHTLINE_HTTP_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("NIGHTLINE_READINESS_REQUIRE_DB", false),

		RequireStrongJWTSecret: EnvBool("NIGHTLINE_REQUIRE_STRONG_JWT_SECRET", false),
	}
}

// parseCSV splits a comma-separated env value into trimmed, non-empty parts.
func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
