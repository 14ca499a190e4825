package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// MaxRequestBodySize caps request payloads. Session bodies are small (a
// handful of line items or a split map), so 1MB is generous.
const MaxRequestBodySize = 1 << 20

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const ReaperJobInterval = 10 * time.Minute

// Default rate limiting
const DefaultRateLimitPerMin = 120
