package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures service level configuration.
type Server struct {
	Addr          string
	DBPath        string
	JWTSigningKey string
	TokenTTL      time.Duration
	// DevMode enables the development token issuer endpoint.
	DevMode bool
}

// FromEnv builds a Server config from environment variables so main
// stays lean.
func FromEnv() Server {
	addr := os.Getenv("LOANBOOK_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	dbPath := os.Getenv("LOANBOOK_DB")
	if dbPath == "" {
		dbPath = "loanbook.db"
	}

	jwtSigningKey := os.Getenv("LOANBOOK_JWT_SECRET")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	ttl := 120 * time.Minute
	if v := os.Getenv("LOANBOOK_TOKEN_TTL_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			ttl = time.Duration(minutes) * time.Minute
		}
	}

	return Server{
		Addr:          addr,
		DBPath:        dbPath,
		JWTSigningKey: jwtSigningKey,
		TokenTTL:      ttl,
		DevMode:       os.Getenv("LOANBOOK_DEV_MODE") == "true",
	}
}
