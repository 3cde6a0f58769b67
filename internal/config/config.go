package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries everything the service reads from the environment.
type Config struct {
	Addr string

	// Postgres DSN; empty means the in-memory store.
	PGDSN string

	// Builtin administrative identity, checked by literal match and never
	// persisted. Both must be set for the builtin login to be enabled.
	AdminUsername string
	AdminPassword string

	// Shared secret the message envelope key is derived from.
	SharedSecret string

	// HS256 secret for session tokens.
	TokenSecret string
	TokenTTL    time.Duration

	// Timeout applied to authentication and initial store calls.
	AuthTimeout time.Duration

	// Assistant generation backend.
	OpenAIKey   string
	OpenAIModel string
}

// FromEnv reads configuration with sane defaults for local development.
func FromEnv() Config {
	return Config{
		Addr:          getenv("CHATCORE_ADDR", ":8080"),
		PGDSN:         os.Getenv("CHATCORE_PG_DSN"),
		AdminUsername: os.Getenv("CHATCORE_ADMIN_USER"),
		AdminPassword: os.Getenv("CHATCORE_ADMIN_PASS"),
		SharedSecret:  getenv("CHATCORE_SHARED_SECRET", "chatcore-dev-secret"),
		TokenSecret:   getenv("CHATCORE_TOKEN_SECRET", "chatcore-dev-token-secret"),
		TokenTTL:      getdur("CHATCORE_TOKEN_TTL", 24*time.Hour),
		AuthTimeout:   getdur("CHATCORE_AUTH_TIMEOUT", 5*time.Second),
		OpenAIKey:     os.Getenv("CHATCORE_OPENAI_KEY"),
		OpenAIModel:   getenv("CHATCORE_OPENAI_MODEL", "gpt-4o-mini"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}
