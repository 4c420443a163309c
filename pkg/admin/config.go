package admin

import "time"

// Config holds the admin HTTP/WebSocket server's configuration.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxRequestSize int64
	EnableCORS     bool
	AllowedOrigins []string
	EnableLogging  bool

	EnableTLS   bool
	TLSCertFile string
	TLSKeyFile  string

	EnableGraphQL bool
}

// DefaultConfig returns sensible defaults: GraphQL and TLS both disabled,
// CORS wide open (this is a local inspection surface, not a public API).
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 1 << 20,
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
		EnableLogging:  true,
		EnableGraphQL:  false,
	}
}
