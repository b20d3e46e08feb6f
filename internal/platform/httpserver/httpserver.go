package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"idverify/internal/platform/config"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	idleTimeout       = 60 * time.Second
	// writeTimeout bounds a response; the process endpoint only enqueues, so
	// no handler legitimately runs close to it.
	writeTimeout = 30 * time.Second
)

// New builds the API server. Errors from the net/http internals (TLS
// handshakes, malformed requests) are routed to logger.
func New(cfg config.Server, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
