package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/handout-dev/handout/internal/auth"
	"github.com/handout-dev/handout/internal/distribution/service"
	"github.com/handout-dev/handout/internal/platform/timeouts"
	"github.com/handout-dev/handout/internal/services/web/static"
)

// Config defines the inputs for the web process.
type Config struct {
	HTTPAddr string
	// SessionTTL overrides the default session lifetime when positive.
	SessionTTL time.Duration
	// SecureCookies marks session cookies Secure; enable behind TLS.
	SecureCookies bool
	OAuth         auth.OAuthConfig
}

// Server hosts the handout web frontend.
type Server struct {
	httpAddr   string
	httpServer *http.Server
}

// NewServer wires the ledger, session service, and OAuth client into an HTTP
// server ready to listen.
func NewServer(config Config, ledger *service.Ledger, sessionStorage auth.SessionStorage) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}

	sessions, err := auth.NewSessions(sessionStorage, config.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("build session service: %w", err)
	}
	oauth, err := auth.NewOAuthClient(config.OAuth)
	if err != nil {
		return nil, fmt.Errorf("build oauth client: %w", err)
	}
	_, handler, err := NewHandler(ledger, sessions, oauth, config.SecureCookies)
	if err != nil {
		return nil, fmt.Errorf("build web handler: %w", err)
	}

	return &Server{
		httpAddr: httpAddr,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
	}, nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("web server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serveErr := make(chan error, 1)
	log.Printf("web listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func staticHandler() http.Handler {
	return http.FileServerFS(static.FS)
}
