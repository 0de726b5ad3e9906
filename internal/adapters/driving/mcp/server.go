package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/detectsearch/internal/logger"
)

var log = logger.For("mcp")

const (
	// endpoint is where the streamable HTTP transport is mounted.
	endpoint = "/mcp"

	shutdownGrace = 5 * time.Second
)

// Server answers label search and image lookups for MCP clients.
type Server struct {
	ports  *Ports
	server *mcp.Server
}

// NewServer registers the image tools and resources. version is reported
// to clients during initialisation.
func NewServer(ports *Ports, version string) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		ports:  ports,
		server: mcp.NewServer(&mcp.Implementation{Name: "detectsearch", Version: version}, nil),
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run serves a single client over stdin and stdout until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the HTTP routes: the MCP endpoint and a liveness probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(endpoint, mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// RunHTTP serves Handler on ln until ctx is done, then shuts down.
func (s *Server) RunHTTP(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown: %v", err)
		}
	})
	defer stop()

	log.Info("listening on %s%s", ln.Addr(), endpoint)
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve mcp: %w", err)
	}
	return nil
}
