package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/errs"
)

type ServerOptions struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	server *http.Server
}

// NewServer binds handler to opts.Addr. Request contexts derive from ctx so
// they carry its logger and attributes.
func NewServer(ctx context.Context, handler http.Handler, opts ServerOptions) *Server {
	base := logging.WithComponent(ctx, "transport.web")
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(base)
		},
	}
	return &Server{server: srv}
}

func (s *Server) Addr() string {
	return s.server.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errs.Wrapf(err, "listen on %s", s.server.Addr)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	logCtx := logging.WithComponent(ctx, "transport.web")

	serveErr := make(chan error, 1)
	go func() {
		logging.Info(logCtx, "http server started", slog.String("addr", ln.Addr().String()))
		serveErr <- s.server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errs.Wrap(err, "serve http")
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(stopCtx); err != nil {
		logging.Warn(logCtx, "http server forced to shut down", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "shutdown http server")
	}
	logging.Info(logCtx, "http server stopped")
	return nil
}
