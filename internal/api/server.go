// Package api exposes the bridge over HTTP: JSON endpoints compatible with
// Meshtastic-style clients, a websocket event feed and the embedded web UI.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"meshbridge/internal/bus"
	"meshbridge/internal/config"
	"meshbridge/internal/domain"
	"meshbridge/internal/session"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second

	// configProbeTimeout bounds the connection probe run after a target
	// change, so config errors surface in the POST response.
	configProbeTimeout = 8 * time.Second
)

// DeviceSession is the slice of the session service the handlers need.
type DeviceSession interface {
	Connected() bool
	WaitConnected(ctx context.Context, timeout time.Duration) error
	SyncContacts(ctx context.Context) ([]domain.Contact, error)
	DrainMessages(ctx context.Context, max int) error
	SendChannelMessage(ctx context.Context, channel int, text string) (session.SendResult, error)
	SendPrivateMessage(ctx context.Context, to, text string) (session.SendResult, error)
	SetOwnerName(ctx context.Context, name string) error
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Logger    *slog.Logger
	Bus       bus.MessageBus
	Store     *config.Store
	Session   DeviceSession
	Directory *domain.Directory
	History   *domain.History
}

// Server is the bridge's HTTP front end.
type Server struct {
	logger  *slog.Logger
	store   *config.Store
	session DeviceSession
	dir     *domain.Directory
	hist    *domain.History
	hub     *Hub

	server *http.Server
}

func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Store == nil || deps.Session == nil || deps.Directory == nil || deps.History == nil {
		return nil, errors.New("store, session, directory and history are required")
	}

	s := &Server{
		logger:  deps.Logger,
		store:   deps.Store,
		session: deps.Session,
		dir:     deps.Directory,
		hist:    deps.History,
		hub:     NewHub(deps.Logger, deps.Bus),
	}

	return s, nil
}

// Start binds the listener and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	hubCtx, cancelHub := context.WithCancel(ctx)
	s.hub.Start(hubCtx)

	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()
	s.logger.Info("http api listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		cancelHub()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}

		return nil
	case err := <-errCh:
		cancelHub()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}
}
