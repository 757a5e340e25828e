// Package httpapi serves the mini-app, server-to-server, mail push and
// webhook endpoints.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"relaybot/internal/auth"
	"relaybot/internal/dispatch"
	"relaybot/internal/mailwatch"
	logx "relaybot/pkg/logx"
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// BroadcastSecret is the static bearer of /message and /auth-complete.
	BroadcastSecret string
	Pprof           bool
}

type Broadcaster interface {
	Broadcast(ctx context.Context, msg dispatch.Message) (dispatch.Report, error)
}

// Notifier sends the "you're verified" message of one bot.
type Notifier interface {
	NotifyAuthorized(ctx context.Context, userID int64) error
}

type PushHandler interface {
	HandlePush(ctx context.Context, p mailwatch.Push) error
}

// Deps are the endpoint collaborators. Push, Metrics and Webhooks may be nil.
type Deps struct {
	Auth        *auth.Service
	Broadcaster Broadcaster
	Official    Notifier
	Student     Notifier
	Push        PushHandler
	Metrics     http.Handler
	Webhooks    map[string]http.Handler // keyed by bot name
	Log         logx.Logger
}

type Server struct {
	cfg Config
	d   Deps
	log logx.Logger
	h   http.Handler

	mu  sync.Mutex
	srv *http.Server
}

func New(cfg Config, d Deps) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, d: d, log: log.With(logx.String("comp", "http"))}
	s.h = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.h }

// Serve listens on cfg.Addr until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.log.Error("http listen failed", logx.String("addr", s.cfg.Addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:      s.h,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("http started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops a running Serve gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
