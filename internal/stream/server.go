package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chriscow/rtvad/internal/observe"
	"github.com/chriscow/rtvad/pkg/plugin"
	"github.com/chriscow/rtvad/pkg/vad"
)

// Path is the websocket endpoint served by Handler.
const Path = "/v1/stream"

var errBadMessage = errors.New("bad message")

// Options configures a Server.
type Options struct {
	// Engine is the configuration every new connection starts with.
	Engine vad.Config
	// Source is the registered probability source name.
	Source string
	// SourceOptions are passed to the source factory.
	SourceOptions map[string]any

	MaxMessageBytes int64
	WriteTimeout    time.Duration
	PingInterval    time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 1 << 20
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
}

// SourceFactory creates a probability source by registered name.
type SourceFactory func(name string, cfg map[string]any) (vad.ProbabilitySource, error)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink shared by the server and its engines.
func WithMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRegistry resolves sources from r instead of the global registry.
func WithRegistry(r *plugin.Registry) ServerOption {
	return func(s *Server) { s.newSource = r.NewSource }
}

// Server upgrades HTTP requests to websocket streams and runs one engine per
// connection.
type Server struct {
	opts      Options
	newSource SourceFactory
	logger    *slog.Logger
	metrics   *observe.Metrics
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]context.CancelFunc
	closing  bool
	wg       sync.WaitGroup
}

// NewServer validates opts and returns a Server.
func NewServer(opts Options, options ...ServerOption) (*Server, error) {
	opts.setDefaults()
	if err := opts.Engine.Validate(); err != nil {
		return nil, err
	}
	if opts.Source == "" {
		return nil, fmt.Errorf("%w: no probability source configured", vad.ErrInvalidConfig)
	}

	s := &Server{
		opts:      opts,
		newSource: plugin.NewSource,
		logger:    slog.Default(),
		sessions:  make(map[string]context.CancelFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, o := range options {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Handler returns a mux serving the stream endpoint and a health check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+Path, s)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Active returns the number of open streams.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ServeHTTP upgrades the request and runs the stream until the client
// disconnects, releases the engine or the server shuts down.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	if !s.track(id, cancel) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.untrack(id)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	logger := s.logger.With(slog.String("session", id))
	sess := newSession(id, conn, s.opts, logger)

	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(context.Background(), -1)

	logger.Info("stream opened", slog.String("remote", r.RemoteAddr))
	if err := sess.run(ctx, s.newEngine); err != nil {
		logger.Warn("stream closed with error", slog.String("error", err.Error()))
		return
	}
	logger.Info("stream closed")
}

// Shutdown closes every open stream and waits for them to finish or for ctx
// to expire. New connections are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for _, cancel := range s.sessions {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) newEngine(logger *slog.Logger) (*vad.Engine, error) {
	src, err := s.newSource(s.opts.Source, s.opts.SourceOptions)
	if err != nil {
		return nil, err
	}
	engine, err := vad.New(s.opts.Engine, src,
		vad.WithLogger(logger),
		vad.WithMetrics(s.metrics),
	)
	if err != nil {
		// The engine never took ownership of the source.
		if c, ok := src.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return engine, nil
}

func (s *Server) track(id string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[id] = cancel
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.wg.Done()
}
