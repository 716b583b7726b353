package mqttconverter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server accepts MQTT client connections over TCP and runs one Session per
// connection on its own goroutine.
type Server struct {
	cfg    ServerConfig
	deps   Dependencies
	logger zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	sessions map[string]*Session
	wg       sync.WaitGroup

	ready    atomic.Bool
	alive    atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// NewServer creates a server. It does not listen until Start is called.
func NewServer(cfg ServerConfig, deps Dependencies, logger zerolog.Logger) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid MQTT port: %d", cfg.Port)
	}
	return &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With().Str("component", "MqttServer").Logger(),
		sessions: make(map[string]*Session),
	}, nil
}

// Start binds the listener and begins accepting connections in the background.
// Cancelling ctx stops the server.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.alive.Store(true)
	s.ready.Store(true)
	s.logger.Info().Str("address", listener.Addr().String()).Msg("MQTT server listening.")

	go s.acceptLoop(ctx, listener)
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("Shutdown signal received, stopping MQTT server.")
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Stop(stopCtx)
	}()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsReady reports whether the server is accepting connections.
func (s *Server) IsReady() bool {
	return s.ready.Load()
}

// IsAlive reports whether the server has started and not yet finished stopping.
func (s *Server) IsAlive() bool {
	return s.alive.Load()
}

// ActiveSessions returns the number of open client connections.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stop closes the listener and every open session, then waits for their
// goroutines to finish, respecting the context's deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.ready.Store(false)
		s.logger.Info().Msg("Stopping MQTT server...")

		s.mu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn().Err(err).Msg("Failed to close MQTT listener.")
			}
		}
		for _, sess := range s.sessions {
			_ = sess.Close()
		}
		s.mu.Unlock()

		stopDone := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(stopDone)
		}()

		select {
		case <-stopDone:
			s.logger.Info().Msg("MQTT server stopped.")
		case <-ctx.Done():
			s.logger.Warn().Msg("Timed out waiting for MQTT sessions to finish.")
			s.stopErr = ctx.Err()
		}
		s.alive.Store(false)
	})
	return s.stopErr
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.ready.Load() {
				return
			}
			backoff = nextBackoff(backoff)
			s.logger.Error().Err(err).Dur("retry_in", backoff).Msg("Failed to accept MQTT connection.")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		id := uuid.NewString()
		sess, err := NewSession(id, conn, s.deps, s.cfg.sessionConfig(), s.logger)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to create session, closing connection.")
			_ = conn.Close()
			continue
		}

		if !s.register(sess) {
			_ = sess.Close()
			return
		}
		go s.serve(ctx, sess)
	}
}

// register tracks a session unless the server is stopping.
func (s *Server) register(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready.Load() {
		return false
	}
	s.sessions[sess.ID()] = sess
	s.wg.Add(1)
	s.deps.Metrics.ConnectionOpened()
	return true
}

func (s *Server) serve(ctx context.Context, sess *Session) {
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.ID())
		s.mu.Unlock()
		s.deps.Metrics.ConnectionClosed()
		s.wg.Done()
	}()
	_ = sess.Serve(ctx)
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
