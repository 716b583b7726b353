package microservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// MQTTListener is the client-facing side of the bridge.
type MQTTListener interface {
	Probe
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Flusher drains in-flight Kafka sends on shutdown.
type Flusher interface {
	Close(ctx context.Context) error
}

// BridgeDependencies holds the components the BridgeService owns.
// Ledger is optional.
type BridgeDependencies struct {
	MQTT       MQTTListener
	Dispatcher Flusher
	Ledger     io.Closer
	Gatherer   prometheus.Gatherer
}

// BridgeService runs the MQTT listener next to the HTTP probe server and
// tears both down in order.
type BridgeService struct {
	*BaseServer
	deps   BridgeDependencies
	logger zerolog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewBridgeService creates the service. Nothing listens until Start.
func NewBridgeService(httpPort string, deps BridgeDependencies, logger zerolog.Logger) (*BridgeService, error) {
	if deps.MQTT == nil {
		return nil, errors.New("MQTT listener cannot be nil")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	return &BridgeService{
		BaseServer: NewBaseServer(logger, httpPort, deps.MQTT, deps.Gatherer),
		deps:       deps,
		logger:     logger.With().Str("component", "BridgeService").Logger(),
	}, nil
}

// Start opens the MQTT listener, then the HTTP server.
func (s *BridgeService) Start(ctx context.Context) error {
	if err := s.deps.MQTT.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT server: %w", err)
	}
	if err := s.BaseServer.Start(); err != nil {
		_ = s.deps.MQTT.Stop(context.WithoutCancel(ctx))
		return err
	}
	s.logger.Info().Str("http_port", s.GetHTTPPort()).Msg("Bridge service started.")
	return nil
}

// Shutdown stops accepting MQTT clients, flushes pending Kafka sends, closes
// the ledger and finally stops the HTTP server. It runs once; later calls
// return the first result.
func (s *BridgeService) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info().Msg("Shutting down bridge service...")
		var errs []error
		if err := s.deps.MQTT.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping MQTT server: %w", err))
		}
		if err := s.deps.Dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing dispatcher: %w", err))
		}
		if s.deps.Ledger != nil {
			if err := s.deps.Ledger.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing ack ledger: %w", err))
			}
		}
		if err := s.BaseServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping HTTP server: %w", err))
		}
		s.shutdownErr = errors.Join(errs...)
		if s.shutdownErr != nil {
			s.logger.Error().Err(s.shutdownErr).Msg("Bridge service stopped with errors.")
			return
		}
		s.logger.Info().Msg("Bridge service stopped.")
	})
	return s.shutdownErr
}
