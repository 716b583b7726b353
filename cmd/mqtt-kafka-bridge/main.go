package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/cache"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/config"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/mapping"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/metrics"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/microservice"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/mqttconverter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configFile := flag.String("config-file", "", "The path to the configuration file. Environment variables are used when empty.")
	rulesFile := flag.String("mapping-rules", "", "The path to the topic mapping rules file.")
	flag.Parse()

	if *rulesFile == "" {
		fmt.Fprintln(os.Stderr, "--mapping-rules is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile, *rulesFile); err != nil {
		log.Fatal().Err(err).Msg("MQTT bridge failed.")
	}
}

func run(ctx context.Context, configPath, rulesPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	log.Logger = logger
	logger.Info().Str("bridge_id", cfg.Bridge.ID).Msg("MQTT bridge is starting.")
	logger.Info().Stringer("config", cfg).Msg("Bridge configuration loaded.")

	rules, err := mapping.LoadRules(rulesPath)
	if err != nil {
		return err
	}
	mapper, err := mapping.New(mapping.Strategy(cfg.Bridge.MappingStrategy), rules, cfg.Bridge.DefaultTopic)
	if err != nil {
		return fmt.Errorf("building topic mapper: %w", err)
	}
	logger.Info().Int("rules", len(rules)).Str("strategy", cfg.Bridge.MappingStrategy).Msg("Mapping rules loaded.")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bridgeMetrics := metrics.New(reg)

	noAck, ackOne, err := messagepipeline.NewProducers(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	dispatcher, err := messagepipeline.NewDispatcher(noAck, ackOne, bridgeMetrics, logger)
	if err != nil {
		_ = noAck.Close(ctx)
		_ = ackOne.Close(ctx)
		return err
	}

	ledger, err := buildLedger(ctx, cfg.Bridge.Dedup, logger)
	if err != nil {
		_ = dispatcher.Close(ctx)
		return err
	}

	mqttServer, err := mqttconverter.NewServer(cfg.MQTT, mqttconverter.Dependencies{
		Mapper:     mapper,
		Dispatcher: dispatcher,
		Ledger:     ledger,
		Metrics:    bridgeMetrics,
	}, logger)
	if err != nil {
		_ = dispatcher.Close(ctx)
		return err
	}

	deps := microservice.BridgeDependencies{
		MQTT:       mqttServer,
		Dispatcher: dispatcher,
		Gatherer:   reg,
	}
	if ledger != nil {
		deps.Ledger = ledger
	}
	svc, err := microservice.NewBridgeService(cfg.HTTP.Port, deps, logger)
	if err != nil {
		_ = dispatcher.Close(ctx)
		return err
	}

	if err := svc.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(err, svc.Shutdown(shutdownCtx))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutdown signal received.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("MQTT bridge stopped.")
	return nil
}

// newLogger builds the process logger from the logging settings.
func newLogger(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level: %w", err)
	}
	if cfg.Format == config.LogFormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// buildLedger returns nil when deduplication is disabled.
func buildLedger(ctx context.Context, cfg config.DedupConfig, logger zerolog.Logger) (cache.AckLedger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case config.DedupBackendMemory:
		ledger, err := cache.NewMemoryLedger(cfg.Size, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("creating memory ack ledger: %w", err)
		}
		return ledger, nil
	case config.DedupBackendRedis:
		redisCfg := cfg.Redis
		ledger, err := cache.NewRedisLedger(ctx, &redisCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("creating redis ack ledger: %w", err)
		}
		return ledger, nil
	default:
		return nil, fmt.Errorf("unsupported dedup backend: %q", cfg.Backend)
	}
}
