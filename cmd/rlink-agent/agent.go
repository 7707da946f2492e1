package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rlink-protocol/rlink-go/pkg/config"
	"github.com/rlink-protocol/rlink-go/pkg/discovery"
	rlog "github.com/rlink-protocol/rlink-go/pkg/log"
	"github.com/rlink-protocol/rlink-go/pkg/metrics"
	"github.com/rlink-protocol/rlink-go/pkg/packet"
	"github.com/rlink-protocol/rlink-go/pkg/session"
	"github.com/rlink-protocol/rlink-go/pkg/transport"
	"github.com/rlink-protocol/rlink-go/pkg/version"
)

func run(ctx context.Context, configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Session.LogLevel = logLevel
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	plog, closeCapture, err := buildProtocolLogger(cfg, logger, level)
	if err != nil {
		return err
	}
	defer closeCapture.Close()

	var rec *metrics.Recorder
	if cfg.Session.Metrics {
		reg := prometheus.NewRegistry()
		if rec, err = metrics.New(reg); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		if cfg.Session.MetricsAddr != "" {
			go serveMetrics(ctx, cfg.Session.MetricsAddr, reg, logger)
		}
	}

	active, chain, err := buildTransports(cfg, logger, plog)
	if err != nil {
		return err
	}

	sess, err := session.New(session.Config{
		Codec:          packet.CBORCodec{},
		Handler:        newEnvelopeHandler(logger),
		Logger:         logger,
		ProtocolLogger: plog,
		Metrics:        rec,
	}, active, chain...)
	if err != nil {
		return err
	}
	if cfg.Session.Cipher != "" {
		key, err := cfg.CipherInitializer()
		if err != nil {
			return err
		}
		if err := sess.SetCipher(cfg.Session.Cipher, key); err != nil {
			return err
		}
	}

	logger.Info("agent starting",
		"version", version.Build,
		"protocol", version.Current,
		"session_id", sess.ID(),
		"transport", active.URL(),
		"failover", len(chain))

	err = sess.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("agent stopped", "cause", context.Cause(ctx))
		return nil
	}
	return err
}

// buildTransports creates the active transport and the failover chain.
func buildTransports(cfg *config.Config, logger *slog.Logger, plog rlog.Logger) (transport.Transport, []transport.Transport, error) {
	opts, err := cfg.TransportOptions()
	if err != nil {
		return nil, nil, err
	}
	resolver := buildResolver(cfg, logger)

	all := make([]transport.Transport, 0, len(opts))
	for i, o := range opts {
		o.Logger = logger
		o.ProtocolLogger = plog
		o.Resolver = resolver
		t, err := transport.New(cfg.Transports[i].URL, o)
		if err != nil {
			for _, made := range all {
				made.Destroy(nil)
			}
			return nil, nil, fmt.Errorf("transports[%d]: %w", i, err)
		}
		all = append(all, t)
	}
	if len(all) == 0 {
		return nil, nil, config.ErrInvalidConfig
	}
	return all[0], all[1:], nil
}

// buildResolver returns the host resolver for the configuration, or nil.
func buildResolver(cfg *config.Config, logger *slog.Logger) transport.Resolver {
	var next transport.Resolver
	if cfg.Session.Discovery == config.DiscoveryMDNS {
		next = discovery.NewMDNSResolver(discovery.ResolverConfig{
			Interface: cfg.Session.Interface,
			Logger:    logger,
		})
	}
	if len(cfg.Hosts) > 0 {
		return &discovery.StaticResolver{Hosts: cfg.Hosts, Next: next}
	}
	return next
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", "err", err)
	}
}
