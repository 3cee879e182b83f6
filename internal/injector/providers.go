// Package injector assembles a runtime from configuration.
package injector

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"

	"github.com/google/wire"
	"github.com/zeusync/ecs/internal/config"
	"github.com/zeusync/ecs/internal/core/observability/log"
	"github.com/zeusync/ecs/internal/core/replication"
	"github.com/zeusync/ecs/internal/core/runtime"
)

var ProviderSet = wire.NewSet(ProvideLogger, ProvideSink, ProvideRuntime)

func ProvideLogger(cfg *config.Config) (*log.Logger, func(), error) {
	logger, err := log.New(cfg.LogLevel())
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

// ProvideSink dials every configured endpoint. It returns a nil sink when
// replication is off. The runtime closes the sink it is given.
func ProvideSink(ctx context.Context, cfg *config.Config, logger *log.Logger) (replication.Sink, error) {
	r := cfg.Replication
	if r.Transport == config.TransportNone || len(r.Endpoints) == 0 {
		return nil, nil
	}

	sinks := make([]replication.Sink, 0, len(r.Endpoints))
	for _, endpoint := range r.Endpoints {
		sink, err := dial(ctx, r, endpoint)
		if err != nil {
			for _, s := range sinks {
				if c, ok := s.(io.Closer); ok {
					_ = c.Close()
				}
			}
			return nil, fmt.Errorf("replication endpoint %s: %w", endpoint, err)
		}
		logger.Info("replication endpoint connected",
			log.String("transport", r.Transport), log.String("endpoint", endpoint))
		sinks = append(sinks, sink)
	}

	switch {
	case len(sinks) == 1:
		return sinks[0], nil
	case r.Mode == config.ModePartitioned:
		return replication.NewPartitioned(sinks...), nil
	default:
		return replication.NewFanout(logger, sinks...), nil
	}
}

func dial(ctx context.Context, r config.Replication, endpoint string) (replication.Sink, error) {
	switch r.Transport {
	case config.TransportWebSocket:
		return replication.DialWebSocket(ctx, endpoint, r.Timeout)
	case config.TransportQUIC:
		dialCtx := ctx
		if r.Timeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, r.Timeout)
			defer cancel()
		}
		tlsConf := &tls.Config{InsecureSkipVerify: r.Insecure} //nolint:gosec
		return replication.DialQUIC(dialCtx, endpoint, tlsConf, 0)
	case config.TransportJournal:
		return replication.OpenJournal(endpoint)
	default:
		return nil, fmt.Errorf("%w: transport %q", config.ErrInvalid, r.Transport)
	}
}

func ProvideRuntime(cfg *config.Config, logger *log.Logger, sink replication.Sink) (*runtime.Context, func()) {
	rt := runtime.New(cfg, logger, sink)
	return rt, func() {
		if err := rt.Close(); err != nil {
			logger.Warn("runtime close failed", log.Error(err))
		}
	}
}
