package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aretw0/menuflow"
	"github.com/aretw0/menuflow/internal/config"
	"github.com/aretw0/menuflow/pkg/adapters/file"
	httpAdapter "github.com/aretw0/menuflow/pkg/adapters/http"
	"github.com/aretw0/menuflow/pkg/adapters/matrix"
	"github.com/aretw0/menuflow/pkg/adapters/mqtt"
	"github.com/aretw0/menuflow/pkg/adapters/redis"
	"github.com/aretw0/menuflow/pkg/adapters/sqlstore"
	"github.com/aretw0/menuflow/pkg/observability"
	persistence "github.com/aretw0/menuflow/pkg/persistence/middleware"
	"github.com/aretw0/menuflow/pkg/ports"
)

// app is a fully wired process: engine, HTTP handler and everything to close on shutdown.
type app struct {
	engine  *menuflow.Engine
	handler http.Handler
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// storage is the selected store plus the directory of clients and users, when the backend has one.
type storage struct {
	store   ports.StateStore
	locker  ports.DistributedLocker
	clients ports.ClientStore
	users   ports.UserStore
	close   func() error
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	switch cfg.Store.Driver {
	case "redis":
		store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redis.WithPrefix(cfg.Redis.Prefix))
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		s := &storage{store: store, close: store.Close}
		if cfg.Redis.Lock {
			s.locker = redis.NewLocker(store.Client(), cfg.Redis.Prefix)
		}
		return s, nil
	case "file":
		return &storage{store: file.New(cfg.Store.DSN), close: func() error { return nil }}, nil
	case "postgres", "sqlite":
		store, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, sqlstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &storage{store: store, clients: store, users: store, close: store.Close}, nil
	default:
		return &storage{close: func() error { return nil }}, nil
	}
}

// eventSink combines metrics with the optional MQTT publisher. Variables
// matching the mask patterns never leave the process.
func eventSink(cfg *config.Config, metrics *observability.Metrics) (ports.EventSink, func() error, error) {
	fanout := observability.NewFanout().AddInternal(metrics)
	closeFn := func() error { return nil }

	if cfg.Events.MQTT.Broker != "" {
		sink, err := mqtt.Dial(cfg.Events.MQTT.Broker, cfg.Events.MQTT.ClientID, cfg.Events.MQTT.Topic)
		if err != nil {
			return nil, nil, err
		}
		fanout.AddExternal(sink)
		closeFn = sink.Close
	}

	masked, err := observability.NewMaskingSink(fanout, cfg.Events.MaskPatterns)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return masked, closeFn, nil
}

// storeOptions selects the store, its locker and directory, and encryption at rest.
func storeOptions(cfg *config.Config, st *storage) ([]menuflow.Option, error) {
	var opts []menuflow.Option
	if st.store != nil {
		opts = append(opts, menuflow.WithStore(st.store))
	}
	if st.locker != nil {
		opts = append(opts, menuflow.WithLocker(st.locker))
	}
	if st.users != nil {
		opts = append(opts, menuflow.WithUserStore(st.users))
	}
	if cfg.Store.EncryptionKey != "" {
		key, err := persistence.ParseKey(cfg.Store.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("store.encryption_key: %w", err)
		}
		enc, err := persistence.NewEncryptionMiddleware(persistence.EncryptionConfig{ActiveKey: key})
		if err != nil {
			return nil, err
		}
		opts = append(opts, menuflow.WithStoreMiddleware(enc))
	}
	return opts, nil
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		_ = a.Close()
		return nil, err
	}

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.close)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	sink, closeSink, err := eventSink(cfg, metrics)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, closeSink)

	streams := httpAdapter.NewStreamManager(logger)
	httpClient := &http.Client{Timeout: cfg.Engine.HTTPTimeout}

	opts := []menuflow.Option{
		menuflow.WithFlowUtilsFile(cfg.Flow.UtilsPath),
		menuflow.WithHTTPClient(httpClient),
		menuflow.WithMaxSteps(cfg.Engine.MaxSteps),
		menuflow.WithDefaultAttempts(cfg.Engine.DefaultAttempts),
		menuflow.WithEventSink(sink),
		menuflow.WithStateHook(streams.Publish),
		menuflow.WithLogger(logger),
	}
	storeOpts, err := storeOptions(cfg, st)
	if err != nil {
		return fail(err)
	}
	opts = append(opts, storeOpts...)
	if cfg.Transport.BaseURL != "" {
		transportOpts := []matrix.Option{matrix.WithHTTPClient(httpClient), matrix.WithLogger(logger)}
		if st.clients != nil {
			transportOpts = append(transportOpts, matrix.WithClientStore(st.clients))
		}
		opts = append(opts, menuflow.WithTransport(matrix.New(cfg.Transport.BaseURL, cfg.Transport.Token, transportOpts...)))
	} else {
		logger.Warn("No transport configured, outgoing messages will fail", "key", "transport.base_url")
	}

	eng, err := menuflow.Load(cfg.Flow.Path, opts...)
	if err != nil {
		return fail(err)
	}
	a.engine = eng
	a.closers = append(a.closers, eng.Close)

	a.handler = httpAdapter.NewHandler(eng,
		httpAdapter.WithStreams(streams),
		httpAdapter.WithGatherer(reg),
		httpAdapter.WithLogger(logger),
	)
	return a, nil
}
