// Package app wires the nightline server runtime: config, logging, HTTP
// routes, websocket gateways, and the delivery worker into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"nightline/internal/authtoken"
	"nightline/internal/httpapi"
	"nightline/internal/queue"
	"nightline/internal/realtime"
	"nightline/internal/repo"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// App is the nightline server runtime: it owns the HTTP server, the
// realtime gateway, and (when Redis is configured) the cross-instance
// delivery worker.
type App struct {
	cfg Config
	log Logger

	httpServer *http.Server

	mongo  *repo.Mongo
	redis  *redis.Client
	worker *queue.Worker

	workerDone chan struct{}
}

// New constructs a fully wired App from cfg and log.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	ctx := context.Background()

	verifier, err := newVerifier(cfg)
	if err != nil {
		return nil, err
	}

	store, mongoHandle, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	redisClient, err := NewRedisClient(ctx, cfg)
	if err != nil {
		if mongoHandle != nil {
			_ = mongoHandle.Close(ctx)
		}
		return nil, fmt.Errorf("app: connect redis: %w", err)
	}

	registry := realtime.NewRegistry()
	hub := realtime.NewHub(log)

	producer, worker, err := newDelivery(ctx, redisClient, log, registry)
	if err != nil {
		if mongoHandle != nil {
			_ = mongoHandle.Close(ctx)
		}
		return nil, err
	}

	dispatcher := realtime.NewDispatcher(log, store, hub, producer, cfg.ChatMaxPins)
	gateway := realtime.NewGateway(log, hub, registry, verifier, dispatcher, store.Conversations)

	api := httpapi.New(log, store, verifier, httpapi.Config{
		ChatPerPage: cfg.ChatPerPage,
		ChatHistory: cfg.ChatHistory,
		ChatMaxPins: cfg.ChatMaxPins,
	})

	reg := prometheus.NewRegistry()
	registerRuntimeMetrics(reg, registry, hub)
	queue.RegisterMetrics(reg)

	mux := newMux(log, cfg, gateway, api, reg, mongoHandle, redisClient)

	return &App{
		cfg: cfg,
		log: log,
		httpServer: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           withMiddleware(mux, cfg, log),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
		mongo:      mongoHandle,
		redis:      redisClient,
		worker:     worker,
		workerDone: make(chan struct{}),
	}, nil
}

func newVerifier(cfg Config) (*authtoken.Verifier, error) {
	key, err := authtoken.HMACKeyFromEnv(1)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return authtoken.NewVerifier(key, authtoken.DefaultCookieName), nil
}

// newStore connects to Mongo when MONGO_URI is configured, otherwise
// falls back to the in-memory store so the server runs standalone in
// development.
func newStore(ctx context.Context, cfg Config, log Logger) (repo.Store, *repo.Mongo, error) {
	if strings.TrimSpace(cfg.MongoURI) == "" {
		log.Warn("app.store.memory_fallback", "reason", "MONGO_URI not configured")
		return repo.NewMemory().Store(), nil, nil
	}

	m, err := repo.NewMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return repo.Store{}, nil, fmt.Errorf("app: connect mongo: %w", err)
	}
	if err := m.EnsureIndexes(ctx); err != nil {
		_ = m.Close(ctx)
		return repo.Store{}, nil, fmt.Errorf("app: ensure indexes: %w", err)
	}
	return m.Store(), m, nil
}

// newDelivery returns the realtime.Producer the dispatcher enqueues
// onto and, when redisClient is non-nil, a Worker ready to consume from
// the same stream. With no Redis connection, cross-instance delivery is
// simply unavailable: same-instance delivery already happens through
// the hub's publish before the dispatcher ever reaches the producer.
func newDelivery(ctx context.Context, redisClient *redis.Client, log Logger, registry *realtime.Registry) (realtime.Producer, *queue.Worker, error) {
	if redisClient == nil {
		log.Warn("app.queue.noop_fallback", "reason", "redis not configured")
		return queue.NoopQueue{}, nil, nil
	}

	q := queue.NewRedisQueue(redisClient, log)
	if err := q.EnsureGroup(ctx); err != nil {
		return nil, nil, fmt.Errorf("app: ensure consumer group: %w", err)
	}
	worker := queue.NewWorker(redisClient, log, registry, workerConsumerName())
	return q, worker, nil
}

func workerConsumerName() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "nightline"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Run starts the HTTP server and, when Redis is configured, the
// delivery worker, blocking until ctx is cancelled or the HTTP server
// fails. A worker error is logged and does not end Run.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		var err error
		if a.cfg.TLSCertFile != "" && a.cfg.TLSKeyFile != "" {
			a.log.Info("app.http.listening", "addr", a.httpServer.Addr, "tls", true)
			err = a.httpServer.ListenAndServeTLS(a.cfg.TLSCertFile, a.cfg.TLSKeyFile)
		} else {
			a.log.Info("app.http.listening", "addr", a.httpServer.Addr, "tls", false)
			err = a.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	if a.worker != nil {
		go func() {
			defer close(a.workerDone)
			if err := a.worker.Run(ctx); err != nil {
				a.log.Error("app.worker.stopped", "err", err)
			}
		}()
	} else {
		close(a.workerDone)
	}

	select {
	case <-ctx.Done():
		a.log.Info("app.stop", "reason", "context_done")
	case err := <-errCh:
		if err != nil {
			a.log.Error("app.http.failed", "err", err)
			return err
		}
	}

	return a.shutdown()
}

func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}

	<-a.workerDone

	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.mongo != nil {
		if err := a.mongo.Close(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.log.Info("app.stopped")
	return firstErr
}

// runtimeBaseURL turns a listen address ("0.0.0.0:8080", "[::]:9090")
// into the loopback HTTP base URL a local client should dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("http://%s:%s", host, port)
}

// wsBaseURL derives the websocket-scheme base URL from an HTTP(S) base
// URL or bare listen address.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + strings.TrimPrefix(runtimeBaseURL(base), "http://")
	}
}
