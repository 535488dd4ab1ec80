package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-replay/internal/auth"
	"github.com/ukydev/fleet-replay/internal/config"
	"github.com/ukydev/fleet-replay/internal/db"
	"github.com/ukydev/fleet-replay/internal/fleet"
	"github.com/ukydev/fleet-replay/internal/handlers"
	"github.com/ukydev/fleet-replay/internal/loader"
	"github.com/ukydev/fleet-replay/internal/logging"
	"github.com/ukydev/fleet-replay/internal/middleware"
	"github.com/ukydev/fleet-replay/internal/models"
	"github.com/ukydev/fleet-replay/internal/monitoring"
	"github.com/ukydev/fleet-replay/internal/playback"
	"github.com/ukydev/fleet-replay/internal/publish"
	"github.com/ukydev/fleet-replay/internal/stream"
	"github.com/ukydev/fleet-replay/internal/timeline"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// app is the wired replay service.
type app struct {
	facade  *fleet.Facade
	hub     *stream.Hub
	mqtt    *publish.MQTTSink
	handler http.Handler
	closers []func()
}

func (a *app) Close() {
	a.facade.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func main() {
	logger := logging.NewServiceLogger("fleet-replay")
	config.LoadEnv(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Replay service stopped")
	}
	logger.Info("Replay service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) error {
	src, closeSource, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	a, err := newApp(ctx, cfg, src, playback.NewClockzScheduler(nil), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	if a.mqtt != nil {
		g.Go(func() error {
			a.mqtt.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Autoplay {
		a.facade.Play()
	}
	return g.Wait()
}

// openSource returns the configured trip event source and a function that
// releases it.
func openSource(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (loader.Source, func(), error) {
	switch cfg.TripSource {
	case config.SourceMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")
		coll := &db.MongoCollection{Collection: client.Database(cfg.MongoDB).Collection(cfg.MongoCollection)}
		closeFn := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.WithError(err).Warn("Failed to disconnect from MongoDB")
			}
		}
		return db.NewEventSource(coll, nil, logger), closeFn, nil
	default:
		l, err := loader.Open(cfg.TripDataDir, cfg.TripManifest, logger)
		if err != nil {
			return nil, nil, err
		}
		return l, func() {}, nil
	}
}

// newApp loads every trip, builds the playback stack and mounts the HTTP
// surface. Sinks: prometheus, websocket and, when a broker is configured,
// MQTT.
func newApp(ctx context.Context, cfg *config.Config, src loader.Source, sched playback.Scheduler, logger logrus.FieldLogger) (*app, error) {
	logs, err := src.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trips: %w", err)
	}
	tl, err := timeline.Merge(logs)
	if err != nil {
		return nil, fmt.Errorf("merge timeline: %w", err)
	}

	clock := playback.New(tl,
		playback.WithScheduler(sched),
		playback.WithBaseInterval(cfg.BaseInterval),
		playback.WithLogger(logger),
	)
	if err := clock.SetSpeed(cfg.Speed); err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"trips":    len(tl.Trips()),
		"entries":  tl.Len(),
		"interval": clock.Interval(),
	}).Info("Timeline ready")

	facade := fleet.New(clock, src.Metadata(), logger)
	a := &app{facade: facade}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	facade.AddSink(monitoring.NewCollector(reg))

	a.hub = stream.NewHub(facade.Snapshot, logger)
	facade.AddSink(a.hub)

	if cfg.MQTTBroker != "" {
		client, err := publish.Connect(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			facade.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { client.Disconnect(250) })
		a.mqtt = publish.NewMQTTSink(client, cfg.MQTTTopic, logger)
		facade.AddSink(a.mqtt)
		logger.WithField("topic", cfg.MQTTTopic).Info("Publishing snapshots to MQTT")
	}

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry, credentials(cfg)...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.handler = handlers.NewRouter(handlers.RouterConfig{
		Auth:         middleware.NewAuthMiddleware(authService, logger),
		AuthHandler:  handlers.NewAuthHandler(authService, logger),
		Playback:     handlers.NewPlaybackHandler(facade, logger),
		LoginLimiter: middleware.NewRateLimiter(10, time.Minute),
		Stream:       a.hub,
		Metrics:      monitoring.Handler(reg),
	})
	return a, nil
}

func credentials(cfg *config.Config) []models.Credential {
	return []models.Credential{
		{Username: cfg.OperatorUsername, PasswordHash: cfg.OperatorPasswordHash, Role: models.RoleOperator},
		{Username: cfg.ViewerUsername, PasswordHash: cfg.ViewerPasswordHash, Role: models.RoleViewer},
	}
}
