package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"watchtower/api"
	"watchtower/config"
	"watchtower/core"
	"watchtower/correlation"
	"watchtower/ingest"
	"watchtower/notify"
	"watchtower/service"
	"watchtower/util/goroutine"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Options selects how the application is configured
type Options struct {
	// ConfigFile overrides the default config.yaml lookup; optional
	ConfigFile string
}

// App represents the Watchtower application with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	Storage *StorageComponents
	Tracing *Tracing

	// Correlation
	Matcher *core.PatternMatcher
	Engine  *correlation.Engine

	// Services
	SIEM      *service.SIEM
	Hub       *api.Hub
	APIServer *api.API
	NATS      *nats.Conn
	Kafka     *ingest.KafkaConsumer
	DLQ       *ingest.DLQ

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	serviceWg    *sync.WaitGroup
	hubStarted   bool
	shutdownOnce sync.Once
}

// NewApp creates a new application instance and initializes all components.
// Nothing listens or consumes until Start.
func NewApp(ctx context.Context, opts Options) (_ *App, err error) {
	cfg, err := InitConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	logger, sugar, err := InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Sugar:     sugar,
		serviceWg: &sync.WaitGroup{},
	}
	app.ctx, app.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			app.release()
		}
	}()

	sugar.Info("Watchtower SIEM starting...")
	logConfig(cfg, sugar)

	// Pre-flight checks
	if err := EnsureDataDirectory(cfg.Storage.SQLitePath, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	app.Tracing = InitTracing(cfg, sugar)

	app.Storage, err = InitStorage(app.ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}

	app.Matcher = core.NewPatternMatcher(cfg.Correlation.RegexTimeout, cfg.Correlation.PatternCacheSize)
	app.Engine = correlation.NewEngine(
		app.Storage.Rules, app.Storage.Events, app.Storage.Alerts, app.Storage.Locker, app.Matcher,
		correlation.Config{
			Timeout:          cfg.Correlation.Timeout,
			ReloadInterval:   cfg.Correlation.RuleReloadInterval,
			MaxMergeAttempts: cfg.Correlation.MaxMergeAttempts,
		},
		app.Tracing.Tracer, sugar.Named("correlation"))

	app.Hub = api.NewHub(app.ctx, sugar.Named("stream"))
	notifier := notify.NewMulti(sugar.Named("notify")).Add("stream", app.Hub)
	if cfg.NATS.Enabled {
		app.NATS, err = notify.ConnectNATS(cfg.NATS.URL, "watchtower", sugar)
		if err != nil {
			return nil, err
		}
		notifier.Add("nats", notify.NewNATSNotifier(app.NATS, cfg.NATS.SubjectPrefix, sugar.Named("nats")))
		sugar.Infow("NATS notifications enabled", "url", cfg.NATS.URL, "subject_prefix", cfg.NATS.SubjectPrefix)
	}

	app.SIEM = service.New(service.Deps{
		Events:     app.Storage.Events,
		Alerts:     app.Storage.Alerts,
		Incidents:  app.Storage.Incidents,
		Rules:      app.Storage.Rules,
		Audit:      app.Storage.Audit,
		Correlator: app.Engine,
		RuleCache:  app.Engine.Rules(),
		Matcher:    app.Matcher,
		Notifier:   notifier,
		Tracer:     app.Tracing.Tracer,
		Logger:     sugar.Named("siem"),
	})

	app.DLQ = ingest.NewDLQ(app.Storage.SQLite, sugar.Named("dlq"))
	app.APIServer = api.NewAPI(app.SIEM, app.Hub, cfg, sugar.Named("api"))
	app.APIServer.SetDLQ(app.DLQ)

	if cfg.Kafka.Enabled {
		reader := ingest.NewKafkaReader(ingest.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			GroupID:      cfg.Kafka.GroupID,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		}, sugar)
		app.Kafka = ingest.NewKafkaConsumer(reader, app.SIEM, app.DLQ, cfg.Kafka.RetryBackoff, sugar.Named("kafka"))
	}

	return app, nil
}

// Start launches the stream hub, the Kafka consumer and the API server.
func (a *App) Start(ctx context.Context) error {
	if rules, err := a.Engine.Rules().Active(ctx); err != nil {
		a.Sugar.Warnw("Failed to warm correlation rule cache", "error", err)
	} else {
		a.Sugar.Infow("Correlation rules loaded", "enabled", len(rules))
	}

	goroutine.Go(a.serviceWg, "stream-hub", a.Sugar, a.Hub.Start)
	a.hubStarted = true

	if a.Kafka != nil {
		if err := a.Kafka.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start kafka consumer: %w", err)
		}
		a.Sugar.Infow("Kafka ingestion started", "brokers", a.Config.Kafka.Brokers, "topic", a.Config.Kafka.Topic)
	}

	goroutine.Go(a.serviceWg, "api-server", a.Sugar, func() {
		var err error
		if a.Config.API.TLS {
			err = a.APIServer.StartTLS()
		} else {
			err = a.APIServer.Start()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server failed", "error", err)
		}
	})
	a.Sugar.Infow("API server started", "port", a.Config.API.Port, "tls", a.Config.API.TLS)

	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		a.Sugar.Infow("Received signal", "signal", sig.String())
	case <-a.ctx.Done():
	}
}

// Shutdown gracefully shuts down all components. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.Sugar.Info("Shutting down...")

		// Phase 1 - Stop ingestion; in-flight messages stay uncommitted
		a.Sugar.Info("Phase 1: Stopping Kafka consumer...")
		if a.Kafka != nil {
			if err := a.Kafka.Stop(); err != nil {
				a.Sugar.Errorw("Failed to stop Kafka consumer", "error", err)
			}
		}

		// Phase 2 - Stop API server
		a.Sugar.Info("Phase 2: Stopping API server...")
		if a.APIServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.APIServer.Stop(ctx); err != nil {
				a.Sugar.Errorw("Failed to stop API server", "error", err)
			}
			cancel()
		}

		// Phase 3 - Disconnect stream subscribers
		a.Sugar.Info("Phase 3: Stopping stream hub...")
		if a.hubStarted {
			a.Hub.Stop()
		}

		// Phase 4 - Wait for service goroutines
		a.Sugar.Info("Phase 4: Waiting for service goroutines to complete...")
		done := make(chan struct{})
		go func() {
			a.serviceWg.Wait()
			close(done)
		}()
		select {
		case <-done:
			a.Sugar.Info("All service goroutines stopped successfully")
		case <-time.After(10 * time.Second):
			a.Sugar.Warn("Service goroutine shutdown timed out")
		}

		a.release()
		a.Sugar.Info("Shutdown complete")
		_ = a.Logger.Sync()
	})
}

// release closes outbound connections and storage
func (a *App) release() {
	a.cancel()

	if a.NATS != nil {
		if err := a.NATS.Drain(); err != nil {
			a.Sugar.Warnw("Failed to drain NATS connection", "error", err)
			a.NATS.Close()
		}
	}

	if a.Tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Tracing.Shutdown(ctx); err != nil {
			a.Sugar.Warnw("Failed to flush traces", "error", err)
		}
		cancel()
	}

	a.Sugar.Info("Closing database connections...")
	a.Storage.Close(a.Sugar)
	a.Storage = nil
}
