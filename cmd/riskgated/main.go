// Command riskgated launches the order risk-guard and paper-execution
// service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"

	"github.com/tradeloop/riskgate/internal/config"
	"github.com/tradeloop/riskgate/internal/engine"
	"github.com/tradeloop/riskgate/internal/events"
	"github.com/tradeloop/riskgate/internal/feed"
	"github.com/tradeloop/riskgate/internal/idempotency"
	"github.com/tradeloop/riskgate/internal/ledger"
	"github.com/tradeloop/riskgate/internal/observability"
	"github.com/tradeloop/riskgate/internal/persistence"
	"github.com/tradeloop/riskgate/internal/persistence/memory"
	"github.com/tradeloop/riskgate/internal/persistence/migrations"
	"github.com/tradeloop/riskgate/internal/persistence/postgres"
	"github.com/tradeloop/riskgate/internal/risk"
	"github.com/tradeloop/riskgate/internal/server"
	"github.com/tradeloop/riskgate/lib/async"
	"github.com/tradeloop/riskgate/lib/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	loggerPrefix             = "riskgated "
	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	eventWorkers             = 2
	eventQueueDepth          = 256
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	observability.SetLogger(observability.NewStdLogger(logger, os.Getenv("RISKGATE_DEBUG") != ""))

	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	appCfg, loadedFromFile, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Print("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s account=%s broker=%s",
		appCfg.Environment, appCfg.Account, appCfg.Broker)

	telemetryShutdown, err := initTelemetry(ctx, logger, appCfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	store, closeStore, err := openStore(ctx, logger, appCfg)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}

	limitStore, err := loadLimits(ctx, logger, appCfg, store)
	if err != nil {
		logger.Fatalf("initialise limits: %v", err)
	}

	book := ledger.New(store.Positions())
	guard := risk.NewGuard(appCfg.Account, limitStore, store.Counters(), book)
	keys := idempotency.NewGuard(store.Idempotency(), idempotency.DefaultRetention)
	defer keys.Close()

	broker, err := selectBroker(appCfg.Broker)
	if err != nil {
		logger.Fatalf("select broker: %v", err)
	}

	eventPool, sink, err := newEventSink()
	if err != nil {
		logger.Fatalf("initialise event sink: %v", err)
	}

	eng := engine.New(appCfg.Account, store, limitStore, guard, book, keys, broker, engine.Options{
		Sink: sink,
	})
	if err := eng.Restore(ctx); err != nil {
		logger.Fatalf("restore working orders: %v", err)
	}

	status, err := guard.Status(ctx, time.Now().UTC())
	if err != nil {
		logger.Fatalf("read guardrail status: %v", err)
	}
	if status.Halted {
		logger.Printf("trading is halted for %s; submissions will be rejected until reset", status.Day)
	}

	var lifecycle conc.WaitGroup

	if appCfg.Feed.URL != "" {
		client := feed.NewClient(appCfg.Feed.URL, eng.OnTick, feed.Options{
			ReconnectMax: appCfg.Feed.ReconnectMax,
			Handshake:    appCfg.Feed.HandshakeLimit,
		})
		lifecycle.Go(func() {
			if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("tick feed stopped: %v", err)
			}
		})
		logger.Printf("tick feed connecting to %s", appCfg.Feed.URL)
	} else {
		logger.Print("no feed URL configured; ticks arrive via POST /v1/ticks only")
	}

	handler := server.NewHandler(appCfg.Account, eng, guard, book, limitStore, store)
	apiServer := &http.Server{
		Addr:              appCfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: appCfg.Server.ReadHeaderTimeout,
	}
	lifecycle.Go(func() {
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("api server stopped: %v", err)
			cancel()
		}
	})
	logger.Printf("api listening on %s", appCfg.Server.Addr)

	logger.Print("riskgated started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	serverCtx, serverCancel := context.WithTimeout(shutdownCtx, serverShutdownTimeout)
	if err := apiServer.Shutdown(serverCtx); err != nil {
		logger.Printf("api server shutdown: %v", err)
	}
	serverCancel()

	lifecycle.Wait()

	if err := eventPool.Shutdown(shutdownCtx); err != nil {
		logger.Printf("event sink shutdown: %v", err)
	}
	closeStore()

	telemetryCtx, telemetryCancel := context.WithTimeout(shutdownCtx, telemetryShutdownTimeout)
	if err := telemetryShutdown(telemetryCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}
	telemetryCancel()

	logger.Print("shutdown completed")
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func initTelemetry(ctx context.Context, logger *log.Logger, appCfg config.AppConfig) (func(context.Context) error, error) {
	_, shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    appCfg.Telemetry.Endpoint,
		ServiceName: "riskgated",
		Interval:    appCfg.Telemetry.Interval,
	})
	if err != nil {
		return nil, err
	}
	observability.SetMetrics(observability.NewOtelMetrics(otel.Meter("riskgated")))
	if appCfg.Telemetry.Endpoint != "" {
		logger.Printf("telemetry initialized: endpoint=%s", appCfg.Telemetry.Endpoint)
	} else {
		logger.Print("telemetry disabled")
	}
	return shutdown, nil
}

func openStore(ctx context.Context, logger *log.Logger, appCfg config.AppConfig) (persistence.Store, func(), error) {
	dsn := appCfg.Database.DSN
	if dsn == "" {
		logger.Print("no database DSN configured; using in-memory store")
		return memory.NewStore(), func() {}, nil
	}

	if err := migrations.Apply(ctx, dsn, appCfg.Database.MigrationsDir); err != nil {
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	store, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	logger.Print("postgres store connected")
	return store, store.Close, nil
}

// loadLimits prefers the persisted per-account limits over the config file so
// runtime replacements survive restarts.
func loadLimits(ctx context.Context, logger *log.Logger, appCfg config.AppConfig, store persistence.Store) (*config.Store, error) {
	limits := appCfg.Limits
	if persisted, found, err := store.Limits().LoadLimits(ctx, appCfg.Account); err != nil {
		return nil, err
	} else if found {
		limits = persisted
		logger.Print("guardrail limits restored from store")
	}
	return config.NewStore(limits)
}

func selectBroker(name string) (engine.Broker, error) {
	switch name {
	case "", "paper":
		return engine.NewPaperBroker(), nil
	case "live":
		return engine.LiveBrokerStub{}, nil
	default:
		return nil, fmt.Errorf("unknown broker %q", name)
	}
}

// newEventSink fans lifecycle events out to the log through a bounded worker
// pool so slow sinks cannot stall the trading path.
func newEventSink() (*async.Pool, events.Sink, error) {
	pool, err := async.NewPool(eventWorkers, eventQueueDepth)
	if err != nil {
		return nil, nil, err
	}
	sink := events.SinkFunc(func(event events.Event) {
		submitErr := pool.Submit(context.Background(), func(context.Context) error {
			observability.Log().Info("lifecycle event",
				observability.F("kind", string(event.Kind)),
				observability.F("order_id", event.OrderID),
				observability.F("symbol", event.Symbol),
				observability.F("reason", event.Reason))
			return nil
		})
		if submitErr != nil {
			// Dropped events only lose log lines, never state.
			return
		}
	})
	return pool, sink, nil
}
