package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stabilis/config"
	"stabilis/core/events"
	"stabilis/gateway/middleware"
	"stabilis/gateway/routes"
	"stabilis/native/stabilization"
	"stabilis/observability/logging"
	"stabilis/observability/metrics"
	stabotel "stabilis/observability/otel"
	"stabilis/storage"
)

// engineModule is the deterministic address that owns mint and burn rights on
// the three protocol tokens.
var engineModule = common.BytesToAddress([]byte("stabilis/engine/v1"))

const snapshotInterval = 5 * time.Minute

func main() {
	configFile := flag.String("config", "./stabilis.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("stabilisd", cfg.Environment, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := stabotel.Init(ctx, stabotel.Config{
			ServiceName: "stabilisd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("Telemetry shutdown", slog.Any("error", err))
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	engine, err := buildEngine(cfg, db, logger)
	if err != nil {
		logger.Error("Failed to build engine", slog.Any("error", err))
		os.Exit(1)
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimit{RequestsPerMinute: 600, Burst: 30})
	defer limiter.Close()
	handler := routes.New(routes.Config{
		Engine:      engine,
		Logger:      logger,
		RateLimiter: limiter,
		Metrics:     metrics.Stabilization(),
	})
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(handler, "gateway"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go snapshotLoop(ctx, engine, db, logger)

	go func() {
		logger.Info("Gateway listening", slog.String("address", cfg.ListenAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Gateway stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Gateway shutdown", slog.Any("error", err))
	}
	if err := saveSnapshot(engine, db); err != nil {
		logger.Error("Final snapshot failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("State persisted, goodbye")
}

// buildEngine restores the engine from the stored snapshot, falling back to
// the configured genesis on first start.
func buildEngine(cfg *config.Config, db storage.Database, logger *slog.Logger) (*stabilization.Controller, error) {
	params, err := cfg.Engine.Params()
	if err != nil {
		return nil, err
	}
	genesis, err := cfg.Engine.Genesis(uint64(time.Now().Unix()))
	if err != nil {
		return nil, err
	}

	emitter := &logEmitter{logger: logger}
	engine, err := stabilization.New(engineModule, params, genesis, emitter)
	if err != nil {
		return nil, err
	}

	state, err := storage.LoadSnapshot(db)
	switch {
	case errors.Is(err, storage.ErrNoSnapshot):
		logger.Info("No stored snapshot, starting from genesis")
		return engine, nil
	case err != nil:
		return nil, err
	}

	if err := engine.RestoreState(state); err != nil {
		return nil, err
	}
	logger.Info("Engine restored from snapshot", slog.Uint64("lastUpdateTime", state.LastUpdateTime))
	return engine, nil
}

func snapshotLoop(ctx context.Context, engine *stabilization.Controller, db storage.Database, logger *slog.Logger) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveSnapshot(engine, db); err != nil {
				logger.Warn("Periodic snapshot failed", slog.Any("error", err))
			}
		}
	}
}

func saveSnapshot(engine *stabilization.Controller, db storage.Database) error {
	return storage.SaveSnapshot(db, engine.ExportState())
}

// logEmitter publishes engine events as structured log lines.
type logEmitter struct {
	logger *slog.Logger
}

type flattener interface {
	Flatten() *events.Record
}

func (e *logEmitter) Emit(evt events.Event) {
	record, ok := evt.(flattener)
	if !ok {
		e.logger.Info("engine event", slog.String("type", evt.EventType()))
		return
	}
	flat := record.Flatten()
	attrs := make([]any, 0, 2*len(flat.Attributes)+2)
	attrs = append(attrs, slog.String("type", flat.Type))
	for key, value := range flat.Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	e.logger.Info("engine event", attrs...)
}
