// Command agent hosts a telemetry agent next to a demo workload of producer
// threads and serves its status over HTTP.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Schera-ole/telemetry-agent/internal/agent"
	"github.com/Schera-ole/telemetry-agent/internal/config"
	"github.com/Schera-ole/telemetry-agent/internal/exporter"
	"github.com/Schera-ole/telemetry-agent/internal/exporter/httpexporter"
	"github.com/Schera-ole/telemetry-agent/internal/exporter/memexporter"
	"github.com/Schera-ole/telemetry-agent/internal/exporter/pgexporter"
	"github.com/Schera-ole/telemetry-agent/internal/logger"
	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	"github.com/Schera-ole/telemetry-agent/internal/statusapi"
)

const shutdownTimeout = 10 * time.Second

func main() {
	settings, err := config.NewSettings(os.Args[1:])
	if err != nil {
		log.Fatal("Failed to parse configuration: ", err)
	}
	logSugar, err := logger.New(settings.LogLevel)
	if err != nil {
		log.Fatal("Failed to create logger: ", err)
	}
	defer logSugar.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, logSugar); err != nil {
		logSugar.Fatalw("agent exited with error", "error", err)
	}
}

// buildExporters returns the in-memory exporter backing the status API and
// everything the settings enable in addition to it.
func buildExporters(ctx context.Context, settings *config.Settings, logger *zap.SugaredLogger) (*memexporter.Exporter, exporter.Multi, error) {
	mem := memexporter.New(0)
	exporters := exporter.Multi{mem}
	if settings.ExportURL != "" {
		exporters = append(exporters, httpexporter.New(httpexporter.Options{
			URL:     settings.ExportURL,
			Key:     settings.Key,
			Workers: settings.RateLimit,
			Logger:  logger.Named("http"),
		}))
	}
	if settings.DatabaseDSN != "" {
		pg, err := pgexporter.Open(ctx, settings.DatabaseDSN, logger.Named("postgres"))
		if err != nil {
			_ = exporters.Close()
			return nil, nil, err
		}
		exporters = append(exporters, pg)
	}
	return mem, exporters, nil
}

func run(ctx context.Context, settings *config.Settings, logger *zap.SugaredLogger) error {
	mem, exporters, err := buildExporters(ctx, settings, logger)
	if err != nil {
		return err
	}
	clk := clock.New()
	sampler, err := metrics.NewProcessSampler(ctx, clk, logger)
	if err != nil {
		_ = exporters.Close()
		return err
	}
	workload := newProducers(settings.Threads, clk, logger.Named("producer"))

	a := agent.New(agent.Options{
		Exporter:  exporters,
		Requester: workload,
		Sampler:   sampler,
		Clock:     clk,
		Logger:    logger,
	})
	if err := a.Start(ctx); err != nil {
		return err
	}
	logger.Infow("agent running", "id", a.ID(), "status", settings.StatusAddress, "threads", settings.Threads)

	if settings.ConfigFile != "" {
		if err := loadConfig(settings.ConfigFile, a.OnConfig); err != nil {
			logger.Warnw("initial configuration not applied", "path", settings.ConfigFile, "error", err)
		}
	}

	srv := &http.Server{
		Addr:              settings.StatusAddress,
		Handler:           statusapi.Router(a, mem, settings.Key, logger.Named("status")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return workload.Run(gctx, a.Handle())
	})
	if settings.ConfigFile != "" {
		g.Go(func() error {
			return watchConfig(gctx, settings.ConfigFile, a.OnConfig, logger)
		})
	}
	g.Go(func() error {
		select {
		case <-a.Done():
			return errors.New("agent stopped unexpectedly")
		case <-gctx.Done():
			return nil
		}
	})

	var result error
	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	logger.Info("Shutting down...")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}
