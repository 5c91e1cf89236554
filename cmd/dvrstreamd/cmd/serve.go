package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmylchreest/dvrstreamd/internal/config"
	dvrhttp "github.com/jmylchreest/dvrstreamd/internal/http"
	"github.com/jmylchreest/dvrstreamd/internal/http/handlers"
	"github.com/jmylchreest/dvrstreamd/internal/metrics"
	"github.com/jmylchreest/dvrstreamd/internal/procstats"
	"github.com/jmylchreest/dvrstreamd/internal/version"
	"github.com/jmylchreest/dvrstreamd/pkg/httpclient"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/dvrstreamd/internal/dvrclient"
)

const defaultStreamID = "default"

var serveCmd = &cobra.Command{
	Use:   "serve <url>",
	Short: "Open a DVR stream and serve its debug/inspection API",
	Long: `serve opens the given MPEG-TS resource, relays it into the ring
buffer, and exposes a debug/inspection HTTP API (health, stream snapshot,
and optionally Prometheus metrics) until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	url := args[0]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cbManager := httpclient.NewCircuitBreakerManager(&httpclient.CircuitBreakerConfig{
		Global: httpclient.DefaultProfileConfig(),
		Profiles: map[string]httpclient.CircuitBreakerProfileConfig{
			"dvr_initial": {
				FailureThreshold: cfg.DVR.CircuitBreakerThreshold,
				ResetTimeout:     cfg.DVR.CircuitBreakerTimeout.Duration(),
				HalfOpenMax:      httpclient.DefaultCircuitHalfOpenMax,
			},
		},
	})
	factory := httpclient.NewClientFactory(cbManager).WithLogger(logger)
	streamClient := factory.CreateClientForService("dvr_initial").StandardClient()

	logger.Info("opening stream", slog.String("url", url))
	stream, err := dvrclient.Open(ctx, url, dvrclient.Options{
		BufferCapacity: int(cfg.DVR.BufferCapacity.Int64()),
		ReadMinCount:   int(cfg.DVR.ReadMinCount.Int64()),
		UserAgent:      cfg.DVR.UserAgent,
		HTTPClient:     streamClient,
	})
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer stream.Close()

	registry := handlers.NewStreamRegistry()
	registry.Register(defaultStreamID, stream)
	defer registry.Unregister(defaultStreamID)

	var sampler *metrics.Sampler
	if cfg.Metrics.Enabled {
		sampler = metrics.NewSampler(registry)
		go sampler.Run(ctx, 5*time.Second)
	}

	var stats *procstats.Sampler
	if cfg.Procstat.Enabled {
		stats = procstats.New(logger)
		if err := stats.Start(cfg.Procstat.Cron); err != nil {
			return fmt.Errorf("starting process stats sampler: %w", err)
		}
		defer stats.Stop(context.Background())
	}

	srv := dvrhttp.NewServer(dvrhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger, version.Short())

	healthHandler := handlers.NewHealthHandler(version.Short(), registry).WithCircuitBreakerManager(cbManager)
	healthHandler.Register(srv.API())

	if cfg.HTTPAPI.Enabled {
		streamsHandler := handlers.NewStreamsHandler(registry)
		streamsHandler.Register(srv.API())

		docsHandler := handlers.NewDocsHandler("dvrstreamd API", "/openapi.json")
		srv.Router().Get("/docs", docsHandler.ServeHTTP)
	}

	if cfg.Metrics.Enabled {
		srv.Router().Handle(cfg.Metrics.Path, metrics.Handler())
	}

	go pumpStream(ctx, stream, int(cfg.DVR.ReadMinCount.Int64()), logger)

	logger.Info("serving", slog.String("address", cfg.Server.Address()))
	return srv.ListenAndServe(ctx)
}

// pumpStream continuously drains the stream into a discard buffer so the
// ring buffer's producer keeps making progress even though nothing else
// reads from the stream directly; the debug API only ever observes it
// through Stream.Stats()/BufferOccupancy() snapshots.
func pumpStream(ctx context.Context, stream *dvrclient.Stream, readSize int, logger *slog.Logger) {
	if readSize <= 0 {
		readSize = 4 << 10
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := stream.Discard(readSize); err != nil {
			logger.Error("stream read failed", slog.Any("error", err))
			return
		}
	}
}
