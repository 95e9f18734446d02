package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/changejournal/admin"
	"github.com/maxpert/changejournal/cfg"
	"github.com/maxpert/changejournal/commitlog"
	"github.com/maxpert/changejournal/journal"
	"github.com/maxpert/changejournal/notify"
	"github.com/maxpert/changejournal/syncjob"
	_ "github.com/maxpert/changejournal/syncjob/sink"
	"github.com/maxpert/changejournal/syncrev"
	"github.com/maxpert/changejournal/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	setupLogging()

	log.Info().Msg("Change journal sync service")
	if cfg.Config.Prometheus.Enabled {
		log.Debug().Msg("Initializing telemetry")
		telemetry.InitializeTelemetry()
	}

	hub := notify.NewHub()

	log.Info().Msg("Opening commit journal")
	commitLog, err := commitlog.Open(cfg.Config.DataDir, cfg.Config.NodeID, hub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open commit journal")
		return
	}
	defer commitLog.Close()

	cursors, closeStore, err := openCursors()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open sync revision store")
		return
	}
	defer closeStore()

	jobs, err := syncjob.NewRegistry(syncjob.RegistryConfig{
		Connect:     func() journal.Connection { return commitLog.Connect() },
		Reader:      journal.NewReader(),
		Cursors:     cursors,
		Hub:         hub,
		Tail:        commitLog.Tail,
		Defaults:    cfg.Config.Reader,
		SinkConfigs: cfg.Config.Sinks,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize sync jobs")
		return
	}
	if err := jobs.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start sync jobs")
		return
	}
	defer jobs.Stop()

	if interval := cfg.Config.Journal.CompactionIntervalSeconds; interval > 0 {
		commitLog.StartCompaction(time.Duration(interval)*time.Second, jobs.MinRevision)
	}

	if cfg.Config.Prometheus.Enabled {
		collector := telemetry.NewMetricsCollector(
			commitLog,
			cursors,
			time.Duration(cfg.Config.Prometheus.CollectIntervalSeconds)*time.Second,
		)
		collector.Start()
		defer collector.Stop()
	}

	var server *http.Server
	if cfg.Config.HTTP.Enabled {
		mux := http.NewServeMux()
		handlers := admin.NewAdminHandlers(
			commitLog,
			func() journal.Connection { return commitLog.Connect() },
			cursors,
			jobs,
			cfg.Config.Reader,
		)
		admin.RegisterRoutes(mux, handlers)
		if metrics := telemetry.GetMetricsHandler(); metrics != nil {
			mux.Handle("/metrics", metrics)
		}

		server = &http.Server{
			Addr:              net.JoinHostPort(cfg.Config.HTTP.BindAddress, strconv.Itoa(cfg.Config.HTTP.Port)),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("HTTP server failed")
			}
		}()
	}

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Str("data_dir", cfg.Config.DataDir).
		Int64("journal_head", commitLog.Head()).
		Int("sinks", len(cfg.Config.Sinks)).
		Int("http_port", cfg.Config.HTTP.Port).
		Msg("Node is operational")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
	}
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

// openCursors opens the configured sync revision store. Without a driver the
// registry has no store and every lookup yields no cursor.
func openCursors() (*syncrev.Registry, func(), error) {
	if cfg.Config.CursorStore.Driver == cfg.DriverNone {
		log.Warn().Msg("No cursor store configured, sync revisions are disabled")
		return syncrev.NewRegistry(nil), func() {}, nil
	}

	store, err := syncrev.OpenSQLStore(
		cfg.Config.CursorStore.Driver,
		cfg.CursorStoreDSN(),
		cfg.Config.CursorStore.Table,
		cfg.Config.CursorStore.BusyTimeoutMS,
	)
	if err != nil {
		return nil, nil, err
	}

	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close sync revision store")
		}
	}
	registry := syncrev.NewRegistry(store)
	loaded, err := registry.Preload()
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("failed to load sync revisions: %w", err)
	}
	log.Info().Int("cursors", loaded).Msg("Loaded sync revisions")

	return registry, closeStore, nil
}
