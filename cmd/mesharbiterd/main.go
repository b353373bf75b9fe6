package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arbormesh/mesharbiter/admin"
	"github.com/arbormesh/mesharbiter/aide"
	"github.com/arbormesh/mesharbiter/arbiter"
	"github.com/arbormesh/mesharbiter/cfg"
	"github.com/arbormesh/mesharbiter/mailbox"
	"github.com/arbormesh/mesharbiter/telemetry"
	"github.com/arbormesh/mesharbiter/wire"
)

func main() {
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("hsid", cfg.Config.HsId).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Mesh Failure Arbiter starting")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	oracle, err := initializeAide()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize mesh aide")
		return
	}
	defer oracle.Close()

	mb, err := initializeMailbox()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize mailbox")
		return
	}
	defer mb.Close()

	driver := arbiter.New(
		cfg.Config.HsId,
		mb,
		oracle,
		time.Duration(cfg.Config.Arbiter.ReceiveTickMS)*time.Millisecond,
		time.Duration(cfg.Config.Arbiter.StallAfterMS)*time.Millisecond,
		time.Duration(cfg.Config.Arbiter.StallEveryMS)*time.Millisecond,
		cfg.Config.Arbiter.DedupCacheSize,
	)

	collector := telemetry.NewMetricsCollector(driver, 5*time.Second)
	collector.Start()
	defer collector.Stop()

	adminServer := startAdminServer(driver)

	log.Info().
		Uint64("hsid", cfg.Config.HsId).
		Int("peers", len(cfg.Config.Mesh.PeerHsIds)).
		Msg("Mesh Failure Arbiter is operational")

	ctx, cancel := context.WithCancel(context.Background())
	go signalWatcher(cancel)

	runFaultLoop(ctx, mb, driver)

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = adminServer.Shutdown(shutdownCtx)
}

func signalWatcher(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("received shutdown signal")
	cancel()
}

// runFaultLoop blocks on the FAILURE subject and feeds each fault through
// reconfigureOnFault, one round at a time. The loop owns mesh membership as
// a snapshot of the static config; membership changes require a restart.
func runFaultLoop(ctx context.Context, mb mailbox.Mailbox, driver *arbiter.Driver) {
	hsIds := cfg.HsIdSet()

	for {
		if ctx.Err() != nil {
			return
		}

		env, ok := mb.RecvBlocking([]wire.Subject{wire.Failure}, 50*time.Millisecond, 500*time.Millisecond)
		if !ok {
			continue
		}

		fm, err := wire.DecodeFaultMessage(env.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("arbiter: dropping malformed FaultMessage off the wire")
			continue
		}

		start := time.Now()
		result, err := driver.ReconfigureOnFault(ctx, hsIds, fm)
		telemetry.RoundDurationSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			var invariant *arbiter.InvariantViolationError
			if errors.As(err, &invariant) {
				telemetry.RoundsTotal.With("error").Inc()
				log.Fatal().Err(err).Msg("arbiter: invariant violated, crashing this site")
			}
			log.Error().Err(err).Msg("arbiter: round failed")
			telemetry.RoundsTotal.With("error").Inc()
			continue
		}

		switch {
		case len(result) == 0:
			telemetry.RoundsTotal.With("empty").Inc()
		default:
			telemetry.RoundsTotal.With("decided").Inc()
			log.Info().Interface("decision", result).Msg("arbiter: round resolved a kill set")
		}
	}
}

func initializeAide() (aide.MeshAide, error) {
	return aide.NewEtcdAide(
		cfg.Config.MeshAide.EtcdEndpoints,
		time.Duration(cfg.Config.MeshAide.DialTimeoutMS)*time.Millisecond,
		time.Duration(cfg.Config.MeshAide.RequestTimeout)*time.Millisecond,
		cfg.Config.MeshAide.KeyPrefix,
		cfg.Config.MeshAide.CacheFile,
	)
}

func initializeMailbox() (mailbox.Mailbox, error) {
	return mailbox.NewNatsMailbox(
		cfg.Config.HsId,
		cfg.Config.Mailbox.NATSUrls,
		time.Duration(cfg.Config.Mailbox.ConnectTimeout)*time.Millisecond,
		time.Duration(cfg.Config.Mailbox.ReconnectWait)*time.Millisecond,
		cfg.Config.Mailbox.MaxReconnects,
	)
}

// startAdminServer mounts the admin mesh-status API and, if enabled, the
// Prometheus scrape endpoint, on a single HTTP server.
func startAdminServer(driver *arbiter.Driver) *http.Server {
	mux := http.NewServeMux()

	handlers := admin.NewAdminHandlers(driver)
	admin.RegisterRoutes(mux, handlers)

	if metricsHandler := telemetry.GetMetricsHandler(); metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	server := &http.Server{
		Addr:    cfg.Config.Admin.BindAddress,
		Handler: mux,
	}

	go func() {
		log.Info().Str("address", cfg.Config.Admin.BindAddress).Msg("admin HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin HTTP server failed")
		}
	}()

	return server
}
