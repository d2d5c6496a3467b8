// Standalone simulated measurement agent for demos and local development.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benchlab/fcdiag/pkg/logger"
	"github.com/benchlab/fcdiag/pkg/simagent"
)

func main() {
	var (
		listen   = flag.String("listen", ":8077", "address to serve the agent API on")
		devices  = flag.Int("devices", 3, "simulated devices per session")
		tick     = flag.Duration("tick", 100*time.Millisecond, "snapshot emission interval")
		logLevel = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log, err := logger.New(logger.Config{Level: *logLevel})
	if err != nil {
		os.Stderr.WriteString("invalid log level: " + err.Error() + "\n")
		os.Exit(1)
	}

	agent := simagent.NewServer(log,
		simagent.WithDeviceCount(*devices),
		simagent.WithTick(*tick),
	)

	srv := &http.Server{
		Addr:              *listen,
		Handler:           agent.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		agent.Shutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Server shutdown failed")
		}
	}()

	log.Info().
		Str("listen", *listen).
		Int("devices", *devices).
		Msg("Simulated agent listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Agent server failed")
	}
}
