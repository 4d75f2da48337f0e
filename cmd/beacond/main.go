package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	p := flags.NewParser(&opts, flags.Default)

	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			fmt.Println("cli error:", err)
		}

		os.Exit(2)
	}

	appctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errg, ctx := errgroup.WithContext(appctx)

	// Initialize all components.
	logger, closeLogger := setupLogger()
	service, closeMembership := setupMembership(ctx, logger)
	closeMetrics := setupMetricsServer(errg, logger)
	closeGRPC := setupGRPCServer(ctx, errg, service, logger)

	// Components must be shut down in a particular order.
	shutdownOrder := []shutdownFunc{
		closeMembership,
		closeGRPC,
		closeMetrics,
		closeLogger,
	}

	// Block until we receive a signal or one of the servers fails.
	<-ctx.Done()
	level.Info(logger).Log("msg", "shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	for _, f := range shutdownOrder {
		if err := f(shutdownCtx); err != nil {
			level.Error(logger).Log("msg", "failed to shutdown component", "err", err)
		}
	}

	if err := errg.Wait(); err != nil {
		level.Error(logger).Log("msg", "server failed", "err", err)
		os.Exit(1)
	}
}
