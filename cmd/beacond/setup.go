package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/maxpoletaev/beacon/cluster"
	"github.com/maxpoletaev/beacon/internal/telemetry"
	"github.com/maxpoletaev/beacon/mcast"
)

const healthCheckInterval = time.Second

type shutdownFunc func(ctx context.Context) error

var noopShutdown = func(ctx context.Context) error { return nil }

func setupLogger() (kitlog.Logger, shutdownFunc) {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)

	if !opts.Verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	return logger, noopShutdown
}

func setupMembership(ctx context.Context, logger kitlog.Logger) (*cluster.Service, shutdownFunc) {
	conf := mcast.DefaultConfig()
	conf.Group = opts.Multicast.Group
	conf.Port = opts.Multicast.Port
	conf.BindAddr = opts.Multicast.BindAddr
	conf.TTL = opts.Multicast.TTL
	conf.Loopback = !opts.Multicast.NoLoopback
	conf.Frequency = time.Millisecond * time.Duration(opts.Multicast.Frequency)
	conf.DropTime = time.Millisecond * time.Duration(opts.Multicast.DropTime)
	conf.DomainFilter = opts.Multicast.DomainFilter
	conf.RecoveryEnabled = !opts.Multicast.NoRecovery
	conf.RecoveryCounter = opts.Multicast.RecoveryCounter
	conf.RecoverySleep = time.Millisecond * time.Duration(opts.Multicast.RecoverySleep)
	conf.Workers = opts.Multicast.Workers
	conf.Logger = logger

	identity := cluster.StaticIdentity{
		Host:       opts.Node.Host,
		Port:       opts.Node.Port,
		SecurePort: opts.Node.SecurePort,
		UDPPort:    opts.Node.UDPPort,
		Payload:    []byte(opts.Node.Payload),
		Domain:     []byte(opts.Node.Domain),
	}

	service, err := cluster.New(conf, identity)
	if err != nil {
		panic(fmt.Sprintf("failed to create membership service: %v", err))
	}

	events := &eventLogger{logger: logger}
	service.SetMembershipListener(events)
	service.SetMessageListener(events)

	if err := service.Start(ctx, mcast.Both); err != nil {
		panic(fmt.Sprintf("failed to start membership service: %v", err))
	}

	level.Info(logger).Log("msg", "joined multicast group", "local", service.Local(), "members", len(service.Members()))

	shutdown := func(ctx context.Context) error {
		logger.Log("msg", "leaving cluster")

		if err := service.Stop(mcast.Both); err != nil {
			return fmt.Errorf("failed to leave cluster: %w", err)
		}

		return nil
	}

	return service, shutdown
}

func setupMetricsServer(errg *errgroup.Group, logger kitlog.Logger) shutdownFunc {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())

	server := &http.Server{
		Addr:              opts.Metrics.BindAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errg.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}

		return nil
	})

	shutdown := func(ctx context.Context) error {
		logger.Log("msg", "shutting down metrics server")

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown metrics server: %w", err)
		}

		return nil
	}

	return shutdown
}

// setupGRPCServer exposes the standard grpc health service. The node is
// reported as serving while both halves of the membership service are running.
func setupGRPCServer(ctx context.Context, errg *errgroup.Group, service *cluster.Service, logger kitlog.Logger) shutdownFunc {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	listener, err := net.Listen("tcp", opts.GRPC.BindAddr)
	if err != nil {
		panic(fmt.Sprintf("failed to create GRPC listener: %v", err))
	}

	errg.Go(func() error {
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("failed to start GRPC server: %w", err)
		}

		return nil
	})

	errg.Go(func() error {
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()

		for {
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if service.Running() == mcast.Both {
				status = healthpb.HealthCheckResponse_SERVING
			}

			healthServer.SetServingStatus("", status)

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	shutdown := func(ctx context.Context) error {
		logger.Log("msg", "shutting down GRPC server")
		healthServer.Shutdown()
		grpcServer.GracefulStop()

		return nil
	}

	return shutdown
}
