package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "conversation-transcriber-service/internal/api/grpc"
	"conversation-transcriber-service/internal/app"
	"conversation-transcriber-service/internal/config"
	httpapi "conversation-transcriber-service/internal/http"
	"conversation-transcriber-service/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}
	defer application.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen")
	}

	server := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(application.Metrics)),
	)

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Register application services
	grpcapi.Register(server, application.GRPCDeps(context.WithoutCancel(ctx)))

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(server)

	httpServer := observability.NewServer(":"+cfg.Service.HTTPPort, httpapi.NewRouter(application))

	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("Conversation transcriber gRPC server started")
		return server.Serve(lis)
	})
	g.Go(httpServer.Run)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		application.Ready.SetReady(false)
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			log.Warn().Msg("Graceful stop timed out, closing open streams")
			server.Stop()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		application.Shutdown()
		os.Exit(1)
	}
}
