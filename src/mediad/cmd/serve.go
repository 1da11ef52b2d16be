package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/twivo/twivo-media/src/mediad/cmd/utils"
	"github.com/twivo/twivo-media/src/pkg/auth"
	"github.com/twivo/twivo-media/src/pkg/events"
	"github.com/twivo/twivo-media/src/pkg/frontend"
	"github.com/twivo/twivo-media/src/pkg/images"
	"github.com/twivo/twivo-media/src/pkg/images/storage"
	"github.com/twivo/twivo-media/src/pkg/metrics"
	"github.com/twivo/twivo-media/src/pkg/ratelimit"
	"github.com/twivo/twivo-media/src/pkg/settings"
	"github.com/twivo/twivo-media/src/pkg/telemetry"
	"github.com/twivo/twivo-media/src/pkg/upload"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const docsPath = "/docs/"

func openBackend(config settings.StorageConfig) (storage.Backend, error) {
	switch config.Driver {
	case settings.DriverS3:
		indexDir := config.IndexDir
		if indexDir == "" {
			indexDir = filepath.Join(config.Root, storage.IndexDirName)
		}
		return storage.NewS3Backend(config.S3, indexDir)
	default:
		return storage.NewLocalFilesystemBackend(config.Root)
	}
}

func pingRedis(ctx context.Context, client *redis.Client, publisher *events.Publisher) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis is unreachable, requests will not be rate limited until it recovers", "addr", client.Options().Addr, "error", err)
		_ = publisher.PublishError("redis unreachable at startup", client.Options().Addr)
		return
	}
	slog.Info("Connected to redis", "addr", client.Options().Addr)
}

func listen(address string) (net.Listener, error) {
	lis, lisErr := net.Listen("tcp", address)
	if lisErr != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, lisErr)
	}
	return lis, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the media upload service",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, configPathErr := cmd.Flags().GetString("config")
		if configPathErr != nil {
			return fmt.Errorf("failed to get config: %w", configPathErr)
		}

		config, configErr := settings.Load(configPath, cmd.Flags())
		if configErr != nil {
			return configErr
		}
		slog.Debug("Read config", "config", config)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		publicKey, keyErr := auth.LoadPublicKey(config.Auth.PublicKeyPath)
		if keyErr != nil {
			return fmt.Errorf("cannot start without a public key: %w", keyErr)
		}
		verifier, verifierErr := auth.NewVerifier(publicKey,
			auth.WithIssuer(config.Auth.Issuer),
			auth.WithAudience(config.Auth.Audience),
			auth.WithLogger(slog.Default()),
		)
		if verifierErr != nil {
			return verifierErr
		}

		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m := metrics.MustNewMetrics(registry)

		publisher := events.NewEventPublisher(ctx, config.Telemetry.EventBuffer, events.LogSink{Logger: slog.Default()}, m)

		shutdownTracing, tracingErr := telemetry.SetupTracing(ctx, config.Telemetry.OTLPEndpoint, slog.Default())
		if tracingErr != nil {
			return fmt.Errorf("failed to set up tracing: %w", tracingErr)
		}

		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				slog.Warn("Failed to close redis client", "error", err)
			}
		}()
		pingRedis(ctx, redisClient, publisher)

		limiter := ratelimit.New(redisClient,
			ratelimit.WithKeyPrefix(config.Redis.KeyPrefix),
			ratelimit.WithLimit(config.Redis.Limit, config.Redis.Window),
			ratelimit.WithLogger(slog.Default()),
			ratelimit.OnStoreError(func(error) { m.IncRateLimitStoreError() }),
		)

		backend, backendErr := openBackend(config.Storage)
		if backendErr != nil {
			return fmt.Errorf("failed to open storage: %w", backendErr)
		}
		defer func() {
			if err := backend.Close(); err != nil {
				slog.Error("Failed to close storage", "error", err)
			}
		}()

		processor := upload.NewProcessor(
			images.NewNormalizer(config.Upload.MaxDimension, config.Upload.Quality),
			backend,
			config.Upload.MaxConcurrent,
			m,
		)
		uploads := upload.NewHandler(upload.Config{
			Limiter:     limiter,
			Verifier:    verifier,
			Pipeline:    processor,
			Publisher:   publisher,
			Metrics:     m,
			TokenHeader: config.Auth.Header,
			MaxBytes:    config.Upload.MaxBytes(),
			ChunkSize:   int(config.Upload.ChunkBytes()),
			Logger:      slog.Default(),
		})

		gateway := runtime.NewServeMux()
		if err := uploads.Register(gateway); err != nil {
			return fmt.Errorf("failed to register upload routes: %w", err)
		}
		catalogue, catalogueErr := images.CreateHandler(backend, uploads)
		if catalogueErr != nil {
			return catalogueErr
		}
		if err := catalogue.Register(gateway, utils.PathPrefix); err != nil {
			return fmt.Errorf("failed to register image routes: %w", err)
		}

		spec, specErr := utils.GenerateOpenAPISpecs()
		if specErr != nil {
			return specErr
		}

		mux := http.NewServeMux()
		mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
			uploads.Hello(w, r, nil)
		})
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.Handle(docsPath, frontend.Handler(docsPath, []byte(spec)))
		mux.Handle("/", gateway)

		server := &http.Server{
			Addr:              config.Server.Listen,
			Handler:           mux,
			ReadHeaderTimeout: config.Server.ReadHeaderTimeout,
		}

		healthServer := health.NewServer()
		grpcServer := grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)

		httpLis, httpLisErr := listen(config.Server.Listen)
		if httpLisErr != nil {
			return httpLisErr
		}
		healthLis, healthLisErr := listen(config.Server.HealthListen)
		if healthLisErr != nil {
			return errors.Join(healthLisErr, httpLis.Close())
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			slog.Info("Serving uploads", "address", httpLis.Addr().String(), "max_size", config.Upload.HumanMaxSize())
			if err := server.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			slog.Info("Serving health checks", "address", healthLis.Addr().String())
			if err := grpcServer.Serve(healthLis); err != nil {
				return fmt.Errorf("failed to serve health checks: %w", err)
			}
			return nil
		})
		if config.Auth.WatchPublicKey {
			g.Go(func() error {
				return verifier.Watch(gctx, config.Auth.PublicKeyPath)
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			healthServer.Shutdown()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
			defer cancel()

			var errs []error
			if err := server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
			}
			grpcServer.GracefulStop()
			if err := shutdownTracing(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("failed to flush traces: %w", err))
			}
			return errors.Join(errs...)
		})

		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

		err := g.Wait()
		stop()
		<-publisher.Done()
		if dropped := publisher.Dropped(); dropped > 0 {
			slog.Warn("Events were dropped", "count", dropped)
		}
		slog.Info("Media service stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.StringP("config", "c", "", "Path to the YAML config file")
	flags.String("listen", ":8080", "HTTP listen address")
	flags.String("health-listen", ":9090", "gRPC health check listen address")
	flags.String("public-key", "keys/public.pem", "Path to the Ed25519 public key verifying backend tokens")
	flags.String("redis-addr", "localhost:6379", "Redis address for rate limiting")
	flags.String("storage-driver", settings.DriverFilesystem, "Storage driver: filesystem or s3")
	flags.String("storage-root", "data", "Root directory for stored images and the index")
	flags.String("otlp-endpoint", "", "OTLP/HTTP trace collector, empty disables tracing")
	flags.String("max-upload-size", "10MiB", "Largest accepted upload")
}
