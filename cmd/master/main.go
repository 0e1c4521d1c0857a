// cmd/master/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	http_api "clip-dispatch/internal/api/http"
	"clip-dispatch/internal/config"
	"clip-dispatch/internal/domain"
	"clip-dispatch/internal/infra/etcd"
	"clip-dispatch/internal/infra/media"
	"clip-dispatch/internal/infra/memory"
	redis_infra "clip-dispatch/internal/infra/redis"
	"clip-dispatch/internal/master"
	"clip-dispatch/internal/scheduler"
	"clip-dispatch/internal/tracing"
	"clip-dispatch/internal/usecase"
	"clip-dispatch/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const cleanupJobName = "cleanup-temp-files"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "master",
	Short: "Clip extraction API backed by a pool of worker processes",
	RunE:  runFunc,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the config file (default ./configs/config.yaml)")
}

// corsMiddleware wraps an http.Handler with CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*") // For local dev, allow all origins
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding")

		// Handle pre-flight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Call the next handler
		next.ServeHTTP(w, r)
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "master failed: %v\n", err)
		os.Exit(1)
	}
}

func runFunc(*cobra.Command, []string) error {
	// 1. Initialize logger and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("clip-dispatch-master", os.Stdout)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	// Respect container CPU quotas before sizing the pool.
	undoMaxprocs, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Info(fmt.Sprintf(format, args...))
	}))
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", "error", err)
	}
	defer undoMaxprocs()

	log.Println("Starting clip dispatch master...")

	// 2. Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 3. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	// 5. Execution history: etcd when configured, memory otherwise
	history, closeHistory, err := newHistory(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create execution history: %v", err)
	}
	defer closeHistory()

	// 6. Worker state mirror
	var mirror *master.StateMirror
	if cfg.RedisAddr != "" {
		redisClient, err := redis_infra.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 5*time.Second)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("Connected to redis.")
		stateTTL := 2*cfg.WorkerStartTimeout + cfg.TaskTimeout
		mirror = master.NewStateMirror(redis_infra.NewWorkerStateStore(redisClient, stateTTL), stateTTL/3, logger)
	}

	// 7. Worker pool
	spawner, err := newSpawner(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create worker spawner: %v", err)
	}
	opts := master.Options{
		Capacity:        cfg.PoolSize(runtime.GOMAXPROCS(0)),
		TaskTimeout:     cfg.TaskTimeout,
		RespawnDelay:    cfg.RespawnDelay,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	if mirror != nil {
		opts.Observer = mirror
	}
	dispatcher := master.NewDispatcher(spawner, opts, logger)

	// 8. Maintenance jobs
	cronScheduler := scheduler.NewCronScheduler(logger)
	err = cronScheduler.AddJob(cleanupJobName, cfg.CleanupSchedule, func(ctx context.Context) error {
		_, err := media.CleanupOldFiles(cfg.TempDir, cfg.CleanupMaxAge, logger)
		return err
	})
	if err != nil {
		log.Fatalf("Failed to schedule temp file cleanup: %v", err)
	}
	_ = cronScheduler.RunNow(cleanupJobName)

	// 9. HTTP API
	clipService := usecase.NewClipService(dispatcher, history, logger)
	clipHandler := http_api.NewClipHandler(clipService, http_api.Options{
		TempDir:             cfg.TempDir,
		DownloadDeleteDelay: cfg.DownloadDeleteDelay,
		RateLimit:           rate.Limit(cfg.RateLimitRPS),
		RateBurst:           cfg.RateLimitBurst,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	clipHandler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           corsMiddleware(mux), // Apply CORS middleware
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 10. Run everything until shutdown
	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
	if mirror != nil {
		g.Go(func() error {
			return mirror.Run(ctx)
		})
	}
	g.Go(func() error {
		return cronScheduler.Start(ctx)
	})
	g.Go(func() error {
		log.Printf("Master server running on %s (pool size %d)", cfg.HttpListenAddr, opts.Capacity)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down application gracefully...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Println("Application shut down.")
	return err
}

func newHistory(cfg *config.Config, logger *slog.Logger) (domain.ExecutionRepository, func(), error) {
	if len(cfg.EtcdEndpoints) == 0 {
		return memory.NewExecutionRepository(cfg.HistoryLimit), func() {}, nil
	}
	etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		return nil, nil, err
	}
	log.Println("Connected to etcd.")
	return etcd.NewEtcdExecutionRepository(etcdClient, cfg.HistoryRetention, logger), func() { etcdClient.Close() }, nil
}

func newSpawner(cfg *config.Config, logger *slog.Logger) (master.Spawner, error) {
	if cfg.WorkerMode == config.WorkerModeLocal {
		executors, err := worker.NewExecutors(cfg, logger)
		if err != nil {
			return nil, err
		}
		return master.NewLocalSpawner(executors, logger), nil
	}

	binary, err := cfg.ResolveWorkerBinary()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(binary); err != nil {
		return nil, fmt.Errorf("worker binary %s: %w", binary, err)
	}
	return master.NewProcessSpawner(master.ProcessSpawnerConfig{
		Binary:       binary,
		SocketDir:    cfg.WorkerSocketDir,
		StartTimeout: cfg.WorkerStartTimeout,
		StopGrace:    cfg.WorkerStopGrace,
		ConfigPath:   configPath,
	}, logger), nil
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}
