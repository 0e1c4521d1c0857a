// cmd/worker/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clip-dispatch/internal/config"
	"clip-dispatch/internal/rpc"
	"clip-dispatch/internal/tracing"
	"clip-dispatch/internal/worker"

	"github.com/spf13/cobra"
	otelgrpc "go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

var (
	configPath string
	socketPath string
	workerID   string
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Clip extraction worker, spawned and supervised by the master",
	RunE:  runFunc,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the config file")
	rootCmd.Flags().StringVar(&socketPath, "socket", "", "unix socket to serve the worker API on")
	rootCmd.Flags().StringVar(&workerID, "id", "", "worker id assigned by the master")
	_ = rootCmd.MarkFlagRequired("socket")
	_ = rootCmd.MarkFlagRequired("id")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "worker failed: %v\n", err)
		os.Exit(1)
	}
}

func runFunc(*cobra.Command, []string) error {
	// 1. Init logger, config, etc.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("worker_id", workerID, "pid", os.Getpid())
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("clip-dispatch-worker", os.Stdout)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Starting worker %s, listening on %s", workerID, socketPath)

	// 2. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	// 4. Instantiate executors
	executors, err := worker.NewExecutors(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create executors: %v", err)
	}

	// 5. Instantiate and start the gRPC server
	_ = os.Remove(socketPath)
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		log.Fatalf("Failed to listen for gRPC: %v", err)
	}
	defer os.Remove(socketPath)

	workerServer := worker.NewServer(worker.NewRunner(executors, workerID, logger), workerID, logger)
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	rpc.RegisterWorkerServer(grpcServer, workerServer)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server failed", "error", err)
			cancel()
		}
	}()

	// 6. Block until shutdown signal or until the master goes away
	attachTimer := time.NewTimer(2 * cfg.WorkerStartTimeout)
	defer attachTimer.Stop()
	select {
	case <-rootCtx.Done():
	case <-workerServer.Attached():
		select {
		case <-rootCtx.Done():
		case <-workerServer.Detached():
			log.Println("Master detached, exiting.")
		}
	case <-attachTimer.C:
		log.Println("Master never attached, exiting.")
	}
	log.Println("Shutting down worker gracefully...")

	workerServer.Stop()
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.WorkerStopGrace):
		grpcServer.Stop()
	}

	log.Println("Worker shut down.")
	return nil
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
