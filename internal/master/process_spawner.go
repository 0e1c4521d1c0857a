package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"clip-dispatch/internal/domain"
	"clip-dispatch/internal/rpc"
	"clip-dispatch/internal/tracing"

	otelgrpc "go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	executeCallTimeout = 10 * time.Second
	outboxSize         = 4
)

// ProcessSpawnerConfig configures OS-process workers.
type ProcessSpawnerConfig struct {
	Binary       string
	SocketDir    string
	StartTimeout time.Duration
	StopGrace    time.Duration
	// ConfigPath is passed to workers so they load the same configuration.
	ConfigPath string
}

// ProcessSpawner starts each worker as a separate OS process and talks to
// it over gRPC on a per-worker unix socket.
type ProcessSpawner struct {
	cfg    ProcessSpawnerConfig
	logger *slog.Logger
}

// NewProcessSpawner creates a spawner for worker processes.
func NewProcessSpawner(cfg ProcessSpawnerConfig, logger *slog.Logger) *ProcessSpawner {
	return &ProcessSpawner{cfg: cfg, logger: logger.With("component", "process-spawner")}
}

// Spawn implements Spawner.
func (s *ProcessSpawner) Spawn(ctx context.Context, id string, events WorkerEvents) (WorkerProcess, error) {
	dir, err := filepath.Abs(s.cfg.SocketDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve socket dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket dir: %w", err)
	}
	socket := filepath.Join(dir, "worker-"+id+".sock")
	_ = os.Remove(socket)

	args := []string{"--socket", socket, "--id", id}
	if s.cfg.ConfigPath != "" {
		args = append(args, "--config", s.cfg.ConfigPath)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(s.cfg.Binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}

	conn, err := grpc.NewClient("unix://"+socket,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  100 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   time.Second,
			},
			MinConnectTimeout: time.Second,
		}),
	)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("failed to create worker client: %w", err)
	}

	pctx, cancel := context.WithCancel(context.Background())
	p := &workerProc{
		id:     id,
		cmd:    cmd,
		socket: socket,
		conn:   conn,
		client: rpc.NewWorkerClient(conn),
		events: events,
		cfg:    s.cfg,
		logger: s.logger.With("worker_id", id, "pid", cmd.Process.Pid),
		outbox: make(chan domain.DispatchMessage, outboxSize),
		ctx:    pctx,
		cancel: cancel,
		exited: make(chan struct{}),
	}
	go p.wait()
	go p.attach()
	go p.sendLoop()
	return p, nil
}

type workerProc struct {
	id     string
	cmd    *exec.Cmd
	socket string
	conn   *grpc.ClientConn
	client rpc.WorkerClient
	events WorkerEvents
	cfg    ProcessSpawnerConfig
	logger *slog.Logger

	outbox chan domain.DispatchMessage
	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}

	terminateOnce sync.Once
}

func (p *workerProc) Pid() int {
	return p.cmd.Process.Pid
}

func (p *workerProc) Send(msg domain.DispatchMessage) error {
	if p.ctx.Err() != nil {
		return errWorkerGone
	}
	select {
	case p.outbox <- msg:
		return nil
	default:
		return errors.New("worker outbox is full")
	}
}

// Terminate sends SIGTERM and kills the process if it is still alive after
// the stop grace period.
func (p *workerProc) Terminate() {
	p.terminateOnce.Do(func() {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			p.kill()
			return
		}
		go func() {
			select {
			case <-p.exited:
			case <-time.After(p.cfg.StopGrace):
				p.logger.Warn("worker did not stop in time, killing it")
				p.kill()
			}
		}()
	})
}

func (p *workerProc) kill() {
	_ = p.cmd.Process.Kill()
}

// wait is the only source of WorkerExited for this worker.
func (p *workerProc) wait() {
	err := p.cmd.Wait()
	close(p.exited)
	p.cancel()
	_ = p.conn.Close()
	_ = os.Remove(p.socket)
	p.logger.Info("worker process exited", "error", err)
	p.events.WorkerExited(p.id, err)
}

// attach opens the report stream, waits for the ready message and then
// forwards reports until the stream breaks. A worker that cannot be reached
// is killed so that its exit is observed.
func (p *workerProc) attach() {
	startTimer := time.AfterFunc(p.cfg.StartTimeout, func() {
		p.logger.Error("worker did not become ready in time", "timeout", p.cfg.StartTimeout.String())
		p.kill()
	})
	defer startTimer.Stop()

	stream, err := p.client.Reports(p.ctx, grpc.WaitForReady(true))
	if err != nil {
		p.streamBroken(err)
		return
	}

	ready := false
	for {
		in, err := stream.Recv()
		if err != nil {
			p.streamBroken(err)
			return
		}
		msg, err := rpc.DecodeReport(in)
		if err != nil {
			p.logger.Warn("discarding malformed worker message", "error", err)
			continue
		}
		if msg.Type == domain.MessageWorkerReady {
			if !ready {
				ready = true
				startTimer.Stop()
				p.events.WorkerReady(p.id)
			}
			continue
		}
		p.events.WorkerReport(p.id, msg)
	}
}

func (p *workerProc) streamBroken(err error) {
	if p.ctx.Err() != nil {
		return
	}
	p.logger.Error("lost report stream from worker", "error", err)
	p.kill()
}

func (p *workerProc) sendLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg := <-p.outbox:
			in, err := rpc.EncodeDispatch(msg)
			if err != nil {
				p.logger.Error("failed to encode dispatch message", "correlation_id", msg.ID, "error", err)
				p.kill()
				return
			}
			ctx, cancel := context.WithTimeout(tracing.Extract(p.ctx, msg.Trace), executeCallTimeout)
			_, err = p.client.Execute(ctx, in, grpc.WaitForReady(true))
			cancel()
			if err != nil {
				p.logger.Error("failed to deliver task to worker", "correlation_id", msg.ID, "error", err)
				p.kill()
				return
			}
		}
	}
}
