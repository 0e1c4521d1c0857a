// internal/worker/server.go
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"clip-dispatch/internal/domain"
	"clip-dispatch/internal/rpc"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server implements rpc.WorkerServer for a worker process.
type Server struct {
	runner   *Runner
	workerID string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	reports    chan domain.ReportMessage
	attached   atomic.Bool
	attachedCh chan struct{}
	detached   chan struct{}
	once       sync.Once
}

// NewServer creates a new gRPC server for the worker.
func NewServer(runner *Runner, workerID string, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		runner:     runner,
		workerID:   workerID,
		logger:     logger.With("component", "grpc-server", "worker_id", workerID),
		ctx:        ctx,
		cancel:     cancel,
		reports:    make(chan domain.ReportMessage, 4),
		attachedCh: make(chan struct{}),
		detached:   make(chan struct{}),
	}
}

// Execute is the RPC method called by the master to run a task. The task
// runs in the background and its result is sent on the Reports stream.
func (s *Server) Execute(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	msg, err := rpc.DecodeDispatch(in)
	if err != nil {
		s.logger.Error("failed to decode dispatch message", "error", err)
		return nil, status.Errorf(codes.InvalidArgument, "invalid dispatch message: %v", err)
	}

	s.logger.Info("received task", "task", msg.Task, "correlation_id", msg.ID)
	go s.run(msg)

	return &emptypb.Empty{}, nil
}

func (s *Server) run(msg domain.DispatchMessage) {
	report := s.runner.Run(s.ctx, msg)
	select {
	case s.reports <- report:
	case <-s.ctx.Done():
		s.logger.Warn("dropping report, worker is stopping", "correlation_id", msg.ID)
	}
}

// Reports announces readiness and then forwards task reports to the
// master. Only one stream may be attached; when it ends the worker is
// considered orphaned.
func (s *Server) Reports(_ *emptypb.Empty, stream rpc.ReportsServerStream) error {
	if !s.attached.CompareAndSwap(false, true) {
		return status.Error(codes.AlreadyExists, "report stream already attached")
	}
	close(s.attachedCh)
	defer s.once.Do(func() { close(s.detached) })

	ready, err := rpc.EncodeReport(domain.ReportMessage{Type: domain.MessageWorkerReady})
	if err != nil {
		return status.Errorf(codes.Internal, "encode ready message: %v", err)
	}
	if err := stream.Send(ready); err != nil {
		return err
	}
	s.logger.Info("master attached, worker ready")

	for {
		select {
		case <-stream.Context().Done():
			s.logger.Warn("master detached")
			return nil
		case <-s.ctx.Done():
			return nil
		case report := <-s.reports:
			out, err := rpc.EncodeReport(report)
			if err != nil {
				s.logger.Error("failed to encode report", "correlation_id", report.ID, "error", err)
				return status.Errorf(codes.Internal, "encode report: %v", err)
			}
			if err := stream.Send(out); err != nil {
				s.logger.Error("failed to send report", "correlation_id", report.ID, "error", err)
				return err
			}
		}
	}
}

// Attached is closed when the master opens its report stream.
func (s *Server) Attached() <-chan struct{} {
	return s.attachedCh
}

// Detached is closed when the master's report stream ends.
func (s *Server) Detached() <-chan struct{} {
	return s.detached
}

// Stop cancels running tasks and ends the report stream.
func (s *Server) Stop() {
	s.cancel()
}
