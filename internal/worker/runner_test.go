package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"clip-dispatch/internal/domain"

	"github.com/stretchr/testify/require"
)

type executorFunc func(ctx context.Context, req *domain.TaskRequest) (*domain.TaskOutput, error)

func (f executorFunc) Execute(ctx context.Context, req *domain.TaskRequest) (*domain.TaskOutput, error) {
	return f(ctx, req)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testExecutors() map[string]domain.TaskExecutor {
	return map[string]domain.TaskExecutor{
		"echo": executorFunc(func(_ context.Context, req *domain.TaskRequest) (*domain.TaskOutput, error) {
			return &domain.TaskOutput{Message: "echoed", Data: req.Params}, nil
		}),
		"fail": executorFunc(func(context.Context, *domain.TaskRequest) (*domain.TaskOutput, error) {
			return nil, errors.New("video unavailable")
		}),
		"panic": executorFunc(func(context.Context, *domain.TaskRequest) (*domain.TaskOutput, error) {
			panic("nil map")
		}),
		"empty": executorFunc(func(context.Context, *domain.TaskRequest) (*domain.TaskOutput, error) {
			return nil, nil
		}),
	}
}

func TestRunner_Run(t *testing.T) {
	runner := NewRunner(testExecutors(), "w1", testLogger())

	tests := []struct {
		name        string
		task        string
		wantType    domain.MessageType
		wantSuccess bool
		wantMessage string
	}{
		{name: "success", task: "echo", wantType: domain.MessageTaskCompleted, wantSuccess: true, wantMessage: "echoed"},
		{name: "executor error", task: "fail", wantType: domain.MessageTaskFailed, wantMessage: "video unavailable"},
		{name: "panic", task: "panic", wantType: domain.MessageTaskFailed, wantMessage: "panic: nil map"},
		{name: "no output", task: "empty", wantType: domain.MessageTaskFailed, wantMessage: "executor returned no output"},
		{name: "unknown task", task: "transcode", wantType: domain.MessageTaskFailed, wantMessage: "unknown task: transcode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := runner.Run(context.Background(), domain.DispatchMessage{
				Task: tt.task,
				ID:   "corr-" + tt.name,
				Req:  &domain.TaskRequest{Params: map[string]string{"k": "v"}},
			})

			require.Equal(t, tt.wantType, report.Type)
			require.Equal(t, "corr-"+tt.name, report.ID)
			require.NotNil(t, report.Result)
			require.Equal(t, tt.wantSuccess, report.Result.Success)
			require.Equal(t, tt.wantMessage, report.Result.Message)
			if tt.wantSuccess {
				require.JSONEq(t, `{"k":"v"}`, string(report.Result.Data))
				require.Nil(t, report.Result.Error)
			} else {
				require.Equal(t, "Processing failed", report.Result.ErrorLabel())
			}
		})
	}
}
