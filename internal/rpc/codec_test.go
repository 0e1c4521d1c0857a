package rpc

import (
	"encoding/json"
	"testing"

	"clip-dispatch/internal/domain"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestDispatchCodec(t *testing.T) {
	msg := domain.DispatchMessage{
		Task: domain.TaskExtractClip,
		ID:   "corr-1",
		Req: &domain.TaskRequest{
			Body:   json.RawMessage(`{"youtubeUrl":"https://youtu.be/dQw4w9WgXcQ","startTime":1.5,"endTime":10}`),
			Method: "POST",
			URL:    "/api/extract-clip",
		},
		Trace: map[string]string{"traceparent": "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"},
	}

	wire, err := EncodeDispatch(msg)
	require.NoError(t, err)
	require.Equal(t, "corr-1", wire.Fields["id"].GetStringValue())

	got, err := DecodeDispatch(wire)
	require.NoError(t, err)
	require.Equal(t, msg.Task, got.Task)
	require.Equal(t, msg.ID, got.ID)
	require.Equal(t, msg.Trace, got.Trace)
	require.Equal(t, msg.Req.Method, got.Req.Method)
	require.JSONEq(t, string(msg.Req.Body), string(got.Req.Body))
}

func TestDecodeDispatch_RequiresIdentity(t *testing.T) {
	wire, err := structpb.NewStruct(map[string]any{"task": "extract-clip"})
	require.NoError(t, err)
	_, err = DecodeDispatch(wire)
	require.Error(t, err)

	_, err = DecodeDispatch(nil)
	require.Error(t, err)
}

func TestReportCodec(t *testing.T) {
	res := domain.FailureResult(domain.OutcomeExecutorFailure, "Processing failed", "ffmpeg failed")
	wire, err := EncodeReport(domain.ReportMessage{Type: domain.MessageTaskFailed, ID: "corr-2", Result: &res})
	require.NoError(t, err)

	got, err := DecodeReport(wire)
	require.NoError(t, err)
	require.Equal(t, domain.MessageTaskFailed, got.Type)
	require.True(t, got.IsTerminal())
	require.False(t, got.Result.Success)
	require.Equal(t, "Processing failed", got.Result.ErrorLabel())
	require.Equal(t, "ffmpeg failed", got.Result.Message)

	_, err = DecodeReport(&structpb.Struct{})
	require.Error(t, err)
}
