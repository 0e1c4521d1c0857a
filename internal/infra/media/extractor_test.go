package media

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clip-dispatch/internal/domain"

	"github.com/stretchr/testify/require"
)

type recordedCommand struct {
	name string
	args []string
}

// fakeTools stands in for yt-dlp and ffmpeg.
type fakeTools struct {
	streamURLs string
	ytDlpErr   error
	ffmpegErr  error
	calls      []recordedCommand
}

func (f *fakeTools) run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, recordedCommand{name: name, args: args})
	switch name {
	case "yt-dlp":
		if f.ytDlpErr != nil {
			return "", f.ytDlpErr
		}
		return f.streamURLs, nil
	case "ffmpeg":
		if f.ffmpegErr != nil {
			return "", f.ffmpegErr
		}
		return "", os.WriteFile(args[len(args)-1], make([]byte, 3*1024*1024), 0o644)
	}
	return "", errors.New("unexpected command " + name)
}

func newTestExecutor(t *testing.T, tools *fakeTools) (*clipExecutor, string) {
	t.Helper()
	dir := t.TempDir()
	exec, err := NewClipExecutor(ClipConfig{
		TempDir:    dir,
		YtDlpPath:  "yt-dlp",
		FfmpegPath: "ffmpeg",
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	e := exec.(*clipExecutor)
	e.run = tools.run
	e.ready = true
	e.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return e, dir
}

func clipTask(t *testing.T, url string, start, end float64) *domain.TaskRequest {
	t.Helper()
	body, err := json.Marshal(domain.ClipRequest{YoutubeURL: url, StartTime: start, EndTime: end})
	require.NoError(t, err)
	return &domain.TaskRequest{Body: body}
}

func TestClipExecutor_SeparateStreams(t *testing.T) {
	tools := &fakeTools{streamURLs: "https://video.example/v\nhttps://audio.example/a\n"}
	e, dir := newTestExecutor(t, tools)

	out, err := e.Execute(context.Background(), clipTask(t, "https://youtu.be/dQw4w9WgXcQ", 10, 25.5))
	require.NoError(t, err)
	require.Equal(t, "Clip extracted successfully", out.Message)

	res := out.Data.(*domain.ClipResult)
	require.Equal(t, "clip_1700000000000.mp4", res.FileName)
	require.Equal(t, "/api/download/clip_1700000000000.mp4", res.DownloadURL)
	require.Equal(t, "3.00 MB", res.FileSize)
	require.Equal(t, 15.5, res.Duration)
	require.Equal(t, "dQw4w9WgXcQ", res.VideoID)
	require.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", res.NormalizedURL)
	require.Equal(t, "https://youtu.be/dQw4w9WgXcQ", res.OriginalURL)
	require.FileExists(t, filepath.Join(dir, res.FileName))

	require.Len(t, tools.calls, 2)
	require.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", tools.calls[0].args[0])
	require.Contains(t, tools.calls[0].args, "--get-url")
	require.Equal(t, []string{
		"-y",
		"-ss", "10", "-i", "https://video.example/v",
		"-ss", "10", "-i", "https://audio.example/a",
		"-t", "15.5", "-c", "copy",
		"-map", "0:v:0", "-map", "1:a:0",
		filepath.Join(dir, "clip_1700000000000.mp4"),
	}, tools.calls[1].args)
}

func TestClipExecutor_MuxedStream(t *testing.T) {
	tools := &fakeTools{streamURLs: "https://muxed.example/m\n"}
	e, _ := newTestExecutor(t, tools)

	_, err := e.Execute(context.Background(), clipTask(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", 0, 5))
	require.NoError(t, err)
	args := tools.calls[1].args
	require.Equal(t, []string{"-map", "0:v:0", "-map", "0:a:0"}, args[len(args)-5:len(args)-1])
}

func TestClipExecutor_AvoidsNameCollision(t *testing.T) {
	tools := &fakeTools{streamURLs: "https://muxed.example/m"}
	e, dir := newTestExecutor(t, tools)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip_1700000000000.mp4"), []byte("taken"), 0o644))

	out, err := e.Execute(context.Background(), clipTask(t, "https://youtu.be/dQw4w9WgXcQ", 1, 2))
	require.NoError(t, err)
	require.Equal(t, "clip_1700000000001.mp4", out.Data.(*domain.ClipResult).FileName)
}

func TestClipExecutor_RemovesPartialOutput(t *testing.T) {
	tools := &fakeTools{streamURLs: "https://muxed.example/m", ffmpegErr: errors.New("ffmpeg failed: exit status 1")}
	e, dir := newTestExecutor(t, tools)

	_, err := e.Execute(context.Background(), clipTask(t, "https://youtu.be/dQw4w9WgXcQ", 1, 2))
	require.ErrorContains(t, err, "processing failed")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestClipExecutor_NoOutputWhenStreamLookupFails(t *testing.T) {
	tests := []struct {
		name  string
		tools *fakeTools
		msg   string
	}{
		{name: "yt-dlp error", tools: &fakeTools{ytDlpErr: errors.New("yt-dlp failed: exit status 1")}, msg: "yt-dlp failed"},
		{name: "no urls", tools: &fakeTools{streamURLs: "\n"}, msg: "no stream urls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, dir := newTestExecutor(t, tt.tools)

			_, err := e.Execute(context.Background(), clipTask(t, "https://youtu.be/dQw4w9WgXcQ", 1, 2))
			require.ErrorContains(t, err, "processing failed")
			require.ErrorContains(t, err, tt.msg)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Empty(t, entries)
			for _, c := range tt.tools.calls {
				require.NotEqual(t, "ffmpeg", c.name)
			}
		})
	}
}

func TestClipExecutor_RejectsInvalidInput(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeTools{})

	tests := []struct {
		name string
		req  *domain.TaskRequest
		msg  string
	}{
		{name: "no body", req: &domain.TaskRequest{}, msg: "please provide"},
		{name: "malformed", req: &domain.TaskRequest{Body: []byte(`{`)}, msg: "malformed body"},
		{name: "bad url", req: clipTask(t, "https://vimeo.com/1", 1, 2), msg: "invalid YouTube URL"},
		{name: "reversed", req: clipTask(t, "https://youtu.be/dQw4w9WgXcQ", 5, 2), msg: "startTime must be less than endTime"},
		{name: "negative", req: clipTask(t, "https://youtu.be/dQw4w9WgXcQ", -5, 2), msg: "must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Execute(context.Background(), tt.req)
			require.ErrorIs(t, err, domain.ErrInvalidClipRequest)
			require.ErrorContains(t, err, tt.msg)
		})
	}
}
