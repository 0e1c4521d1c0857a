package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"clip-dispatch/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	formatPreference = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	userAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
	downloadPrefix   = "/api/download/"
	successMessage   = "Clip extracted successfully"
)

// ClipConfig locates the tools and directories used by the clip executor.
type ClipConfig struct {
	TempDir     string
	YtDlpPath   string
	FfmpegPath  string
	CookiesPath string
}

// clipExecutor implements domain.TaskExecutor for the extract-clip task.
type clipExecutor struct {
	cfg       ClipConfig
	installer *Installer
	run       commandRunner
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer

	mu    sync.Mutex
	ready bool
}

// NewClipExecutor creates the extract-clip executor. The temp directory is
// resolved to an absolute path so download lookups match.
func NewClipExecutor(cfg ClipConfig, installer *Installer, logger *slog.Logger) (domain.TaskExecutor, error) {
	dir, err := filepath.Abs(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve temp dir: %w", err)
	}
	cfg.TempDir = dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	logger = logger.With("executor_type", domain.TaskExtractClip)
	tracer := otel.Tracer("clip-dispatch-media")
	return &clipExecutor{
		cfg:       cfg,
		installer: installer,
		run:       execRunner(tracer, logger),
		now:       time.Now,
		logger:    logger,
		tracer:    tracer,
	}, nil
}

// Execute validates the clip request, resolves the stream URLs with yt-dlp
// and cuts the segment with ffmpeg.
func (e *clipExecutor) Execute(ctx context.Context, req *domain.TaskRequest) (*domain.TaskOutput, error) {
	if req == nil || len(req.Body) == 0 {
		return nil, fmt.Errorf("%w: please provide youtubeUrl, startTime and endTime", domain.ErrInvalidClipRequest)
	}
	var clip domain.ClipRequest
	if err := json.Unmarshal(req.Body, &clip); err != nil {
		return nil, fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidClipRequest, err)
	}

	video, err := ValidateAndNormalizeURL(clip.YoutubeURL)
	if err != nil {
		return nil, err
	}
	if clip.StartTime >= clip.EndTime {
		return nil, fmt.Errorf("%w: startTime must be less than endTime", domain.ErrInvalidClipRequest)
	}
	if clip.StartTime < 0 || clip.EndTime < 0 {
		return nil, fmt.Errorf("%w: startTime and endTime must be positive numbers", domain.ErrInvalidClipRequest)
	}

	ctx, span := e.tracer.Start(ctx, "executor.clip.Execute",
		trace.WithAttributes(
			attribute.String("clip.video_id", video.VideoID),
			attribute.Float64("clip.start", clip.StartTime),
			attribute.Float64("clip.end", clip.EndTime),
		))
	defer span.End()

	if err := e.ensureTools(ctx); err != nil {
		span.SetStatus(codes.Error, "initialization failed")
		return nil, fmt.Errorf("initialization failed: %w", err)
	}

	e.logger.Info("extracting clip",
		"original_url", clip.YoutubeURL,
		"normalized_url", video.Normalized,
		"video_id", video.VideoID,
	)

	result, err := e.extract(ctx, clip, video)
	if err != nil {
		span.SetStatus(codes.Error, "clip extraction failed")
		span.RecordError(err)
		return nil, fmt.Errorf("processing failed: %w", err)
	}

	span.SetStatus(codes.Ok, "clip extracted")
	return &domain.TaskOutput{Message: successMessage, Data: result}, nil
}

func (e *clipExecutor) extract(ctx context.Context, clip domain.ClipRequest, video VideoURL) (*domain.ClipResult, error) {
	duration := clip.EndTime - clip.StartTime
	urls, err := e.streamURLs(ctx, video.Normalized)
	if err != nil {
		return nil, err
	}

	// Reserve the output name only once there is something to cut.
	fileName, outputPath := e.outputFile()

	e.logger.Info("processing clip", "start", clip.StartTime, "end", clip.EndTime, "duration", duration, "output", outputPath)
	if _, err := e.run(ctx, e.cfg.FfmpegPath, ffmpegArgs(urls, clip.StartTime, duration, outputPath)...); err != nil {
		e.removePartial(outputPath)
		return nil, err
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		e.removePartial(outputPath)
		return nil, fmt.Errorf("file was not created successfully")
	}

	sizeMB := float64(info.Size()) / (1024 * 1024)
	e.logger.Info("clip saved", "path", outputPath, "size_mb", sizeMB)

	return &domain.ClipResult{
		DownloadURL:   downloadPrefix + fileName,
		FileName:      fileName,
		FileSize:      fmt.Sprintf("%.2f MB", sizeMB),
		Duration:      duration,
		StartTime:     clip.StartTime,
		EndTime:       clip.EndTime,
		VideoID:       video.VideoID,
		OriginalURL:   clip.YoutubeURL,
		NormalizedURL: video.Normalized,
		CreatedAt:     e.now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// streamURLs asks yt-dlp for the direct media URLs: one muxed stream, or
// video then audio.
func (e *clipExecutor) streamURLs(ctx context.Context, normalizedURL string) ([]string, error) {
	args := []string{normalizedURL}
	if e.cfg.CookiesPath != "" {
		if _, err := os.Stat(e.cfg.CookiesPath); err == nil {
			args = append(args, "--cookies", e.cfg.CookiesPath)
		}
	}
	args = append(args,
		"--extractor-args", "youtube:player_client=default",
		"--user-agent", userAgent,
		"-f", formatPreference,
		"--get-url",
		"--no-playlist",
	)

	out, err := e.run(ctx, e.cfg.YtDlpPath, args...)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			urls = append(urls, line)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("yt-dlp returned no stream urls")
	}
	return urls, nil
}

func ffmpegArgs(urls []string, start, duration float64, output string) []string {
	ss := formatSeconds(start)
	args := []string{"-y", "-ss", ss, "-i", urls[0]}
	if len(urls) > 1 {
		args = append(args, "-ss", ss, "-i", urls[1])
	}
	args = append(args,
		"-t", formatSeconds(duration),
		"-c", "copy",
		"-map", "0:v:0",
	)
	if len(urls) > 1 {
		args = append(args, "-map", "1:a:0")
	} else {
		args = append(args, "-map", "0:a:0")
	}
	return append(args, output)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// outputFile picks clip_<unixmillis>.mp4, moving forward past names already
// taken by another worker.
func (e *clipExecutor) outputFile() (string, string) {
	ms := e.now().UnixMilli()
	for {
		name := fmt.Sprintf("clip_%d.mp4", ms)
		path := filepath.Join(e.cfg.TempDir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return name, path
		}
		if !os.IsExist(err) {
			// Let ffmpeg report the real problem.
			return name, path
		}
		ms++
	}
}

func (e *clipExecutor) removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.logger.Error("failed to clean up partial file", "path", path, "error", err)
		return
	}
	e.logger.Info("cleaned up partial file", "path", path)
}

// ensureTools checks ffmpeg and installs yt-dlp once per process.
func (e *clipExecutor) ensureTools(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil
	}
	if _, err := exec.LookPath(e.cfg.FfmpegPath); err != nil {
		return fmt.Errorf("ffmpeg is required but not found: %w", err)
	}
	if e.installer != nil {
		if err := e.installer.Ensure(ctx); err != nil {
			return err
		}
	}
	e.ready = true
	return nil
}
