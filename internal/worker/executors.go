package worker

import (
	"fmt"
	"log/slog"

	"clip-dispatch/internal/config"
	"clip-dispatch/internal/domain"
	"clip-dispatch/internal/infra/media"
)

// NewExecutors builds the task executors a worker serves, keyed by task name.
func NewExecutors(cfg *config.Config, logger *slog.Logger) (map[string]domain.TaskExecutor, error) {
	installer := media.NewInstaller(cfg.YtDlpDownloadURL, cfg.YtDlpPath, logger)
	clip, err := media.NewClipExecutor(media.ClipConfig{
		TempDir:     cfg.TempDir,
		YtDlpPath:   cfg.YtDlpPath,
		FfmpegPath:  cfg.FfmpegPath,
		CookiesPath: cfg.CookiesPath,
	}, installer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create clip executor: %w", err)
	}

	return map[string]domain.TaskExecutor{
		domain.TaskExtractClip: clip,
	}, nil
}
