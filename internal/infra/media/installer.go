package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	downloadRetries = 3
	downloadBackoff = 2 * time.Second
)

var errRetriable = errors.New("retriable download error")

// Installer makes sure the yt-dlp binary is present, downloading it when
// missing.
type Installer struct {
	client  *http.Client
	url     string
	path    string
	backoff time.Duration
	logger  *slog.Logger
}

// NewInstaller creates an installer that places the binary downloaded from
// url at path.
func NewInstaller(url, path string, logger *slog.Logger) *Installer {
	return &Installer{
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
		url:     url,
		path:    path,
		backoff: downloadBackoff,
		logger:  logger.With("component", "ytdlp-installer"),
	}
}

// Ensure downloads the binary if it does not exist yet.
func (i *Installer) Ensure(ctx context.Context) error {
	if _, err := os.Stat(i.path); err == nil {
		return nil
	}
	if i.url == "" {
		return fmt.Errorf("yt-dlp not found at %s and no download url configured", i.path)
	}

	i.logger.Info("downloading yt-dlp binary", "url", i.url, "path", i.path)
	var lastErr error
	for attempt := 0; attempt <= downloadRetries; attempt++ {
		err := i.download(ctx)
		if err == nil {
			i.logger.Info("yt-dlp binary downloaded successfully", "path", i.path)
			return nil
		}
		lastErr = err

		var netErr net.Error
		if !errors.Is(err, errRetriable) && !(errors.As(err, &netErr) && netErr.Timeout()) {
			return fmt.Errorf("non-retriable error on attempt %d: %w", attempt+1, err)
		}
		if attempt == downloadRetries {
			break
		}
		i.logger.Warn("yt-dlp download failed, retrying", "attempt", attempt+1, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.backoff):
		}
	}
	return fmt.Errorf("yt-dlp download failed after %d retries: %w", downloadRetries, lastErr)
}

// download performs a single attempt, writing to a temp file that is
// renamed into place once complete.
func (i *Installer) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: server returned %s", errRetriable, resp.Status)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(i.path), 0o755); err != nil {
		return fmt.Errorf("failed to create bin dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(i.path), ".yt-dlp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: body read failed: %v", errRetriable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write binary: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return fmt.Errorf("failed to make binary executable: %w", err)
	}
	return os.Rename(tmp.Name(), i.path)
}
