package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStderrAttr = 2048

// commandRunner runs an external tool and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

// execRunner runs commands with os/exec, tracing each invocation.
func execRunner(tracer trace.Tracer, logger *slog.Logger) commandRunner {
	return func(ctx context.Context, name string, args ...string) (string, error) {
		ctx, span := tracer.Start(ctx, "media.command",
			trace.WithAttributes(
				attribute.String("command.name", name),
				attribute.Int("command.args", len(args)),
			))
		defer span.End()

		logger.Debug("running command", "command", name, "args", strings.Join(args, " "))

		cmd := exec.CommandContext(ctx, name, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		if errOutput := stderr.String(); errOutput != "" {
			span.SetAttributes(attribute.String("command.stderr", truncate(errOutput, maxStderrAttr)))
		}
		if err != nil {
			span.SetStatus(codes.Error, "command failed")
			span.RecordError(err)
			return stdout.String(), fmt.Errorf("%s failed: %w: %s", name, err, lastLine(stderr.String()))
		}
		return stdout.String(), nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// lastLine returns the last non-empty line of tool output, which is where
// yt-dlp and ffmpeg put the actual error.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
