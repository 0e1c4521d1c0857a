// internal/api/http/clip_handler.go
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"clip-dispatch/internal/domain"
	"clip-dispatch/internal/infra/media"
	"clip-dispatch/internal/metrics"
	"clip-dispatch/internal/usecase"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

// ClipService is what the handler needs from the use case layer.
type ClipService interface {
	ExtractClip(ctx context.Context, req *domain.TaskRequest) (domain.Result, error)
	History(ctx context.Context, page, pageSize int) ([]*domain.ExecutionRecord, error)
	Execution(ctx context.Context, id string) (*domain.ExecutionRecord, error)
	Health(ctx context.Context) (*usecase.HealthReport, error)
}

// Options configures a ClipHandler.
type Options struct {
	TempDir             string
	DownloadDeleteDelay time.Duration
	RateLimit           rate.Limit
	RateBurst           int
}

// ClipHandler 负责处理剪辑相关的 HTTP 请求。
type ClipHandler struct {
	service  ClipService
	opts     Options
	limiter  *rate.Limiter
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewClipHandler creates a new ClipHandler and initializes the validator.
func NewClipHandler(service ClipService, opts Options, logger *slog.Logger) *ClipHandler {
	validate := validator.New()

	_ = validate.RegisterValidation("youtube", func(fl validator.FieldLevel) bool {
		return media.IsYouTubeURL(fl.Field().String())
	})

	if dir, err := filepath.Abs(opts.TempDir); err == nil {
		opts.TempDir = dir
	}

	return &ClipHandler{
		service:  service,
		opts:     opts,
		limiter:  rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		logger:   logger.With("component", "clip-handler"),
		validate: validate,
		tracer:   otel.Tracer("clip-dispatch-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers the API routes to the http.ServeMux.
func (h *ClipHandler) RegisterRoutes(mux *http.ServeMux) {
	h.handle(mux, "POST /api/extract-clip", h.handleExtractClip)
	h.handle(mux, "GET /api/download/{filename}", h.handleDownload)
	h.handle(mux, "GET /api/executions", h.handleListExecutions)
	h.handle(mux, "GET /api/executions/{id}", h.handleGetExecution)
	h.handle(mux, "GET /health", h.handleHealth)
	h.handle(mux, "/", h.handleNotFound)
}

func (h *ClipHandler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	path := pattern
	if _, p, ok := strings.Cut(pattern, " "); ok {
		path = p
	}

	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		fn.ServeHTTP(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	}))
}

// handleExtractClip handles POST /api/extract-clip
func (h *ClipHandler) handleExtractClip(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ExtractClip")
	defer span.End()

	if !h.limiter.Allow() {
		span.SetStatus(codes.Error, "rate limited")
		h.writeJSON(w, http.StatusTooManyRequests, errorEnvelope("Too many requests", "Rate limit exceeded, please retry later"))
		return
	}

	var req ExtractClipRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		h.writeJSON(w, http.StatusBadRequest, errorEnvelope("Invalid request body", err.Error()))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		h.writeJSON(w, http.StatusBadRequest, validationEnvelope(err))
		return
	}
	if *req.StartTime >= *req.EndTime {
		span.SetStatus(codes.Error, "Validation failed")
		h.writeJSON(w, http.StatusBadRequest, errorEnvelope("Validation failed", "startTime must be less than endTime"))
		return
	}

	body, err := json.Marshal(req.ToClipRequest())
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, errorEnvelope("Internal server error", err.Error()))
		return
	}
	span.SetAttributes(attribute.String("clip.url", req.YoutubeURL))

	res, err := h.service.ExtractClip(ctx, &domain.TaskRequest{
		Body:    body,
		Method:  r.Method,
		URL:     r.URL.String(),
		Query:   r.URL.Query(),
		Headers: map[string]string{"User-Agent": r.UserAgent()},
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.Canceled) {
			h.logger.Warn("client went away before the clip was ready")
			return
		}
		h.logger.Error("error extracting clip", "error", err)
		if errors.Is(err, domain.ErrDispatcherClosed) {
			h.writeJSON(w, http.StatusServiceUnavailable, errorEnvelope("Service unavailable", "dispatcher is shutting down"))
			return
		}
		h.writeJSON(w, http.StatusInternalServerError, errorEnvelope("Internal server error", err.Error()))
		return
	}

	if res.Success {
		res.Data = absolutizeDownloadURL(res.Data, baseURL(r))
	}
	h.writeJSON(w, statusForOutcome(res.Outcome), Envelope{
		Success: res.Success,
		Message: res.Message,
		Data:    res.Data,
		Error:   res.Error,
	})
}

// statusForOutcome maps a dispatcher outcome to an HTTP status code.
func statusForOutcome(o domain.Outcome) int {
	switch o {
	case domain.OutcomeSuccess:
		return http.StatusOK
	case domain.OutcomeTimeout:
		return http.StatusRequestTimeout
	case domain.OutcomeShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// absolutizeDownloadURL prefixes a relative data.downloadUrl with base.
func absolutizeDownloadURL(data json.RawMessage, base string) json.RawMessage {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return data
	}
	u, ok := fields["downloadUrl"].(string)
	if !ok || !strings.HasPrefix(u, "/") {
		return data
	}
	fields["downloadUrl"] = base + u
	out, err := json.Marshal(fields)
	if err != nil {
		return data
	}
	return out
}

func validationEnvelope(err error) Envelope {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errorEnvelope("Validation failed", err.Error())
	}
	var details []string
	missing := false
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = true
		}
		details = append(details, "Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.")
	}
	if missing {
		return errorEnvelope("Missing required fields", "Please provide youtubeUrl, startTime, and endTime")
	}
	return errorEnvelope("Validation failed", strings.Join(details, " "))
}

// handleDownload handles GET /api/download/{filename}
func (h *ClipHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "handler.Download")
	defer span.End()

	filename := r.PathValue("filename")
	span.SetAttributes(attribute.String("file.name", filename))

	path, ok := h.resolveTempFile(filename)
	if !ok {
		span.SetStatus(codes.Error, "path traversal attempt")
		h.writeJSON(w, http.StatusBadRequest, errorEnvelope("Invalid file path", "Security violation: path traversal attempt"))
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, errorEnvelope("File not found",
			fmt.Sprintf("The file %s does not exist or has been deleted", filename)))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		h.writeJSON(w, http.StatusNotFound, errorEnvelope("File not found",
			fmt.Sprintf("The file %s does not exist or has been deleted", filename)))
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		span.RecordError(err)
		h.logger.Error("error sending file", "file", filename, "error", err)
		return
	}

	// The clip is single-use.
	time.AfterFunc(h.opts.DownloadDeleteDelay, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			h.logger.Error("error deleting temporary file", "file", filename, "error", err)
			return
		}
		h.logger.Info("temporary file deleted after download", "file", filename)
	})
}

// resolveTempFile maps a download name to a file directly inside the temp
// directory.
func (h *ClipHandler) resolveTempFile(name string) (string, bool) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	path := filepath.Join(h.opts.TempDir, name)
	rel, err := filepath.Rel(h.opts.TempDir, path)
	if err != nil || rel != name {
		return "", false
	}
	return path, true
}

// handleListExecutions handles GET /api/executions
func (h *ClipHandler) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListExecutions")
	defer span.End()

	// Parse pagination parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	records, err := h.service.History(ctx, page, pageSize)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to list executions")
		span.RecordError(err)
		h.logger.Error("error listing execution history", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorEnvelope("Internal server error", "failed to list executions"))
		return
	}
	h.writeData(w, "Execution history", records)
}

// handleGetExecution handles GET /api/executions/{id}
func (h *ClipHandler) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetExecution")
	defer span.End()

	id := r.PathValue("id")
	span.SetAttributes(attribute.String("execution.id", id))

	rec, err := h.service.Execution(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to get execution")
		span.RecordError(err)
		if errors.Is(err, domain.ErrExecutionNotFound) {
			h.writeJSON(w, http.StatusNotFound, errorEnvelope("Not found", err.Error()))
			return
		}
		h.logger.Error("error getting execution", "execution_id", id, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorEnvelope("Internal server error", "failed to get execution"))
		return
	}
	h.writeData(w, "Execution", rec)
}

// handleHealth handles GET /health
func (h *ClipHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Health(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, errorEnvelope("Service unavailable", err.Error()))
		return
	}
	h.writeData(w, "Master is running", report)
}

func (h *ClipHandler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusNotFound, errorEnvelope("Not found",
		fmt.Sprintf("Route %s %s not found", r.Method, r.URL.Path)))
}

func (h *ClipHandler) writeData(w http.ResponseWriter, message string, data any) {
	env, err := dataEnvelope(message, data)
	if err != nil {
		h.logger.Error("failed to encode response", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorEnvelope("Internal server error", "failed to encode response"))
		return
	}
	h.writeJSON(w, http.StatusOK, env)
}

func (h *ClipHandler) writeJSON(w http.ResponseWriter, status int, env Envelope) {
	if env.Data == nil {
		env.Data = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
