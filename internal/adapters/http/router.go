package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/portfolio-intake/internal/config"
	"github.com/kirillkom/portfolio-intake/internal/core/domain"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
	"github.com/kirillkom/portfolio-intake/internal/observability/metrics"
)

const (
	serviceName       = "api"
	multipartMemory   = 32 << 20
	heartbeatInterval = 15 * time.Second
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Router struct {
	cfg       config.Config
	processor ports.PortfolioProcessor
	reader    ports.PortfolioReader
	events    ports.ProgressSubscriber
	exporter  ports.BatchExporter
	metrics   *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	processor ports.PortfolioProcessor,
	reader ports.PortfolioReader,
	events ports.ProgressSubscriber,
	exporter ports.BatchExporter,
) *Router {
	return &Router{
		cfg:       cfg,
		processor: processor,
		reader:    reader,
		events:    events,
		exporter:  exporter,
	}
}

func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	upload := http.Handler(http.HandlerFunc(rt.uploadPortfolio))
	if rt.cfg.APIMaxInFlight > 0 {
		upload = backpressureMiddleware(upload, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	}

	api := http.NewServeMux()
	api.Handle("POST /v1/portfolios", upload)
	api.HandleFunc("GET /v1/portfolios/{id}", rt.getPortfolio)
	api.HandleFunc("GET /v1/portfolios/{id}/events", rt.streamEvents)
	api.HandleFunc("GET /v1/portfolios/{id}/export.xlsx", rt.exportPortfolio)

	var limited http.Handler = api
	if rt.cfg.APIRateLimitRPS > 0 {
		burst := rt.cfg.APIRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limited = rateLimitMiddleware(api, rate.NewLimiter(rate.Limit(rt.cfg.APIRateLimitRPS), burst))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", limited)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadPortfolio(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, fmt.Errorf("upload exceeds %d bytes: %w", tooLarge.Limit, err))
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form is required"})
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'files' is required"})
		return
	}

	docs := make([]domain.RawDocument, 0, len(headers))
	var total int64
	for _, header := range headers {
		doc, err := readUpload(header)
		if err != nil {
			writeError(w, r, err)
			return
		}
		total += doc.Size
		docs = append(docs, doc)
	}
	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName, len(docs), total)
	}

	portfolioID := strings.TrimSpace(r.FormValue("portfolio_id"))
	batch, err := rt.processor.Process(r.Context(), portfolioID, docs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func readUpload(header *multipart.FileHeader) (domain.RawDocument, error) {
	file, err := header.Open()
	if err != nil {
		return domain.RawDocument{}, domain.WrapError(domain.ErrInvalidInput, "read upload", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return domain.RawDocument{}, domain.WrapError(domain.ErrInvalidInput, "read upload", err)
	}
	return domain.RawDocument{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        int64(len(content)),
		Content:     content,
	}, nil
}

func (rt *Router) getPortfolio(w http.ResponseWriter, r *http.Request) {
	batch, err := rt.reader.GetByPortfolioID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (rt *Router) exportPortfolio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	payload, err := rt.exporter.ExportXLSX(r.Context(), id)
	if rt.metrics != nil {
		rt.metrics.RecordExport(serviceName, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="portfolio-%s.xlsx"`, sanitizeHeaderValue(id)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// streamEvents relays progress events of one portfolio as server-sent events
// until the batch completes or the client goes away.
func (rt *Router) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming is not supported"})
		return
	}
	id := r.PathValue("id")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan domain.ProgressEvent, 16)
	subscribed := make(chan error, 1)
	go func() {
		subscribed <- rt.events.Subscribe(ctx, id, func(event domain.ProgressEvent) {
			select {
			case events <- event:
			case <-ctx.Done():
			}
		})
	}()

	if rt.metrics != nil {
		rt.metrics.StreamOpened()
		defer rt.metrics.StreamClosed()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": subscribed\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			<-subscribed
			return
		case err := <-subscribed:
			if err != nil {
				slog.Error("progress_subscribe_failed", "portfolio_id", id, "request_id", requestIDFromContext(r.Context()), "error", err)
				writeSSE(w, "error", map[string]string{"error": "progress stream unavailable"})
				flusher.Flush()
			}
			return
		case event := <-events:
			writeSSE(w, "progress", event)
			flusher.Flush()
			if event.Step == domain.StepProcessingComplete && event.Status != domain.StatusInProgress {
				cancel()
				<-subscribed
				return
			}
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitizeHeaderValue(v string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == '"' || r == '\\' || r > 0x7e {
			return '_'
		}
		return r
	}, v)
}
