package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	appai "github.com/lokesh-guntreddi/oceanographic/internal/application/ai"
	appfish "github.com/lokesh-guntreddi/oceanographic/internal/application/fish"
	domai "github.com/lokesh-guntreddi/oceanographic/internal/domain/ai"
	domain "github.com/lokesh-guntreddi/oceanographic/internal/domain/fish"
	"github.com/lokesh-guntreddi/oceanographic/internal/infra/imaging"
	"github.com/lokesh-guntreddi/oceanographic/internal/middleware"
)

// multipart framing allowance on top of the image size cap
const multipartOverhead = 64 << 10

// Deps wires the router. Metrics and Limiter are optional.
type Deps struct {
	Fish    *appfish.Service
	AI      *appai.Service
	TIFF    *imaging.Converter
	Metrics *middleware.Metrics
	Limiter *middleware.RateLimiter
	Health  map[string]middleware.HealthChecker

	StaticDir      string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	CORSOrigins    []string
}

type Router struct {
	fishSvc   *appfish.Service
	aiSvc     *appai.Service
	tiff      *imaging.Converter
	metrics   *middleware.Metrics
	maxUpload int64
}

func NewRouter(d Deps) http.Handler {
	if d.Metrics == nil {
		d.Metrics, _ = middleware.NewMetrics(prometheus.NewRegistry())
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 90 * time.Second
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}

	r := &Router{
		fishSvc:   d.Fish,
		aiSvc:     d.AI,
		tiff:      d.TIFF,
		metrics:   d.Metrics,
		maxUpload: d.MaxUploadBytes,
	}
	limit := func(next http.Handler) http.Handler { return next }
	if d.Limiter != nil {
		limit = d.Limiter.Middleware
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(chimw.Recoverer)
	mux.Use(d.Metrics.Middleware)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	mux.Get("/health", middleware.HealthHandler(d.Health))
	mux.Get("/healthz", middleware.LivenessHandler)
	mux.Get("/readyz", middleware.ReadinessHandler)
	mux.Handle("/metrics", d.Metrics.Handler())

	if d.StaticDir != "" {
		mux.Handle("/static/*", http.StripPrefix("/static/", noDirListing(http.FileServer(http.Dir(d.StaticDir)))))
	}

	mux.Group(func(rt chi.Router) {
		rt.Use(chimw.Timeout(d.RequestTimeout))

		rt.Route("/api/fish", func(rt chi.Router) {
			rt.With(limit).Post("/upload", r.wrap(r.handleUpload))
			rt.Post("/export", r.wrap(r.handleExport))
		})
		rt.Get("/convert-tiff", r.wrap(r.handleConvertTIFF))
		rt.With(limit).Post("/chat", r.wrap(r.handleChat))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			kind := domain.KindOf(err)
			status := statusFor(kind)
			if status >= http.StatusInternalServerError {
				slog.Error("request failed", "path", req.URL.Path, "kind", kind, "error", err,
					"request_id", chimw.GetReqID(req.Context()))
			}
			writeJSON(w, status, map[string]any{
				"success": false,
				"error":   err.Error(),
				"kind":    kind,
			})
		}
	}
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindMissingInput, domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// POST /api/fish/upload
// multipart/form-data with the image in field "image"
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	if r.maxUpload > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload+multipartOverhead)
	}

	file, header, err := req.FormFile("image")
	if req.MultipartForm != nil {
		defer func() { _ = req.MultipartForm.RemoveAll() }()
	}
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return fmt.Errorf("%w: upload exceeds %d bytes", domain.ErrInvalidInput, r.maxUpload)
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			// let the service record the failed run
			_, err = r.fishSvc.UploadAndAnalyze(req.Context(), "", nil)
			return err
		default:
			return fmt.Errorf("%w: unreadable upload: %v", domain.ErrInvalidInput, err)
		}
	}
	defer file.Close()

	res, err := r.fishSvc.UploadAndAnalyze(req.Context(), header.Filename, file)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"image_url": res.Image.URL,
		"analysis":  res.Analysis,
	})
	return nil
}

// POST /api/fish/export
// Body: {"analysis": {...}}
func (r *Router) handleExport(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Analysis json.RawMessage `json:"analysis"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body must be a JSON object: %v", domain.ErrInvalidInput, err)
	}

	art, err := r.fishSvc.Export(req.Context(), body.Analysis)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"url":     art.URL,
	})
	return nil
}

// GET /convert-tiff?url=<tiff url>
func (r *Router) handleConvertTIFF(w http.ResponseWriter, req *http.Request) error {
	src := req.URL.Query().Get("url")
	if src == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing TIFF URL"})
		return nil
	}
	if err := middleware.ValidateURL(src); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid TIFF URL", "details": err.Error()})
		return nil
	}

	res, err := r.tiff.Convert(req.Context(), src)
	if err != nil {
		r.metrics.ObserveConversion("failed")
		slog.Warn("tiff conversion failed", "url", src, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "TIFF conversion failed", "details": err.Error()})
		return nil
	}

	cacheStatus := "MISS"
	result := "converted"
	if res.Cached {
		cacheStatus = "HIT"
		result = "cached"
	}
	r.metrics.ObserveConversion(result)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(res.PNG)
	return err
}

// POST /chat
// Body: {"message": "..."}
func (r *Router) handleChat(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Message string `json:"message"`
	}
	// an undecodable body is treated the same as an empty message
	_ = json.NewDecoder(req.Body).Decode(&body)

	reply, err := r.aiSvc.Chat(req.Context(), middleware.SanitizeString(body.Message))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"response": reply})
	case errors.Is(err, domai.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Message is required"})
	case errors.Is(err, domai.ErrQuotaExceeded):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "ai quota exceeded"})
	default:
		slog.Error("assistant failed", "error", err, "request_id", chimw.GetReqID(req.Context()))
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, map[string]any{"error": "Assistant failed", "details": err.Error()})
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// noDirListing hides directory indexes under /static.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "" || strings.HasSuffix(req.URL.Path, "/") {
			http.NotFound(w, req)
			return
		}
		next.ServeHTTP(w, req)
	})
}
