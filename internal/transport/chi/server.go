package chi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/shoplens/internal/domain"
	"github.com/kailas-cloud/shoplens/internal/domain/product"
	"github.com/kailas-cloud/shoplens/internal/domain/raw"
	"github.com/kailas-cloud/shoplens/internal/domain/search/shape"
	"github.com/kailas-cloud/shoplens/internal/logger"
	healthuc "github.com/kailas-cloud/shoplens/internal/usecase/health"
	searchuc "github.com/kailas-cloud/shoplens/internal/usecase/search"
	"github.com/kailas-cloud/shoplens/internal/version"
)

// Config holds HTTP surface settings.
type Config struct {
	Env string
	// ExposeErrorDetails returns raw error text and panic stacks to clients.
	ExposeErrorDetails bool
	Upload             UploadConfig
}

// Server serves the product search API.
type Server struct {
	search        *searchuc.Service
	health        *healthuc.Service
	cfg           Config
	logger        *zap.Logger
	startedAt     time.Time
	now           func() time.Time
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(search *searchuc.Service, health *healthuc.Service, cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = "uploads"
	}
	if cfg.Upload.MaxBytes <= 0 {
		cfg.Upload.MaxBytes = 5 << 20
	}
	if len(cfg.Upload.AllowedTypes) == 0 {
		cfg.Upload.AllowedTypes = []string{"image/jpeg", "image/jpg", "image/png"}
	}
	return &Server{
		search:        search,
		health:        health,
		cfg:           cfg,
		logger:        log,
		startedAt:     time.Now(),
		now:           time.Now,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Routes registers every endpoint on r. Middleware must be added to r beforehand.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.Health)
	r.Get("/ready", s.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/search", func(r chi.Router) {
		r.Get("/", s.TextSearch)
		r.Get("/text", s.TextSearch)
		r.Post("/image", s.ImageSearch)
		r.Get("/trending", s.Trending)
	})

	r.NotFound(s.NotFound)
	r.MethodNotAllowed(s.NotFound)
}

type searchResponse struct {
	Success   bool                      `json:"success"`
	Data      *raw.Object               `json:"data"`
	Query     string                    `json:"query"`
	Page      int                       `json:"page"`
	Limit     int                       `json:"limit"`
	Total     int                       `json:"total"`
	Shape     shape.Shape               `json:"shape"`
	Providers []searchuc.ProviderStatus `json:"providers"`
}

// TextSearch handles GET /api/search and GET /api/search/text.
func (s *Server) TextSearch(w http.ResponseWriter, r *http.Request) {
	q, err := bindTextQuery(r)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	res, err := s.search.TextSearch(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	logger.FromContextOr(r.Context(), s.logger).Info("search completed",
		zap.String("query", res.Request.Query()),
		zap.Int("total", res.Total),
		zap.Any("providers", res.Providers),
	)
	writeJSON(w, http.StatusOK, newSearchResponse(res, resultData(res)))
}

// ImageSearch handles POST /api/search/image.
func (s *Server) ImageSearch(w http.ResponseWriter, r *http.Request) {
	up, err := s.receiveUpload(w, r)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	res, err := s.search.ImageSearch(r.Context(), up)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	data := resultData(res.Result)
	data.Set("keyword", res.Keyword)
	data.Set("detectedObjects", res.Detected)
	var visionError *string
	if res.VisionError != "" {
		visionError = &res.VisionError
	}
	data.Set("visionError", visionError)
	data.Set("originalImage", res.OriginalImage)
	data.Set("similarTags", res.SimilarTags)
	data.Set("similarTagsMocked", res.SimilarTagsMocked)
	data.Set("total", res.Total)

	writeJSON(w, http.StatusOK, newSearchResponse(res.Result, data))
}

type trendingResponse struct {
	Success   bool                      `json:"success"`
	Data      *raw.Object               `json:"data"`
	Providers []searchuc.ProviderStatus `json:"providers"`
}

// Trending handles GET /api/search/trending.
func (s *Server) Trending(w http.ResponseWriter, r *http.Request) {
	res := s.search.Trending(r.Context())

	data := raw.NewObject()
	for _, e := range res.Entries {
		data.Set(e.Key, e.Product)
	}
	providers := res.Providers
	if providers == nil {
		providers = []searchuc.ProviderStatus{}
	}

	writeJSON(w, http.StatusOK, trendingResponse{Success: true, Data: data, Providers: providers})
}

type healthResponse struct {
	Status      string  `json:"status"`
	Timestamp   string  `json:"timestamp"`
	Uptime      float64 `json:"uptime"`
	Environment string  `json:"environment"`
	Version     string  `json:"version"`
	Commit      string  `json:"commit"`
}

// Health handles GET /health. It is a liveness probe with no dependency checks.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "OK",
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		Uptime:      now.Sub(s.startedAt).Seconds(),
		Environment: s.cfg.Env,
		Version:     version.Version,
		Commit:      version.Commit,
	})
}

type readyResponse struct {
	Status  healthuc.Status                 `json:"status"`
	Checks  map[string]healthuc.CheckResult `json:"checks"`
	Details map[string]string               `json:"details,omitempty"`
}

// Ready handles GET /ready.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, readyResponse{
		Status:  report.Status,
		Checks:  report.Checks,
		Details: report.Details,
	})
}

// NotFound answers unknown routes and methods.
func (s *Server) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
}

// bindTextQuery reads q, page, limit, country and language from the query string.
func bindTextQuery(r *http.Request) (searchuc.TextQuery, error) {
	var params struct {
		Q        *string
		Page     *int
		Limit    *int
		Country  *string
		Language *string
	}
	query := r.URL.Query()

	bindings := []struct {
		name string
		dest any
	}{
		{"q", &params.Q},
		{"page", &params.Page},
		{"limit", &params.Limit},
		{"country", &params.Country},
		{"language", &params.Language},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", true, false, b.name, query, b.dest); err != nil {
			return searchuc.TextQuery{}, fmt.Errorf("%w: %s: %w", domain.ErrInvalidParameter, b.name, err)
		}
	}

	return searchuc.TextQuery{
		Query:    deref(params.Q),
		Page:     deref(params.Page),
		Limit:    deref(params.Limit),
		Country:  deref(params.Country),
		Language: deref(params.Language),
	}, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func newSearchResponse(res searchuc.Result, data *raw.Object) searchResponse {
	return searchResponse{
		Success:   true,
		Data:      data,
		Query:     res.Request.Query(),
		Page:      res.Request.Page(),
		Limit:     res.Request.Limit(),
		Total:     res.Total,
		Shape:     res.Shape,
		Providers: res.Providers,
	}
}

// resultData renders products grouped by provider in configured order, or as one flat list.
func resultData(res searchuc.Result) *raw.Object {
	data := raw.NewObject()
	if res.Shape == shape.Flat {
		products := res.Products
		if products == nil {
			products = []product.Product{}
		}
		data.Set("products", products)
		return data
	}
	for _, g := range res.Groups {
		data.Set(g.Provider, g.Products)
	}
	return data
}
