// Package rapidapi implements product-search clients for RapidAPI-hosted providers.
package rapidapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/shoplens/internal/domain"
	"github.com/kailas-cloud/shoplens/internal/domain/product"
	"github.com/kailas-cloud/shoplens/internal/domain/raw"
	"github.com/kailas-cloud/shoplens/internal/domain/search/request"
	"github.com/kailas-cloud/shoplens/internal/metrics"
)

// Provider kinds.
const (
	KindAmazon        = "amazon"
	KindProductSearch = "product_search"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 10 << 20
	maxErrorSnippet = 200
)

// Config holds one provider's connection settings.
type Config struct {
	Name       string // provider name stamped on products and metrics
	Kind       string
	BaseURL    string
	APIKey     string
	Host       string
	Timeout    time.Duration
	Normalizer *product.Normalizer
	Extractor  *raw.Extractor
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client searches one RapidAPI product provider.
type Client struct {
	name       string
	kind       string
	baseURL    string
	apiKey     string
	host       string
	http       *http.Client
	extractor  *raw.Extractor
	normalizer *product.Normalizer
	logger     *zap.Logger
}

// New creates a provider client. Kind must be KindAmazon or KindProductSearch.
func New(cfg *Config) (*Client, error) {
	if cfg.Kind != KindAmazon && cfg.Kind != KindProductSearch {
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
	if cfg.Name == "" {
		return nil, errors.New("provider name is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid base url %q for provider %s", cfg.BaseURL, cfg.Name)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	normalizer := cfg.Normalizer
	if normalizer == nil {
		normalizer = product.NewNormalizer(cfg.Name)
	}
	extractor := cfg.Extractor
	if extractor == nil {
		extractor = raw.NewExtractor()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		name:       cfg.Name,
		kind:       cfg.Kind,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		host:       cfg.Host,
		http:       httpClient,
		extractor:  extractor,
		normalizer: normalizer,
		logger:     log.With(zap.String("provider", cfg.Name)),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Search queries the provider and returns at most req.Limit() normalized products.
// On any failure the returned slice is empty and non-nil, and the error wraps
// domain.ErrProviderError.
func (c *Client) Search(ctx context.Context, req request.Request) ([]product.Product, error) {
	start := time.Now()
	fields := []zap.Field{
		zap.String("query", req.Query()),
		zap.Int("page", req.Page()),
		zap.Int("limit", req.Limit()),
		zap.String("country", req.Country()),
	}

	doc, status, err := c.doGet(ctx, c.searchURL(req))
	duration := time.Since(start)
	metrics.ProviderRequestDuration.WithLabelValues(c.name).Observe(duration.Seconds())

	if err != nil {
		label := "error"
		if isTimeout(err) {
			label = "timeout"
		}
		metrics.ProviderRequestsTotal.WithLabelValues(c.name, label).Inc()
		c.logger.Warn("provider search failed", append(fields,
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.Error(err),
		)...)
		return []product.Product{}, err
	}

	items, strategy := c.extractor.Extract(doc)
	if len(items) > req.Limit() {
		items = items[:req.Limit()]
	}
	products := c.normalizer.NormalizeAll(items)

	metrics.ProviderRequestsTotal.WithLabelValues(c.name, "success").Inc()
	metrics.ProviderProductsTotal.WithLabelValues(c.name).Add(float64(len(products)))
	c.logger.Info("provider search", append(fields,
		zap.Int("status", status),
		zap.String("extracted_from", strategy),
		zap.Int("count", len(products)),
		zap.Duration("duration", duration),
	)...)

	return products, nil
}

func (c *Client) searchURL(req request.Request) string {
	q := url.Values{}
	var path string

	switch c.kind {
	case KindAmazon:
		path = "/search"
		q.Set("query", req.Query())
		q.Set("country", req.Country())
		q.Set("page", strconv.Itoa(req.Page()))
		q.Set("category", "aps")
	default:
		path = "/search-light-v2"
		q.Set("q", req.Query())
		q.Set("country", strings.ToLower(req.Country()))
		q.Set("language", req.Language())
		q.Set("page", strconv.Itoa(req.Page()))
		q.Set("limit", strconv.Itoa(req.Limit()))
		q.Set("sort_by", "BEST_MATCH")
		q.Set("product_condition", "ANY")
		q.Set("return_filters", "false")
	}

	return c.baseURL + path + "?" + q.Encode()
}

// doGet performs the request and decodes the body into an order-preserving document.
// The returned status is 0 when no response was received.
func (c *Client) doGet(ctx context.Context, target string) (any, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: build request: %w: %w", c.name, err, domain.ErrProviderError)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-RapidAPI-Key", c.apiKey)
	httpReq.Header.Set("X-RapidAPI-Host", c.host)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: request failed: %w: %w", c.name, err, domain.ErrProviderError)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%s: read body: %w: %w", c.name, err, domain.ErrProviderError)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, statusError(c.name, resp.StatusCode, body)
	}

	doc, err := raw.Decode(body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%s: malformed body: %w: %w", c.name, err, domain.ErrProviderError)
	}
	return doc, resp.StatusCode, nil
}

// statusError summarises a non-2xx upstream response.
func statusError(name string, status int, body []byte) error {
	detail := errorDetail(body)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: upstream %d: %s: %w: %w",
			name, status, detail, domain.ErrProviderError, domain.ErrProviderUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: upstream %d: %s: %w: %w",
			name, status, detail, domain.ErrProviderError, domain.ErrRateLimited)
	default:
		return fmt.Errorf("%s: upstream %d: %s: %w", name, status, detail, domain.ErrProviderError)
	}
}

// errorDetail extracts "message" or "error" from a JSON error body, else a trimmed snippet.
func errorDetail(body []byte) string {
	if doc, err := raw.Decode(body); err == nil {
		if obj, ok := doc.(*raw.Object); ok {
			for _, key := range []string{"message", "error", "error.message"} {
				if v, ok := obj.Lookup(key); ok {
					if s, ok := v.(string); ok && s != "" {
						return s
					}
				}
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet]
	}
	if s == "" {
		s = "empty body"
	}
	return s
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
