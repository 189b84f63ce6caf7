package search

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/shoplens/internal/domain"
	"github.com/kailas-cloud/shoplens/internal/domain/product"
	"github.com/kailas-cloud/shoplens/internal/domain/search/request"
	"github.com/kailas-cloud/shoplens/internal/domain/search/shape"
	"github.com/kailas-cloud/shoplens/internal/logger"
)

const (
	defaultDeadline      = 35 * time.Second
	defaultMaxConcurrent = 8
	defaultImageCountry  = "IN"
	defaultImageLimit    = 10
)

// Config tunes the orchestrator.
type Config struct {
	Shape shape.Shape
	// Deadline bounds one fan-out across all providers together.
	Deadline      time.Duration
	MaxConcurrent int
	Defaults      request.Defaults

	ImageCountry string
	ImageLimit   int

	TrendingQueries []string
	TrendingSlots   []TrendingSlot
}

// TextQuery carries raw text-search parameters; zero values take defaults.
type TextQuery struct {
	Query    string
	Page     int
	Limit    int
	Country  string
	Language string
}

// ProviderStatus reports how one provider fared within a request.
type ProviderStatus struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Count     int    `json:"count"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// Group is one provider's products.
type Group struct {
	Provider string
	Products []product.Product
}

// Result is the merged outcome of a fan-out.
// Groups always holds one entry per provider in configured order, empty on failure.
// Products is the flat concatenation and is only filled for the flat shape.
type Result struct {
	Request   request.Request
	Shape     shape.Shape
	Groups    []Group
	Products  []product.Product
	Total     int
	Providers []ProviderStatus
}

// Service fans searches out to product providers and merges their results.
type Service struct {
	providers  []Provider
	byName     map[string]Provider
	classifier Classifier
	tagger     SimilarityTagger
	cfg        Config
	now        func() time.Time
	removeFile func(name string) error
}

// New creates a search orchestrator. providers are merged in the given order.
// classifier and tagger may be nil: image search then falls back to the default
// keyword and skips similarity tags.
func New(providers []Provider, classifier Classifier, tagger SimilarityTagger, cfg Config) *Service {
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if !cfg.Shape.IsValid() {
		cfg.Shape = shape.Grouped
	}
	if cfg.ImageCountry == "" {
		cfg.ImageCountry = defaultImageCountry
	}
	if cfg.ImageLimit <= 0 {
		cfg.ImageLimit = defaultImageLimit
	}

	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	return &Service{
		providers:  providers,
		byName:     byName,
		classifier: classifier,
		tagger:     tagger,
		cfg:        cfg,
		now:        time.Now,
		removeFile: os.Remove,
	}
}

// Providers returns the configured provider names in merge order.
func (s *Service) Providers() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

// TextSearch validates the query and searches every provider concurrently.
// Provider failures never fail the request: they yield empty groups and a
// non-OK status.
func (s *Service) TextSearch(ctx context.Context, q TextQuery) (Result, error) {
	req, err := request.New(q.Query, q.Page, q.Limit, q.Country, q.Language, s.cfg.Defaults)
	if err != nil {
		return Result{}, err //nolint:wrapcheck // domain validation error
	}

	logger.FromContext(ctx).Info("text search",
		zap.String("query", req.Query()),
		zap.Int("page", req.Page()),
		zap.Int("limit", req.Limit()),
		zap.String("country", req.Country()),
	)

	return s.search(ctx, req), nil
}

func (s *Service) search(ctx context.Context, req request.Request) Result {
	calls := make([]call, len(s.providers))
	for i, p := range s.providers {
		calls[i] = call{provider: p, req: req}
	}
	return s.merge(req, s.dispatch(ctx, calls))
}

func (s *Service) merge(req request.Request, outcomes []outcome) Result {
	res := Result{
		Request:   req,
		Shape:     s.cfg.Shape,
		Groups:    make([]Group, 0, len(outcomes)),
		Providers: make([]ProviderStatus, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		res.Groups = append(res.Groups, Group{Provider: o.status.Name, Products: o.products})
		res.Providers = append(res.Providers, o.status)
		res.Total += len(o.products)
	}
	uniqueIDs(res.Groups)
	if s.cfg.Shape == shape.Flat {
		res.Products = flatten(res.Groups)
	}
	return res
}

// uniqueIDs makes product IDs unique across all groups of one response.
// Colliding IDs (synthesized IDs from different providers, or the same listing
// from two catalogues) get a numeric suffix; the first occurrence keeps its ID.
// Rewritten groups get a fresh slice so provider-owned data is not mutated.
func uniqueIDs(groups []Group) {
	used := make(map[string]bool)
	for gi, g := range groups {
		var rewritten []product.Product
		for pi, p := range g.Products {
			id := p.ID
			for i := 1; used[id]; i++ {
				id = fmt.Sprintf("%s-%d", p.ID, i)
			}
			used[id] = true
			if id == p.ID {
				continue
			}
			if rewritten == nil {
				rewritten = slices.Clone(g.Products)
			}
			rewritten[pi].ID = id
		}
		if rewritten != nil {
			groups[gi].Products = rewritten
		}
	}
}

// flatten concatenates groups in order.
func flatten(groups []Group) []product.Product {
	n := 0
	for _, g := range groups {
		n += len(g.Products)
	}
	out := make([]product.Product, 0, n)
	for _, g := range groups {
		out = append(out, g.Products...)
	}
	return out
}

type call struct {
	provider Provider
	req      request.Request
}

type outcome struct {
	products []product.Product
	status   ProviderStatus
}

type searchReturn struct {
	products []product.Product
	err      error
}

// dispatch runs all calls concurrently and waits for every one to settle.
// The fan-out is detached from client cancellation and bounded by one overall
// deadline; a call still running at the deadline is reported as failed.
func (s *Service) dispatch(ctx context.Context, calls []call) []outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Deadline)
	defer cancel()

	out := make([]outcome, len(calls))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrent)
	for i, c := range calls {
		g.Go(func() error {
			out[i] = s.invoke(ctx, c)
			return nil
		})
	}
	_ = g.Wait() // invoke never fails

	return out
}

func (s *Service) invoke(ctx context.Context, c call) outcome {
	name := c.provider.Name()
	start := time.Now()

	done := make(chan searchReturn, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- searchReturn{err: fmt.Errorf("%w: %s panicked: %v", domain.ErrProviderError, name, r)}
			}
		}()
		products, err := c.provider.Search(ctx, c.req)
		done <- searchReturn{products: products, err: err}
	}()

	var ret searchReturn
	select {
	case ret = <-done:
	case <-ctx.Done():
		ret.err = fmt.Errorf("%w: %s: %w", domain.ErrProviderError, name, ctx.Err())
	}

	status := ProviderStatus{
		Name:      name,
		OK:        ret.err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if ret.err != nil || ret.products == nil {
		if ret.err != nil {
			status.Error = ret.err.Error()
			logger.FromContext(ctx).Warn("provider search failed",
				zap.String("provider", name),
				zap.String("query", c.req.Query()),
				zap.Error(ret.err),
			)
		}
		ret.products = []product.Product{}
	}
	status.Count = len(ret.products)

	return outcome{products: ret.products, status: status}
}
