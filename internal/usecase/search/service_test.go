package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/shoplens/internal/domain"
	"github.com/kailas-cloud/shoplens/internal/domain/product"
	"github.com/kailas-cloud/shoplens/internal/domain/raw"
	"github.com/kailas-cloud/shoplens/internal/domain/search/request"
	"github.com/kailas-cloud/shoplens/internal/domain/search/shape"
)

// --- Mocks ---

type mockProvider struct {
	name string
	fn   func(ctx context.Context, req request.Request) ([]product.Product, error)

	mu   sync.Mutex
	reqs []request.Request
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Search(ctx context.Context, req request.Request) ([]product.Product, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	return m.fn(ctx, req)
}

func (m *mockProvider) calls() []request.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]request.Request(nil), m.reqs...)
}

func okProvider(name string, products ...product.Product) *mockProvider {
	return &mockProvider{name: name, fn: func(context.Context, request.Request) ([]product.Product, error) {
		return products, nil
	}}
}

func failingProvider(name string, err error) *mockProvider {
	return &mockProvider{name: name, fn: func(context.Context, request.Request) ([]product.Product, error) {
		return []product.Product{}, err
	}}
}

// slowProvider honors cancellation and only returns when ctx is done.
func slowProvider(name string) *mockProvider {
	return &mockProvider{name: name, fn: func(ctx context.Context, _ request.Request) ([]product.Product, error) {
		<-ctx.Done()
		return []product.Product{}, fmt.Errorf("%w: %w", domain.ErrProviderError, ctx.Err())
	}}
}

// hungProvider ignores ctx and blocks until release is closed.
func hungProvider(name string, release <-chan struct{}) *mockProvider {
	return &mockProvider{name: name, fn: func(context.Context, request.Request) ([]product.Product, error) {
		<-release
		return []product.Product{{ID: "late"}}, nil
	}}
}

// rawProvider normalizes fixed raw JSON objects the way the HTTP clients do.
func rawProvider(t *testing.T, name string, items ...string) *mockProvider {
	t.Helper()
	objs := make([]*raw.Object, 0, len(items))
	for _, it := range items {
		doc, err := raw.Decode([]byte(it))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		objs = append(objs, doc.(*raw.Object))
	}
	n := product.NewNormalizer(name).WithSynthesizedStats(false)
	return &mockProvider{name: name, fn: func(context.Context, request.Request) ([]product.Product, error) {
		return n.NormalizeAll(objs), nil
	}}
}

func asProviders(ps ...*mockProvider) []Provider {
	out := make([]Provider, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}

func newTestService(cfg Config, ps ...*mockProvider) *Service {
	return New(asProviders(ps...), nil, nil, cfg)
}

func groupByName(t *testing.T, res Result, name string) Group {
	t.Helper()
	for _, g := range res.Groups {
		if g.Provider == name {
			return g
		}
	}
	t.Fatalf("no group for provider %q", name)
	return Group{}
}

func statusByName(t *testing.T, statuses []ProviderStatus, name string) ProviderStatus {
	t.Helper()
	for _, s := range statuses {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no status for provider %q", name)
	return ProviderStatus{}
}

// --- Text search ---

func TestTextSearch_HeadphonesScenario(t *testing.T) {
	a := rawProvider(t, "providerA", `{"title":"X","product_price":"$10.00"}`)
	b := slowProvider("providerB")
	svc := newTestService(Config{Deadline: 50 * time.Millisecond}, a, b)

	res, err := svc.TextSearch(context.Background(), TextQuery{Query: "headphones"})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}

	if res.Total != 1 {
		t.Errorf("total = %d, want 1", res.Total)
	}
	ga := groupByName(t, res, "providerA")
	if len(ga.Products) != 1 || ga.Products[0].Title != "X" || ga.Products[0].Price != "10.00" {
		t.Errorf("providerA products = %+v", ga.Products)
	}
	gb := groupByName(t, res, "providerB")
	if gb.Products == nil || len(gb.Products) != 0 {
		t.Errorf("providerB products = %#v, want empty non-nil slice", gb.Products)
	}
	if st := statusByName(t, res.Providers, "providerB"); st.OK || st.Error == "" {
		t.Errorf("providerB status = %+v, want failed with error", st)
	}
	if st := statusByName(t, res.Providers, "providerA"); !st.OK || st.Count != 1 {
		t.Errorf("providerA status = %+v", st)
	}
	if res.Request.Query() != "headphones" || res.Request.Page() != 1 || res.Request.Limit() != 20 {
		t.Errorf("request = %q page=%d limit=%d", res.Request.Query(), res.Request.Page(), res.Request.Limit())
	}
}

func TestTextSearch_KOfNProvidersTimeOut(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	ok1 := okProvider("ok1", product.Product{ID: "a"}, product.Product{ID: "b"})
	ok2 := okProvider("ok2", product.Product{ID: "c"})
	slow := slowProvider("slow")
	hung := hungProvider("hung", release)

	deadline := 100 * time.Millisecond
	svc := newTestService(Config{Deadline: deadline}, ok1, slow, ok2, hung)

	start := time.Now()
	res, err := svc.TextSearch(context.Background(), TextQuery{Query: "laptop"})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if elapsed > deadline+time.Second {
		t.Errorf("fan-out took %v, deadline was %v", elapsed, deadline)
	}

	if res.Total != 3 {
		t.Errorf("total = %d, want 3", res.Total)
	}
	wantCounts := map[string]int{"ok1": 2, "slow": 0, "ok2": 1, "hung": 0}
	for name, want := range wantCounts {
		if got := len(groupByName(t, res, name).Products); got != want {
			t.Errorf("%s: %d products, want %d", name, got, want)
		}
		st := statusByName(t, res.Providers, name)
		if st.OK != (want > 0) {
			t.Errorf("%s: ok = %v", name, st.OK)
		}
	}
	if hs := statusByName(t, res.Providers, "hung"); hs.Error == "" {
		t.Errorf("hung provider should report an error, got %+v", hs)
	}
}

func TestTextSearch_AllProvidersFail(t *testing.T) {
	svc := newTestService(Config{},
		failingProvider("a", domain.ErrRateLimited),
		failingProvider("b", domain.ErrProviderUnauthorized),
	)

	res, err := svc.TextSearch(context.Background(), TextQuery{Query: "watch"})
	if err != nil {
		t.Fatalf("total provider failure must not fail the request: %v", err)
	}
	if res.Total != 0 || len(res.Groups) != 2 {
		t.Errorf("total=%d groups=%d", res.Total, len(res.Groups))
	}
	for _, st := range res.Providers {
		if st.OK || st.Error == "" {
			t.Errorf("status %+v should be failed", st)
		}
	}
}

func TestTextSearch_GroupOrderFollowsConfig(t *testing.T) {
	svc := newTestService(Config{}, okProvider("z"), okProvider("a"), okProvider("m"))

	res, err := svc.TextSearch(context.Background(), TextQuery{Query: "shoes"})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	var got []string
	for _, g := range res.Groups {
		got = append(got, g.Provider)
	}
	if fmt.Sprint(got) != "[z a m]" {
		t.Errorf("group order = %v, want [z a m]", got)
	}
	if fmt.Sprint(svc.Providers()) != "[z a m]" {
		t.Errorf("Providers() = %v", svc.Providers())
	}
	if res.Products != nil {
		t.Errorf("grouped shape must not fill Products, got %d", len(res.Products))
	}
}

func TestTextSearch_FlatShape(t *testing.T) {
	a := okProvider("a", product.Product{ID: "mock-1-0"}, product.Product{ID: "x"})
	b := okProvider("b", product.Product{ID: "mock-1-0"}, product.Product{ID: "y"})
	svc := newTestService(Config{Shape: shape.Flat}, a, b)

	res, err := svc.TextSearch(context.Background(), TextQuery{Query: "camera"})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if res.Shape != shape.Flat {
		t.Errorf("shape = %q", res.Shape)
	}

	var ids []string
	for _, p := range res.Products {
		ids = append(ids, p.ID)
	}
	if fmt.Sprint(ids) != "[mock-1-0 x mock-1-0-1 y]" {
		t.Errorf("flat ids = %v", ids)
	}
	if res.Total != 4 {
		t.Errorf("total = %d, want 4", res.Total)
	}
	if got := groupByName(t, res, "b").Products[0].ID; got != "mock-1-0-1" {
		t.Errorf("grouped id = %q, want mock-1-0-1", got)
	}
}

func TestTextSearch_GroupedIDsUniqueAcrossProviders(t *testing.T) {
	now := func() time.Time { return time.UnixMilli(1700000000000) }
	objs := func(t *testing.T) []*raw.Object {
		t.Helper()
		out := make([]*raw.Object, 0, 2)
		for _, it := range []string{`{"title":"A"}`, `{"title":"B"}`} {
			doc, err := raw.Decode([]byte(it))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			out = append(out, doc.(*raw.Object))
		}
		return out
	}
	// Both providers synthesize IDs in the same millisecond.
	idless := func(name string) *mockProvider {
		items := objs(t)
		n := product.NewNormalizer(name).WithSynthesizedStats(false).WithClock(now)
		return &mockProvider{name: name, fn: func(context.Context, request.Request) ([]product.Product, error) {
			return n.NormalizeAll(items), nil
		}}
	}
	a, b := idless("amazon"), idless("productSearch")
	svc := newTestService(Config{}, a, b)

	res, err := svc.TextSearch(context.Background(), TextQuery{Query: "headphones"})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if res.Shape != shape.Grouped {
		t.Fatalf("shape = %q, want grouped", res.Shape)
	}

	seen := map[string]string{}
	for _, g := range res.Groups {
		for _, p := range g.Products {
			if prev, ok := seen[p.ID]; ok {
				t.Fatalf("duplicate id %q in groups %s and %s", p.ID, prev, g.Provider)
			}
			seen[p.ID] = g.Provider
		}
	}
	if len(seen) != 4 {
		t.Errorf("expected 4 distinct ids, got %d", len(seen))
	}
	if got := groupByName(t, res, "amazon").Products[0].ID; got != "mock-1700000000000-0" {
		t.Errorf("first id = %q, want it untouched", got)
	}
	if got := groupByName(t, res, "productSearch").Products[0].ID; got != "mock-1700000000000-0-1" {
		t.Errorf("colliding id = %q, want mock-1700000000000-0-1", got)
	}
}

func TestUniqueIDs_DoesNotMutateProviderSlice(t *testing.T) {
	owned := []product.Product{{ID: "p"}}
	groups := []Group{
		{Provider: "a", Products: []product.Product{{ID: "p"}}},
		{Provider: "b", Products: owned},
	}
	uniqueIDs(groups)
	if groups[1].Products[0].ID != "p-1" {
		t.Errorf("rewritten id = %q, want p-1", groups[1].Products[0].ID)
	}
	if owned[0].ID != "p" {
		t.Errorf("provider slice mutated: %q", owned[0].ID)
	}
}

func TestUniqueIDs_SuffixCollision(t *testing.T) {
	groups := []Group{
		{Provider: "a", Products: []product.Product{{ID: "p"}, {ID: "p-1"}}},
		{Provider: "b", Products: []product.Product{{ID: "p"}}},
	}
	uniqueIDs(groups)
	out := flatten(groups)
	seen := map[string]bool{}
	for _, p := range out {
		if seen[p.ID] {
			t.Fatalf("duplicate id %q in %v", p.ID, out)
		}
		seen[p.ID] = true
	}
	if out[2].ID != "p-2" {
		t.Errorf("third id = %q, want p-2", out[2].ID)
	}
}

func TestTextSearch_InvalidQuery(t *testing.T) {
	p := okProvider("a")
	svc := newTestService(Config{}, p)

	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := svc.TextSearch(context.Background(), TextQuery{Query: q})
		if !errors.Is(err, domain.ErrInvalidQuery) {
			t.Errorf("query %q: err = %v, want ErrInvalidQuery", q, err)
		}
	}
	if len(p.calls()) != 0 {
		t.Error("providers must not be called for an invalid query")
	}
}

func TestTextSearch_InvalidParameter(t *testing.T) {
	svc := newTestService(Config{}, okProvider("a"))
	_, err := svc.TextSearch(context.Background(), TextQuery{Query: "tv", Country: "USA"})
	if !errors.Is(err, domain.ErrInvalidParameter) {
		t.Errorf("err = %v, want ErrInvalidParameter", err)
	}
}

func TestTextSearch_PassesRequestToProviders(t *testing.T) {
	p := okProvider("a")
	svc := newTestService(Config{Defaults: request.Defaults{Country: "IN", Limit: 5}}, p)

	_, err := svc.TextSearch(context.Background(), TextQuery{Query: "  usb   cable ", Page: 3})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	calls := p.calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	got := calls[0]
	if got.Query() != "usb cable" || got.Page() != 3 || got.Limit() != 5 || got.Country() != "IN" || got.Language() != "en" {
		t.Errorf("request = %q page=%d limit=%d country=%s lang=%s",
			got.Query(), got.Page(), got.Limit(), got.Country(), got.Language())
	}
}

func TestTextSearch_ClientCancelDoesNotAbortProviders(t *testing.T) {
	p := &mockProvider{name: "a", fn: func(ctx context.Context, _ request.Request) ([]product.Product, error) {
		if err := ctx.Err(); err != nil {
			return []product.Product{}, err
		}
		return []product.Product{{ID: "1"}}, nil
	}}
	svc := newTestService(Config{}, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := svc.TextSearch(ctx, TextQuery{Query: "mouse"})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if res.Total != 1 {
		t.Errorf("total = %d, want 1 (client cancel must not reach providers)", res.Total)
	}
}

func TestTextSearch_ProviderPanicIsContained(t *testing.T) {
	boom := &mockProvider{name: "boom", fn: func(context.Context, request.Request) ([]product.Product, error) {
		panic("nil map")
	}}
	svc := newTestService(Config{}, boom, okProvider("ok", product.Product{ID: "1"}))

	res, err := svc.TextSearch(context.Background(), TextQuery{Query: "desk"})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	st := statusByName(t, res.Providers, "boom")
	if st.OK || st.Error == "" {
		t.Errorf("boom status = %+v", st)
	}
	if res.Total != 1 {
		t.Errorf("total = %d, want 1", res.Total)
	}
}

func TestTextSearch_NilProductsBecomeEmpty(t *testing.T) {
	svc := newTestService(Config{}, okProvider("a"))
	res, err := svc.TextSearch(context.Background(), TextQuery{Query: "pen"})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if g := groupByName(t, res, "a"); g.Products == nil {
		t.Error("products must be a non-nil empty slice")
	}
	if st := statusByName(t, res.Providers, "a"); !st.OK {
		t.Errorf("empty success should be OK, got %+v", st)
	}
}

func TestTextSearch_ConcurrencyLimit(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	mk := func(name string) *mockProvider {
		return &mockProvider{name: name, fn: func(context.Context, request.Request) ([]product.Product, error) {
			mu.Lock()
			inFlight++
			peak = max(peak, inFlight)
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return []product.Product{}, nil
		}}
	}
	svc := newTestService(Config{MaxConcurrent: 2}, mk("a"), mk("b"), mk("c"), mk("d"), mk("e"))

	if _, err := svc.TextSearch(context.Background(), TextQuery{Query: "lamp"}); err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestNew_Defaults(t *testing.T) {
	svc := New(nil, nil, nil, Config{Shape: "bogus"})
	if svc.cfg.Shape != shape.Grouped {
		t.Errorf("shape = %q, want grouped", svc.cfg.Shape)
	}
	if svc.cfg.Deadline != defaultDeadline || svc.cfg.MaxConcurrent != defaultMaxConcurrent {
		t.Errorf("deadline=%v maxConcurrent=%d", svc.cfg.Deadline, svc.cfg.MaxConcurrent)
	}
	if svc.cfg.ImageCountry != "IN" || svc.cfg.ImageLimit != 10 {
		t.Errorf("image country=%s limit=%d", svc.cfg.ImageCountry, svc.cfg.ImageLimit)
	}
}
