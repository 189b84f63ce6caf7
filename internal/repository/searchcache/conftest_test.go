package searchcache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/shoplens/internal/db"
	"github.com/kailas-cloud/shoplens/internal/domain/product"
	"github.com/kailas-cloud/shoplens/internal/domain/search/request"
)

type mockProvider struct {
	name     string
	products []product.Product
	err      error
	calls    int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Search(_ context.Context, _ request.Request) ([]product.Product, error) {
	m.calls++
	if m.err != nil {
		return []product.Product{}, m.err
	}
	return m.products, nil
}

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	data  map[string][]byte
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = value
	return nil
}

func newTestCachedProvider(t *testing.T, inner *mockProvider) (*CachedProvider, *mockKVStore) {
	t.Helper()
	ms := &mockKVStore{}
	return New(inner, ms, time.Minute, "", nil, zap.NewNop()), ms
}

func mustRequest(t *testing.T, q string, page int) request.Request {
	t.Helper()
	req, err := request.New(q, page, 10, "US", "en", request.Defaults{})
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}
	return req
}
