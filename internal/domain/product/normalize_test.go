package product

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/shoplens/internal/domain/raw"
)

type fixedRand struct {
	f float64
	n int
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) IntN(int) int     { return r.n }

var fixedNow = func() time.Time { return time.UnixMilli(1700000000000) }

func newTestNormalizer(source string) *Normalizer {
	return NewNormalizer(source).
		WithRandom(fixedRand{f: 0.5, n: 100}).
		WithClock(fixedNow)
}

func decodeObject(t *testing.T, s string) *raw.Object {
	t.Helper()
	doc, err := raw.Decode([]byte(s))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	obj, ok := doc.(*raw.Object)
	if !ok {
		t.Fatalf("expected object, got %T", doc)
	}
	return obj
}

func TestNormalize_EmptyObject(t *testing.T) {
	p := newTestNormalizer("amazon").Normalize(raw.NewObject(), 3)

	want := Product{
		ID:           "mock-1700000000000-3",
		Title:        TitleNotAvailable,
		Price:        PriceNotAvailable,
		Image:        "https://picsum.photos/300/300?random=3",
		URL:          "",
		Rating:       4.0,
		Reviews:      150,
		Description:  "",
		Brand:        UnknownBrand,
		Availability: DefaultAvailability,
		Source:       "amazon",
		Estimated:    true,
	}
	if p != want {
		t.Errorf("Normalize({}) =\n%+v\nwant\n%+v", p, want)
	}
}

func TestNormalize_NilObject(t *testing.T) {
	p := newTestNormalizer("x").Normalize(nil, 0)
	if p.Title != TitleNotAvailable || p.Price != PriceNotAvailable {
		t.Errorf("nil object should normalize to defaults, got %+v", p)
	}
}

func TestNormalize_AmazonShape(t *testing.T) {
	obj := decodeObject(t, `{
		"asin": "B0TEST",
		"product_title": "Noise Cancelling Headphones",
		"product_price": "$199.99",
		"product_photo": "https://m.media-amazon.com/x.jpg",
		"product_url": "https://amazon.com/dp/B0TEST",
		"product_star_rating": "4.6",
		"product_num_ratings": 12034
	}`)
	p := newTestNormalizer("amazon").Normalize(obj, 0)

	if p.ID != "B0TEST" || p.Title != "Noise Cancelling Headphones" {
		t.Errorf("id/title = %q/%q", p.ID, p.Title)
	}
	if p.Price != "199.99" {
		t.Errorf("price = %q, want 199.99", p.Price)
	}
	if p.Image != "https://m.media-amazon.com/x.jpg" || p.URL != "https://amazon.com/dp/B0TEST" {
		t.Errorf("image/url = %q/%q", p.Image, p.URL)
	}
	if p.Rating != 4.6 || p.Reviews != 12034 {
		t.Errorf("rating/reviews = %v/%v, want 4.6/12034", p.Rating, p.Reviews)
	}
	if p.Estimated {
		t.Error("provided stats must not be flagged as estimated")
	}
}

func TestNormalize_ProductSearchShape(t *testing.T) {
	obj := decodeObject(t, `{
		"product_id": 98765,
		"product_title": "Running Shoes",
		"typical_price_range": ["₹2,999", "₹3,499"],
		"product_photos": ["//cdn.example.com/shoe.jpg"],
		"product_page_url": "https://store.example.com/shoe",
		"product_rating": 4.1,
		"product_num_reviews": "1,250 reviews",
		"product_features": ["Breathable", "Lightweight"],
		"store_name": "ShoeCo"
	}`)
	p := newTestNormalizer("productSearch").Normalize(obj, 0)

	if p.ID != "98765" {
		t.Errorf("numeric id = %q, want 98765", p.ID)
	}
	if p.Price != "2999.00" {
		t.Errorf("price = %q, want 2999.00", p.Price)
	}
	if p.Image != "https://cdn.example.com/shoe.jpg" {
		t.Errorf("protocol-relative image = %q", p.Image)
	}
	if p.Reviews != 1250 {
		t.Errorf("reviews = %d, want 1250", p.Reviews)
	}
	if p.Description != "Breathable Lightweight" {
		t.Errorf("description = %q", p.Description)
	}
	if p.Brand != "ShoeCo" {
		t.Errorf("brand = %q", p.Brand)
	}
	if p.Source != "productSearch" {
		t.Errorf("source = %q", p.Source)
	}
}

func TestNormalize_FallbackOrder(t *testing.T) {
	obj := decodeObject(t, `{"name":"second","title":"","price":null,"price_str":"$5","offer":{"price":"$9"}}`)
	p := newTestNormalizer("s").Normalize(obj, 0)
	if p.Title != "second" {
		t.Errorf("blank title must fall through, got %q", p.Title)
	}
	if p.Price != "5.00" {
		t.Errorf("null price must fall through to price_str, got %q", p.Price)
	}
}

func TestNormalize_UnparseablePriceDoesNotFallThrough(t *testing.T) {
	obj := decodeObject(t, `{"price":"see site","product_price":"$10"}`)
	p := newTestNormalizer("s").Normalize(obj, 0)
	if p.Price != PriceNotAvailable {
		t.Errorf("price = %q, want %q", p.Price, PriceNotAvailable)
	}
}

func TestNormalize_ExponentPrice(t *testing.T) {
	obj := decodeObject(t, `{"price":1.5e2}`)
	p := newTestNormalizer("s").Normalize(obj, 0)
	if p.Price != "150.00" {
		t.Errorf("price = %q, want 150.00", p.Price)
	}
}

func TestNormalize_NonPositiveStatsAreAbsent(t *testing.T) {
	obj := decodeObject(t, `{"rating":0,"reviews":-4}`)
	p := newTestNormalizer("s").Normalize(obj, 0)
	if p.Rating != 4.0 || p.Reviews != 150 || !p.Estimated {
		t.Errorf("zero stats should be synthesized, got rating=%v reviews=%v estimated=%v", p.Rating, p.Reviews, p.Estimated)
	}
}

func TestNormalize_SynthesisDisabled(t *testing.T) {
	p := newTestNormalizer("s").WithSynthesizedStats(false).Normalize(raw.NewObject(), 0)
	if p.Rating != 0 || p.Reviews != 0 || p.Estimated {
		t.Errorf("got rating=%v reviews=%v estimated=%v, want zero values", p.Rating, p.Reviews, p.Estimated)
	}
}

func TestNormalize_SynthesizedRange(t *testing.T) {
	for _, f := range []float64{0, 0.25, 0.999} {
		p := NewNormalizer("s").WithRandom(fixedRand{f: f, n: 999}).Normalize(raw.NewObject(), 0)
		if p.Rating < 3.0 || p.Rating > 5.0 {
			t.Errorf("rating %v out of range for f=%v", p.Rating, f)
		}
		if p.Reviews < 50 || p.Reviews > 1049 {
			t.Errorf("reviews %d out of range", p.Reviews)
		}
	}
}

func TestNormalize_SourceFallsBackToRaw(t *testing.T) {
	obj := decodeObject(t, `{"source":"legacy"}`)
	if p := newTestNormalizer("").Normalize(obj, 0); p.Source != "legacy" {
		t.Errorf("source = %q, want legacy", p.Source)
	}
	if p := newTestNormalizer("amazon").Normalize(obj, 0); p.Source != "amazon" {
		t.Errorf("configured source must win, got %q", p.Source)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		`{}`,
		`{"product_title":"A","product_price":"$99.99/mo","product_star_rating":"4.5"}`,
		`{"id":"x","title":"T","price":"1,234.56","rating":3.2,"reviews":7,"brand":"B"}`,
		`{"thumbnail":"//img.example.com/a.png","features":["one","two"]}`,
	}
	n := newTestNormalizer("src")

	for _, in := range inputs {
		first := n.Normalize(decodeObject(t, in), 1)

		b, err := json.Marshal(first)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		// a different clock and rand must not matter on the second pass
		second := NewNormalizer("src").
			WithRandom(fixedRand{f: 0.9, n: 7}).
			WithClock(time.Now).
			Normalize(decodeObject(t, string(b)), 1)

		if first != second {
			t.Errorf("not idempotent for %s:\nfirst  %+v\nsecond %+v", in, first, second)
		}
	}
}

func TestNormalizeAll_UniqueMockIDs(t *testing.T) {
	items := []*raw.Object{raw.NewObject(), raw.NewObject(), raw.NewObject()}
	products := newTestNormalizer("s").NormalizeAll(items)

	seen := map[string]bool{}
	for _, p := range products {
		if seen[p.ID] {
			t.Errorf("duplicate id %q", p.ID)
		}
		seen[p.ID] = true
		if !strings.HasPrefix(p.ID, "mock-") {
			t.Errorf("id %q should be synthesized", p.ID)
		}
	}
}
