package product

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/shoplens/internal/domain/raw"
)

// Fallback chains: the first non-empty, correctly-typed value wins.
// The first alias of each chain is the canonical JSON name, so a normalized
// product normalizes to itself.
var (
	idKeys           = []string{"id", "asin", "product_id", "productId"}
	titleKeys        = []string{"title", "product_title", "name", "productName"}
	priceKeys        = []string{"price", "product_price", "price_str", "offer.price", "typical_price_range[0]"}
	imageKeys        = []string{"image", "product_photo", "thumbnail", "image_url", "product_photos[0]", "images[0]"}
	urlKeys          = []string{"url", "product_url", "product_offer_page_url", "product_page_url", "link"}
	ratingKeys       = []string{"rating", "product_star_rating", "product_rating"}
	reviewKeys       = []string{"reviews", "product_num_reviews", "product_num_ratings", "reviews_count"}
	descriptionKeys  = []string{"description", "product_description"}
	featureKeys      = []string{"features", "product_features"}
	brandKeys        = []string{"brand", "store_name", "manufacturer"}
	availabilityKeys = []string{"availability", "product_availability"}
)

// Random is the randomness source for synthesized ratings and review counts.
// *math/rand/v2.Rand satisfies it.
type Random interface {
	Float64() float64
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() } //nolint:gosec // placeholder data, not security
func (globalRand) IntN(n int) int   { return rand.IntN(n) }   //nolint:gosec // placeholder data, not security

// Normalizer maps loosely-typed provider objects onto Product.
// It is safe for concurrent use as long as its Random is.
type Normalizer struct {
	source     string
	synthesize bool
	rnd        Random
	now        func() time.Time
}

// NewNormalizer creates a normalizer that stamps products with source.
// Missing rating and review counts are synthesized by default.
func NewNormalizer(source string) *Normalizer {
	return &Normalizer{
		source:     source,
		synthesize: true,
		rnd:        globalRand{},
		now:        time.Now,
	}
}

// WithSynthesizedStats toggles placeholder ratings and review counts.
// When off, missing values stay zero and Estimated stays false.
func (n *Normalizer) WithSynthesizedStats(on bool) *Normalizer {
	n.synthesize = on
	return n
}

// WithRandom replaces the randomness source.
func (n *Normalizer) WithRandom(r Random) *Normalizer {
	if r != nil {
		n.rnd = r
	}
	return n
}

// WithClock replaces the clock used for synthesized identifiers.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	if now != nil {
		n.now = now
	}
	return n
}

// Source returns the provider name stamped on products.
func (n *Normalizer) Source() string { return n.source }

// NormalizeAll normalizes a provider list, using list positions as indexes.
func (n *Normalizer) NormalizeAll(items []*raw.Object) []Product {
	out := make([]Product, len(items))
	for i, item := range items {
		out[i] = n.Normalize(item, i)
	}
	return out
}

// Normalize maps one raw provider object onto a fully-populated Product.
// index keeps synthesized identifiers and placeholder images unique within a list.
func (n *Normalizer) Normalize(obj *raw.Object, index int) Product {
	p := Product{
		ID:           firstID(obj),
		Title:        firstText(obj, titleKeys),
		Price:        PriceNotAvailable,
		Image:        firstText(obj, imageKeys),
		URL:          firstText(obj, urlKeys),
		Description:  firstText(obj, descriptionKeys),
		Brand:        firstText(obj, brandKeys),
		Availability: firstText(obj, availabilityKeys),
		Source:       n.source,
	}

	if p.ID == "" {
		p.ID = fmt.Sprintf(mockIDFmt, n.now().UnixMilli(), index)
	}
	if p.Title == "" {
		p.Title = TitleNotAvailable
	}
	if v, ok := firstPresent(obj, priceKeys); ok {
		p.Price = ParsePrice(v)
	}
	switch {
	case p.Image == "":
		p.Image = fmt.Sprintf(placeholderImageFmt, index)
	case strings.HasPrefix(p.Image, "//"):
		p.Image = "https:" + p.Image
	}
	if p.Description == "" {
		p.Description = joinedFeatures(obj)
	}
	if p.Brand == "" {
		p.Brand = UnknownBrand
	}
	if p.Availability == "" {
		p.Availability = DefaultAvailability
	}
	if p.Source == "" {
		p.Source = firstText(obj, []string{"source"})
	}

	if est, ok := lookup(obj, "estimated"); ok {
		p.Estimated, _ = est.(bool)
	}

	if rating, ok := firstRating(obj); ok {
		p.Rating = rating
	} else if n.synthesize {
		p.Rating = math.Round((3+n.rnd.Float64()*2)*10) / 10
		p.Estimated = true
	}

	if reviews, ok := firstReviews(obj); ok {
		p.Reviews = reviews
	} else if n.synthesize {
		p.Reviews = 50 + n.rnd.IntN(1000)
		p.Estimated = true
	}

	return p
}

func lookup(obj *raw.Object, key string) (any, bool) {
	if obj == nil {
		return nil, false
	}
	v, ok := obj.Lookup(key)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// firstPresent returns the first non-null, non-blank value in the chain.
func firstPresent(obj *raw.Object, keys []string) (any, bool) {
	for _, k := range keys {
		v, ok := lookup(obj, k)
		if !ok {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func firstText(obj *raw.Object, keys []string) string {
	for _, k := range keys {
		v, ok := lookup(obj, k)
		if !ok {
			continue
		}
		if s, isStr := v.(string); isStr {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstID(obj *raw.Object) string {
	for _, k := range idKeys {
		v, ok := lookup(obj, k)
		if !ok {
			continue
		}
		switch id := v.(type) {
		case string:
			if id = strings.TrimSpace(id); id != "" {
				return id
			}
		case json.Number:
			return id.String()
		}
	}
	return ""
}

func firstRating(obj *raw.Object) (float64, bool) {
	for _, k := range ratingKeys {
		v, ok := lookup(obj, k)
		if !ok {
			continue
		}
		if f, ok := leadingFloat(v); ok && f > 0 {
			return f, true
		}
	}
	return 0, false
}

func firstReviews(obj *raw.Object) (int, bool) {
	for _, k := range reviewKeys {
		v, ok := lookup(obj, k)
		if !ok {
			continue
		}
		f, ok := leadingFloat(v)
		if ok && f >= 1 {
			return int(f), true
		}
	}
	return 0, false
}

// leadingFloat reads numbers and numeric prefixes of strings ("4.5 out of 5",
// "1,234 ratings"). Thousands separators are dropped.
func leadingFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		end := 0
		for end < len(s) && ((s[end] >= '0' && s[end] <= '9') || s[end] == '.') {
			end++
		}
		num := leadingDecimal(s[:end])
		if num == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(num, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func joinedFeatures(obj *raw.Object) string {
	for _, k := range featureKeys {
		v, ok := lookup(obj, k)
		if !ok {
			continue
		}
		switch f := v.(type) {
		case string:
			if s := strings.TrimSpace(f); s != "" {
				return s
			}
		case []any:
			parts := make([]string, 0, len(f))
			for _, item := range f {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					parts = append(parts, strings.TrimSpace(s))
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, " ")
			}
		}
	}
	return ""
}
