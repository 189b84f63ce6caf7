package search

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"

	"github.com/kailas-cloud/shoplens/internal/domain/product"
	"github.com/kailas-cloud/shoplens/internal/domain/search/request"
	"github.com/kailas-cloud/shoplens/internal/logger"
)

const trendingLimit = 2

// TrendingSlot is one entry of the trending response.
// Store, when set, is matched against product brands by storeMatches.
type TrendingSlot struct {
	Key      string
	Provider string
	Store    string
}

// TrendingProduct is a product picked for a trending slot.
type TrendingProduct struct {
	product.Product
	TrendingQuery string `json:"trendingQuery"`
	// Fallback is true when no live product matched the slot.
	Fallback bool `json:"fallback"`
}

// TrendingEntry pairs a slot key with its product.
type TrendingEntry struct {
	Key     string
	Product TrendingProduct
}

// TrendingResult holds one product per configured slot, in slot order.
type TrendingResult struct {
	Entries   []TrendingEntry
	Providers []ProviderStatus
}

// Trending searches the trending queries on every slot provider and fills each
// slot with the first matching live product, or a fixed fallback product.
func (s *Service) Trending(ctx context.Context) TrendingResult {
	log := logger.FromContext(ctx)

	var calls []call
	for _, q := range s.cfg.TrendingQueries {
		req, err := request.New(q, 1, trendingLimit, s.cfg.Defaults.Country, s.cfg.Defaults.Language, s.cfg.Defaults)
		if err != nil {
			log.Warn("skipping trending query", zap.String("query", q), zap.Error(err))
			continue
		}
		for _, p := range s.trendingProviders() {
			calls = append(calls, call{provider: p, req: req})
		}
	}

	outcomes := s.dispatch(ctx, calls)

	res := TrendingResult{
		Entries:   make([]TrendingEntry, 0, len(s.cfg.TrendingSlots)),
		Providers: aggregateStatuses(outcomes),
	}
	for _, slot := range s.cfg.TrendingSlots {
		tp, ok := pickTrending(slot, calls, outcomes)
		if !ok {
			tp = s.fallbackTrending(slot.Key)
		}
		res.Entries = append(res.Entries, TrendingEntry{Key: slot.Key, Product: tp})
	}

	live := 0
	for _, e := range res.Entries {
		if !e.Product.Fallback {
			live++
		}
	}
	log.Info("trending products",
		zap.Int("slots", len(res.Entries)),
		zap.Int("live", live),
		zap.Int("calls", len(calls)),
	)

	return res
}

// trendingProviders returns the configured providers referenced by slots, deduplicated.
func (s *Service) trendingProviders() []Provider {
	seen := make(map[string]bool)
	var out []Provider
	for _, slot := range s.cfg.TrendingSlots {
		p, ok := s.byName[slot.Provider]
		if !ok || seen[slot.Provider] {
			continue
		}
		seen[slot.Provider] = true
		out = append(out, p)
	}
	return out
}

func pickTrending(slot TrendingSlot, calls []call, outcomes []outcome) (TrendingProduct, bool) {
	for i, c := range calls {
		if c.provider.Name() != slot.Provider {
			continue
		}
		for _, p := range outcomes[i].products {
			if storeMatches(slot.Store, p.Brand) {
				return TrendingProduct{Product: p, TrendingQuery: c.req.Query()}, true
			}
		}
	}
	return TrendingProduct{}, false
}

// maxStoreDistance bounds how far a brand word may stray from the store name
// (accents and case are ignored first).
const maxStoreDistance = 1

// storeMatches reports whether brand belongs to store: the brand contains the
// store name case-insensitively, or one brand word equals it up to accents,
// case and a single extra letter. An empty store matches any brand.
func storeMatches(store, brand string) bool {
	store = strings.TrimSpace(store)
	if store == "" {
		return true
	}
	if strings.Contains(strings.ToLower(brand), strings.ToLower(store)) {
		return true
	}
	words := strings.FieldsFunc(brand, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r)
	})
	for _, w := range words {
		if d := fuzzy.RankMatchNormalizedFold(store, w); d >= 0 && d <= maxStoreDistance {
			return true
		}
	}
	return false
}

// aggregateStatuses folds per-call statuses into one per provider: OK when any
// call succeeded, counts summed, latency the slowest call.
func aggregateStatuses(outcomes []outcome) []ProviderStatus {
	index := make(map[string]int)
	var out []ProviderStatus
	for _, o := range outcomes {
		i, ok := index[o.status.Name]
		if !ok {
			index[o.status.Name] = len(out)
			out = append(out, ProviderStatus{Name: o.status.Name, Error: o.status.Error})
			i = len(out) - 1
		}
		agg := &out[i]
		agg.Count += o.status.Count
		agg.LatencyMs = max(agg.LatencyMs, o.status.LatencyMs)
		if o.status.OK {
			agg.OK = true
		} else if agg.Error == "" {
			agg.Error = o.status.Error
		}
	}
	for i := range out {
		if out[i].OK {
			out[i].Error = ""
		}
	}
	return out
}

type fallbackProduct struct {
	query string
	p     product.Product
}

var trendingFallbacks = map[string]fallbackProduct{
	"amazon": {
		query: "smart speaker",
		p: product.Product{
			Title:       "Amazon Echo Dot (4th Gen) - Smart Speaker",
			Price:       "2999.00",
			Image:       "https://m.media-amazon.com/images/I/714Rq4k05UL._SL1000_.jpg",
			URL:         "https://www.amazon.in",
			Rating:      4.5,
			Reviews:     1250,
			Description: "Smart speaker with Alexa | Charcoal",
			Brand:       "Amazon",
			Source:      "Amazon",
		},
	},
	"flipkart": {
		query: "running shoes",
		p: product.Product{
			Title:       "Nike Air Max Running Shoes",
			Price:       "2499.00",
			Image:       "https://rukminim2.flixcart.com/image/832/832/xif0q/shoe/0/6/2/-original-imagzrf2gqgqgk7z.jpeg",
			URL:         "https://www.flipkart.com",
			Rating:      4.3,
			Reviews:     890,
			Description: "Comfortable running shoes with air cushioning",
			Brand:       "Nike",
			Source:      "Flipkart",
		},
	},
	"myntra": {
		query: "jeans",
		p: product.Product{
			Title:       "Levi's Men's Slim Fit Jeans",
			Price:       "1899.00",
			Image:       "https://assets.myntassets.com/h_720,q_90,w_540/v1/assets/images/24644538/2023/8/18/7e2e2c2e-2e2e-4e2e-8e2e-2e2e2e2e2e2e1692342342342-1.jpg",
			URL:         "https://www.myntra.com",
			Rating:      4.2,
			Reviews:     567,
			Description: "Classic blue denim jeans with perfect fit",
			Brand:       "Levi's",
			Source:      "Myntra",
		},
	},
}

// fallbackTrending returns the fixed product for a slot; unknown slots get the amazon one.
func (s *Service) fallbackTrending(key string) TrendingProduct {
	fb, ok := trendingFallbacks[key]
	if !ok {
		fb = trendingFallbacks["amazon"]
	}
	p := fb.p
	p.ID = fmt.Sprintf("trending-%s-%d", key, s.now().UnixMilli())
	p.Availability = product.DefaultAvailability
	return TrendingProduct{Product: p, TrendingQuery: fb.query, Fallback: true}
}
