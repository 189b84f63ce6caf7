package request

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/kailas-cloud/shoplens/internal/domain"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum query length in runes after normalization.
	MaxQueryLength  = 512
	DefaultPage     = 1
	MaxPage         = 100
	DefaultLimit    = 20
	MaxLimit        = 100
	DefaultCountry  = "US"
	DefaultLanguage = "en"
)

// Defaults overrides the package defaults; zero fields keep them.
type Defaults struct {
	Country  string
	Language string
	Limit    int
	MaxLimit int
}

// Request is a validated product search query.
type Request struct {
	query    string
	page     int
	limit    int
	country  string
	language string
}

// New validates and normalizes search parameters.
// The query is trimmed, whitespace-collapsed and NFC-normalized. Page defaults
// to 1 and is clamped to MaxPage; limit defaults to d.Limit (20) and is clamped
// to d.MaxLimit (100). Out-of-range integers are clamped, never rejected.
// Country is upper-cased, language lower-cased.
func New(query string, page, limit int, country, language string, d Defaults) (Request, error) {
	q := norm.NFC.String(strings.Join(strings.Fields(query), " "))
	if q == "" {
		return Request{}, domain.ErrInvalidQuery
	}
	if n := len([]rune(q)); n > MaxQueryLength {
		return Request{}, fmt.Errorf("%w: query too long (max %d chars)", domain.ErrInvalidQuery, MaxQueryLength)
	}

	d = d.withFallbacks()

	if page < 1 {
		page = DefaultPage
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit < 1 {
		limit = d.Limit
	}
	if limit > d.MaxLimit {
		limit = d.MaxLimit
	}

	country = strings.TrimSpace(country)
	if country == "" {
		country = d.Country
	}
	if !isLetters(country, 2, 2) {
		return Request{}, fmt.Errorf("%w: country must be a two-letter code", domain.ErrInvalidParameter)
	}

	language = strings.TrimSpace(language)
	if language == "" {
		language = d.Language
	}
	if !isLetters(language, 2, 3) {
		return Request{}, fmt.Errorf("%w: language must be a two- or three-letter code", domain.ErrInvalidParameter)
	}

	return Request{
		query:    q,
		page:     page,
		limit:    limit,
		country:  strings.ToUpper(country),
		language: strings.ToLower(language),
	}, nil
}

func (d Defaults) withFallbacks() Defaults {
	if d.Country == "" {
		d.Country = DefaultCountry
	}
	if d.Language == "" {
		d.Language = DefaultLanguage
	}
	if d.MaxLimit <= 0 {
		d.MaxLimit = MaxLimit
	}
	if d.Limit <= 0 {
		d.Limit = DefaultLimit
	}
	if d.Limit > d.MaxLimit {
		d.Limit = d.MaxLimit
	}
	return d
}

func isLetters(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i] | 0x20
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

// Query returns the normalized search text.
func (r *Request) Query() string { return r.query }

// Page returns the 1-based result page.
func (r *Request) Page() int { return r.page }

// Limit returns the maximum products per provider.
func (r *Request) Limit() int { return r.limit }

// Country returns the upper-case ISO country code.
func (r *Request) Country() string { return r.country }

// Language returns the lower-case language code.
func (r *Request) Language() string { return r.language }
