// Package product defines the canonical product record every provider is normalized into.
package product

// Typed defaults for data a provider did not supply.
const (
	TitleNotAvailable   = "Title not available"
	UnknownBrand        = "Unknown Brand"
	DefaultAvailability = "In Stock"
	placeholderImageFmt = "https://picsum.photos/300/300?random=%d"
	mockIDFmt           = "mock-%d-%d"
)

// Product is the normalized record returned to clients.
// Every field is always set; absent upstream data is replaced by a typed default.
type Product struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Price        string  `json:"price"`
	Image        string  `json:"image"`
	URL          string  `json:"url"`
	Rating       float64 `json:"rating"`
	Reviews      int     `json:"reviews"`
	Description  string  `json:"description"`
	Brand        string  `json:"brand"`
	Availability string  `json:"availability"`
	Source       string  `json:"source"`
	// Estimated is true when rating or reviews were synthesized rather than provided.
	Estimated bool `json:"estimated"`
}
