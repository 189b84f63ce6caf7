package shape

// Shape is how merged provider results are laid out in a response.
type Shape string

// Result shapes.
const (
	// Grouped keys each provider's products by provider name.
	Grouped Shape = "grouped"
	// Flat concatenates all providers' products in configured order.
	Flat Shape = "flat"
)

// IsValid checks if the shape is one of the supported values.
func (s Shape) IsValid() bool {
	return s == Grouped || s == Flat
}
