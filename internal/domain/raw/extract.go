package raw

// Strategy locates the product array inside a decoded provider response.
// A strategy that matches an empty array still stops the chain.
type Strategy interface {
	Name() string
	Find(doc any) ([]any, bool)
}

// pathStrategy matches when the value at a fixed path is an array.
type pathStrategy struct {
	path string
}

// AtPath returns a strategy reading the array at a dotted path such as "data.products".
func AtPath(path string) Strategy { return pathStrategy{path: path} }

func (s pathStrategy) Name() string { return s.path }

func (s pathStrategy) Find(doc any) ([]any, bool) {
	obj, ok := doc.(*Object)
	if !ok {
		return nil, false
	}
	v, ok := obj.Lookup(s.path)
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// rootArray matches a response whose body is itself an array.
type rootArray struct{}

// RootArray returns a strategy for bare-array bodies.
func RootArray() Strategy { return rootArray{} }

func (rootArray) Name() string { return "$" }

func (rootArray) Find(doc any) ([]any, bool) {
	arr, ok := doc.([]any)
	return arr, ok
}

// boundedScan returns the first array among top-level values, then among the
// values of top-level objects, both in insertion order. It never goes deeper.
type boundedScan struct{}

// BoundedScan returns the last-resort two-level scan.
func BoundedScan() Strategy { return boundedScan{} }

func (boundedScan) Name() string { return "scan" }

func (boundedScan) Find(doc any) ([]any, bool) {
	obj, ok := doc.(*Object)
	if !ok {
		return nil, false
	}
	for _, k := range obj.Keys() {
		v, _ := obj.Get(k)
		if arr, ok := v.([]any); ok {
			return arr, true
		}
	}
	for _, k := range obj.Keys() {
		v, _ := obj.Get(k)
		child, ok := v.(*Object)
		if !ok {
			continue
		}
		for _, ck := range child.Keys() {
			cv, _ := child.Get(ck)
			if arr, ok := cv.([]any); ok {
				return arr, true
			}
		}
	}
	return nil, false
}

// DefaultStrategies is the extraction order shared by every product provider.
func DefaultStrategies() []Strategy {
	return []Strategy{
		RootArray(),
		AtPath("products"),
		AtPath("data.products"),
		AtPath("results"),
		AtPath("data.results"),
		BoundedScan(),
	}
}

// Extractor runs an ordered chain of strategies.
type Extractor struct {
	strategies []Strategy
}

// NewExtractor creates an extractor. With no strategies the default chain is used.
func NewExtractor(strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies}
}

// Extract returns the product objects and the name of the matching strategy.
// Non-object elements are skipped. The result is never nil; no match yields an
// empty slice and an empty strategy name.
func (e *Extractor) Extract(doc any) ([]*Object, string) {
	for _, s := range e.strategies {
		arr, ok := s.Find(doc)
		if !ok {
			continue
		}
		return objectsOf(arr), s.Name()
	}
	return []*Object{}, ""
}

// ExtractProducts runs the default chain.
func ExtractProducts(doc any) []*Object {
	products, _ := NewExtractor().Extract(doc)
	return products
}

func objectsOf(arr []any) []*Object {
	out := make([]*Object, 0, len(arr))
	for _, v := range arr {
		if obj, ok := v.(*Object); ok {
			out = append(out, obj)
		}
	}
	return out
}
