// Package vision holds image-classification results and keyword selection.
package vision

// Keyword selection rules.
const (
	// ConfidenceThreshold is exclusive: a detection must score above it to be used.
	ConfidenceThreshold = 0.7
	DefaultKeyword      = "headphones"
)

// BoundingBox is a detected region in relative image coordinates (0..1).
type BoundingBox struct {
	TopRow    float64 `json:"topRow"`
	LeftCol   float64 `json:"leftCol"`
	BottomRow float64 `json:"bottomRow"`
	RightCol  float64 `json:"rightCol"`
}

// DetectedObject is one labelled region returned by a classifier.
type DetectedObject struct {
	Name        string       `json:"name"`
	Confidence  float64      `json:"confidence"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
}

// SelectKeyword picks the most confident detection as a search term.
// Ties go to the first object. When nothing scores above ConfidenceThreshold,
// or the best name is blank, fallback is returned.
func SelectKeyword(detected []DetectedObject, fallback string) string {
	if len(detected) == 0 {
		return fallback
	}

	best := 0
	for i := 1; i < len(detected); i++ {
		if detected[i].Confidence > detected[best].Confidence {
			best = i
		}
	}

	if detected[best].Confidence > ConfidenceThreshold && detected[best].Name != "" {
		return detected[best].Name
	}
	return fallback
}

// SimilarTags is the outcome of a similarity lookup on an uploaded image.
type SimilarTags struct {
	Values []string
	// Mocked is true when Values were generated locally instead of by the similarity model.
	Mocked bool
}
