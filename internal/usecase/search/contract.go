package search

import (
	"context"

	"github.com/kailas-cloud/shoplens/internal/domain/product"
	"github.com/kailas-cloud/shoplens/internal/domain/search/request"
	"github.com/kailas-cloud/shoplens/internal/domain/vision"
)

// Provider searches one upstream product catalogue.
// On failure it returns an empty, non-nil slice together with the error.
type Provider interface {
	Name() string
	Search(ctx context.Context, req request.Request) ([]product.Product, error)
}

// Classifier detects labelled objects in an image.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, image []byte) ([]vision.DetectedObject, error)
}

// SimilarityTagger produces descriptive tags for an image file on disk.
type SimilarityTagger interface {
	Tag(ctx context.Context, imagePath string) (vision.SimilarTags, error)
}
