package health

import "context"

// CachePinger checks result-cache availability.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// VisionChecker checks image-classification provider availability.
type VisionChecker interface {
	HealthCheck(ctx context.Context) error
}

// SimilarityChecker checks the similarity runtime and reports its version.
type SimilarityChecker interface {
	HealthCheck(ctx context.Context) (string, error)
}
