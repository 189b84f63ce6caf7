package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
	// Details carries informational values such as runtime versions.
	Details map[string]string
}

// Service coordinates readiness checks. Every dependency is optional;
// components that are not configured are left out of the report.
type Service struct {
	cache      CachePinger
	vision     VisionChecker
	similarity SimilarityChecker
}

// New creates a Service. Any argument can be nil.
func New(cache CachePinger, vision VisionChecker, similarity SimilarityChecker) *Service {
	return &Service{cache: cache, vision: vision, similarity: similarity}
}

// Check runs health checks against all configured components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	details := make(map[string]string)

	if s.cache != nil {
		checks["cache"] = result(s.cache.Ping(ctx))
	}

	if s.vision != nil {
		checks["vision"] = result(s.vision.HealthCheck(ctx))
	}

	if s.similarity != nil {
		version, err := s.similarity.HealthCheck(ctx)
		checks["similarity"] = result(err)
		if err == nil && version != "" {
			details["similarity"] = version
		}
	}

	status := Healthy
	failed := 0
	for _, v := range checks {
		if v == CheckError {
			failed++
		}
	}
	switch {
	case failed == 0:
	case failed == len(checks) && failed > 1:
		status = Unhealthy
	default:
		status = Degraded
	}

	return Report{Status: status, Checks: checks, Details: details}
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
