package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/shoplens/internal/domain"
	"github.com/kailas-cloud/shoplens/internal/logger"
)

// errorCode is the machine-readable error identifier in error bodies.
type errorCode string

const (
	codeInvalidQuery          errorCode = "invalid_query"
	codeInvalidParameter      errorCode = "invalid_parameter"
	codeMissingImage          errorCode = "missing_image"
	codeUnsupportedImageType  errorCode = "unsupported_image_type"
	codeImageTooLarge         errorCode = "image_too_large"
	codeUnexpectedField       errorCode = "unexpected_field"
	codeInvalidUpload         errorCode = "invalid_upload"
	codeProviderUnauthorized  errorCode = "provider_unauthorized"
	codeRateLimited           errorCode = "rate_limited"
	codeSimilarityUnavailable errorCode = "similarity_unavailable"
	codeNotFound              errorCode = "not_found"
	codeInternal              errorCode = "internal_error"
)

type errorResponse struct {
	Success bool      `json:"success"`
	Error   string    `json:"error"`
	Code    errorCode `json:"code"`
	Stack   string    `json:"stack,omitempty"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// clientErrors carry caller-supplied detail only, so their full text is safe to return.
var clientErrors = []error{
	domain.ErrInvalidQuery,
	domain.ErrInvalidParameter,
	domain.ErrMissingImage,
	domain.ErrUnsupportedImageType,
	domain.ErrImageTooLarge,
	domain.ErrUnexpectedField,
	domain.ErrInvalidUpload,
}

// upstreamErrors are reported by their sentinel text only.
var upstreamErrors = []error{
	domain.ErrProviderUnauthorized,
	domain.ErrRateLimited,
	domain.ErrSimilarityUnavailable,
}

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, codeInvalidQuery),
		sentinelHandler(domain.ErrInvalidParameter, http.StatusBadRequest, codeInvalidParameter),
		sentinelHandler(domain.ErrMissingImage, http.StatusBadRequest, codeMissingImage),
		sentinelHandler(domain.ErrUnsupportedImageType, http.StatusBadRequest, codeUnsupportedImageType),
		sentinelHandler(domain.ErrUnexpectedField, http.StatusBadRequest, codeUnexpectedField),
		sentinelHandler(domain.ErrInvalidUpload, http.StatusBadRequest, codeInvalidUpload),
		sentinelHandler(domain.ErrImageTooLarge, http.StatusRequestEntityTooLarge, codeImageTooLarge),
		sentinelHandler(domain.ErrProviderUnauthorized, http.StatusUnauthorized, codeProviderUnauthorized),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		sentinelHandler(domain.ErrSimilarityUnavailable, http.StatusServiceUnavailable, codeSimilarityUnavailable),
	}
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// safeDomainMessage returns a message for the client without exposing internals.
func safeDomainMessage(err error) string {
	for _, s := range clientErrors {
		if errors.Is(err, s) {
			return err.Error()
		}
	}
	for _, s := range upstreamErrors {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))

	msg := safeDomainMessage(err)
	if s.cfg.ExposeErrorDetails {
		msg = err.Error()
	}
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}

	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}
