package domain

import "errors"

var (
	// ErrInvalidQuery signals a missing or blank search query.
	ErrInvalidQuery = errors.New("search query is required")
	// ErrInvalidParameter signals a malformed paging or locale parameter.
	ErrInvalidParameter = errors.New("invalid request parameter")
	// ErrMissingImage signals an image search without an uploaded file.
	ErrMissingImage = errors.New("no image file uploaded")
	// ErrUnsupportedImageType signals an upload with a disallowed content type.
	ErrUnsupportedImageType = errors.New("invalid file type, only JPG and PNG files are allowed")
	// ErrImageTooLarge signals an upload over the configured size cap.
	ErrImageTooLarge = errors.New("file too large")
	// ErrUnexpectedField signals a multipart file under a field other than "image".
	ErrUnexpectedField = errors.New("unexpected file field")
	// ErrInvalidUpload signals an unreadable multipart body.
	ErrInvalidUpload = errors.New("malformed upload")

	// ErrProviderError signals an upstream product-search failure.
	ErrProviderError = errors.New("provider error")
	// ErrProviderUnauthorized signals an upstream auth rejection (401/403).
	ErrProviderUnauthorized = errors.New("invalid provider api key")
	// ErrRateLimited signals an upstream rate limit hit.
	ErrRateLimited = errors.New("api rate limit exceeded")
	// ErrVisionError signals an image-classification failure.
	ErrVisionError = errors.New("vision error")
	// ErrSimilarityUnavailable signals that the similarity runtime cannot be used.
	ErrSimilarityUnavailable = errors.New("similarity service not available")
)
