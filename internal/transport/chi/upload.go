package chi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/kailas-cloud/shoplens/internal/domain"
	searchuc "github.com/kailas-cloud/shoplens/internal/usecase/search"
)

const (
	imageField = "image"
	// multipartOverhead is allowed on top of the file size for boundaries and headers.
	multipartOverhead = 1 << 20
	// sniffLen is how much of the file http.DetectContentType looks at.
	sniffLen = 512
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// UploadConfig controls image upload intake.
type UploadConfig struct {
	Dir          string
	MaxBytes     int64
	AllowedTypes []string
}

// receiveUpload streams exactly one "image" file part into the upload directory.
// The declared type, the file extension and the sniffed content must all be
// images. Non-file form fields are ignored. On error nothing is left on disk.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (searchuc.ImageUpload, error) {
	maxBytes := s.cfg.Upload.MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		return searchuc.ImageUpload{}, fmt.Errorf("%w: %w", domain.ErrMissingImage, err)
	}

	var up searchuc.ImageUpload
	discard := func() {
		if up.Path != "" {
			_ = os.Remove(up.Path)
		}
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			discard()
			return searchuc.ImageUpload{}, uploadReadError(err)
		}

		if part.FileName() == "" {
			_ = part.Close()
			continue
		}
		if part.FormName() != imageField || up.Path != "" {
			_ = part.Close()
			discard()
			return searchuc.ImageUpload{}, fmt.Errorf("%w: %q", domain.ErrUnexpectedField, part.FormName())
		}

		contentType := mediaType(part.Header.Get("Content-Type"))
		if !slices.Contains(s.cfg.Upload.AllowedTypes, contentType) {
			_ = part.Close()
			return searchuc.ImageUpload{}, fmt.Errorf("%w: got %q", domain.ErrUnsupportedImageType, contentType)
		}
		if safeExt(part.FileName()) == "" {
			_ = part.Close()
			return searchuc.ImageUpload{}, fmt.Errorf("%w: file name %q", domain.ErrUnsupportedImageType, filepath.Base(part.FileName()))
		}

		up, err = s.saveImage(part, maxBytes)
		_ = part.Close()
		if err != nil {
			return searchuc.ImageUpload{}, err
		}
	}

	if up.Path == "" {
		return searchuc.ImageUpload{}, domain.ErrMissingImage
	}
	return up, nil
}

func (s *Server) saveImage(part *multipart.Part, maxBytes int64) (searchuc.ImageUpload, error) {
	original := part.FileName()

	head := make([]byte, sniffLen)
	hn, err := io.ReadFull(part, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return searchuc.ImageUpload{}, uploadReadError(err)
	}
	head = head[:hn]
	if detected := http.DetectContentType(head); !slices.Contains(s.cfg.Upload.AllowedTypes, detected) {
		return searchuc.ImageUpload{}, fmt.Errorf("%w: content is %q", domain.ErrUnsupportedImageType, detected)
	}

	if err := os.MkdirAll(s.cfg.Upload.Dir, 0o750); err != nil {
		return searchuc.ImageUpload{}, fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(s.cfg.Upload.Dir, "image-"+uuid.NewString()+safeExt(original))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // name is generated
	if err != nil {
		return searchuc.ImageUpload{}, fmt.Errorf("create upload file: %w", err)
	}

	body := io.MultiReader(bytes.NewReader(head), part)
	n, copyErr := io.Copy(f, io.LimitReader(body, maxBytes+1))
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return searchuc.ImageUpload{}, uploadReadError(copyErr)
	case n > maxBytes:
		_ = os.Remove(path)
		return searchuc.ImageUpload{}, fmt.Errorf("%w: maximum size is %s", domain.ErrImageTooLarge, humanBytes(maxBytes))
	case closeErr != nil:
		_ = os.Remove(path)
		return searchuc.ImageUpload{}, fmt.Errorf("write upload file: %w", closeErr)
	}

	return searchuc.ImageUpload{Path: path, OriginalName: filepath.Base(original), Size: n}, nil
}

func uploadReadError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return fmt.Errorf("%w: request body over %d bytes", domain.ErrImageTooLarge, mbe.Limit)
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidUpload, err)
}

func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}

// safeExt returns the lower-cased extension of the client file name when it is
// an image extension (.jpg, .jpeg, .png), else "".
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if !imageExts[ext] {
		return ""
	}
	return ext
}

func humanBytes(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}
