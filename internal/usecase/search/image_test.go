package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kailas-cloud/shoplens/internal/domain"
	"github.com/kailas-cloud/shoplens/internal/domain/product"
	"github.com/kailas-cloud/shoplens/internal/domain/vision"
)

// --- Mocks ---

type mockClassifier struct {
	objects []vision.DetectedObject
	err     error
	got     []byte
}

func (m *mockClassifier) Name() string { return "mock" }

func (m *mockClassifier) Classify(_ context.Context, image []byte) ([]vision.DetectedObject, error) {
	m.got = image
	return m.objects, m.err
}

type mockTagger struct {
	tags vision.SimilarTags
	err  error
	path string
}

func (m *mockTagger) Tag(_ context.Context, imagePath string) (vision.SimilarTags, error) {
	m.path = imagePath
	return m.tags, m.err
}

func writeUpload(t *testing.T, content string) ImageUpload {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image-test.jpg")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return ImageUpload{Path: path, OriginalName: "photo.jpg", Size: int64(len(content))}
}

func assertRemoved(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("upload %s should be removed, stat err = %v", path, err)
	}
}

// --- Tests ---

func TestImageSearch_UsesMostConfidentObject(t *testing.T) {
	cls := &mockClassifier{objects: []vision.DetectedObject{
		{Name: "cat", Confidence: 0.9},
		{Name: "dog", Confidence: 0.95},
	}}
	p := okProvider("amazon", product.Product{ID: "1"})
	svc := New(asProviders(p), cls, nil, Config{})
	up := writeUpload(t, "jpeg-bytes")

	res, err := svc.ImageSearch(context.Background(), up)
	if err != nil {
		t.Fatalf("ImageSearch: %v", err)
	}

	if res.Keyword != "dog" {
		t.Errorf("keyword = %q, want dog", res.Keyword)
	}
	if string(cls.got) != "jpeg-bytes" {
		t.Errorf("classifier got %q", cls.got)
	}
	if res.VisionError != "" {
		t.Errorf("visionError = %q, want empty", res.VisionError)
	}
	if res.OriginalImage != "photo.jpg" || len(res.Detected) != 2 || res.Total != 1 {
		t.Errorf("result = %+v", res)
	}

	calls := p.calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d", len(calls))
	}
	if calls[0].Query() != "dog" || calls[0].Country() != "IN" || calls[0].Limit() != 10 || calls[0].Page() != 1 {
		t.Errorf("request = %q country=%s limit=%d page=%d",
			calls[0].Query(), calls[0].Country(), calls[0].Limit(), calls[0].Page())
	}
	assertRemoved(t, up.Path)
}

func TestImageSearch_ClassificationErrorFallsBack(t *testing.T) {
	cls := &mockClassifier{err: errors.New("clarifai: status 401: " + domain.ErrVisionError.Error())}
	svc := New(asProviders(okProvider("amazon")), cls, nil, Config{})
	up := writeUpload(t, "x")

	res, err := svc.ImageSearch(context.Background(), up)
	if err != nil {
		t.Fatalf("classification failure must not fail the request: %v", err)
	}
	if res.Keyword != vision.DefaultKeyword {
		t.Errorf("keyword = %q, want %q", res.Keyword, vision.DefaultKeyword)
	}
	if res.VisionError == "" {
		t.Error("visionError should carry the classification failure")
	}
	if res.Detected == nil || len(res.Detected) != 0 {
		t.Errorf("detected = %#v, want empty non-nil", res.Detected)
	}
	assertRemoved(t, up.Path)
}

func TestImageSearch_LowConfidenceFallsBackWithoutVisionError(t *testing.T) {
	cls := &mockClassifier{objects: []vision.DetectedObject{{Name: "cat", Confidence: 0.5}}}
	svc := New(asProviders(okProvider("amazon")), cls, nil, Config{})

	res, err := svc.ImageSearch(context.Background(), writeUpload(t, "x"))
	if err != nil {
		t.Fatalf("ImageSearch: %v", err)
	}
	if res.Keyword != vision.DefaultKeyword || res.VisionError != "" {
		t.Errorf("keyword=%q visionError=%q", res.Keyword, res.VisionError)
	}
}

func TestImageSearch_NoClassifier(t *testing.T) {
	svc := New(asProviders(okProvider("amazon")), nil, nil, Config{})

	res, err := svc.ImageSearch(context.Background(), writeUpload(t, "x"))
	if err != nil {
		t.Fatalf("ImageSearch: %v", err)
	}
	if res.Keyword != vision.DefaultKeyword || res.VisionError != errVisionNotConfigured {
		t.Errorf("keyword=%q visionError=%q", res.Keyword, res.VisionError)
	}
}

func TestImageSearch_MissingUpload(t *testing.T) {
	svc := New(nil, &mockClassifier{}, nil, Config{})
	_, err := svc.ImageSearch(context.Background(), ImageUpload{})
	if !errors.Is(err, domain.ErrMissingImage) {
		t.Errorf("err = %v, want ErrMissingImage", err)
	}
}

func TestImageSearch_UnreadableUploadStillCleansUp(t *testing.T) {
	svc := New(nil, &mockClassifier{}, nil, Config{})
	var removed string
	svc.removeFile = func(name string) error {
		removed = name
		return os.ErrNotExist
	}
	path := filepath.Join(t.TempDir(), "gone.png")

	_, err := svc.ImageSearch(context.Background(), ImageUpload{Path: path})
	if err == nil {
		t.Fatal("expected read error")
	}
	if removed != path {
		t.Errorf("cleanup removed %q, want %q", removed, path)
	}
}

func TestImageSearch_CleanupFailureIsNotEscalated(t *testing.T) {
	svc := New(asProviders(okProvider("amazon")), &mockClassifier{}, nil, Config{})
	svc.removeFile = func(string) error { return errors.New("permission denied") }

	if _, err := svc.ImageSearch(context.Background(), writeUpload(t, "x")); err != nil {
		t.Errorf("cleanup failure leaked into the response: %v", err)
	}
}

func TestImageSearch_SimilarityTags(t *testing.T) {
	tagger := &mockTagger{tags: vision.SimilarTags{Values: []string{"wireless", "tech", "modern"}, Mocked: true}}
	svc := New(asProviders(okProvider("amazon")), &mockClassifier{}, tagger, Config{})
	up := writeUpload(t, "x")

	res, err := svc.ImageSearch(context.Background(), up)
	if err != nil {
		t.Fatalf("ImageSearch: %v", err)
	}
	if tagger.path != up.Path {
		t.Errorf("tagger path = %q, want %q", tagger.path, up.Path)
	}
	if len(res.SimilarTags) != 3 || !res.SimilarTagsMocked {
		t.Errorf("tags = %v mocked=%v", res.SimilarTags, res.SimilarTagsMocked)
	}
}

func TestImageSearch_SimilarityFailureIsIgnored(t *testing.T) {
	tagger := &mockTagger{err: domain.ErrSimilarityUnavailable}
	svc := New(asProviders(okProvider("amazon")), &mockClassifier{}, tagger, Config{})

	res, err := svc.ImageSearch(context.Background(), writeUpload(t, "x"))
	if err != nil {
		t.Fatalf("ImageSearch: %v", err)
	}
	if res.SimilarTags == nil || len(res.SimilarTags) != 0 || res.SimilarTagsMocked {
		t.Errorf("tags = %#v mocked=%v", res.SimilarTags, res.SimilarTagsMocked)
	}
}
