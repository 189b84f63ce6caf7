package search

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/shoplens/internal/domain"
	"github.com/kailas-cloud/shoplens/internal/domain/search/request"
	"github.com/kailas-cloud/shoplens/internal/domain/vision"
	"github.com/kailas-cloud/shoplens/internal/logger"
)

const errVisionNotConfigured = "image classification is not configured"

// ImageUpload is an uploaded image already written to disk.
// ImageSearch owns the file and removes it before returning.
type ImageUpload struct {
	Path         string
	OriginalName string
	Size         int64
}

// ImageResult is a product search driven by a keyword detected in an image.
type ImageResult struct {
	Result
	Keyword  string
	Detected []vision.DetectedObject
	// VisionError is set when classification failed and the default keyword was used.
	VisionError       string
	OriginalImage     string
	SimilarTags       []string
	SimilarTagsMocked bool
}

// ImageSearch classifies the uploaded image, picks a keyword and searches all
// providers for it. Classification and similarity failures are reported in the
// result, never returned. The upload is deleted on every exit path.
func (s *Service) ImageSearch(ctx context.Context, up ImageUpload) (ImageResult, error) {
	if up.Path == "" {
		return ImageResult{}, domain.ErrMissingImage
	}
	defer s.cleanup(ctx, up.Path)

	log := logger.FromContext(ctx)
	log.Info("image search",
		zap.String("file", up.OriginalName),
		zap.Int64("size", up.Size),
	)

	image, err := os.ReadFile(up.Path)
	if err != nil {
		return ImageResult{}, fmt.Errorf("read upload: %w", err)
	}

	res := ImageResult{
		Detected:      []vision.DetectedObject{},
		OriginalImage: up.OriginalName,
		SimilarTags:   []string{},
	}
	s.analyze(ctx, up.Path, image, &res)

	res.Keyword = vision.SelectKeyword(res.Detected, vision.DefaultKeyword)
	req, err := request.New(res.Keyword, 1, s.cfg.ImageLimit, s.cfg.ImageCountry, "", s.cfg.Defaults)
	if err != nil {
		log.Warn("detected keyword rejected, using default",
			zap.String("keyword", res.Keyword), zap.Error(err))
		res.Keyword = vision.DefaultKeyword
		if req, err = request.New(res.Keyword, 1, s.cfg.ImageLimit, s.cfg.ImageCountry, "", s.cfg.Defaults); err != nil {
			return ImageResult{}, err //nolint:wrapcheck // domain validation error
		}
	}

	log.Info("image keyword selected",
		zap.String("keyword", res.Keyword),
		zap.Int("detected", len(res.Detected)),
		zap.Bool("vision_error", res.VisionError != ""),
	)

	res.Result = s.search(ctx, req)
	return res, nil
}

// analyze runs classification and similarity tagging side by side under the
// orchestrator deadline. Each writes only its own fields of res.
func (s *Service) analyze(ctx context.Context, path string, image []byte, res *ImageResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Deadline)
	defer cancel()
	log := logger.FromContext(ctx)

	var g errgroup.Group
	g.Go(func() error {
		if s.classifier == nil {
			res.VisionError = errVisionNotConfigured
			return nil
		}
		detected, err := s.classifier.Classify(ctx, image)
		if err != nil {
			log.Warn("image classification failed",
				zap.String("driver", s.classifier.Name()), zap.Error(err))
			res.VisionError = err.Error()
			return nil
		}
		if detected != nil {
			res.Detected = detected
		}
		return nil
	})

	if s.tagger != nil {
		g.Go(func() error {
			tags, err := s.tagger.Tag(ctx, path)
			if err != nil {
				log.Warn("similarity tagging failed", zap.Error(err))
				return nil
			}
			if tags.Values != nil {
				res.SimilarTags = tags.Values
			}
			res.SimilarTagsMocked = tags.Mocked
			return nil
		})
	}

	_ = g.Wait() // both branches record failures in res
}

func (s *Service) cleanup(ctx context.Context, path string) {
	if err := s.removeFile(path); err != nil {
		logger.FromContext(ctx).Warn("failed to remove uploaded image",
			zap.String("path", path), zap.Error(err))
	}
}
