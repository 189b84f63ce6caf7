package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/shoplens/internal/domain"
	"github.com/kailas-cloud/shoplens/internal/domain/vision"
	"github.com/kailas-cloud/shoplens/internal/metrics"
)

const driverName = "openai"

const detectPrompt = `List the distinct physical products visible in this image.
Respond with only a JSON array of objects {"name": string, "confidence": number between 0 and 1},
most prominent first. Use short, searchable product names such as "headphones" or "running shoes".`

// Classifier detects objects with an OpenAI-compatible vision model.
type Classifier struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// Config holds the vision model settings.
type Config struct {
	APIKey  string
	BaseURL string // empty uses the OpenAI default
	Model   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewClassifier creates an OpenAI-compatible vision classifier.
func NewClassifier(cfg *Config) *Classifier {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Classifier{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: log.With(zap.String("vision_driver", driverName)),
	}
}

// Name returns the driver name.
func (c *Classifier) Name() string { return driverName }

// Classify asks the model for the products in image.
// Errors wrap domain.ErrVisionError.
func (c *Classifier) Classify(ctx context.Context, image []byte) ([]vision.DetectedObject, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("openai vision: empty image: %w", domain.ErrVisionError)
	}

	dataURL := "data:" + http.DetectContentType(image) + ";base64," +
		base64.StdEncoding.EncodeToString(image)

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: detectPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailLow,
				}},
			},
		}},
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.VisionRequestsTotal.WithLabelValues(driverName, "error").Inc()
		c.logger.Warn("vision request failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, parseAPIError(err)
	}

	if len(resp.Choices) == 0 {
		metrics.VisionRequestsTotal.WithLabelValues(driverName, "error").Inc()
		return nil, fmt.Errorf("empty vision response: %w", domain.ErrVisionError)
	}

	objects, err := parseDetections(resp.Choices[0].Message.Content)
	if err != nil {
		metrics.VisionRequestsTotal.WithLabelValues(driverName, "error").Inc()
		c.logger.Warn("unparsable vision response", zap.Error(err))
		return nil, err
	}

	metrics.VisionRequestsTotal.WithLabelValues(driverName, "success").Inc()
	c.logger.Info("vision classification",
		zap.Int("objects", len(objects)), zap.Duration("duration", duration))
	return objects, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (c *Classifier) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseDetections reads the model's JSON array, tolerating a fenced code block.
func parseDetections(content string) ([]vision.DetectedObject, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if i, j := strings.IndexByte(s, '['), strings.LastIndexByte(s, ']'); i >= 0 && j > i {
		s = s[i : j+1]
	}

	var parsed []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil, fmt.Errorf("vision response is not a detection list: %w: %w", err, domain.ErrVisionError)
	}

	objects := make([]vision.DetectedObject, 0, len(parsed))
	for _, p := range parsed {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		objects = append(objects, vision.DetectedObject{Name: name, Confidence: min(max(p.Confidence, 0), 1)})
	}
	return objects, nil
}

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrVisionError.
func parseAPIError(err error) error {
	wrap := domain.ErrVisionError

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("vision API error %d: %s: %w",
				reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("vision API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("vision API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("vision request failed: %w: %w", err, wrap)
}

// extractDetail extracts the "detail" field from a JSON error body (OpenAI-compatible gateways).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
