// Package clarifai classifies images with the Clarifai object-detection API.
package clarifai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/shoplens/internal/domain"
	"github.com/kailas-cloud/shoplens/internal/domain/vision"
	"github.com/kailas-cloud/shoplens/internal/metrics"
)

const (
	driverName      = "clarifai"
	defaultBaseURL  = "https://api.clarifai.com"
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 4 << 20
	statusOK        = 10000
)

// Config holds the Clarifai model coordinates and credentials.
type Config struct {
	BaseURL        string
	PAT            string
	UserID         string
	AppID          string
	ModelID        string
	ModelVersionID string // optional; latest version when empty
	Timeout        time.Duration
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// Classifier detects objects through a Clarifai detection model.
type Classifier struct {
	endpoint string
	pat      string
	userID   string
	appID    string
	http     *http.Client
	logger   *zap.Logger
}

// NewClassifier creates a Clarifai classifier.
func NewClassifier(cfg *Config) *Classifier {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	endpoint := fmt.Sprintf("%s/v2/users/%s/apps/%s/models/%s",
		base, url.PathEscape(cfg.UserID), url.PathEscape(cfg.AppID), url.PathEscape(cfg.ModelID))
	if cfg.ModelVersionID != "" {
		endpoint += "/versions/" + url.PathEscape(cfg.ModelVersionID)
	}
	endpoint += "/outputs"

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Classifier{
		endpoint: endpoint,
		pat:      cfg.PAT,
		userID:   cfg.UserID,
		appID:    cfg.AppID,
		http:     httpClient,
		logger:   log.With(zap.String("vision_driver", driverName)),
	}
}

// Name returns the driver name.
func (c *Classifier) Name() string { return driverName }

type outputsRequest struct {
	UserAppID userAppID `json:"user_app_id"`
	Inputs    []input   `json:"inputs"`
}

type userAppID struct {
	UserID string `json:"user_id"`
	AppID  string `json:"app_id"`
}

type input struct {
	Data inputData `json:"data"`
}

type inputData struct {
	Image struct {
		Base64 string `json:"base64"`
	} `json:"image"`
}

type status struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Details     string `json:"details"`
}

type concept struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type outputsResponse struct {
	Status  status `json:"status"`
	Outputs []struct {
		Data struct {
			Regions []struct {
				RegionInfo struct {
					BoundingBox *struct {
						TopRow    float64 `json:"top_row"`
						LeftCol   float64 `json:"left_col"`
						BottomRow float64 `json:"bottom_row"`
						RightCol  float64 `json:"right_col"`
					} `json:"bounding_box"`
				} `json:"region_info"`
				Data struct {
					Concepts []concept `json:"concepts"`
				} `json:"data"`
			} `json:"regions"`
			Concepts []concept `json:"concepts"`
		} `json:"data"`
	} `json:"outputs"`
}

// Classify returns the detected objects in image. Detection models yield one
// object per region (its top concept); classification models yield one object
// per concept without a bounding box. Errors wrap domain.ErrVisionError.
func (c *Classifier) Classify(ctx context.Context, image []byte) ([]vision.DetectedObject, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("clarifai: empty image: %w", domain.ErrVisionError)
	}

	reqBody := outputsRequest{
		UserAppID: userAppID{UserID: c.userID, AppID: c.appID},
		Inputs:    []input{{}},
	}
	reqBody.Inputs[0].Data.Image.Base64 = base64.StdEncoding.EncodeToString(image)

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("clarifai: encode request: %w: %w", err, domain.ErrVisionError)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("clarifai: build request: %w: %w", err, domain.ErrVisionError)
	}
	httpReq.Header.Set("Authorization", "Key "+c.pat)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	objects, err := c.do(httpReq)
	if err != nil {
		metrics.VisionRequestsTotal.WithLabelValues(driverName, "error").Inc()
		c.logger.Warn("clarifai classification failed",
			zap.Duration("duration", time.Since(start)), zap.Error(err))
		return nil, err
	}

	metrics.VisionRequestsTotal.WithLabelValues(driverName, "success").Inc()
	c.logger.Info("clarifai classification",
		zap.Int("objects", len(objects)), zap.Duration("duration", time.Since(start)))
	return objects, nil
}

func (c *Classifier) do(httpReq *http.Request) ([]vision.DetectedObject, error) {
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("clarifai: request failed: %w: %w", err, domain.ErrVisionError)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("clarifai: read body: %w: %w", err, domain.ErrVisionError)
	}

	var parsed outputsResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("clarifai: upstream %d: %s: %w",
			resp.StatusCode, describe(parsed.Status, body, decodeErr), domain.ErrVisionError)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("clarifai: malformed body: %w: %w", decodeErr, domain.ErrVisionError)
	}
	if parsed.Status.Code != 0 && parsed.Status.Code != statusOK {
		return nil, fmt.Errorf("clarifai: status %d: %s: %w",
			parsed.Status.Code, describe(parsed.Status, body, nil), domain.ErrVisionError)
	}
	if len(parsed.Outputs) == 0 {
		return nil, fmt.Errorf("clarifai: no outputs: %w", domain.ErrVisionError)
	}

	data := parsed.Outputs[0].Data
	objects := make([]vision.DetectedObject, 0, len(data.Regions)+len(data.Concepts))
	for _, region := range data.Regions {
		if len(region.Data.Concepts) == 0 {
			continue
		}
		top := region.Data.Concepts[0]
		obj := vision.DetectedObject{Name: top.Name, Confidence: clamp(top.Value)}
		if bb := region.RegionInfo.BoundingBox; bb != nil {
			obj.BoundingBox = &vision.BoundingBox{
				TopRow: bb.TopRow, LeftCol: bb.LeftCol, BottomRow: bb.BottomRow, RightCol: bb.RightCol,
			}
		}
		objects = append(objects, obj)
	}
	if len(data.Regions) == 0 {
		for _, cpt := range data.Concepts {
			objects = append(objects, vision.DetectedObject{Name: cpt.Name, Confidence: clamp(cpt.Value)})
		}
	}
	return objects, nil
}

func describe(st status, body []byte, decodeErr error) string {
	switch {
	case decodeErr == nil && st.Description != "" && st.Details != "":
		return st.Description + " (" + st.Details + ")"
	case decodeErr == nil && st.Description != "":
		return st.Description
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
