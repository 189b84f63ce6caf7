// Package similarity runs the external image-similarity script and falls back
// to labelled mock tags when the script cannot be used.
package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/shoplens/internal/domain"
	"github.com/kailas-cloud/shoplens/internal/domain/vision"
	"github.com/kailas-cloud/shoplens/internal/metrics"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxOutput = 1 << 20
	maxStderr        = 64 << 10
	healthTimeout    = 5 * time.Second
	waitDelay        = 2 * time.Second
)

var mockVocabulary = []string{
	"electronics", "wireless", "bluetooth", "headphones", "smartphone",
	"accessories", "gadgets", "tech", "portable", "modern",
}

// Config holds the subprocess settings.
type Config struct {
	Python         string
	Script         string
	Timeout        time.Duration
	MaxOutputBytes int
	Logger         *zap.Logger
}

// Runner invokes `<python> <script> <image>` and reads a JSON string array from stdout.
type Runner struct {
	python    string
	script    string
	timeout   time.Duration
	maxOutput int
	logger    *zap.Logger
}

// NewRunner creates a similarity runner.
func NewRunner(cfg *Config) *Runner {
	r := &Runner{
		python:    cfg.Python,
		script:    cfg.Script,
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutputBytes,
		logger:    cfg.Logger,
	}
	if r.python == "" {
		r.python = "python3"
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.maxOutput <= 0 {
		r.maxOutput = defaultMaxOutput
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Tag returns similarity tags for the image at imagePath.
// A missing image is an error; every failure of the script itself (missing
// script or interpreter, timeout, oversized or unparsable output) yields mock
// tags. A script that exits non-zero is an error wrapping
// domain.ErrSimilarityUnavailable.
func (r *Runner) Tag(ctx context.Context, imagePath string) (vision.SimilarTags, error) {
	if _, err := os.Stat(imagePath); err != nil {
		metrics.SimilarityRunsTotal.WithLabelValues("error").Inc()
		return vision.SimilarTags{}, fmt.Errorf("image file not found: %w", err)
	}

	if _, err := os.Stat(r.script); err != nil {
		return r.mock(imagePath, "script not found", err), nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stdout := &cappedBuffer{max: r.maxOutput}
	stderr := &cappedBuffer{max: maxStderr}

	cmd := exec.CommandContext(ctx, r.python, r.script, imagePath) //nolint:gosec // operator-configured interpreter and script
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if s := strings.TrimSpace(stderr.String()); s != "" {
		r.logger.Debug("similarity script stderr", zap.String("stderr", s))
	}

	switch {
	case stdout.overflow:
		return r.mock(imagePath, "output exceeds limit", err), nil
	case ctx.Err() != nil:
		return r.mock(imagePath, "timeout", ctx.Err()), nil
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist):
		return r.mock(imagePath, "interpreter not found", err), nil
	case err != nil:
		metrics.SimilarityRunsTotal.WithLabelValues("error").Inc()
		r.logger.Warn("similarity script failed", zap.Duration("duration", duration), zap.Error(err))
		return vision.SimilarTags{}, fmt.Errorf("similarity script: %w: %w", err, domain.ErrSimilarityUnavailable)
	}

	var values []string
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &values); err != nil {
		return r.mock(imagePath, "unparsable output", err), nil
	}

	metrics.SimilarityRunsTotal.WithLabelValues("success").Inc()
	r.logger.Info("similarity tags",
		zap.Int("count", len(values)), zap.Duration("duration", duration))
	return vision.SimilarTags{Values: values}, nil
}

// HealthCheck runs `<python> --version` and returns the reported version.
func (r *Runner) HealthCheck(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.python, "--version").CombinedOutput() //nolint:gosec // operator-configured interpreter
	if err != nil {
		return "", fmt.Errorf("%s --version: %w: %w", r.python, err, domain.ErrSimilarityUnavailable)
	}
	if _, err := os.Stat(r.script); err != nil {
		return "", fmt.Errorf("script %s: %w: %w", r.script, err, domain.ErrSimilarityUnavailable)
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *Runner) mock(imagePath, reason string, cause error) vision.SimilarTags {
	metrics.SimilarityRunsTotal.WithLabelValues("mocked").Inc()
	r.logger.Warn("similarity fallback to mock tags",
		zap.String("reason", reason), zap.Error(cause))
	return vision.SimilarTags{Values: MockTags(imagePath), Mocked: true}
}

// MockTags picks 3 to 5 distinct vocabulary tags determined by key.
func MockTags(key string) []string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	sum := h.Sum32()

	n := 3 + int(sum%3)
	start := int(sum / 3 % uint32(len(mockVocabulary)))

	// stride 3 is coprime with the vocabulary size, so picks never repeat
	tags := make([]string, 0, n)
	for i := 0; i < n; i++ {
		tags = append(tags, mockVocabulary[(start+3*i)%len(mockVocabulary)])
	}
	return tags
}

// cappedBuffer stops accepting writes past max bytes.
type cappedBuffer struct {
	bytes.Buffer
	max      int
	overflow bool
}

var errOutputLimit = errors.New("output limit exceeded")

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.Len()+len(p) > b.max {
		b.overflow = true
		return 0, errOutputLimit
	}
	return b.Buffer.Write(p) //nolint:wrapcheck // bytes.Buffer never fails
}
