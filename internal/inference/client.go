package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fieldrover/rescuecam/internal/camera"
)

// Task states reported by the deep-analysis provider.
const (
	taskStatusReady  = "ready"
	taskStatusFailed = "failed"
)

// ClientConfig configures the provider boundary.
type ClientConfig struct {
	QuickURL     string // per-frame analysis endpoint
	DeepURL      string // per-segment analysis base URL
	APIKey       string
	QuickTimeout time.Duration
	PollInterval time.Duration // deep task poll cadence
	PollTimeout  time.Duration // overall deep-analysis deadline
}

// Client talks to the external inference providers and normalizes their
// responses into the canonical Result. It implements Analyzer.
type Client struct {
	cfg    ClientConfig
	httpc  *http.Client
	logger *zap.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.QuickTimeout <= 0 {
		cfg.QuickTimeout = 15 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Minute
	}
	return &Client{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.QuickTimeout},
		logger: zap.L().Named("inference"),
	}
}

// quickPrompt asks for survivor detection and frame positioning during
// acquisition. Centering feeds the lock decision.
const quickPrompt = `Analyze this camera feed image for survivor detection and positioning.
Look for any person, human, or survivor in the image and determine whether
they are centered (within the middle 40% of the frame).
Respond with ONLY this JSON format:
{"person_detected": true/false, "person_centered": true/false,
 "confidence": 0.0-1.0, "position_description": "where the person is located",
 "target_ready": true/false}`

// deepPrompt asks for a full survivor characterization of a recorded clip.
const deepPrompt = `Analyze this video footage from a rescue rover searching for survivors.
Look carefully for people who might need rescue assistance: lying on the
ground, trapped, injured, motionless, or showing distress.
Respond in this JSON format:
{"survivors_detected": true/false, "survivor_count": number,
 "detailed_description": "what you see",
 "survivor_details": [{"position": "...", "condition": "...",
   "urgency_level": "low/medium/high/critical", "confidence": 0.0-1.0}],
 "rescue_priority": "none/low/medium/high/critical",
 "recommended_action": "recommended rescue action"}
If no people are visible, set survivors_detected to false and survivor_count to 0.`

type quickRequest struct {
	Kind   string `json:"kind"`
	Prompt string `json:"prompt"`
	Media  string `json:"media"` // base64 JPEG
}

type providerResponse struct {
	Status string `json:"status"`
	Output string `json:"output"`
}

// QuickCheck submits one frame for low-latency classification. The call is
// bounded by the client timeout; the response text is canonicalized before
// it crosses the boundary.
func (c *Client) QuickCheck(ctx context.Context, frame camera.Frame) (Result, error) {
	body, err := json.Marshal(quickRequest{
		Kind:   "frame",
		Prompt: quickPrompt,
		Media:  base64.StdEncoding.EncodeToString(frame.Data),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode quick request: %w", err)
	}

	out, err := c.post(ctx, c.cfg.QuickURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("quick check: %w", err)
	}

	return Canonicalize(out, PhaseAcquisition), nil
}

// DeepAnalyze uploads a recorded clip, polls the provider task until it
// reaches a terminal state, fetches the analysis, and canonicalizes it.
// Only the terminal result crosses the boundary.
func (c *Client) DeepAnalyze(ctx context.Context, clipPath string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	taskID, err := c.submitClip(ctx, clipPath)
	if err != nil {
		return Result{}, fmt.Errorf("submit clip: %w", err)
	}
	c.logger.Debug("clip submitted", zap.String("task_id", taskID))

	if err := c.waitForTask(ctx, taskID); err != nil {
		return Result{}, fmt.Errorf("task %s: %w", taskID, err)
	}

	out, err := c.fetchAnalysis(ctx, taskID)
	if err != nil {
		return Result{}, fmt.Errorf("fetch analysis for %s: %w", taskID, err)
	}

	return Canonicalize(out, PhaseConfirmation), nil
}

// submitClip uploads the clip as multipart form data and returns the
// provider task ID.
func (c *Client) submitClip(ctx context.Context, clipPath string) (string, error) {
	f, err := os.Open(clipPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("video", filepath.Base(clipPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.DeepURL+"/tasks", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider returned %s", resp.Status)
	}

	var created struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode task response: %w", err)
	}
	if created.TaskID == "" {
		return "", fmt.Errorf("provider returned no task id")
	}
	return created.TaskID, nil
}

// waitForTask polls at a fixed interval until the task is ready or failed.
func (c *Client) waitForTask(ctx context.Context, taskID string) error {
	poll := func() error {
		out, err := c.get(ctx, c.cfg.DeepURL+"/tasks/"+taskID)
		if err != nil {
			return err
		}
		var st struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal([]byte(out), &st); err != nil {
			return fmt.Errorf("decode task status: %w", err)
		}
		switch st.Status {
		case taskStatusReady:
			return nil
		case taskStatusFailed:
			return backoff.Permanent(fmt.Errorf("processing failed"))
		default:
			c.logger.Debug("task still processing",
				zap.String("task_id", taskID),
				zap.String("status", st.Status))
			return fmt.Errorf("task status %q", st.Status)
		}
	}

	bo := backoff.WithContext(backoff.NewConstantBackOff(c.cfg.PollInterval), ctx)
	return backoff.Retry(poll, bo)
}

// fetchAnalysis asks the provider for the analysis text of a ready task.
func (c *Client) fetchAnalysis(ctx context.Context, taskID string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"task_id": taskID,
		"prompt":  deepPrompt,
	})
	if err != nil {
		return "", err
	}
	return c.post(ctx, c.cfg.DeepURL+"/analyze", "application/json", bytes.NewReader(body))
}

// post issues one bounded request and returns the provider output text.
func (c *Client) post(ctx context.Context, url, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return c.do(req)
}

func (c *Client) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) (string, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider returned %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	// Providers respond either with the {status, output} envelope or with
	// bare text; accept both.
	var env providerResponse
	if err := json.Unmarshal(raw, &env); err == nil && env.Output != "" {
		return env.Output, nil
	}
	return string(raw), nil
}
