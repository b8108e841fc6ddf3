package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all rover configuration
type Config struct {
	Rover     RoverConfig
	Camera    CameraConfig
	Detection DetectionConfig
	Inference InferenceConfig
	Actuator  ActuatorConfig
	Dashboard DashboardConfig
}

type RoverConfig struct {
	Name      string
	MissionID string
}

type CameraConfig struct {
	DeviceID   int // preferred device index; other indices are probed if it fails
	Width      int
	Height     int
	FrameRate  float64
	BufferSize int
}

type DetectionConfig struct {
	AcquireInterval time.Duration // delay between quick-check scans
	ConfirmInterval time.Duration // delay between deep-analysis scans
	SegmentDuration time.Duration
	LockThreshold   float64
	KeepSnapshots   int // acquisition frames retained on disk
	FramesDir       string
	ClipsDir        string
}

type InferenceConfig struct {
	QuickURL     string
	DeepURL      string
	APIKey       string
	QuickTimeout time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
}

type ActuatorConfig struct {
	Endpoint string
	Timeout  time.Duration
}

type DashboardConfig struct {
	Enabled bool
	Addr    string
}

// Load reads configuration from the environment, applying defaults for
// anything unset. A .env file in the working directory is honored when
// present but is not required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Rover: RoverConfig{
			Name:      envStr("ROVER_NAME", "RescueBot"),
			MissionID: envStr("MISSION_ID", "mission_001"),
		},
		Camera: CameraConfig{
			DeviceID:   envInt("BODY_CAMERA_ID", 0),
			Width:      envInt("CAMERA_WIDTH", 640),
			Height:     envInt("CAMERA_HEIGHT", 480),
			FrameRate:  envFloat("CAMERA_FPS", 10),
			BufferSize: envInt("FRAME_BUFFER_SIZE", 30),
		},
		Detection: DetectionConfig{
			AcquireInterval: envDur("ACQUIRE_INTERVAL", 2*time.Second),
			ConfirmInterval: envDur("DETECTION_INTERVAL", 10*time.Second),
			SegmentDuration: envDur("VIDEO_RECORDING_DURATION", 5*time.Second),
			LockThreshold:   envFloat("LOCK_CONFIDENCE_THRESHOLD", 0.7),
			KeepSnapshots:   envInt("KEEP_SNAPSHOTS", 10),
			FramesDir:       envStr("FRAMES_DIR", "scan_frames"),
			ClipsDir:        envStr("CLIPS_DIR", "temp_videos"),
		},
		Inference: InferenceConfig{
			QuickURL:     envStr("QUICK_INFERENCE_URL", ""),
			DeepURL:      envStr("DEEP_INFERENCE_URL", ""),
			APIKey:       envStr("INFERENCE_API_KEY", ""),
			QuickTimeout: envDur("QUICK_INFERENCE_TIMEOUT", 15*time.Second),
			PollInterval: envDur("DEEP_POLL_INTERVAL", 2*time.Second),
			PollTimeout:  envDur("DEEP_POLL_TIMEOUT", 5*time.Minute),
		},
		Actuator: ActuatorConfig{
			Endpoint: envStr("PI_CONTROL_URL", ""),
			Timeout:  envDur("PI_CONTROL_TIMEOUT", 2*time.Second),
		},
		Dashboard: DashboardConfig{
			Enabled: envBool("DASHBOARD_ENABLED", true),
			Addr:    envStr("DASHBOARD_ADDR", ":8750"),
		},
	}

	return cfg, nil
}

// Validate checks required settings and creates the scratch directories.
func (c *Config) Validate() error {
	if c.Inference.QuickURL == "" {
		return fmt.Errorf("QUICK_INFERENCE_URL is required")
	}
	if c.Inference.DeepURL == "" {
		return fmt.Errorf("DEEP_INFERENCE_URL is required")
	}
	if c.Inference.APIKey == "" {
		return fmt.Errorf("INFERENCE_API_KEY is required")
	}
	if c.Actuator.Endpoint == "" {
		return fmt.Errorf("PI_CONTROL_URL is required")
	}
	if c.Camera.FrameRate <= 0 {
		return fmt.Errorf("CAMERA_FPS must be positive, got %v", c.Camera.FrameRate)
	}
	if c.Camera.BufferSize <= 0 {
		return fmt.Errorf("FRAME_BUFFER_SIZE must be positive, got %d", c.Camera.BufferSize)
	}
	if c.Detection.LockThreshold < 0 || c.Detection.LockThreshold > 1 {
		return fmt.Errorf("LOCK_CONFIDENCE_THRESHOLD must be in [0,1], got %v", c.Detection.LockThreshold)
	}

	for _, dir := range []string{c.Detection.FramesDir, c.Detection.ClipsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create scratch directory %s: %w", dir, err)
		}
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	// Accept both bare seconds (original deployment convention) and
	// Go duration strings.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}
