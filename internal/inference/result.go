package inference

import (
	"context"

	"github.com/fieldrover/rescuecam/internal/camera"
)

// SourcePhase tags which detection phase produced a result.
type SourcePhase string

const (
	PhaseAcquisition  SourcePhase = "acquisition"
	PhaseConfirmation SourcePhase = "confirmation"
)

// Survivor describes one detected person within a result.
type Survivor struct {
	Position   string  `json:"position"`
	Condition  string  `json:"condition"`
	Urgency    string  `json:"urgency_level"`
	Confidence float64 `json:"confidence"`
}

// Result is the canonical detection outcome every provider response is
// normalized into. The coordinator consumes it read-only and never sees raw
// provider payloads.
type Result struct {
	Detected    bool
	Count       int
	Confidence  float64 // in [0,1]
	Centered    bool    // meaningful during acquisition only
	Survivors   []Survivor
	Urgency     string // none/low/medium/high/critical
	Description string // raw description text from the provider
	Phase       SourcePhase
}

// Analyzer is the boundary to the external inference providers. Both calls
// are synchronous from the caller's viewpoint; DeepAnalyze owns the
// provider's submit/poll/fetch lifecycle internally.
type Analyzer interface {
	QuickCheck(ctx context.Context, frame camera.Frame) (Result, error)
	DeepAnalyze(ctx context.Context, clipPath string) (Result, error)
}
