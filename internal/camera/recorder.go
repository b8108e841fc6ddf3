package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FrameSource is what the recorder consumes: buffered frames via Latest,
// and the degraded direct-capture path when the buffer is empty.
type FrameSource interface {
	Latest() (Frame, bool)
	CaptureDirect() (Frame, error)
}

// ClipSink receives JPEG frames and materializes them into one encoded clip.
type ClipSink interface {
	WriteJPEG(data []byte) error
	Close() error
}

// SinkFactory builds a sink for a clip path at the given frame rate.
type SinkFactory func(path string, fps float64) (ClipSink, error)

// Segment describes one recorded clip. The caller owns the artifact and is
// responsible for deleting it once inference has consumed it.
type Segment struct {
	ID        string
	Path      string
	Frames    int
	Duration  time.Duration // achieved; may be shorter than Requested
	Requested time.Duration
}

// SegmentRecorder assembles fixed-duration clips from the frame source.
// Only one recording may be in flight at a time.
type SegmentRecorder struct {
	source  FrameSource
	dir     string
	fps     float64
	newSink SinkFactory
	logger  *zap.Logger

	recording atomic.Bool
}

// NewSegmentRecorder creates a recorder writing clips into dir at the given
// cadence. A nil factory defaults to the gocv video writer.
func NewSegmentRecorder(source FrameSource, dir string, fps float64, factory SinkFactory) *SegmentRecorder {
	if factory == nil {
		factory = newVideoClipSink
	}
	return &SegmentRecorder{
		source:  source,
		dir:     dir,
		fps:     fps,
		newSink: factory,
		logger:  zap.L().Named("recorder"),
	}
}

// Record captures a clip of roughly the requested duration. Frames are
// pulled from the buffer at the target cadence; if the buffer is empty at
// call time the recorder falls back to reading the device directly, a
// degraded mode with weaker framerate guarantees. A clip with zero frames
// is discarded and reported as ErrEmptySegment.
func (r *SegmentRecorder) Record(ctx context.Context, duration time.Duration) (*Segment, error) {
	if !r.recording.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRecording
	}
	defer r.recording.Store(false)

	id := uuid.NewString()
	first, buffered := r.source.Latest()
	prefix := "body_scan"
	if !buffered {
		prefix = "direct_scan"
		r.logger.Warn("no buffered frames, using direct capture", zap.String("clip_id", id))
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s_%d_%s.mp4",
		prefix, time.Now().Unix(), strings.Split(id, "-")[0]))

	sink, err := r.newSink(path, r.fps)
	if err != nil {
		return nil, fmt.Errorf("create clip sink: %w", err)
	}

	interval := time.Duration(float64(time.Second) / r.fps)
	start := time.Now()
	deadline := start.Add(duration)
	frames := 0

	write := func(f Frame) {
		if err := sink.WriteJPEG(f.Data); err != nil {
			r.logger.Warn("failed to write frame to clip", zap.Error(err))
			return
		}
		frames++
	}

	if buffered {
		write(first)
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			// Finish with whatever was captured so far.
			deadline = time.Now()
			continue
		case <-timer.C:
		}
		timer.Reset(interval)

		if buffered {
			if f, ok := r.source.Latest(); ok {
				write(f)
			}
		} else {
			f, err := r.source.CaptureDirect()
			if err != nil {
				r.logger.Warn("direct capture read failed", zap.Error(err))
				continue
			}
			write(f)
		}
	}

	achieved := time.Since(start)
	if err := sink.Close(); err != nil {
		r.logger.Warn("failed to finalize clip", zap.String("path", path), zap.Error(err))
	}

	if frames == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to remove empty clip", zap.String("path", path), zap.Error(err))
		}
		return nil, fmt.Errorf("clip %s: %w", id, ErrEmptySegment)
	}

	r.logger.Info("segment recorded",
		zap.String("path", path),
		zap.Int("frames", frames),
		zap.Duration("achieved", achieved),
		zap.Duration("requested", duration),
		zap.Bool("direct", !buffered))

	return &Segment{
		ID:        id,
		Path:      path,
		Frames:    frames,
		Duration:  achieved,
		Requested: duration,
	}, nil
}

// Recording reports whether a recording is currently in flight.
func (r *SegmentRecorder) Recording() bool {
	return r.recording.Load()
}
