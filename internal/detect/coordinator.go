// Package detect sequences the two-phase survivor detection workflow:
// acquisition quick checks until a target locks, then segment recording and
// deep analysis until stopped.
package detect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fieldrover/rescuecam/internal/actuate"
	"github.com/fieldrover/rescuecam/internal/camera"
	"github.com/fieldrover/rescuecam/internal/inference"
)

// FrameSource supplies buffered frames for quick checks.
type FrameSource interface {
	Latest() (camera.Frame, bool)
}

// Recorder assembles confirmation clips.
type Recorder interface {
	Record(ctx context.Context, duration time.Duration) (*camera.Segment, error)
}

// Sink receives confirmed detection results for downstream consumers
// (dashboard feed, mission log). Calls happen on the coordinator worker.
type Sink interface {
	OnDetection(res inference.Result)
}

// Config tunes the coordinator loops.
type Config struct {
	LockThreshold   float64       // quick-check confidence needed to lock
	AcquireInterval time.Duration // delay between quick checks
	ConfirmInterval time.Duration // delay between confirmation scans
	SegmentDuration time.Duration
	PurgeEvery      int // acquisition iterations between snapshot purges
}

// Coordinator owns the detection phase state machine. One dedicated worker
// drives it; inference runs synchronously inside that worker, one call in
// flight at a time. Every per-iteration error is contained at the loop
// boundary — only the stop signal ends the worker.
type Coordinator struct {
	cfg       Config
	frames    FrameSource
	recorder  Recorder
	analyzer  inference.Analyzer
	notifier  actuate.Notifier
	artifacts *ArtifactStore
	sink      Sink // optional
	logger    *zap.Logger

	phase   atomic.Int32
	stats   Stats
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewCoordinator(cfg Config, frames FrameSource, rec Recorder,
	analyzer inference.Analyzer, notifier actuate.Notifier,
	artifacts *ArtifactStore, sink Sink) *Coordinator {

	if cfg.LockThreshold <= 0 {
		cfg.LockThreshold = 0.7
	}
	if cfg.PurgeEvery <= 0 {
		cfg.PurgeEvery = 10
	}
	return &Coordinator{
		cfg:       cfg,
		frames:    frames,
		recorder:  rec,
		analyzer:  analyzer,
		notifier:  notifier,
		artifacts: artifacts,
		sink:      sink,
		logger:    zap.L().Named("detect"),
	}
}

// Phase returns the current detection phase.
func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

// Snapshot reads the detection counters. Counters accumulate across
// stop/start cycles.
func (c *Coordinator) Snapshot() StatsSnapshot {
	return c.stats.Snapshot()
}

// Start launches the detection worker and enters acquisition.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coordinator already running")
	}

	c.stopCh = make(chan struct{})
	c.phase.Store(int32(PhaseIdle))
	c.logger.Info("detection started",
		zap.Float64("lock_threshold", c.cfg.LockThreshold),
		zap.Duration("confirm_interval", c.cfg.ConfirmInterval))

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Stop signals the worker and waits for it to finish its current
// iteration. In-flight inference calls finish or time out naturally.
func (c *Coordinator) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stopCh)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		c.logger.Warn("detection worker stop timeout")
	}

	snap := c.stats.Snapshot()
	c.logger.Info("detection stopped",
		zap.Uint64("total_scans", snap.TotalScans),
		zap.Uint64("survivors_found", snap.SurvivorsFound))
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()
	defer c.phase.Store(int32(PhaseStopped))

	// Idle -> Acquiring happens as the worker's first act.
	c.phase.Store(int32(PhaseAcquiring))

	acquisitions := 0
	for {
		var interval time.Duration
		switch c.Phase() {
		case PhaseAcquiring:
			acquisitions++
			c.acquireTick(ctx, acquisitions)
			interval = c.cfg.AcquireInterval
		case PhaseConfirming:
			c.confirmTick(ctx)
			interval = c.cfg.ConfirmInterval
		default:
			return
		}

		if !c.wait(ctx, interval) {
			return
		}
	}
}

// acquireTick runs one quick-check scan. The lock fires exactly when the
// result is detected, centered, and above the confidence threshold — any
// missing condition leaves the phase unchanged.
func (c *Coordinator) acquireTick(ctx context.Context, iteration int) {
	if iteration%c.cfg.PurgeEvery == 0 {
		if err := c.artifacts.Purge(); err != nil {
			c.logger.Warn("snapshot purge failed", zap.Error(err))
		}
	}

	frame, ok := c.frames.Latest()
	if !ok {
		c.logger.Debug("no frame available for quick check")
		return
	}

	if _, err := c.artifacts.SaveSnapshot(frame); err != nil {
		c.logger.Warn("failed to save acquisition snapshot", zap.Error(err))
	}

	res, err := c.analyzer.QuickCheck(ctx, frame)
	if err != nil {
		c.logger.Warn("quick check failed", zap.Error(err))
		return
	}

	c.logger.Debug("quick check result",
		zap.Bool("detected", res.Detected),
		zap.Bool("centered", res.Centered),
		zap.Float64("confidence", res.Confidence))

	if !res.Detected || !res.Centered || res.Confidence <= c.cfg.LockThreshold {
		return
	}

	c.phase.Store(int32(PhaseLocked))
	c.logger.Info("target locked",
		zap.Float64("confidence", res.Confidence),
		zap.String("position", res.Description))

	if _, err := c.artifacts.SaveTarget(frame); err != nil {
		c.logger.Warn("failed to save target frame", zap.Error(err))
	}

	// Handoff: one notification, then confirmation begins regardless of
	// whether the actuator acknowledged.
	if err := c.notifier.Notify(ctx, res); err != nil {
		c.logger.Warn("actuation handoff failed", zap.Error(err))
	}

	c.phase.Store(int32(PhaseConfirming))
}

// confirmTick records one segment and submits it for deep analysis. A
// positive result adds its survivor count and is forwarded downstream;
// confirmation never ends on a positive — scanning continues for
// additional or ongoing casualties.
func (c *Coordinator) confirmTick(ctx context.Context) {
	c.stats.totalScans.Add(1)
	c.stats.lastScanAt.Store(time.Now().UnixNano())

	seg, err := c.recorder.Record(ctx, c.cfg.SegmentDuration)
	if err != nil {
		switch {
		case errors.Is(err, camera.ErrEmptySegment):
			c.logger.Warn("no frames captured, skipping scan")
		case errors.Is(err, camera.ErrAlreadyRecording):
			c.logger.Warn("recorder busy, skipping scan")
		default:
			c.logger.Warn("segment recording failed", zap.Error(err))
		}
		return
	}

	res, err := c.analyzer.DeepAnalyze(ctx, seg.Path)
	c.artifacts.RemoveClip(seg.Path)
	if err != nil {
		c.logger.Warn("deep analysis failed", zap.Error(err))
		return
	}

	if !res.Detected {
		c.logger.Info("no survivors in this scan",
			zap.Int("frames", seg.Frames),
			zap.Duration("clip", seg.Duration))
		return
	}

	count := res.Count
	if count < 1 {
		count = 1
	}
	c.stats.survivorsFound.Add(uint64(count))

	c.logger.Info("survivors detected",
		zap.Int("count", count),
		zap.Float64("confidence", res.Confidence),
		zap.String("priority", res.Urgency),
		zap.Uint64("total_found", c.stats.survivorsFound.Load()))

	if c.sink != nil {
		c.sink.OnDetection(res)
	}
}

// wait sleeps for d, returning false if stop or context cancellation
// arrives first.
func (c *Coordinator) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-c.stopCh:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
