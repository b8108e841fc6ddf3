package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fieldrover/rescuecam/internal/actuate"
	"github.com/fieldrover/rescuecam/internal/camera"
	"github.com/fieldrover/rescuecam/internal/config"
	"github.com/fieldrover/rescuecam/internal/dashboard"
	"github.com/fieldrover/rescuecam/internal/detect"
	"github.com/fieldrover/rescuecam/internal/inference"
)

// statusInterval paces the periodic mission status log.
const statusInterval = 30 * time.Second

// stallWindow is how long without frames before the camera counts as stalled.
const stallWindow = 10 * time.Second

// Application wires the rover components together for one mission.
type Application struct {
	cfg         *config.Config
	logger      *zap.Logger
	cam         *camera.Manager
	coordinator *detect.Coordinator
	feed        *dashboard.Server
	startedAt   time.Time
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	flag.IntVar(&cfg.Camera.DeviceID, "device", cfg.Camera.DeviceID, "camera device index")
	flag.StringVar(&cfg.Dashboard.Addr, "dashboard", cfg.Dashboard.Addr, "status feed listen address")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	app, err := NewApplication(cfg)
	if err != nil {
		logger.Fatal("failed to assemble application", zap.Error(err))
	}

	if err := app.Run(); err != nil {
		logger.Fatal("mission failed", zap.Error(err))
	}
}

func NewApplication(cfg *config.Config) (*Application, error) {
	cam := camera.NewManager(camera.Config{
		DeviceID:   cfg.Camera.DeviceID,
		Width:      cfg.Camera.Width,
		Height:     cfg.Camera.Height,
		FrameRate:  cfg.Camera.FrameRate,
		BufferSize: cfg.Camera.BufferSize,
	})

	recorder := camera.NewSegmentRecorder(cam, cfg.Detection.ClipsDir, cfg.Camera.FrameRate, nil)

	analyzer := inference.NewClient(inference.ClientConfig{
		QuickURL:     cfg.Inference.QuickURL,
		DeepURL:      cfg.Inference.DeepURL,
		APIKey:       cfg.Inference.APIKey,
		QuickTimeout: cfg.Inference.QuickTimeout,
		PollInterval: cfg.Inference.PollInterval,
		PollTimeout:  cfg.Inference.PollTimeout,
	})

	notifier := actuate.NewPiNotifier(cfg.Actuator.Endpoint, cfg.Actuator.Timeout)
	artifacts := detect.NewArtifactStore(cfg.Detection.FramesDir, cfg.Detection.KeepSnapshots)

	app := &Application{
		cfg:    cfg,
		logger: zap.L().Named("mission"),
		cam:    cam,
	}

	var sink detect.Sink
	if cfg.Dashboard.Enabled {
		app.feed = dashboard.NewServer(cfg.Dashboard.Addr, app.status)
		sink = app.feed
	}

	app.coordinator = detect.NewCoordinator(detect.Config{
		LockThreshold:   cfg.Detection.LockThreshold,
		AcquireInterval: cfg.Detection.AcquireInterval,
		ConfirmInterval: cfg.Detection.ConfirmInterval,
		SegmentDuration: cfg.Detection.SegmentDuration,
	}, cam, recorder, analyzer, notifier, artifacts, sink)

	return app, nil
}

// Run starts all workers and blocks until shutdown.
func (app *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.logger.Info("starting rescue mission",
		zap.String("mission_id", app.cfg.Rover.MissionID),
		zap.String("rover", app.cfg.Rover.Name))

	if err := app.cam.Open(); err != nil {
		return fmt.Errorf("camera initialization: %w", err)
	}
	if err := app.cam.Start(); err != nil {
		return err
	}
	defer app.cam.Stop()

	if app.feed != nil {
		app.feed.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			app.feed.Stop(shutdownCtx)
		}()
	}

	if err := app.coordinator.Start(ctx); err != nil {
		return err
	}
	defer app.coordinator.Stop()

	app.startedAt = time.Now()
	app.logger.Info("rover operational")

	app.missionLoop(ctx)

	app.logMissionSummary()
	return nil
}

// missionLoop logs periodic status and health until shutdown is requested.
func (app *Application) missionLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			app.logger.Info("shutdown requested")
			return
		case <-ticker.C:
			app.logMissionStatus()
		}
	}
}

func (app *Application) logMissionStatus() {
	snap := app.coordinator.Snapshot()
	met := app.cam.Ring().Metrics()
	healthy := app.cam.Healthy(stallWindow)

	if !healthy {
		app.logger.Warn("camera stalled",
			zap.Time("last_frame_at", app.cam.LastFrameAt()))
	}

	app.logger.Info("mission status",
		zap.Duration("uptime", time.Since(app.startedAt).Round(time.Second)),
		zap.String("phase", app.coordinator.Phase().String()),
		zap.Uint64("total_scans", snap.TotalScans),
		zap.Uint64("survivors_found", snap.SurvivorsFound),
		zap.Int("buffered_frames", met.Size),
		zap.Uint64("dropped_frames", met.Dropped),
		zap.Bool("camera_healthy", healthy))
}

func (app *Application) logMissionSummary() {
	snap := app.coordinator.Snapshot()
	app.logger.Info("mission summary",
		zap.String("mission_id", app.cfg.Rover.MissionID),
		zap.Duration("duration", time.Since(app.startedAt).Round(time.Second)),
		zap.Uint64("total_scans", snap.TotalScans),
		zap.Uint64("survivors_found", snap.SurvivorsFound))
}

// status assembles the feed snapshot for dashboard consumers.
func (app *Application) status() dashboard.Status {
	snap := app.coordinator.Snapshot()
	met := app.cam.Ring().Metrics()
	return dashboard.Status{
		Rover:          app.cfg.Rover.Name,
		MissionID:      app.cfg.Rover.MissionID,
		Phase:          app.coordinator.Phase().String(),
		TotalScans:     snap.TotalScans,
		SurvivorsFound: snap.SurvivorsFound,
		LastScanAt:     snap.LastScanAt,
		CameraHealthy:  app.cam.Healthy(stallWindow),
		BufferedFrames: met.Size,
		DroppedFrames:  met.Dropped,
	}
}
