package camera

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// maxProbeIndex bounds the device scan when the preferred index fails.
const maxProbeIndex = 5

// Config controls device selection and the capture loop.
type Config struct {
	DeviceID   int // preferred index; 0..maxProbeIndex are probed as fallback
	Width      int
	Height     int
	FrameRate  float64
	BufferSize int
}

// Manager owns the camera device and runs the capture loop that feeds the
// frame ring. One dedicated worker reads frames; everyone else consumes
// through Latest or the recorder's direct-capture path.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	ring   *FrameRing

	// devMu serializes device reads: the capture loop and the recorder's
	// direct-capture fallback must never read concurrently.
	devMu    sync.Mutex
	dev      *gocv.VideoCapture
	devIndex int

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	seq         atomic.Uint64
	lastFrameAt atomic.Int64 // unix nanos of the most recent successful read
}

// NewManager creates a capture manager. Open must be called before Start.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: zap.L().Named("camera"),
		ring:   NewFrameRing(cfg.BufferSize),
	}
}

// Ring exposes the bounded frame buffer.
func (m *Manager) Ring() *FrameRing { return m.ring }

// Open probes camera indices starting with the configured device, applies
// the capture properties, and verifies the device with a test read. It
// returns ErrDeviceUnavailable when no usable device is found.
func (m *Manager) Open() error {
	m.devMu.Lock()
	defer m.devMu.Unlock()

	if m.dev != nil {
		m.dev.Close()
		m.dev = nil
	}

	indices := []int{m.cfg.DeviceID}
	for i := 0; i < maxProbeIndex; i++ {
		if i != m.cfg.DeviceID {
			indices = append(indices, i)
		}
	}

	for _, idx := range indices {
		dev, err := gocv.OpenVideoCapture(idx)
		if err != nil || !dev.IsOpened() {
			if dev != nil {
				dev.Close()
			}
			m.logger.Debug("camera index not usable", zap.Int("index", idx))
			continue
		}

		dev.Set(gocv.VideoCaptureFrameWidth, float64(m.cfg.Width))
		dev.Set(gocv.VideoCaptureFrameHeight, float64(m.cfg.Height))
		dev.Set(gocv.VideoCaptureFPS, m.cfg.FrameRate)

		// Opened devices can still fail to deliver frames; verify now so
		// startup fails loudly instead of the capture loop spinning.
		test := gocv.NewMat()
		ok := dev.Read(&test)
		empty := test.Empty()
		test.Close()
		if !ok || empty {
			dev.Close()
			m.logger.Warn("camera opened but test read failed", zap.Int("index", idx))
			continue
		}

		m.dev = dev
		m.devIndex = idx
		m.logger.Info("camera initialized",
			zap.Int("index", idx),
			zap.Int("width", m.cfg.Width),
			zap.Int("height", m.cfg.Height),
			zap.Float64("fps", m.cfg.FrameRate))
		return nil
	}

	return fmt.Errorf("no usable camera (tried %v): %w", indices, ErrDeviceUnavailable)
}

// Start launches the capture worker. Open must have succeeded first.
func (m *Manager) Start() error {
	if m.dev == nil {
		return ErrDeviceUnavailable
	}
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("capture already running")
	}

	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.captureLoop()
	return nil
}

// Stop signals the capture worker, waits for it to finish its current
// iteration, and releases the device.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stopCh)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		m.logger.Warn("capture worker stop timeout")
	}

	m.devMu.Lock()
	if m.dev != nil {
		m.dev.Close()
		m.dev = nil
	}
	m.devMu.Unlock()
	m.logger.Info("camera stopped", zap.Uint64("frames_captured", m.seq.Load()))
}

// captureLoop reads frames at the target rate. Read failures back off and
// retry; only the stop signal ends the loop.
func (m *Manager) captureLoop() {
	defer m.wg.Done()

	interval := time.Duration(float64(time.Second) / m.cfg.FrameRate)
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 100 * time.Millisecond
	retry.MaxInterval = time.Second
	retry.MaxElapsedTime = 0 // never give up; the stop signal is the only exit

	m.logger.Info("capture loop started", zap.Duration("interval", interval))

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		frame, err := m.readFrame()
		if err != nil {
			wait := retry.NextBackOff()
			m.logger.Warn("frame read failed", zap.Error(err), zap.Duration("retry_in", wait))
			if !m.sleep(wait) {
				return
			}
			continue
		}
		retry.Reset()

		m.ring.Push(frame)
		m.lastFrameAt.Store(frame.Timestamp.UnixNano())

		if frame.Sequence%100 == 0 {
			met := m.ring.Metrics()
			m.logger.Debug("capture progress",
				zap.Uint64("sequence", frame.Sequence),
				zap.Int("buffered", met.Size),
				zap.Uint64("dropped", met.Dropped))
		}

		if !m.sleep(interval) {
			return
		}
	}
}

// readFrame grabs one frame from the device and JPEG-encodes it. It is the
// single point of device access, shared with the direct-capture path.
func (m *Manager) readFrame() (Frame, error) {
	m.devMu.Lock()
	defer m.devMu.Unlock()

	if m.dev == nil || !m.dev.IsOpened() {
		return Frame{}, ErrDeviceUnavailable
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := m.dev.Read(&mat); !ok || mat.Empty() {
		return Frame{}, fmt.Errorf("device %d returned no frame", m.devIndex)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return Frame{}, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	return Frame{
		Data:      data,
		Timestamp: time.Now(),
		Sequence:  m.seq.Add(1),
	}, nil
}

// Latest pops the oldest buffered frame without blocking. Callers poll and
// must tolerate absence.
func (m *Manager) Latest() (Frame, bool) {
	return m.ring.Pop()
}

// CaptureDirect reads one frame straight from the device, bypassing the
// buffer. Used by the segment recorder when no buffered data exists.
func (m *Manager) CaptureDirect() (Frame, error) {
	if !m.running.Load() {
		return Frame{}, ErrNotRunning
	}
	return m.readFrame()
}

// LastFrameAt reports when the capture loop last produced a frame.
func (m *Manager) LastFrameAt() time.Time {
	ns := m.lastFrameAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Healthy reports whether frames have been produced within the window.
// Distinguishes "producing frames" from "stalled".
func (m *Manager) Healthy(window time.Duration) bool {
	if !m.running.Load() {
		return false
	}
	last := m.LastFrameAt()
	return !last.IsZero() && time.Since(last) < window
}

// sleep waits for d or until stop. Returns false when stopping.
func (m *Manager) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.stopCh:
		return false
	case <-t.C:
		return true
	}
}
