// Package actuate holds the outbound boundary to the rover's motion
// controller. Detection must never stall waiting on actuation, so the
// notifier makes one best-effort attempt and reports the outcome.
package actuate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fieldrover/rescuecam/internal/inference"
)

// Notifier tells the downstream actuator that a target has been locked.
type Notifier interface {
	Notify(ctx context.Context, res inference.Result) error
}

// command is the wire body the Pi controller expects.
type command struct {
	Injury bool `json:"injury"`
}

// PiNotifier posts the movement command to the Raspberry Pi controller.
// One attempt per notification, bounded timeout, no retry.
type PiNotifier struct {
	endpoint string
	timeout  time.Duration
	httpc    *http.Client
	logger   *zap.Logger
}

func NewPiNotifier(endpoint string, timeout time.Duration) *PiNotifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &PiNotifier{
		endpoint: endpoint,
		timeout:  timeout,
		httpc:    &http.Client{Timeout: timeout},
		logger:   zap.L().Named("actuator"),
	}
}

// Notify sends {"injury": true} to the controller. Any 2xx status is
// success. Failures are logged and returned; callers must not let them
// affect detection state.
func (n *PiNotifier) Notify(ctx context.Context, res inference.Result) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	body, err := json.Marshal(command{Injury: true})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpc.Do(req)
	if err != nil {
		n.logger.Warn("actuator unreachable", zap.String("endpoint", n.endpoint), zap.Error(err))
		return fmt.Errorf("actuator call: %w", err)
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("actuator rejected command",
			zap.String("status", resp.Status),
			zap.ByteString("reply", reply))
		return fmt.Errorf("actuator returned %s", resp.Status)
	}

	n.logger.Info("actuator notified",
		zap.Float64("confidence", res.Confidence),
		zap.ByteString("reply", reply))
	return nil
}
