package detect

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fieldrover/rescuecam/internal/camera"
)

const (
	snapshotPrefix = "frame_"
	targetPrefix   = "target_"
)

// ArtifactStore persists acquisition snapshots into the scratch directory.
// Snapshot filenames encode sequence and timestamp so lexical order is
// creation order; Purge keeps only the newest K snapshots. Target frames
// use a separate prefix and survive purging.
type ArtifactStore struct {
	dir    string
	keep   int
	seq    atomic.Uint64
	logger *zap.Logger
}

func NewArtifactStore(dir string, keep int) *ArtifactStore {
	if keep <= 0 {
		keep = 10
	}
	return &ArtifactStore{
		dir:    dir,
		keep:   keep,
		logger: zap.L().Named("artifacts"),
	}
}

// SaveSnapshot writes one acquisition frame to disk and returns its path.
func (a *ArtifactStore) SaveSnapshot(f camera.Frame) (string, error) {
	name := fmt.Sprintf("%s%06d_%s.jpg", snapshotPrefix,
		a.seq.Add(1), f.Timestamp.Format("150405"))
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return path, nil
}

// SaveTarget writes the frame that triggered a lock. Target frames carry a
// fuller timestamp and are never purged.
func (a *ArtifactStore) SaveTarget(f camera.Frame) (string, error) {
	name := fmt.Sprintf("%s%06d_%s.jpg", targetPrefix,
		a.seq.Add(1), f.Timestamp.Format("20060102_150405"))
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return "", fmt.Errorf("save target frame: %w", err)
	}
	a.logger.Info("target frame saved", zap.String("path", path))
	return path, nil
}

// Purge removes stale snapshots, retaining only the most recent keep.
func (a *ArtifactStore) Purge() error {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}

	var snapshots []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), snapshotPrefix) {
			snapshots = append(snapshots, e.Name())
		}
	}
	if len(snapshots) <= a.keep {
		return nil
	}

	// Filenames sort by sequence, oldest first.
	sort.Strings(snapshots)
	stale := snapshots[:len(snapshots)-a.keep]
	for _, name := range stale {
		if err := os.Remove(filepath.Join(a.dir, name)); err != nil {
			a.logger.Warn("failed to remove stale snapshot",
				zap.String("name", name), zap.Error(err))
		}
	}
	a.logger.Debug("purged stale snapshots", zap.Int("removed", len(stale)))
	return nil
}

// RemoveClip deletes a consumed confirmation clip. Best effort.
func (a *ArtifactStore) RemoveClip(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		a.logger.Warn("failed to remove clip", zap.String("path", path), zap.Error(err))
	}
}
