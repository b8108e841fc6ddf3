package detect

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fieldrover/rescuecam/internal/camera"
)

func snapshotNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPurgeKeepsNewestSnapshots(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir, 3)

	var paths []string
	for i := 0; i < 8; i++ {
		p, err := store.SaveSnapshot(camera.Frame{
			Data:      []byte("jpeg"),
			Timestamp: time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	if err := store.Purge(); err != nil {
		t.Fatalf("Purge() error: %v", err)
	}

	names := snapshotNames(t, dir)
	if len(names) != 3 {
		t.Fatalf("kept %d snapshots, want 3: %v", len(names), names)
	}
	// The survivors must be the three most recently saved.
	for _, p := range paths[5:] {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("newest snapshot %s was purged", filepath.Base(p))
		}
	}
	for _, p := range paths[:5] {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("stale snapshot %s was not purged", filepath.Base(p))
		}
	}
}

func TestPurgeBelowLimitIsNoop(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir, 5)

	for i := 0; i < 3; i++ {
		if _, err := store.SaveSnapshot(camera.Frame{Data: []byte("x"), Timestamp: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Purge(); err != nil {
		t.Fatal(err)
	}
	if names := snapshotNames(t, dir); len(names) != 3 {
		t.Errorf("kept %d snapshots, want all 3: %v", len(names), names)
	}
}

func TestTargetFramesSurvivePurge(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir, 2)

	target, err := store.SaveTarget(camera.Frame{Data: []byte("lock"), Timestamp: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		if _, err := store.SaveSnapshot(camera.Frame{Data: []byte("x"), Timestamp: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.Purge(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(target); err != nil {
		t.Errorf("target frame was purged: %v", err)
	}
	count := 0
	for _, name := range snapshotNames(t, dir) {
		if strings.HasPrefix(name, "frame_") {
			count++
		}
	}
	if count != 2 {
		t.Errorf("kept %d snapshots, want 2", count)
	}
}

func TestRemoveClipMissingFileIsQuiet(t *testing.T) {
	store := NewArtifactStore(t.TempDir(), 2)
	store.RemoveClip(filepath.Join(t.TempDir(), "gone.mp4"))
}
