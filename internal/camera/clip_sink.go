package camera

import (
	"fmt"

	"gocv.io/x/gocv"
)

// videoClipSink writes JPEG frames into an mp4 clip via the gocv video
// writer. The writer is opened lazily on the first frame, since frame
// dimensions are only known then.
type videoClipSink struct {
	path   string
	fps    float64
	writer *gocv.VideoWriter
}

func newVideoClipSink(path string, fps float64) (ClipSink, error) {
	return &videoClipSink{path: path, fps: fps}, nil
}

func (s *videoClipSink) WriteJPEG(data []byte) error {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return fmt.Errorf("decoded frame is empty")
	}

	if s.writer == nil {
		w, err := gocv.VideoWriterFile(s.path, "mp4v", s.fps, mat.Cols(), mat.Rows(), true)
		if err != nil {
			return fmt.Errorf("open video writer: %w", err)
		}
		if !w.IsOpened() {
			w.Close()
			return fmt.Errorf("video writer failed to open %s", s.path)
		}
		s.writer = w
	}

	return s.writer.Write(mat)
}

func (s *videoClipSink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
