package camera

import "time"

// Frame is one captured image, JPEG-encoded, with capture metadata.
type Frame struct {
	Data      []byte // JPEG payload
	Timestamp time.Time
	Sequence  uint64
}
