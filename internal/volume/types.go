// Package volume implements the volume engine: opening a blob,
// resolving which volume a password unlocks, decoding/encoding metadata
// snapshots, and streaming file chunks in and out. It is the layer that
// turns the blob format's bytes (internal/blobfmt) into the file-system
// abstraction the HTTP surface serves.
//
// This package owns no cryptographic policy of its own beyond calling
// internal/crypto the way the blob format's design requires; two
// volumes share one file and one append region, each addressed by its
// own salt slot and derived key.
package volume

import "time"

// VolumeID identifies which of the two volumes in a blob a session has
// unlocked. It is never exposed to an HTTP client beyond a label the
// caller already supplied (the password they typed).
type VolumeID int

const (
	StandardVolume VolumeID = 0
	HiddenVolume   VolumeID = 1
)

func (v VolumeID) String() string {
	if v == HiddenVolume {
		return "hidden"
	}
	return "standard"
}

// FileInfo is the listing-level view of one file entry: everything
// except its chunk list, which callers never need directly.
type FileInfo struct {
	Path     string
	Size     int64
	Mime     string
	Created  time.Time
	Modified time.Time
}

// ByteRange is an inclusive-low, exclusive-high byte range request for
// Read, e.g. bytes [0, 100) is the first 100 bytes.
type ByteRange struct {
	Low  int64
	High int64
}

// Stats summarizes a blob's space usage. GarbageBytes is only populated
// when the caller has unlocked both volumes (EngineStats);
// a single volume's session cannot account for the other volume's live
// set and so cannot tell live bytes apart from the other volume's data.
type Stats struct {
	FileCount    int
	LiveBytes    uint64
	BlobSize     int64
	GarbageBytes *uint64
}

// ProgressReporter receives progress callbacks during long-running
// streaming operations (large uploads, compaction). Implementations
// must be safe to call from the goroutine driving the operation; the
// HTTP surface's handlers are the typical caller, translating these
// into whatever the client's transport supports.
type ProgressReporter interface {
	SetStatus(text string)
	SetProgress(fraction float64, info string)
	IsCancelled() bool
}

// noopReporter discards all progress callbacks and never cancels. Used
// when a caller has no UI to drive.
type noopReporter struct{}

func (noopReporter) SetStatus(string)            {}
func (noopReporter) SetProgress(float64, string) {}
func (noopReporter) IsCancelled() bool           { return false }

// NoopReporter is the shared no-op ProgressReporter.
var NoopReporter ProgressReporter = noopReporter{}
