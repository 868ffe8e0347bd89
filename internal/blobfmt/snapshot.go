package blobfmt

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	kerrors "kurpod/internal/errors"
)

// SnapshotVersion guards the wire format of the encoded Snapshot. Bump it
// whenever a field is added or reinterpreted; Decode refuses anything
// newer than the version this binary understands.
const SnapshotVersion = 1

// ChunkRef addresses one ciphertext chunk previously written with
// AppendRecord. Offset is the ciphertext offset AppendRecord returned,
// not the record start, so a read never has to re-derive framing.
type ChunkRef struct {
	Offset int64  `cbor:"1,keyasint"`
	Length uint64 `cbor:"2,keyasint"`
}

// FileEntry is one file's worth of metadata inside a volume: its path,
// size, timestamps, an optional MIME type hint, and the ordered list of
// chunks that make up its ciphertext.
type FileEntry struct {
	Path     string     `cbor:"1,keyasint"`
	Size     int64      `cbor:"2,keyasint"`
	Created  time.Time  `cbor:"3,keyasint"`
	Modified time.Time  `cbor:"4,keyasint"`
	Chunks   []ChunkRef `cbor:"5,keyasint"`
	Mime     string     `cbor:"6,keyasint"`
}

// Snapshot is the full metadata state of one volume at one point in
// time: every live file and its chunk list, plus the append offset the
// next chunk or metadata record will be written at. Each
// Write/Remove/Rename produces a new Snapshot, sealed and appended as a
// metadata record; the previous snapshot's record becomes garbage
// until compaction.
type Snapshot struct {
	Version         int         `cbor:"1,keyasint"`
	Files           []FileEntry `cbor:"2,keyasint"`
	NextChunkOffset uint64      `cbor:"3,keyasint"`
}

// NewSnapshot returns an empty snapshot at the current format version,
// with its append cursor positioned right after the fixed header.
func NewSnapshot() *Snapshot {
	return &Snapshot{Version: SnapshotVersion, NextChunkOffset: uint64(HeaderSize)}
}

// Encode serializes the snapshot to CBOR. CBOR is used instead of JSON
// because a Snapshot's ChunkRef offsets and file sizes are exact
// 64-bit integers and its timestamps need unambiguous binary
// round-tripping; JSON's number model (float64) and lack of a native
// time type would force lossy or string-encoded workarounds for both.
func (s *Snapshot) Encode() ([]byte, error) {
	b, err := cbor.Marshal(s)
	if err != nil {
		return nil, kerrors.Wrap(err, "encode snapshot")
	}
	return b, nil
}

// DecodeSnapshot parses a CBOR-encoded snapshot and rejects any version
// newer than SnapshotVersion.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, kerrors.NewRecordError("snapshot", err)
	}
	if s.Version > SnapshotVersion {
		return nil, kerrors.ErrUnsupportedVersion
	}
	return &s, nil
}

// Find returns the entry for path, or nil if no live file has that path.
func (s *Snapshot) Find(path string) *FileEntry {
	for i := range s.Files {
		if s.Files[i].Path == path {
			return &s.Files[i]
		}
	}
	return nil
}

// Upsert replaces the entry matching entry.Path, or appends it if no
// entry with that path exists yet.
func (s *Snapshot) Upsert(entry FileEntry) {
	for i := range s.Files {
		if s.Files[i].Path == entry.Path {
			s.Files[i] = entry
			return
		}
	}
	s.Files = append(s.Files, entry)
}

// Remove deletes the entry for path, if present. It reports whether a
// matching entry was found. The chunks it referenced are not reclaimed
// here — they become garbage until the next compaction.
func (s *Snapshot) Remove(path string) bool {
	for i := range s.Files {
		if s.Files[i].Path == path {
			s.Files = append(s.Files[:i], s.Files[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so a caller can mutate it to build the next
// snapshot without disturbing the one still referenced elsewhere (e.g.
// concurrent readers holding the previously-unlocked snapshot).
func (s *Snapshot) Clone() *Snapshot {
	clone := &Snapshot{Version: s.Version, NextChunkOffset: s.NextChunkOffset, Files: make([]FileEntry, len(s.Files))}
	for i, f := range s.Files {
		chunks := make([]ChunkRef, len(f.Chunks))
		copy(chunks, f.Chunks)
		clone.Files[i] = FileEntry{
			Path:     f.Path,
			Size:     f.Size,
			Created:  f.Created,
			Modified: f.Modified,
			Chunks:   chunks,
			Mime:     f.Mime,
		}
	}
	return clone
}

// TotalChunkBytes sums the on-disk ciphertext length of every chunk
// referenced by every live file, used by Stats to report live bytes.
func (s *Snapshot) TotalChunkBytes() uint64 {
	var total uint64
	for _, f := range s.Files {
		for _, c := range f.Chunks {
			total += c.Length
		}
	}
	return total
}
