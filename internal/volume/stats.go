package volume

import "kurpod/internal/blobfmt"

// Stats reports file_count and live_bytes for this volume alone. The
// caller is the one authorized to see only its own live set; Stats on
// a single UnlockedVolume never includes garbage_bytes, since computing
// it requires the live chunk set of both volumes (see EngineStats).
func (v *UnlockedVolume) Stats() (Stats, error) {
	size, err := v.engine.blob.Size()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		FileCount: len(v.snapshot.Files),
		LiveBytes: v.snapshot.TotalChunkBytes(),
		BlobSize:  size,
	}, nil
}

// EngineStats reports blob-wide space usage given both volumes'
// snapshots, for use by registry.BlobStatsBoth, which backs the stats
// endpoint that takes both passwords. garbage_bytes = blob_size - header - the union of
// both volumes' live chunk bytes.
func EngineStats(e *Engine, standard, hidden *UnlockedVolume) (Stats, error) {
	size, err := e.blob.Size()
	if err != nil {
		return Stats{}, err
	}

	var live uint64
	var fileCount int
	if standard != nil {
		live += standard.snapshot.TotalChunkBytes()
		fileCount += len(standard.snapshot.Files)
	}
	if hidden != nil {
		live += hidden.snapshot.TotalChunkBytes()
		fileCount += len(hidden.snapshot.Files)
	}

	overhead := uint64(blobfmt.HeaderSize) + live
	var garbage uint64
	if uint64(size) > overhead {
		garbage = uint64(size) - overhead
	}

	return Stats{
		FileCount:    fileCount,
		LiveBytes:    live,
		BlobSize:     size,
		GarbageBytes: &garbage,
	}, nil
}
