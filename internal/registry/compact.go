package registry

import (
	"kurpod/internal/compact"
	"kurpod/internal/log"
	"kurpod/internal/volume"
)

// CompactBlob rewrites blobName's underlying file to drop garbage
// chunks, requiring both volume passwords. It takes the blob's
// exclusive write lock for the whole operation — compaction is the one
// case where the registry itself, not just a caller's fn, must hold
// the handle across a multi-step operation — and replaces the cached
// engine with one reopened against the rewritten file, since the
// compactor's atomic rename leaves the registry's existing file handle
// pointing at an unlinked inode.
func (r *Registry) CompactBlob(blobName, passwordStandard string, passwordHidden *string, reporter volume.ProgressReporter) error {
	h, err := r.handleFor(blobName)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.engine.Close(); err != nil {
		return err
	}

	runErr := compact.Run(compact.Request{
		BlobPath:         h.path,
		PasswordStandard: passwordStandard,
		PasswordHidden:   passwordHidden,
		Reporter:         reporter,
	})

	engine, openErr := volume.Open(h.path)
	if openErr != nil {
		log.Error("failed to reopen blob after compaction", log.String("blob", blobName), log.Err(openErr))
		return openErr
	}
	h.engine = engine

	return runErr
}
