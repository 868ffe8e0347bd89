// Package registry maintains the process-wide mapping from a blob name
// to its open volume engine (C6). It is the only place that decides
// which blob file on disk a request's blob_name refers to, and the
// only place that enforces "at most one writer per blob at any
// instant" across every session that has that blob open.
package registry

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	kerrors "kurpod/internal/errors"
	"kurpod/internal/log"
	"kurpod/internal/session"
	"kurpod/internal/volume"
)

// Mode selects how blob names map to filesystem paths.
type Mode int

const (
	// DirectoryMode serves every blob file found under Dir, named by
	// its basename.
	DirectoryMode Mode = iota
	// SingleFileMode serves exactly one configured blob, under one
	// fixed name regardless of what the client asks for.
	SingleFileMode
)

// BlobExtension is the suffix directory-mode listing requires and
// strips to produce a blob_name.
const BlobExtension = ".kurpod"

// Config configures a Registry's blob_name -> path resolution.
type Config struct {
	Mode Mode

	// Dir is the directory scanned for *.kurpod files in DirectoryMode.
	Dir string

	// SingleFilePath is the one blob file served in SingleFileMode.
	SingleFilePath string
	// SingleFileName is the blob_name clients must use to address it.
	SingleFileName string
}

// Handle is one blob's open engine plus the readers-writer discipline
// the registry promises callers: many concurrent readers, or one
// exclusive writer, never both.
type Handle struct {
	mu     sync.RWMutex
	engine *volume.Engine
	path   string
}

// Registry is the blob_name -> Handle map plus the session manager
// that authenticates every with_read/with_write call.
type Registry struct {
	cfg      Config
	sessions *session.Manager

	mu      sync.Mutex
	handles map[string]*Handle
}

// New creates a registry bound to cfg and sessions. It opens no blob
// file until the first request that needs one.
func New(cfg Config, sessions *session.Manager) *Registry {
	return &Registry{
		cfg:      cfg,
		sessions: sessions,
		handles:  make(map[string]*Handle),
	}
}

// ModeName reports the registry's configured mode as the string the
// status endpoint surfaces to clients.
func (r *Registry) ModeName() string {
	if r.cfg.Mode == SingleFileMode {
		return "single-file"
	}
	return "directory"
}

// DefaultBlobName returns the blob name implied when a client omits
// blob_name, which is only meaningful in SingleFileMode.
func (r *Registry) DefaultBlobName() string {
	if r.cfg.Mode == SingleFileMode {
		return r.cfg.SingleFileName
	}
	return ""
}

// ListBlobs enumerates blob names servable under this registry's
// configuration.
func (r *Registry) ListBlobs() ([]string, error) {
	if r.cfg.Mode == SingleFileMode {
		return []string{r.cfg.SingleFileName}, nil
	}

	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		return nil, kerrors.NewFileError("read", r.cfg.Dir, err)
	}

	var names []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		if strings.HasSuffix(ent.Name(), BlobExtension) {
			names = append(names, strings.TrimSuffix(ent.Name(), BlobExtension))
		}
	}
	sort.Strings(names)
	return names, nil
}

// resolvePath maps a blob_name to its filesystem path under this
// registry's configured mode.
func (r *Registry) resolvePath(blobName string) (string, error) {
	if r.cfg.Mode == SingleFileMode {
		if blobName != r.cfg.SingleFileName {
			return "", kerrors.ErrNotFound
		}
		return r.cfg.SingleFilePath, nil
	}

	if blobName == "" || strings.ContainsAny(blobName, `/\`) || blobName == "." || blobName == ".." {
		return "", kerrors.ErrInvalidPath
	}
	return filepath.Join(r.cfg.Dir, blobName+BlobExtension), nil
}

// handleFor returns the Handle for blobName, opening its engine on
// first use and caching it for the life of the process.
func (r *Registry) handleFor(blobName string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[blobName]; ok {
		return h, nil
	}

	path, err := r.resolvePath(blobName)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, kerrors.ErrNotFound
	}

	engine, err := volume.Open(path)
	if err != nil {
		return nil, err
	}

	h := &Handle{engine: engine, path: path}
	r.handles[blobName] = h
	log.Info("blob opened", log.String("blob", blobName), log.String("path", path))
	return h, nil
}

// InitBlob creates a brand-new blob at blob_name's resolved path and
// registers its handle. It fails if a blob of that name already
// exists.
func (r *Registry) InitBlob(blobName, passwordStandard string, passwordHidden *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, err := r.resolvePath(blobName)
	if err != nil {
		return err
	}
	if err := volume.Init(path, passwordStandard, passwordHidden); err != nil {
		return err
	}

	engine, err := volume.Open(path)
	if err != nil {
		return err
	}
	r.handles[blobName] = &Handle{engine: engine, path: path}
	return nil
}

// OpenForSession unlocks blobName with password, binds the resulting
// session to clientIP/userAgent, and returns a bearer token. It is the
// only registry call that turns a plaintext password into a session.
func (r *Registry) OpenForSession(blobName, password, clientIP, userAgent string) (token string, err error) {
	token, _, err = r.OpenForSessionNamed(blobName, password, clientIP, userAgent)
	return token, err
}

// OpenForSessionNamed is OpenForSession plus the name of the volume
// ("standard"/"hidden") the password actually unlocked, which the
// unlock response surfaces to the client the same way a wrong-password
// attempt reveals nothing else about the blob's layout.
func (r *Registry) OpenForSessionNamed(blobName, password, clientIP, userAgent string) (token, volumeName string, err error) {
	h, err := r.handleFor(blobName)
	if err != nil {
		return "", "", err
	}

	v, err := h.engine.Unlock(password)
	if err != nil {
		return "", "", err
	}
	key := append([]byte(nil), v.Key()...)
	volumeName = v.ID().String()
	v.Lock()

	token, err = r.sessions.Issue(key, session.VolumeRef{BlobName: blobName, VolumeID: int(v.ID())}, clientIP, userAgent)
	for i := range key {
		key[i] = 0
	}
	return token, volumeName, err
}

// Close releases every open blob handle. It is meant for process
// shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, h := range r.handles {
		if err := h.engine.Close(); err != nil {
			log.Warn("error closing blob", log.String("blob", name), log.Err(err))
		}
	}
	r.handles = make(map[string]*Handle)
}
