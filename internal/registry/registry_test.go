package registry

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kerrors "kurpod/internal/errors"
	"kurpod/internal/session"
	"kurpod/internal/volume"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	sessions, err := session.NewManager(time.Hour, time.Hour)
	require.NoError(t, err)
	t.Cleanup(sessions.Close)

	r := New(Config{Mode: DirectoryMode, Dir: dir}, sessions)
	return r, dir
}

func TestInitListAndOpenForSession(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.NoError(t, r.InitBlob("vault", "pw", nil))

	names, err := r.ListBlobs()
	require.NoError(t, err)
	require.Equal(t, []string{"vault"}, names)

	token, err := r.OpenForSession("vault", "pw", "1.2.3.4", "agent/1.0")
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestOpenForSessionRejectsBadPassword(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.InitBlob("vault", "pw", nil))

	_, err := r.OpenForSession("vault", "wrong", "1.2.3.4", "agent/1.0")
	require.Error(t, err)
}

func TestWithWriteThenWithReadRoundTrip(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.InitBlob("vault", "pw", nil))
	token, err := r.OpenForSession("vault", "pw", "1.2.3.4", "agent/1.0")
	require.NoError(t, err)

	_, err = WithWrite(r, "vault", token, "1.2.3.4", "agent/1.0", func(v *volume.UnlockedVolume) (struct{}, error) {
		req := volume.NewWriteRequestBuilder("hello.txt", bytes.NewReader([]byte("hi"))).Build()
		return struct{}{}, v.Write(req)
	})
	require.NoError(t, err)

	files, err := WithRead(r, "vault", token, "1.2.3.4", "agent/1.0", func(v *volume.UnlockedVolume) ([]volume.FileInfo, error) {
		return v.List(), nil
	})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "hello.txt", files[0].Path)
}

func TestWithReadRejectsCrossBlobToken(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.InitBlob("vault-a", "pw", nil))
	require.NoError(t, r.InitBlob("vault-b", "pw", nil))

	token, err := r.OpenForSession("vault-a", "pw", "1.2.3.4", "agent/1.0")
	require.NoError(t, err)

	_, err = WithRead(r, "vault-b", token, "1.2.3.4", "agent/1.0", func(v *volume.UnlockedVolume) (struct{}, error) {
		return struct{}{}, nil
	})
	require.Error(t, err)
}

func TestWithReadRejectsBindingMismatch(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.InitBlob("vault", "pw", nil))
	token, err := r.OpenForSession("vault", "pw", "1.2.3.4", "agent/1.0")
	require.NoError(t, err)

	_, err = WithRead(r, "vault", token, "9.9.9.9", "agent/1.0", func(v *volume.UnlockedVolume) (struct{}, error) {
		return struct{}{}, nil
	})
	require.Error(t, err)
}

func TestSingleFileModeOnlyServesConfiguredName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "only.kurpod")
	require.NoError(t, volume.Init(path, "pw", nil))

	sessions, err := session.NewManager(time.Hour, time.Hour)
	require.NoError(t, err)
	t.Cleanup(sessions.Close)

	r := New(Config{Mode: SingleFileMode, SingleFilePath: path, SingleFileName: "vault"}, sessions)

	names, err := r.ListBlobs()
	require.NoError(t, err)
	require.Equal(t, []string{"vault"}, names)

	_, err = r.OpenForSession("something-else", "pw", "1.2.3.4", "agent/1.0")
	require.Error(t, err)

	_, err = r.OpenForSession("vault", "pw", "1.2.3.4", "agent/1.0")
	require.NoError(t, err)
}

// TestConcurrentWritersNeverInterleave is invariant 9: two sessions
// writing to the same blob at once must never produce an interleaved
// record sequence. WithWrite's per-handle exclusive lock rejects a
// second writer with ErrConflict rather than queuing it, so each
// caller retries on conflict; every one of both callers' files still
// ends up fully present and individually readable once both have
// returned.
func TestConcurrentWritersNeverInterleave(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.InitBlob("vault", "pw", nil))

	tokenA, err := r.OpenForSession("vault", "pw", "1.2.3.4", "agent/1.0")
	require.NoError(t, err)
	tokenB, err := r.OpenForSession("vault", "pw", "5.6.7.8", "agent/2.0")
	require.NoError(t, err)

	const writesPerWriter = 20
	var wg sync.WaitGroup
	wg.Add(2)

	write := func(token, clientIP, userAgent, prefix string) {
		defer wg.Done()
		for i := 0; i < writesPerWriter; i++ {
			name := fmt.Sprintf("%s-%02d.bin", prefix, i)
			payload := bytes.Repeat([]byte(prefix[:1]), 1024)
			for {
				_, err := WithWrite(r, "vault", token, clientIP, userAgent, func(v *volume.UnlockedVolume) (struct{}, error) {
					req := volume.NewWriteRequestBuilder(name, bytes.NewReader(payload)).Build()
					return struct{}{}, v.Write(req)
				})
				if err == nil {
					break
				}
				require.ErrorIs(t, err, kerrors.ErrConflict)
				time.Sleep(time.Millisecond)
			}
		}
	}

	go write(tokenA, "1.2.3.4", "agent/1.0", "writer-a")
	go write(tokenB, "5.6.7.8", "agent/2.0", "writer-b")
	wg.Wait()

	files, err := WithRead(r, "vault", tokenA, "1.2.3.4", "agent/1.0", func(v *volume.UnlockedVolume) ([]volume.FileInfo, error) {
		return v.List(), nil
	})
	require.NoError(t, err)
	require.Len(t, files, 2*writesPerWriter)

	for _, fi := range files {
		content, err := WithRead(r, "vault", tokenA, "1.2.3.4", "agent/1.0", func(v *volume.UnlockedVolume) ([]byte, error) {
			reader, err := v.Open(fi.Path, nil)
			if err != nil {
				return nil, err
			}
			defer reader.Close()
			buf := make([]byte, fi.Size)
			_, err = io.ReadFull(reader, buf)
			return buf, err
		})
		require.NoError(t, err)
		require.Len(t, content, 1024)
	}
}

// TestWithWriteFailsFastOnConflict confirms a second writer does not
// queue behind the first: it fails immediately with ErrConflict while
// the first writer's fn is still running.
func TestWithWriteFailsFastOnConflict(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.InitBlob("vault", "pw", nil))
	token, err := r.OpenForSession("vault", "pw", "1.2.3.4", "agent/1.0")
	require.NoError(t, err)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = WithWrite(r, "vault", token, "1.2.3.4", "agent/1.0", func(v *volume.UnlockedVolume) (struct{}, error) {
			close(holding)
			<-release
			return struct{}{}, nil
		})
	}()

	<-holding
	_, err = WithWrite(r, "vault", token, "1.2.3.4", "agent/1.0", func(v *volume.UnlockedVolume) (struct{}, error) {
		return struct{}{}, nil
	})
	require.ErrorIs(t, err, kerrors.ErrConflict)
	close(release)
}

func TestBlobStatsBothReportsGarbage(t *testing.T) {
	r, _ := newTestRegistry(t)
	hidden := "hiddenpw"
	require.NoError(t, r.InitBlob("vault", "pw", &hidden))

	token, err := r.OpenForSession("vault", "pw", "1.2.3.4", "agent/1.0")
	require.NoError(t, err)
	_, err = WithWrite(r, "vault", token, "1.2.3.4", "agent/1.0", func(v *volume.UnlockedVolume) (struct{}, error) {
		req := volume.NewWriteRequestBuilder("a.bin", bytes.NewReader(bytes.Repeat([]byte{1}, 1000))).Build()
		return struct{}{}, v.Write(req)
	})
	require.NoError(t, err)
	_, err = WithWrite(r, "vault", token, "1.2.3.4", "agent/1.0", func(v *volume.UnlockedVolume) (struct{}, error) {
		return struct{}{}, v.Remove("a.bin")
	})
	require.NoError(t, err)

	stats, err := r.BlobStatsBoth("vault", "pw", &hidden)
	require.NoError(t, err)
	require.Equal(t, 0, stats.FileCount)
	require.NotNil(t, stats.GarbageBytes)
	require.Greater(t, *stats.GarbageBytes, uint64(0))

	_, err = r.BlobStatsBoth("vault", "pw", nil)
	require.NoError(t, err)

	_, err = r.BlobStatsBoth("vault", "wrong", &hidden)
	require.Error(t, err)
}

func TestListBlobsDirectoryModeIgnoresNonKurpodFiles(t *testing.T) {
	r, dir := newTestRegistry(t)
	require.NoError(t, r.InitBlob("vault", "pw", nil))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	names, err := r.ListBlobs()
	require.NoError(t, err)
	require.Equal(t, []string{"vault"}, names)
}
