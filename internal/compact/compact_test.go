package compact

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"kurpod/internal/volume"
)

func TestCompactShrinksAfterDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.kurpod")
	if err := volume.Init(path, "pw", nil); err != nil {
		t.Fatalf("Init: %v", err)
	}

	e, err := volume.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, err := e.Unlock("pw")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	payload := bytes.Repeat([]byte{0x42}, 512*1024)
	for _, name := range []string{"keep.bin", "drop.bin"} {
		if err := v.Write(volume.NewWriteRequestBuilder(name, bytes.NewReader(payload)).Build()); err != nil {
			t.Fatalf("Write %s: %v", name, err)
		}
	}
	if err := v.Remove("drop.bin"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	v.Lock()
	e.Close()

	beforeStat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat before: %v", err)
	}

	if err := Run(Request{BlobPath: path, PasswordStandard: "pw"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	afterStat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat after: %v", err)
	}
	if afterStat.Size() >= beforeStat.Size() {
		t.Fatalf("expected compaction to shrink the blob: before=%d after=%d", beforeStat.Size(), afterStat.Size())
	}

	e2, err := volume.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()
	v2, err := e2.Unlock("pw")
	if err != nil {
		t.Fatalf("unlock after compact: %v", err)
	}
	defer v2.Lock()

	list := v2.List()
	if len(list) != 1 || list[0].Path != "keep.bin" {
		t.Fatalf("expected only keep.bin to survive compaction, got %+v", list)
	}

	r, err := v2.Open("keep.bin", nil)
	if err != nil {
		t.Fatalf("Open keep.bin: %v", err)
	}
	defer r.Close()
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("read keep.bin: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("keep.bin content corrupted by compaction")
	}
}

func TestCompactPreservesBothVolumes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.kurpod")
	hidden := "hiddenpw"
	if err := volume.Init(path, "stdpw", &hidden); err != nil {
		t.Fatalf("Init: %v", err)
	}

	e, err := volume.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	vStd, err := e.Unlock("stdpw")
	if err != nil {
		t.Fatalf("Unlock std: %v", err)
	}
	if err := vStd.Write(volume.NewWriteRequestBuilder("s.bin", bytes.NewReader([]byte("standard"))).Build()); err != nil {
		t.Fatalf("Write s.bin: %v", err)
	}
	vStd.Lock()

	vHid, err := e.Unlock("hiddenpw")
	if err != nil {
		t.Fatalf("Unlock hidden: %v", err)
	}
	if err := vHid.Write(volume.NewWriteRequestBuilder("h.bin", bytes.NewReader([]byte("secret"))).Build()); err != nil {
		t.Fatalf("Write h.bin: %v", err)
	}
	vHid.Lock()
	e.Close()

	if err := Run(Request{BlobPath: path, PasswordStandard: "stdpw", PasswordHidden: &hidden}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	e2, err := volume.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	vStd2, err := e2.Unlock("stdpw")
	if err != nil {
		t.Fatalf("unlock std after compact: %v", err)
	}
	defer vStd2.Lock()
	if list := vStd2.List(); len(list) != 1 || list[0].Path != "s.bin" {
		t.Fatalf("standard volume lost after compact: %+v", list)
	}

	vHid2, err := e2.Unlock("hiddenpw")
	if err != nil {
		t.Fatalf("unlock hidden after compact: %v", err)
	}
	defer vHid2.Lock()
	if list := vHid2.List(); len(list) != 1 || list[0].Path != "h.bin" {
		t.Fatalf("hidden volume lost after compact: %+v", list)
	}
}

// TestCompactAtScale is scenario S5: 100 files of 1 MiB each, half of
// them deleted, should leave the blob at roughly 100 MiB before
// compaction and roughly 50 MiB after, with every surviving file intact.
func TestCompactAtScale(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 100 MiB compaction scenario in -short mode")
	}

	path := filepath.Join(t.TempDir(), "vault.kurpod")
	if err := volume.Init(path, "pw", nil); err != nil {
		t.Fatalf("Init: %v", err)
	}

	e, err := volume.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, err := e.Unlock("pw")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	const fileCount = 100
	const fileSize = 1 << 20
	payload := bytes.Repeat([]byte{0x7a}, fileSize)
	names := make([]string, fileCount)
	for i := 0; i < fileCount; i++ {
		name := fmt.Sprintf("f%03d.bin", i)
		names[i] = name
		if err := v.Write(volume.NewWriteRequestBuilder(name, bytes.NewReader(payload)).Build()); err != nil {
			t.Fatalf("Write %s: %v", name, err)
		}
	}
	for i := 0; i < fileCount; i += 2 {
		if err := v.Remove(names[i]); err != nil {
			t.Fatalf("Remove %s: %v", names[i], err)
		}
	}
	v.Lock()
	e.Close()

	beforeStat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat before: %v", err)
	}
	const overheadBudget = 8 * fileCount * 1024 // generous per-record/header slack
	if beforeStat.Size() < fileCount*fileSize {
		t.Fatalf("blob smaller than its live payload: %d", beforeStat.Size())
	}

	if err := Run(Request{BlobPath: path, PasswordStandard: "pw"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	afterStat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat after: %v", err)
	}
	wantLive := int64(fileCount / 2 * fileSize)
	if afterStat.Size() < wantLive || afterStat.Size() > wantLive+overheadBudget {
		t.Fatalf("compacted size %d not within budget of live set %d", afterStat.Size(), wantLive)
	}

	e2, err := volume.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()
	v2, err := e2.Unlock("pw")
	if err != nil {
		t.Fatalf("unlock after compact: %v", err)
	}
	defer v2.Lock()

	list := v2.List()
	if len(list) != fileCount/2 {
		t.Fatalf("expected %d surviving files, got %d", fileCount/2, len(list))
	}
	for i := 1; i < fileCount; i += 2 {
		r, err := v2.Open(names[i], nil)
		if err != nil {
			t.Fatalf("Open %s: %v", names[i], err)
		}
		got := make([]byte, fileSize)
		_, err = io.ReadFull(r, got)
		r.Close()
		if err != nil {
			t.Fatalf("read %s: %v", names[i], err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("%s corrupted by compaction", names[i])
		}
	}
}
