package logfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ilyalabun/btm/wire"
)

func corruptHeaderMagic(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0o666)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteAt([]byte{0, 0, 0, 0}, 0); err != nil {
		t.Fatal(err)
	}
}

func openFragment(t *testing.T, path string, now int64) *Fragment {
	t.Helper()
	f, err := Open(Options{Path: path, MaxSize: 1 << 20, ForcedWriteEnabled: true, NowUnixMilli: now})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestOpenCreatesFreshHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frag0")
	f := openFragment(t, path, 1000)
	if f.Cursor() != HeaderSize {
		t.Errorf("Cursor() = %d, want %d", f.Cursor(), HeaderSize)
	}
	if f.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", f.Generation())
	}
}

func TestAppendAdvancesCursorAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frag0")
	f := openFragment(t, path, 1000)

	rec := wire.Record{Status: 3, Time: 1000, SequenceNumber: 1, Gtrid: []byte("g1")}
	n, err := f.Append(rec)
	if err != nil {
		t.Fatal(err)
	}
	if n <= 0 {
		t.Fatalf("Append returned length %d, want > 0", n)
	}
	if f.Cursor() != HeaderSize+n {
		t.Errorf("Cursor() = %d, want %d", f.Cursor(), HeaderSize+n)
	}
	if err := f.Force(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(Options{Path: path, MaxSize: 1 << 20, ForcedWriteEnabled: true})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.Cursor() != HeaderSize+n {
		t.Errorf("after reopen Cursor() = %d, want %d", reopened.Cursor(), HeaderSize+n)
	}
}

func TestReaderReadsAppendedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frag0")
	f := openFragment(t, path, 1000)

	for i := int32(1); i <= 3; i++ {
		rec := wire.Record{Status: 3, Time: 1000 + int64(i), SequenceNumber: i, Gtrid: []byte("g")}
		if _, err := f.Append(rec); err != nil {
			t.Fatal(err)
		}
	}

	rr, err := f.Reader()
	if err != nil {
		t.Fatal(err)
	}
	defer rr.Close()

	var count int
	for rr.Next(false) {
		count++
	}
	if err := rr.Err(); err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("read %d records, want 3", count)
	}
}

func TestActivateBumpsGenerationAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frag0")
	f := openFragment(t, path, 1000)
	if err := f.Activate(5); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(Options{Path: path, MaxSize: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.Generation() != 5 {
		t.Errorf("Generation() after reopen = %d, want 5", reopened.Generation())
	}
}

func TestShouldRotateRespectsMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frag0")
	f, err := Open(Options{Path: path, MaxSize: HeaderSize + 10})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if !f.ShouldRotate(20) {
		t.Error("ShouldRotate(20) = false, want true when it would overflow maxSize")
	}
	if f.ShouldRotate(1) {
		t.Error("ShouldRotate(1) = true, want false when it fits")
	}
}

func TestResetTruncatesToHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frag0")
	f := openFragment(t, path, 1000)
	if _, err := f.Append(wire.Record{Status: 3, Time: 1000, SequenceNumber: 1, Gtrid: []byte("g")}); err != nil {
		t.Fatal(err)
	}
	if err := f.Reset(2000); err != nil {
		t.Fatal(err)
	}
	if f.Cursor() != HeaderSize {
		t.Errorf("Cursor() after Reset = %d, want %d", f.Cursor(), HeaderSize)
	}
}

func TestLoadHeaderRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frag0")
	f := openFragment(t, path, 1000)
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	corruptHeaderMagic(t, path)

	if _, err := Open(Options{Path: path, MaxSize: 1 << 20}); err == nil {
		t.Error("Open with corrupted magic = nil error, want error")
	}
}
