package blobstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vyasoai.dev/daemon/pkg/vyasocrypto"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	keyer, err := vyasocrypto.NewKeyer(bytes.Repeat([]byte{0x9}, 32))
	if err != nil {
		t.Fatalf("NewKeyer: %v", err)
	}
	return New(t.TempDir(), keyer)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureBase(); err != nil {
		t.Fatalf("EnsureBase: %v", err)
	}
	plaintext := []byte("alpha")
	path, err := s.Save(plaintext, "deadbeef")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	now := time.Now().UTC()
	wantSuffix := filepath.Join(now.Format("2006"), now.Format("01"), now.Format("02"), "deadbeef.zst.enc")
	if !bytes.HasSuffix([]byte(path), []byte(wantSuffix)) {
		t.Fatalf("path %q does not end with expected date shard %q", path, wantSuffix)
	}

	got, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(filepath.Join(s.root, "nope.zst.enc"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var ioErr *IoError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *IoError, got %T: %v", err, err)
	}
}

func TestEnsureTodayDirIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureBase(); err != nil {
		t.Fatal(err)
	}
	d1, err := s.EnsureTodayDir()
	if err != nil {
		t.Fatal(err)
	}
	d2, err := s.EnsureTodayDir()
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Fatalf("expected idempotent directory path, got %q and %q", d1, d2)
	}
	if fi, err := os.Stat(d1); err != nil || !fi.IsDir() {
		t.Fatalf("expected %q to be a directory: %v", d1, err)
	}
}
