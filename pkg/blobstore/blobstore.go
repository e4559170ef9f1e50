// Package blobstore implements the date-sharded, compressed, encrypted
// filesystem blob layout described in the design: content bytes land at
// data/blobs/YYYY/MM/DD/<content_hash>.zst.enc, written as
// zstd(level 3) then AES-256-GCM.
//
// Grounded on the directory-creation and stat-then-open idiom of a
// sharded-by-hash local disk blob store, generalized from a
// hash-prefix shard to a write-date shard.
package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"vyasoai.dev/daemon/pkg/vyasocrypto"
)

// IoError wraps filesystem failures encountered while saving or loading
// a blob.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("blobstore: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// FormatError is returned when decompression of an otherwise
// successfully decrypted blob fails.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string { return fmt.Sprintf("blobstore: malformed blob: %v", e.Err) }
func (e *FormatError) Unwrap() error { return e.Err }

// Store is a date-sharded, compressed, encrypted blob store rooted at
// a base directory (normally "data/blobs").
type Store struct {
	root  string
	keyer *vyasocrypto.Keyer
}

// New returns a Store rooted at root, using keyer for blob body
// encryption. It does not touch the filesystem; call EnsureBase to do
// that.
func New(root string, keyer *vyasocrypto.Keyer) *Store {
	return &Store{root: root, keyer: keyer}
}

// EnsureBase idempotently creates the store's base directory.
func (s *Store) EnsureBase() error {
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return &IoError{Op: "mkdir", Path: s.root, Err: err}
	}
	return nil
}

// EnsureTodayDir idempotently creates today's dated directory (UTC) and
// returns it.
func (s *Store) EnsureTodayDir() (string, error) {
	dir := s.dateDir(time.Now().UTC())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", &IoError{Op: "mkdir", Path: dir, Err: err}
	}
	return dir, nil
}

func (s *Store) dateDir(t time.Time) string {
	return filepath.Join(s.root, fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())), fmt.Sprintf("%02d", t.Day()))
}

// pathFor returns today's deterministic path for hash. The date is
// fixed at write time; callers must not recompute it for reads — use
// the path recorded in the blob index instead, since a blob written on
// one day must still resolve after a later date rollover.
func (s *Store) pathFor(hash string, now time.Time) string {
	return filepath.Join(s.dateDir(now), hash+".zst.enc")
}

// Save compresses plaintext with zstd (level 3), encrypts the result,
// and writes it to today's dated directory under the given content
// hash. It returns the path written, which the caller must persist
// (e.g. in the metadata store's blob index) for later Load calls.
// Overwriting an existing path for the same hash is permitted: the
// plaintext is assumed identical (content-addressed), and a fresh
// nonce makes the new ciphertext safe to write in place.
func (s *Store) Save(plaintext []byte, hash string) (string, error) {
	now := time.Now().UTC()
	dir := s.dateDir(now)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", &IoError{Op: "mkdir", Path: dir, Err: err}
	}
	path := s.pathFor(hash, now)

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", fmt.Errorf("blobstore: new zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(plaintext, nil)
	_ = enc.Close()

	cipherBytes, err := s.keyer.Encrypt(compressed)
	if err != nil {
		return "", fmt.Errorf("blobstore: encrypt: %w", err)
	}

	if err := os.WriteFile(path, cipherBytes, 0o600); err != nil {
		return "", &IoError{Op: "write", Path: path, Err: err}
	}
	return path, nil
}

// Load reads the blob at path, decrypts it, and zstd-decodes the
// result back to the original plaintext.
func (s *Store) Load(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &IoError{Op: "read", Path: path, Err: os.ErrNotExist}
		}
		return nil, &IoError{Op: "read", Path: path, Err: err}
	}

	compressed, err := s.keyer.Decrypt(raw)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore: new zstd decoder: %w", err)
	}
	defer dec.Close()
	plaintext, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, &FormatError{Err: err}
	}
	return plaintext, nil
}
