// Package vyasocrypto derives the daemon's dev-mode encryption key and
// implements authenticated encryption of blob bodies at rest.
//
// The blob pipeline is compress-then-encrypt: compressing ciphertext
// wastes cycles on data that no longer has exploitable redundancy, so
// the caller must compress first and hand us the compressed bytes.
package vyasocrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
)

// NonceSize is the length in bytes of the random nonce prefixed to every
// ciphertext produced by Encrypt.
const NonceSize = 12

// devPassphraseEnv is the environment variable holding the dev-mode
// passphrase. There is no production key-management story here: the
// derived key is only as strong as this variable, and it defaults to a
// fixed, publicly-known literal when unset.
const devPassphraseEnv = "VYASOAI_DEV_PASSPHRASE"

// devDefaultPassphrase is used when devPassphraseEnv is unset. It is not
// a secret; anyone reading this source knows it.
const devDefaultPassphrase = "vyasoai-dev-default-key"

// ErrCipherTooShort is returned by Decrypt when the input is shorter
// than NonceSize and therefore cannot contain a nonce.
var ErrCipherTooShort = errors.New("vyasocrypto: ciphertext shorter than nonce")

// ErrAuthFailure is returned by Decrypt when AES-GCM authentication
// fails: either the key is wrong or the ciphertext was tampered with.
var ErrAuthFailure = errors.New("vyasocrypto: authentication failed")

// Keyer holds a derived 32-byte AES-256 key and performs AEAD
// encryption/decryption of blob bodies with it. The zero value is not
// usable; construct with NewDevKeyer or NewKeyer.
type Keyer struct {
	gcm cipher.AEAD
}

// NewDevKeyer derives a Keyer's key by SHA-256 of the passphrase in
// VYASOAI_DEV_PASSPHRASE, falling back to a fixed insecure default when
// the variable is unset. This is documented dev-only key management;
// see spec §1 Non-goals.
func NewDevKeyer() (*Keyer, error) {
	pass := os.Getenv(devPassphraseEnv)
	if pass == "" {
		pass = devDefaultPassphrase
	}
	sum := sha256.Sum256([]byte(pass))
	return NewKeyer(sum[:])
}

// NewKeyer builds a Keyer from an explicit 32-byte key. Use NewDevKeyer
// for the daemon's normal dev-mode key derivation; this constructor
// exists mainly for tests that want a fixed key.
func NewKeyer(key []byte) (*Keyer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vyasocrypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vyasocrypto: new gcm: %w", err)
	}
	return &Keyer{gcm: gcm}, nil
}

// Encrypt returns nonce‖ciphertext‖tag for plaintext, using a fresh
// random nonce from crypto/rand on every call. Two calls on identical
// plaintext never produce identical output.
func (k *Keyer) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vyasocrypto: read nonce: %w", err)
	}
	out := k.gcm.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

// Decrypt splits input into its nonce and authenticated body and
// returns the recovered plaintext. It fails with ErrCipherTooShort if
// input is too short to hold a nonce, or ErrAuthFailure if the GCM tag
// does not verify.
func (k *Keyer) Decrypt(input []byte) ([]byte, error) {
	if len(input) < NonceSize {
		return nil, ErrCipherTooShort
	}
	nonce, body := input[:NonceSize], input[NonceSize:]
	plaintext, err := k.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}
