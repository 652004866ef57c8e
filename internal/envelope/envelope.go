package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// CryptoError wraps encryption, decryption, and key handling failures.
// Decryption of tampered or truncated ciphertext always surfaces as a
// CryptoError rather than corrupt plaintext.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("envelope %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// Envelope encrypts and decrypts audio payloads with AES-256-GCM.
// It is created once at startup and is safe for concurrent use.
type Envelope struct {
	aead cipher.AEAD
}

// New creates an envelope from a raw 32-byte key.
func New(key []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, &CryptoError{Op: "init", Err: fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &CryptoError{Op: "init", Err: err}
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &CryptoError{Op: "init", Err: err}
	}

	return &Envelope{aead: aead}, nil
}

// Open loads the encryption key from path, generating and persisting a new
// key (mode 0600) when the file does not exist yet. Any other failure is
// returned to the caller; the service treats it as fatal at startup.
func Open(path string) (*Envelope, error) {
	key, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		key = make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, &CryptoError{Op: "keygen", Err: err}
		}
		if err := os.WriteFile(path, key, 0600); err != nil {
			return nil, &CryptoError{Op: "keygen", Err: err}
		}
	} else if err != nil {
		return nil, &CryptoError{Op: "keyload", Err: err}
	}

	env, err := New(key)
	if err != nil {
		return nil, &CryptoError{Op: "keyload", Err: fmt.Errorf("key file %s: %w", path, err)}
	}

	return env, nil
}

// Encrypt seals plaintext with a fresh random nonce. The nonce is prepended
// to the returned ciphertext.
func (e *Envelope) Encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, &CryptoError{Op: "encrypt", Err: err}
	}

	return e.aead.Seal(nonce, nonce, plain, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. Truncated input or a failed
// authentication check returns a CryptoError.
func (e *Envelope) Decrypt(data []byte) ([]byte, error) {
	if len(data) < e.aead.NonceSize() {
		return nil, &CryptoError{Op: "decrypt", Err: fmt.Errorf("ciphertext too short: %d bytes", len(data))}
	}

	nonce, sealed := data[:e.aead.NonceSize()], data[e.aead.NonceSize():]
	plain, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, &CryptoError{Op: "decrypt", Err: err}
	}

	return plain, nil
}

// Hash returns the hex-encoded SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether data matches the hex-encoded digest. The comparison
// is constant time.
func Verify(data []byte, digest string) bool {
	want, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}

	sum := sha256.Sum256(data)
	return subtle.ConstantTimeCompare(sum[:], want) == 1
}

// NewID generates an identifier for stored artifacts: a UTC timestamp
// followed by 8 random bytes in hex. Identifiers never embed user data.
func NewID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the platform RNG is broken; there is no
		// reasonable recovery for identifier generation.
		panic(fmt.Sprintf("envelope: rand.Read failed: %v", err))
	}

	return time.Now().UTC().Format("20060102T150405") + "_" + hex.EncodeToString(b)
}
