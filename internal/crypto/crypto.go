// Package crypto implements the vault encryption service: AES-256-GCM
// envelopes, password-based key derivation and integrity hashing.
//
// Every encrypted payload, whether a short string or a media file, uses the
// same envelope layout:
//
//	IV (16 bytes) ‖ auth tag (16 bytes) ‖ ciphertext
//
// Keys are provided by the caller and are never logged or persisted here.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length in bytes
	KeySize = 32
	// IVSize is the envelope initialization vector length in bytes
	IVSize = 16
	// TagSize is the GCM authentication tag length in bytes
	TagSize = 16
	// SaltSize is the key-derivation salt length in bytes
	SaltSize = 32
	// Overhead is the envelope size minus the ciphertext size
	Overhead = IVSize + TagSize
	// KDFIterations is the PBKDF2 iteration count for passphrase-derived keys
	KDFIterations = 100_000
)

var (
	// ErrInvalidKey indicates a key of the wrong length
	ErrInvalidKey = errors.New("crypto: invalid key length")
	// ErrAuthenticationFailed indicates a tampered or corrupted envelope.
	// It is never downgraded: no plaintext is returned alongside it.
	ErrAuthenticationFailed = errors.New("crypto: authentication failed")
	// ErrMalformedEnvelope indicates an envelope too short to parse
	ErrMalformedEnvelope = errors.New("crypto: malformed envelope")
)

// Service provides the stateless cryptographic primitives used by the vault
// store and the streaming server. It is constructed once at process start
// and passed to consumers.
type Service struct{}

// NewService creates the encryption service
func NewService() *Service {
	return &Service{}
}

// GenerateKey returns a fresh random 256-bit key
func (s *Service) GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// GenerateSalt returns a fresh random 256-bit salt
func (s *Service) GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 256-bit key from a passphrase and salt using
// PBKDF2-SHA256 with KDFIterations iterations
func (s *Service) DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, KDFIterations, KeySize, sha256.New)
}

// Encrypt seals plaintext into an envelope with a fresh random IV
func (s *Service) Encrypt(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	// Seal emits ciphertext ‖ tag; the envelope stores iv ‖ tag ‖ ciphertext
	sealed := aead.Seal(nil, iv, plaintext, nil)
	ctLen := len(sealed) - TagSize

	envelope := make([]byte, 0, Overhead+ctLen)
	envelope = append(envelope, iv...)
	envelope = append(envelope, sealed[ctLen:]...)
	envelope = append(envelope, sealed[:ctLen]...)
	return envelope, nil
}

// Decrypt opens an envelope. It fails with ErrAuthenticationFailed if the
// tag does not verify; corrupted plaintext is never returned.
func (s *Service) Decrypt(envelope, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(envelope) < Overhead {
		return nil, ErrMalformedEnvelope
	}

	iv := envelope[:IVSize]
	tag := envelope[IVSize:Overhead]
	ciphertext := envelope[Overhead:]

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// EncryptString seals a string payload and returns the envelope base64-encoded
func (s *Service) EncryptString(plaintext string, key []byte) (string, error) {
	envelope, err := s.Encrypt([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// DecryptString opens a base64-encoded envelope produced by EncryptString
func (s *Service) DecryptString(encoded string, key []byte) (string, error) {
	envelope, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformedEnvelope
	}
	plaintext, err := s.Decrypt(envelope, key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// HashHex returns the hex-encoded SHA-256 digest of data
func (s *Service) HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity streams the file at path through SHA-256 and compares the
// digest against expectedHex
func (s *Service) VerifyIntegrity(path, expectedHex string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)) == expectedHex, nil
}

// newAEAD builds an AES-256-GCM cipher with the envelope's 16-byte IV size
func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build aead: %w", err)
	}
	return aead, nil
}
