// Package secret encrypts small values, such as wifi passwords, before they
// are written to the database.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4
)

var (
	ErrNoPassphrase = errors.New("encryption passphrase is empty")
	ErrCiphertext   = errors.New("ciphertext too short")
)

// GenerateSalt returns 16 cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 32-byte AES-256 key from a passphrase and salt using Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMem, argonPar, keySize)
}

// Box seals values with AES-256-GCM under a passphrase-derived key.
// Sealed format: [16-byte salt][12-byte nonce][ciphertext].
//
// Each Box picks one salt for everything it seals, so the key is derived
// once per process. Keys for salts found while opening are cached.
type Box struct {
	passphrase string
	salt       []byte

	mu    sync.Mutex
	aeads map[string]cipher.AEAD
}

func NewBox(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	return &Box{
		passphrase: passphrase,
		salt:       salt,
		aeads:      make(map[string]cipher.AEAD),
	}, nil
}

func (b *Box) aead(salt []byte) (cipher.AEAD, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if a, ok := b.aeads[string(salt)]; ok {
		return a, nil
	}
	block, err := aes.NewCipher(DeriveKey(b.passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	b.aeads[string(salt)] = gcm
	return gcm, nil
}

// Seal encrypts plaintext. The empty string seals to nil.
func (b *Box) Seal(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	gcm, err := b.aead(b.salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+gcm.Overhead())
	out = append(out, b.salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a value produced by Seal. Empty input opens to "".
func (b *Box) Open(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	if len(data) < saltSize+nonceSize {
		return "", ErrCiphertext
	}

	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	gcm, err := b.aead(salt)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, data[saltSize+nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
