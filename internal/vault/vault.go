// Package vault seals small blobs at rest, such as pipeline specs that carry
// request headers with credentials.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var ErrShortBlob = errors.New("sealed blob too short")

// Vault provides AES-256-GCM sealing with a passphrase-derived key.
type Vault struct {
	aead cipher.AEAD
	key  [32]byte
}

// New derives an AES-256 key from the passphrase via Argon2id. The salt is
// the SHA-256 of the passphrase so the key is stable across restarts.
func New(passphrase string) (*Vault, error) {
	salt := sha256.Sum256([]byte(passphrase))
	key := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	v := &Vault{}
	copy(v.key[:], key)

	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	v.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return v, nil
}

// Seal encrypts plaintext with a random nonce and returns nonce||ciphertext.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (v *Vault) Open(blob []byte) ([]byte, error) {
	n := v.aead.NonceSize()
	if len(blob) < n+v.aead.Overhead() {
		return nil, ErrShortBlob
	}
	plaintext, err := v.aead.Open(nil, blob[:n], blob[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
