// Package crypto implements the at-rest Encryption Manager: key pairs,
// a master-key/key-cache registry, and the self-describing envelope
// format used to encrypt sensitive document fields.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// Status values a KeyPair can carry.
const (
	StatusActive  = "active"
	StatusRotated = "rotated"
	StatusRevoked = "revoked"
	StatusExpired = "expired"
)

// KeyPair bundles the symmetric key used for AES-256-GCM field
// encryption with an Ed25519 pair used to sign and verify the envelope.
// A real post-quantum scheme is out of scope here; this is the genuine
// signing and symmetric-encryption capability the envelope needs.
type KeyPair struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Purpose   string     `json:"purpose"` // encryption, signature, kex
	Algorithm string     `json:"algorithm"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Status    string     `json:"status"`

	SymmetricKey []byte            `json:"symmetricKey,omitempty"`
	SignPublic   ed25519.PublicKey `json:"signPublic"`
	SignPrivate  ed25519.PrivateKey `json:"signPrivate,omitempty"`
}

// GenerateKeyPair creates a fresh key pair: a random 32-byte AES-256 key
// plus a freshly generated Ed25519 signing key.
func GenerateKeyPair(name, purpose string) (*KeyPair, error) {
	symmetric := make([]byte, 32)
	if _, err := rand.Read(symmetric); err != nil {
		return nil, err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		ID:           uuid.NewString(),
		Name:         name,
		Purpose:      purpose,
		Algorithm:    "AES-256-GCM+Ed25519",
		CreatedAt:    time.Now().UTC(),
		Status:       StatusActive,
		SymmetricKey: symmetric,
		SignPublic:   pub,
		SignPrivate:  priv,
	}, nil
}

// Public returns a copy of kp with private key material stripped, safe
// to persist or transmit.
func (kp *KeyPair) Public() *KeyPair {
	cp := *kp
	cp.SymmetricKey = nil
	cp.SignPrivate = nil
	return &cp
}

// Encrypt runs AES-256-GCM over plaintext using kp's symmetric key.
func (kp *KeyPair) Encrypt(plaintext []byte) ([]byte, error) {
	return aesEncrypt(kp.SymmetricKey, plaintext)
}

// Decrypt reverses Encrypt.
func (kp *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	return aesDecrypt(kp.SymmetricKey, ciphertext)
}

// Sign produces an Ed25519 signature over message.
func (kp *KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.SignPrivate, message), nil
}

// Verify checks an Ed25519 signature produced by Sign. Unlike a
// placeholder that always reports success, a mismatched signature here
// fails closed.
func (kp *KeyPair) Verify(message, signature []byte) bool {
	return ed25519.Verify(kp.SignPublic, message, signature)
}

// IsExpired reports whether kp's ExpiresAt has passed.
func (kp *KeyPair) IsExpired() bool {
	return kp.ExpiresAt != nil && time.Now().UTC().After(*kp.ExpiresAt)
}

// IsActive reports whether kp is usable: status active and not expired.
func (kp *KeyPair) IsActive() bool {
	return kp.Status == StatusActive && !kp.IsExpired()
}
