package crypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/knirv/knirvbase/internal/types"
)

// envelopePayload is the inner, signed part of an encrypted blob.
type envelopePayload struct {
	KeyID      string `json:"key_id"`
	Algorithm  string `json:"algorithm"`
	Ciphertext string `json:"ciphertext"`
}

// envelope is the full self-describing encrypted blob, base64-encoded
// on the wire and at rest.
type envelope struct {
	Payload   envelopePayload `json:"payload"`
	Signature string          `json:"signature"`
}

// Manager holds the master key and a cache of additional data-encryption
// keys, and implements the encrypt/decrypt envelope used for sensitive
// document fields.
type Manager struct {
	mu        sync.RWMutex
	masterKey *KeyPair
	keyCache  map[string]*KeyPair
}

// NewManager returns an empty Manager. A master key must be set with
// SetMasterKey (or a key generated via GenerateDataEncryptionKey)
// before EncryptData/DecryptData can resolve a key id.
func NewManager() *Manager {
	return &Manager{keyCache: make(map[string]*KeyPair)}
}

func (m *Manager) SetMasterKey(kp *KeyPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masterKey = kp
}

func (m *Manager) MasterKey() *KeyPair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.masterKey
}

func (m *Manager) CacheKey(keyID string, kp *KeyPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyCache[keyID] = kp
}

func (m *Manager) RemoveKey(keyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keyCache, keyID)
}

// GenerateDataEncryptionKey creates and caches a new key pair dedicated
// to field encryption.
func (m *Manager) GenerateDataEncryptionKey(name string) (*KeyPair, error) {
	kp, err := GenerateKeyPair(name, "encryption")
	if err != nil {
		return nil, types.NewCryptoError("generate data encryption key", err)
	}
	m.CacheKey(kp.ID, kp)
	return kp, nil
}

func (m *Manager) resolveKey(keyID string) (*KeyPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if kp, ok := m.keyCache[keyID]; ok {
		return kp, nil
	}
	if m.masterKey != nil && m.masterKey.ID == keyID {
		return m.masterKey, nil
	}
	return nil, types.NewCryptoError(fmt.Sprintf("key %s not found in cache", keyID), nil)
}

// EncryptData encrypts plaintext under keyID, producing a base64 blob
// that embeds the key id, algorithm, ciphertext, and an Ed25519
// signature over the payload — enough for DecryptData to reverse it
// and verify integrity without any side channel.
func (m *Manager) EncryptData(plaintext []byte, keyID string) (string, error) {
	kp, err := m.resolveKey(keyID)
	if err != nil {
		return "", err
	}
	if !kp.IsActive() {
		return "", types.NewCryptoError(fmt.Sprintf("key %s is not active", keyID), nil)
	}

	ciphertext, err := kp.Encrypt(plaintext)
	if err != nil {
		return "", types.NewCryptoError("encrypt", err)
	}

	payload := envelopePayload{
		KeyID:      keyID,
		Algorithm:  "AES-256-GCM",
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewCryptoError("marshal payload", err)
	}

	signature, err := kp.Sign(payloadBytes)
	if err != nil {
		return "", types.NewCryptoError("sign payload", err)
	}

	env := envelope{
		Payload:   payload,
		Signature: base64.StdEncoding.EncodeToString(signature),
	}
	finalBytes, err := json.Marshal(env)
	if err != nil {
		return "", types.NewCryptoError("marshal envelope", err)
	}

	return base64.StdEncoding.EncodeToString(finalBytes), nil
}

// DecryptData reverses EncryptData, verifying the signature before
// decrypting. A tampered or mis-signed blob is rejected rather than
// silently accepted.
func (m *Manager) DecryptData(encoded string) ([]byte, error) {
	finalBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.NewCryptoError("decode envelope", err)
	}

	var env envelope
	if err := json.Unmarshal(finalBytes, &env); err != nil {
		return nil, types.NewCryptoError("unmarshal envelope", err)
	}

	signature, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return nil, types.NewCryptoError("decode signature", err)
	}

	payloadBytes, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, types.NewCryptoError("remarshal payload", err)
	}

	kp, err := m.resolveKey(env.Payload.KeyID)
	if err != nil {
		return nil, err
	}
	if !kp.IsActive() {
		return nil, types.NewCryptoError(fmt.Sprintf("key %s is not active", env.Payload.KeyID), nil)
	}

	if !kp.Verify(payloadBytes, signature) {
		return nil, types.NewCryptoError("signature verification failed", nil)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Payload.Ciphertext)
	if err != nil {
		return nil, types.NewCryptoError("decode ciphertext", err)
	}

	plaintext, err := kp.Decrypt(ciphertext)
	if err != nil {
		return nil, types.NewCryptoError("decrypt", err)
	}
	return plaintext, nil
}
