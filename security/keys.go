package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/a2afabric/broker/a2aerr"
	"github.com/a2afabric/broker/model"
)

// KeyManager generates, rotates, and exercises the symmetric encryption
// keys used for message-body confidentiality. Keys are not bound to
// sessions, and a key is rotated only when Rotate is called. It also keeps a
// nonce ledger to refuse nonce reuse within a key's lifetime, since AES-
// GCM and ChaCha20-Poly1305 both lose their confidentiality guarantee
// under nonce reuse.
type KeyManager struct {
	mu    sync.Mutex
	keys  map[string]*model.EncryptionKey
	nonce map[string]map[string]struct{} // keyID -> seen nonces
}

// NewKeyManager builds an empty KeyManager.
func NewKeyManager() *KeyManager {
	return &KeyManager{
		keys:  make(map[string]*model.EncryptionKey),
		nonce: make(map[string]map[string]struct{}),
	}
}

// Generate creates and stores a fresh active key of the given algorithm.
func (km *KeyManager) Generate(alg model.EncryptionAlgorithm) (*model.EncryptionKey, error) {
	size := keySize(alg)
	material := make([]byte, size)
	if _, err := rand.Read(material); err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, err, "generate key material")
	}
	now := time.Now()
	key := &model.EncryptionKey{
		ID:        string(model.NewMessageId()),
		Algorithm: alg,
		Material:  material,
		CreatedAt: now,
		Active:    true,
	}
	km.mu.Lock()
	km.keys[key.ID] = key
	km.nonce[key.ID] = make(map[string]struct{})
	km.mu.Unlock()
	return key, nil
}

// Rotate generates a replacement key of the same algorithm, deactivates
// the old one, and returns the new key.
func (km *KeyManager) Rotate(oldID string) (*model.EncryptionKey, error) {
	km.mu.Lock()
	old, ok := km.keys[oldID]
	km.mu.Unlock()
	if !ok {
		return nil, a2aerr.New(a2aerr.Internal, "rotate: unknown key %s", oldID)
	}
	next, err := km.Generate(old.Algorithm)
	if err != nil {
		return nil, err
	}
	km.mu.Lock()
	old.Active = false
	now := time.Now()
	old.RotatedAt = &now
	km.mu.Unlock()
	return next, nil
}

func keySize(alg model.EncryptionAlgorithm) int {
	switch alg {
	case model.AlgAES256GCM:
		return 32
	case model.AlgChaCha20Poly1305:
		return chacha20poly1305.KeySize
	case model.AlgXChaCha20:
		return chacha20poly1305.KeySize
	default:
		return 32
	}
}

func (km *KeyManager) aead(key *model.EncryptionKey) (cipher.AEAD, error) {
	switch key.Algorithm {
	case model.AlgAES256GCM:
		block, err := aes.NewCipher(key.Material)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case model.AlgChaCha20Poly1305:
		return chacha20poly1305.New(key.Material)
	case model.AlgXChaCha20:
		return chacha20poly1305.NewX(key.Material)
	default:
		return nil, fmt.Errorf("unsupported algorithm %s", key.Algorithm)
	}
}

// Seal encrypts plaintext under key, returning nonce||ciphertext. It
// refuses to reuse a nonce against the same key within the process
// lifetime.
func (km *KeyManager) Seal(key *model.EncryptionKey, plaintext, aad []byte) ([]byte, error) {
	aead, err := km.aead(key)
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, err, "build aead for key %s", key.ID)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, err, "generate nonce")
	}
	if err := km.markNonce(key.ID, nonce); err != nil {
		return nil, err
	}
	out := aead.Seal(nil, nonce, plaintext, aad)
	return append(nonce, out...), nil
}

// Open decrypts a nonce||ciphertext blob produced by Seal.
func (km *KeyManager) Open(key *model.EncryptionKey, sealed, aad []byte) ([]byte, error) {
	aead, err := km.aead(key)
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, err, "build aead for key %s", key.ID)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, a2aerr.New(a2aerr.InvalidMessage, "sealed payload shorter than nonce")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.Unauthorized, err, "decrypt failed")
	}
	return plaintext, nil
}

func (km *KeyManager) markNonce(keyID string, nonce []byte) error {
	km.mu.Lock()
	defer km.mu.Unlock()
	seen, ok := km.nonce[keyID]
	if !ok {
		seen = make(map[string]struct{})
		km.nonce[keyID] = seen
	}
	n := string(nonce)
	if _, dup := seen[n]; dup {
		return a2aerr.New(a2aerr.Internal, "nonce reuse detected for key %s", keyID)
	}
	seen[n] = struct{}{}
	return nil
}
