package kv

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"kvrelay/internal/constants"
	"kvrelay/internal/errors"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptedStore encrypts values at rest with AES-GCM. Keys and metadata
// are passed through untouched so ordering and metadata matching keep
// working on the underlying store.
type EncryptedStore struct {
	Store
	gcm cipher.AEAD
}

func NewEncryptedStore(inner Store, secret string) (*EncryptedStore, error) {
	if len(secret) < constants.MinEncryptionSecret {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", constants.MinEncryptionSecret)
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), constants.EncryptionIterations, constants.EncryptionKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &EncryptedStore{Store: inner, gcm: gcm}, nil
}

func (e *EncryptedStore) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	sealed, err := e.seal(key, value)
	if err != nil {
		return err
	}
	return e.Store.Put(ctx, key, sealed, opts)
}

// Get returns a STORE_CORRUPT error when the stored value cannot be
// opened, for example after the secret changed.
func (e *EncryptedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	sealed, found, err := e.Store.Get(ctx, key)
	if err != nil || !found {
		return nil, found, err
	}

	value, err := e.open(key, sealed)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// SweepExpired forwards to the wrapped store when it needs sweeping
func (e *EncryptedStore) SweepExpired(ctx context.Context) (int, error) {
	if sweeper, ok := e.Store.(Sweeper); ok {
		return sweeper.SweepExpired(ctx)
	}
	return 0, nil
}

// seal binds the ciphertext to its key so a value copied under another
// key fails to decrypt.
func (e *EncryptedStore) seal(key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, constants.EncryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, plaintext, []byte(key))
	return append(nonce, ciphertext...), nil
}

func (e *EncryptedStore) open(key string, sealed []byte) ([]byte, error) {
	if len(sealed) < constants.EncryptionNonceSize {
		return nil, errors.NewCorruptValueError(key, fmt.Errorf("ciphertext too short"))
	}

	nonce, ciphertext := sealed[:constants.EncryptionNonceSize], sealed[constants.EncryptionNonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, errors.NewCorruptValueError(key, fmt.Errorf("failed to decrypt: %w", err))
	}
	return plaintext, nil
}
