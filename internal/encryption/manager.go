package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"

	"admin-gateway/internal/config"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// EncryptedData is the persisted envelope: the AES-GCM ciphertext plus
// the KMS-wrapped data key that decrypts it.
type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// Manager envelope-encrypts sensitive fields (device fingerprints carry
// user agent and IP data) before they hit durable storage. With KMS
// disabled the data key is only base64-wrapped, which is acceptable for
// development and nothing else.
type Manager struct {
	kmsClient *kms.Client
	config    *config.Config
	keyCache  sync.Map
}

type dataKey struct {
	plaintext  []byte
	ciphertext []byte
	keyID      string
}

func NewManager(cfg *config.Config, kmsClient *kms.Client) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

func (m *Manager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if !m.config.KMS.Enabled {
		return m.generateLocalKey()
	}

	result, err := m.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &dataKey{
		plaintext:  result.Plaintext,
		ciphertext: result.CiphertextBlob,
		keyID:      m.config.KMS.KeyID,
	}, nil
}

func (m *Manager) generateLocalKey() (*dataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate local encryption key: %w", err)
	}

	// Development only: the "wrapped" key is just base64
	return &dataKey{
		plaintext:  key,
		ciphertext: []byte(base64.StdEncoding.EncodeToString(key)),
		keyID:      uuid.New().String(),
	}, nil
}

// EncryptField envelope-encrypts a field value.
func (m *Manager) EncryptField(ctx context.Context, plaintext string) (*EncryptedData, error) {
	dk, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dk.plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	cacheKey := base64.StdEncoding.EncodeToString(dk.ciphertext)
	m.keyCache.Store(cacheKey, dk.plaintext)

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   cacheKey,
		KeyID:          dk.keyID,
		Version:        "v1",
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptField reverses EncryptField, unwrapping the data key through
// KMS (or the local path) and caching it for subsequent reads.
func (m *Manager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	if cached, ok := m.keyCache.Load(data.EncryptedDEK); ok {
		return m.decryptWithKey(data.EncryptedValue, cached.([]byte))
	}

	var plaintextDEK []byte
	if m.config.KMS.Enabled {
		blob, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
		}
		result, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
		if err != nil {
			return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		plaintextDEK = result.Plaintext
	} else {
		var err error
		plaintextDEK, err = base64.StdEncoding.DecodeString(data.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid local DEK", ErrDecryptionFailed)
		}
	}

	m.keyCache.Store(data.EncryptedDEK, plaintextDEK)
	return m.decryptWithKey(data.EncryptedValue, plaintextDEK)
}

func (m *Manager) decryptWithKey(encryptedValue string, key []byte) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// ClearCache drops every cached data key.
func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ any) bool {
		m.keyCache.Delete(key)
		return true
	})
}

// CacheSize returns the number of cached data keys.
func (m *Manager) CacheSize() int {
	count := 0
	m.keyCache.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
