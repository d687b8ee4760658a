package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/sluice/pkg/domain"
	"github.com/aretw0/sluice/pkg/ports"
)

// envelopeKey marks a variable map whose real content is sealed.
const envelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionStore struct {
	next   ports.Store
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals every variable
// map with AES-GCM before it reaches the wrapped store. Structural
// fields stay readable so indexes and monitoring keep working; business
// data does not. Loading refuses rows that carry no envelope.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.Store) ports.Store {
		return &encryptionStore{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionStore) SaveInstance(ctx context.Context, inst *domain.ProcessInstance) error {
	sealed := inst.Clone()

	vars, err := m.seal(inst.Variables)
	if err != nil {
		return fmt.Errorf("encrypt instance %s: %w", inst.ID, err)
	}
	sealed.Variables = vars

	for _, tok := range sealed.Tokens {
		tv, err := m.seal(tok.Variables)
		if err != nil {
			return fmt.Errorf("encrypt token %s: %w", tok.ID, err)
		}
		tok.Variables = tv
	}
	return m.next.SaveInstance(ctx, sealed)
}

func (m *encryptionStore) SaveTask(ctx context.Context, task *domain.TaskInstance) error {
	sealed := task.Clone()

	vars, err := m.seal(task.Variables)
	if err != nil {
		return fmt.Errorf("encrypt task %s: %w", task.ID, err)
	}
	sealed.Variables = vars
	return m.next.SaveTask(ctx, sealed)
}

func (m *encryptionStore) LoadActiveInstances(ctx context.Context) ([]*domain.ProcessInstance, error) {
	instances, err := m.next.LoadActiveInstances(ctx)
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		vars, err := m.open(inst.Variables)
		if err != nil {
			return nil, fmt.Errorf("decrypt instance %s: %w", inst.ID, err)
		}
		inst.Variables = vars

		for _, tok := range inst.Tokens {
			tv, err := m.open(tok.Variables)
			if err != nil {
				return nil, fmt.Errorf("decrypt token %s: %w", tok.ID, err)
			}
			tok.Variables = tv
		}
	}
	return instances, nil
}

func (m *encryptionStore) LoadActiveTasks(ctx context.Context) ([]*domain.TaskInstance, error) {
	tasks, err := m.next.LoadActiveTasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		vars, err := m.open(task.Variables)
		if err != nil {
			return nil, fmt.Errorf("decrypt task %s: %w", task.ID, err)
		}
		task.Variables = vars
	}
	return tasks, nil
}

func (m *encryptionStore) Close() error {
	return m.next.Close()
}

func (m *encryptionStore) seal(vars map[string]any) (map[string]any, error) {
	plain, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("marshal variables: %w", err)
	}
	ciphertext, err := encrypt(plain, m.config.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt variables: %w", err)
	}
	return map[string]any{
		envelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func (m *encryptionStore) open(vars map[string]any) (map[string]any, error) {
	blob, ok := vars[envelopeKey].(string)
	if !ok {
		return nil, errors.New("row is missing the encrypted data envelope")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext base64: %w", err)
	}
	plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, fmt.Errorf("unmarshal decrypted variables: %w", err)
	}
	if out == nil {
		out = make(map[string]any)
	}
	return out, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	// Try active key first
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	// Try fallbacks in order
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
