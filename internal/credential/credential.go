// Package credential encrypts API keys kept in the settings store with
// AES-256-GCM under a key derived from the local machine and user.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// EncryptedPrefix marks stored values produced by Encrypt.
const EncryptedPrefix = "enc:v1:"

const salt = "larder-settings-v1"

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid encrypted format")
)

// Manager encrypts and decrypts setting values.
type Manager struct {
	aead cipher.AEAD
}

// NewManager returns a Manager keyed to this machine and user. Values it
// encrypts cannot be read back on another machine.
func NewManager() (*Manager, error) {
	return NewManagerWithSecret(machineSecret())
}

// NewManagerWithSecret returns a Manager keyed by the SHA-256 of secret.
func NewManagerWithSecret(secret string) (*Manager, error) {
	key := sha256.Sum256([]byte(secret + salt))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Manager{aead: aead}, nil
}

// Encrypt seals plaintext as EncryptedPrefix + base64(nonce|ciphertext).
// The empty string stays empty.
func (m *Manager) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := m.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the prefix are
// returned unchanged so hand-written plaintext settings keep working.
func (m *Manager) Decrypt(stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidFormat, err)
	}
	n := m.aead.NonceSize()
	if len(raw) < n {
		return "", ErrInvalidFormat
	}
	plain, err := m.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// IsEncrypted reports whether value carries EncryptedPrefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// IsSecretKey reports whether values stored under key are encrypted.
func IsSecretKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), "api_key")
}

// MaskSecret shows only the first and last four characters of secret.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func machineSecret() string {
	var sb strings.Builder
	host, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	sb.WriteString(host)
	sb.WriteString(home)
	sb.WriteString(runtime.GOOS)
	sb.WriteString(runtime.GOARCH)
	if uid := os.Getuid(); uid != -1 {
		fmt.Fprintf(&sb, "uid:%d", uid)
	}
	sb.WriteString(os.Getenv("USER"))
	return sb.String()
}
