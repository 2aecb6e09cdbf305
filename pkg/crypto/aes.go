// Package crypto provides AES-256-GCM encryption for provider credentials
// stored in configuration. Encrypted values carry the "enc:" prefix so
// plaintext keys keep working during migration.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// EncPrefix marks a configuration value as encrypted.
const EncPrefix = "enc:"

var (
	// ErrInvalidKeySize 密钥长度无效错误
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes (256 bits)")
	// ErrInvalidCiphertext 密文格式无效错误
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short or malformed")
	// ErrDecryptionFailed 解密失败错误
	ErrDecryptionFailed = errors.New("decryption failed: authentication failed")
)

// Cipher AES-256-GCM 加解密服务
type Cipher struct {
	key []byte
}

// NewCipher creates a cipher from a raw 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	return &Cipher{key: key}, nil
}

// NewCipherFromString accepts either a raw 32-character key or a base64
// encoding of 32 bytes, which is how the key usually arrives via env.
func NewCipherFromString(key string) (*Cipher, error) {
	if decoded, err := base64.StdEncoding.DecodeString(key); err == nil && len(decoded) == 32 {
		return NewCipher(decoded)
	}
	return NewCipher([]byte(key))
}

// Encrypt 使用 AES-256-GCM 加密明文
// 返回带 "enc:" 前缀的 Base64 密文（nonce(12字节) + ciphertext + tag(16字节)）
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 使用 AES-256-GCM 解密带 "enc:" 前缀的密文
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, EncPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(decoded) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := decoded[:nonceSize], decoded[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

// ResolveCredential returns the value as-is unless it carries the "enc:"
// prefix, in which case it is decrypted. A nil cipher only accepts
// plaintext values.
func (c *Cipher) ResolveCredential(value string) (string, error) {
	if !strings.HasPrefix(value, EncPrefix) {
		return value, nil
	}
	if c == nil {
		return "", errors.New("encrypted credential found but no encryption key configured")
	}
	return c.Decrypt(value)
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
