// Package crypto implements the transport envelope used on the Link channel:
// AES-CBC payload encryption, HMAC-SHA256 message authentication and the
// HKDF derivation of the shared transport secrets.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/methics/musap-ios-sub000/pkg/constants"
)

// ErrInvalidPadding is returned when decrypted data does not end in valid PKCS#7 padding.
var ErrInvalidPadding = fmt.Errorf("invalid PKCS#7 padding")

func checkKey(key []byte) error {
	switch len(key) {
	case 16, 32:
		return nil
	default:
		return fmt.Errorf("invalid AES key length %d, expected 16 or 32", len(key))
	}
}

// NewIV returns a fresh random IV.
func NewIV() ([]byte, error) {
	iv := make([]byte, constants.IVLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}
	return iv, nil
}

// Encrypt encrypts plaintext with AES-CBC and PKCS#7 padding. A nil iv makes
// Encrypt generate one. The IV actually used is returned with the ciphertext.
func Encrypt(key, plaintext, iv []byte) (ciphertext, usedIV []byte, err error) {
	if err := checkKey(key); err != nil {
		return nil, nil, err
	}
	if iv == nil {
		if iv, err = NewIV(); err != nil {
			return nil, nil, err
		}
	}
	if len(iv) != aes.BlockSize {
		return nil, nil, fmt.Errorf("invalid iv length %d", len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	padded := pad(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, iv, nil
}

// Decrypt reverses Encrypt. The IV is mandatory.
func Decrypt(key, ciphertext, iv []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid iv length %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	return unpad(plain, aes.BlockSize)
}

// EncryptBase64 encrypts with a fresh IV and returns payload and IV base64-encoded.
func EncryptBase64(key, plaintext []byte) (payload, iv string, err error) {
	ct, usedIV, err := Encrypt(key, plaintext, nil)
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(usedIV), nil
}

// DecryptBase64 decodes payload and iv and decrypts.
func DecryptBase64(key []byte, payload, iv string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	rawIV, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, fmt.Errorf("failed to decode iv: %w", err)
	}
	return Decrypt(key, ct, rawIV)
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}
