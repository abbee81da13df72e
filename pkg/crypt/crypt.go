// Package crypt implements the payload encryption used on the broker topic.
//
// Key Derivation:
//
// Every device on a topic shares a secret string. The 256-bit AES key is the
// SHA-256 digest of that secret. The 128-bit IV is derived from the same
// digest by folding its two halves together:
//
//	iv[i] = hash[i] ^ hash[16+i]
//
// Cipher:
//
// Payloads are encrypted with AES-256 in CBC mode using PKCS#7 padding. The
// ciphertext is the whole message body; there is no framing, no IV prefix and
// no authentication tag.
//
// Known Weakness:
//
// Because the IV depends only on the secret, every message encrypted under a
// secret uses the same IV. Two messages whose plaintexts share a prefix of one
// or more whole blocks produce ciphertexts sharing the same prefix. Peers on
// the wire depend on this format, so it is kept as is.
//
// Lifetime:
//
// Material is held in memory only. It is derived when a sync session starts
// and wiped when the session stops.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = sha256.Size

	// IVSize is the CBC initialisation vector length in bytes.
	IVSize = aes.BlockSize
)

var (
	// ErrEmptySecret is returned when deriving material from an empty secret.
	ErrEmptySecret = errors.New("crypt: secret must not be empty")

	// ErrDecrypt is returned for ciphertext that cannot be decrypted: empty
	// input, input that is not a whole number of blocks, or bad padding.
	ErrDecrypt = errors.New("crypt: decryption failed")

	// ErrWiped is returned when using material after Wipe.
	ErrWiped = errors.New("crypt: key material has been wiped")
)

// Material is the symmetric key and IV derived from a shared secret.
type Material struct {
	Key   [KeySize]byte
	IV    [IVSize]byte
	wiped bool
}

// Derive computes the key material for secret. The result is a pure function
// of the secret: equal secrets always yield equal keys and IVs.
func Derive(secret string) (*Material, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	hash := sha256.Sum256([]byte(secret))

	m := &Material{Key: hash}
	for i := 0; i < IVSize; i++ {
		m.IV[i] = hash[i] ^ hash[IVSize+i]
	}
	return m, nil
}

// Encrypt pads plaintext with PKCS#7 and encrypts it with AES-256-CBC.
// An empty plaintext produces one full block of padding.
func (m *Material) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := m.block()
	if err != nil {
		return nil, err
	}

	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, m.IV[:]).CryptBlocks(out, padded)
	return out, nil
}

// Decrypt reverses Encrypt. Any malformed input is reported as ErrDecrypt.
func (m *Material) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := m.block()
	if err != nil {
		return nil, err
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d",
			ErrDecrypt, len(ciphertext), aes.BlockSize)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, m.IV[:]).CryptBlocks(out, ciphertext)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

// Wipe zeroes the key and IV. Further use of m fails with ErrWiped.
func (m *Material) Wipe() {
	if m == nil {
		return
	}
	for i := range m.Key {
		m.Key[i] = 0
	}
	for i := range m.IV {
		m.IV[i] = 0
	}
	m.wiped = true
}

// Equal reports whether two materials hold the same key and IV.
func (m *Material) Equal(other *Material) bool {
	if m == nil || other == nil {
		return m == other
	}
	return bytes.Equal(m.Key[:], other.Key[:]) && bytes.Equal(m.IV[:], other.IV[:])
}

func (m *Material) block() (cipher.Block, error) {
	if m == nil || m.wiped {
		return nil, ErrWiped
	}
	return aes.NewCipher(m.Key[:])
}

// pad appends PKCS#7 padding. A full block is added when len(data) is
// already aligned.
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips and verifies PKCS#7 padding.
func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty block", ErrDecrypt)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: invalid padding length %d", ErrDecrypt, n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: padding mismatch", ErrDecrypt)
		}
	}
	return data[:len(data)-n], nil
}
