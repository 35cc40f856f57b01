// Package vault encrypts contact fields at rest and derives the deterministic
// lookup index stored beside each ciphertext.
//
// Ciphertexts are XChaCha20-Poly1305 with a random nonce, encoded as
// base64url(nonce || sealed). The index is a keyed BLAKE2b-256 digest of the
// plaintext and cannot be reversed without the index key.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrKeyLength is returned when a key is not 32 bytes.
	ErrKeyLength = errors.New("vault keys must be 32 bytes")
	// ErrCiphertext is returned for ciphertexts that fail to decode or authenticate.
	ErrCiphertext = errors.New("vault ciphertext invalid")
)

// Vault is safe for concurrent use.
type Vault struct {
	encKey   []byte
	indexKey []byte
}

// New builds a vault from a 32 byte encryption key and a distinct 32 byte
// index key.
func New(encKey, indexKey []byte) (*Vault, error) {
	if len(encKey) != chacha20poly1305.KeySize || len(indexKey) != 32 {
		return nil, ErrKeyLength
	}
	return &Vault{
		encKey:   append([]byte(nil), encKey...),
		indexKey: append([]byte(nil), indexKey...),
	}, nil
}

// NewFromHex is New for keys given as hex strings, the form used in
// configuration files.
func NewFromHex(encKey, indexKey string) (*Vault, error) {
	ek, err := hex.DecodeString(encKey)
	if err != nil {
		return nil, fmt.Errorf("vault encryption key: %w", err)
	}
	ik, err := hex.DecodeString(indexKey)
	if err != nil {
		return nil, fmt.Errorf("vault index key: %w", err)
	}
	return New(ek, ik)
}

func (v *Vault) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(v.encKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrCiphertext
	}
	aead, err := chacha20poly1305.NewX(v.encKey)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrCiphertext
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(plain), nil
}

// Index returns the hex keyed hash of plaintext. Equal plaintexts always
// produce equal indexes.
func (v *Vault) Index(plaintext string) string {
	h, err := blake2b.New256(v.indexKey)
	if err != nil {
		// only reachable with a key longer than 64 bytes, which New rejects
		panic(err)
	}
	h.Write([]byte(plaintext))
	return hex.EncodeToString(h.Sum(nil))
}
