package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/pliu/sealedchat/internal/apperr"
)

// NonceSize is the AES-GCM nonce length (96 bits).
const NonceSize = 12

// Sealed is the output of Encrypt. Nonce and Ciphertext are independent
// buffers; Ciphertext includes the GCM tag.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte
}

func newGCM(k Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under k with a fresh random nonce.
func Encrypt(k Key, plaintext string) (Sealed, error) {
	aead, err := newGCM(k)
	if err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, fmt.Errorf("generating nonce: %w", err)
	}
	return Sealed{
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, []byte(plaintext), nil),
	}, nil
}

// Decrypt opens ciphertext. Any authentication failure, including a
// nonce of the wrong length, is reported as apperr.ErrDecryptionFailed.
func Decrypt(k Key, nonce, ciphertext []byte) (string, error) {
	if len(nonce) != NonceSize {
		return "", apperr.Wrap(apperr.CodeDecryptionFailed, "failed to decrypt message",
			fmt.Errorf("nonce is %d bytes, want %d", len(nonce), NonceSize))
	}
	aead, err := newGCM(k)
	if err != nil {
		return "", err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeDecryptionFailed, "failed to decrypt message", err)
	}
	return string(plaintext), nil
}

// EncodeSealed returns the base64 forms stored in the iv and content
// columns.
func EncodeSealed(s Sealed) (iv, content string) {
	return base64.StdEncoding.EncodeToString(s.Nonce), base64.StdEncoding.EncodeToString(s.Ciphertext)
}

func DecodeSealed(iv, content string) (Sealed, error) {
	nonce, err := base64.StdEncoding.Strict().DecodeString(iv)
	if err != nil {
		return Sealed{}, fmt.Errorf("decoding iv: %w", err)
	}
	ct, err := base64.StdEncoding.Strict().DecodeString(content)
	if err != nil {
		return Sealed{}, fmt.Errorf("decoding content: %w", err)
	}
	return Sealed{Nonce: nonce, Ciphertext: ct}, nil
}

// OpenEncoded decodes and decrypts a stored message body. Decoding
// failures are treated like authentication failures.
func OpenEncoded(encodedKey, iv, content string) (string, error) {
	k, err := ImportKey(encodedKey)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeDecryptionFailed, "failed to decrypt message", err)
	}
	s, err := DecodeSealed(iv, content)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeDecryptionFailed, "failed to decrypt message", err)
	}
	return Decrypt(k, s.Nonce, s.Ciphertext)
}
