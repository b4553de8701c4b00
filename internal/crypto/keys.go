// Package crypto implements the per-user symmetric keys and the AES-GCM
// message codec. All binary values cross process boundaries as standard
// padded base64.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/pliu/sealedchat/internal/apperr"
)

// KeySize is the size in bytes of a message key (AES-256).
const KeySize = 32

type Key [KeySize]byte

// GenerateKey returns a fresh random key. It only fails when the system
// random source is unavailable.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return Key{}, fmt.Errorf("generating key: %w", err)
	}
	return k, nil
}

func ExportKey(k Key) string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// ImportKey reverses ExportKey. Malformed base64 and keys of the wrong
// length fail with apperr.ErrInvalidKeyMaterial.
func ImportKey(encoded string) (Key, error) {
	raw, err := base64.StdEncoding.Strict().DecodeString(encoded)
	if err != nil {
		return Key{}, apperr.Wrap(apperr.CodeInvalidKeyMaterial, "invalid key material", err)
	}
	if len(raw) != KeySize {
		return Key{}, apperr.Wrap(apperr.CodeInvalidKeyMaterial, "invalid key material",
			fmt.Errorf("key is %d bytes, want %d", len(raw), KeySize))
	}
	var k Key
	copy(k[:], raw)
	return k, nil
}
