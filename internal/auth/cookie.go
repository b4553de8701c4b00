package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// CookieName is the session cookie carrying the signed user id.
const CookieName = "user_id"

// Signer signs and verifies cookie values with an HMAC-SHA256 secret.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("cookie secret must be at least 16 bytes")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign creates a signed cookie value in the format "value|signature"
func (s *Signer) Sign(value string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(value))
	signature := mac.Sum(nil)
	return fmt.Sprintf("%s|%s", base64.URLEncoding.EncodeToString([]byte(value)), base64.URLEncoding.EncodeToString(signature))
}

// Verify checks the signed cookie and returns the original value
func (s *Signer) Verify(signedValue string) (string, error) {
	valueBase64, signatureBase64, ok := strings.Cut(signedValue, "|")
	if !ok {
		return "", errors.New("invalid cookie format")
	}

	valueBytes, err := base64.URLEncoding.DecodeString(valueBase64)
	if err != nil {
		return "", errors.New("invalid value encoding")
	}

	signature, err := base64.URLEncoding.DecodeString(signatureBase64)
	if err != nil {
		return "", errors.New("invalid signature encoding")
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(valueBytes)
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return "", errors.New("invalid signature")
	}

	return string(valueBytes), nil
}
