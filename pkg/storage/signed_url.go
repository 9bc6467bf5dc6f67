package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// URLSigner creates and validates download tokens bound to an object path.
// Tokens carry no expiry, which is what makes issued URLs durable.
type URLSigner struct {
	secret []byte
}

// NewURLSigner constructs a signer with the provided secret.
func NewURLSigner(secret string) *URLSigner {
	return &URLSigner{secret: []byte(secret)}
}

// Sign returns a token referencing objectPath.
func (s *URLSigner) Sign(objectPath string) (string, error) {
	if objectPath == "" {
		return "", fmt.Errorf("object path required")
	}
	if len(s.secret) == 0 {
		return "", fmt.Errorf("signing secret missing")
	}
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(objectPath))
	return encodedPath + "." + s.signature(encodedPath), nil
}

// Verify validates a token and returns the object path it was issued for.
func (s *URLSigner) Verify(token string) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("signing secret missing")
	}
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid token format")
	}
	encodedPath, signature := parts[0], parts[1]

	expected := s.signature(encodedPath)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", fmt.Errorf("invalid token signature")
	}
	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return "", fmt.Errorf("decode path: %w", err)
	}
	return string(rawPath), nil
}

func (s *URLSigner) signature(encodedPath string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte("blob|" + encodedPath))
	return hex.EncodeToString(mac.Sum(nil))
}
