package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Signer signs URL payloads on behalf of a service account.
type Signer interface {
	// Email is used as the GoogleAccessID of signed URLs.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// ServiceAccountSigner signs with the private key of a service account JSON key file.
type ServiceAccountSigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewServiceAccountSignerFromFile reads a service account key from disk.
func NewServiceAccountSignerFromFile(path string) (*ServiceAccountSigner, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read service account file: %w", err)
	}
	return NewServiceAccountSignerFromJSON(contents)
}

// NewServiceAccountSignerFromJSON parses a raw service account key.
func NewServiceAccountSignerFromJSON(data []byte) (*ServiceAccountSigner, error) {
	var key struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("storage: decode service account json: %w", err)
	}
	email := strings.TrimSpace(key.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: client_email missing in service account JSON")
	}

	block, _ := pem.Decode([]byte(strings.TrimSpace(key.PrivateKey)))
	if block == nil {
		return nil, errors.New("storage: failed to decode PEM private key")
	}
	rsaKey, err := parseRSAKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return &ServiceAccountSigner{email: email, key: rsaKey}, nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: private key is not RSA")
		}
		return rsaKey, nil
	}
	rsaKey, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("storage: parse RSA private key: %w", err)
	}
	return rsaKey, nil
}

// Email returns the service account email.
func (s *ServiceAccountSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes signs payload with RSASSA-PKCS1-v1_5 over SHA-256.
func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}
