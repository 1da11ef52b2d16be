package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrEmptyKey = errors.New("key file is empty")

// LoadPublicKey reads a PEM encoded Ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, readErr := os.ReadFile(filepath.Clean(path))
	if readErr != nil {
		return nil, fmt.Errorf("failed to read public key: %w", readErr)
	}
	return ParsePublicKey(data)
}

func ParsePublicKey(data []byte) (ed25519.PublicKey, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, ErrEmptyKey
	}
	parsed, parseErr := jwt.ParseEdPublicKeyFromPEM(data)
	if parseErr != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", parseErr)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not ed25519", parsed)
	}
	return key, nil
}

// LoadPrivateKey reads a PEM encoded (PKCS#8) Ed25519 private key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, readErr := os.ReadFile(filepath.Clean(path))
	if readErr != nil {
		return nil, fmt.Errorf("failed to read private key: %w", readErr)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, ErrEmptyKey
	}
	parsed, parseErr := jwt.ParseEdPrivateKeyFromPEM(data)
	if parseErr != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", parseErr)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not ed25519", parsed)
	}
	return key, nil
}

// GenerateKeyPair returns a fresh Ed25519 key pair as PEM blocks.
func GenerateKeyPair() (publicPEM, privatePEM []byte, err error) {
	pub, priv, genErr := ed25519.GenerateKey(rand.Reader)
	if genErr != nil {
		return nil, nil, genErr
	}
	pubDER, pubErr := x509.MarshalPKIXPublicKey(pub)
	if pubErr != nil {
		return nil, nil, pubErr
	}
	privDER, privErr := x509.MarshalPKCS8PrivateKey(priv)
	if privErr != nil {
		return nil, nil, privErr
	}
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	return publicPEM, privatePEM, nil
}
