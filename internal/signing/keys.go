package signing

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultKeyBits = 3072
	minKeyBits     = 2048

	publicKeyBlockType  = "PUBLIC KEY"
	privateKeyBlockType = "PRIVATE KEY"
)

// GenerateKeyPair creates an RSA key pair and returns it as PKCS#8 private
// and PKIX public PEM text.
func GenerateKeyPair(bits int, random io.Reader) (privatePEM, publicPEM string, err error) {
	priv, err := generateKey(bits, random)
	if err != nil {
		return "", "", err
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	publicPEM, err = encodePublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: privateKeyBlockType, Bytes: der})), publicPEM, nil
}

func generateKey(bits int, random io.Reader) (*rsa.PrivateKey, error) {
	if bits < minKeyBits {
		return nil, fmt.Errorf("rsa key size %d is below the minimum of %d bits", bits, minKeyBits)
	}
	priv, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}
	return priv, nil
}

func parsePrivateKey(material string) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(material))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
	}
	return key, nil
}

func parsePublicKey(material string) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(material))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
	}
	return key, nil
}

func encodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: publicKeyBlockType, Bytes: der})), nil
}

// fingerprint identifies a public key by the leading half of the SHA-256 of
// its SubjectPublicKeyInfo encoding.
func fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:16]), nil
}
