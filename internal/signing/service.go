// Package signing attests chain hashes with RSA-PSS signatures and publishes
// the matching public key for offline verification.
package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spounge-ai/auditchain/internal/domain"
)

// Algorithm names the signature scheme for clients that verify independently.
const Algorithm = "RSASSA-PSS-SHA256"

// Verification failure reasons.
const (
	ReasonKeyUnavailable  = "verification key not available"
	ReasonMalformedBase64 = "signature is not valid base64"
	ReasonInvalidLength   = "signature has invalid length"
	ReasonMismatch        = "signature does not match"
	ReasonKeyIDMismatch   = "signature was made with a different key"
)

// KeyMaterial is externally supplied PEM text. Either field may be empty.
type KeyMaterial struct {
	PrivateKeyPEM string
	PublicKeyPEM  string
}

// SignResult is the outcome of Sign. Available is false when no private key
// is loaded; that is an expected outcome, not an error.
type SignResult struct {
	Signature string
	KeyID     string
	Available bool
}

// VerifyResult is the outcome of Verify. Reason is set when Valid is false.
type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Service owns the process signing identity. All methods are safe for
// concurrent use; key state is written once during NewService.
type Service struct {
	production bool
	keyBits    int
	random     io.Reader
	logger     *slog.Logger
	material   KeyMaterial

	once      sync.Once
	initErr   error
	private   *rsa.PrivateKey
	public    *rsa.PublicKey
	publicPEM string
	keyID     string
	ephemeral bool
}

type Option func(*Service)

// WithProduction marks the deployment as production, which forbids
// generating a throwaway key when none is configured.
func WithProduction(production bool) Option {
	return func(s *Service) { s.production = production }
}

func WithKeyBits(bits int) Option {
	return func(s *Service) { s.keyBits = bits }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithRandom replaces the entropy source used for key generation and PSS salts.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.random = r }
}

// NewService establishes the signing identity from material. Supplied but
// unparseable material is a configuration fault and returns an error.
func NewService(material KeyMaterial, opts ...Option) (*Service, error) {
	s := &Service{
		keyBits:  DefaultKeyBits,
		random:   rand.Reader,
		logger:   slog.Default(),
		material: material,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.once.Do(func() {
		s.initErr = s.loadKeys()
		s.material = KeyMaterial{}
	})
	if s.initErr != nil {
		return nil, s.initErr
	}
	return s, nil
}

func (s *Service) loadKeys() error {
	privPEM := strings.TrimSpace(s.material.PrivateKeyPEM)
	pubPEM := strings.TrimSpace(s.material.PublicKeyPEM)

	switch {
	case privPEM != "":
		priv, err := parsePrivateKey(privPEM)
		if err != nil {
			return err
		}
		if pubPEM != "" {
			pub, err := parsePublicKey(pubPEM)
			if err != nil {
				return err
			}
			if !pub.Equal(&priv.PublicKey) {
				return errors.New("configured public key does not belong to the configured private key")
			}
		}
		s.private, s.public = priv, &priv.PublicKey
	case pubPEM != "":
		pub, err := parsePublicKey(pubPEM)
		if err != nil {
			return err
		}
		s.public = pub
	case s.production:
		s.logger.Warn("no signing key configured in production, audit records will be unsigned")
		return nil
	default:
		priv, err := generateKey(s.keyBits, s.random)
		if err != nil {
			return err
		}
		s.private, s.public = priv, &priv.PublicKey
		s.ephemeral = true
	}

	var err error
	if s.publicPEM, err = encodePublicKey(s.public); err != nil {
		return err
	}
	if s.keyID, err = fingerprint(s.public); err != nil {
		return err
	}

	s.logger.Info("signing identity established",
		"key_id", s.keyID,
		"key_bits", s.public.Size()*8,
		"can_sign", s.private != nil,
		"ephemeral", s.ephemeral,
	)
	if s.ephemeral {
		s.logger.Warn("using a generated in-memory signing key, signatures will not verify after restart", "key_id", s.keyID)
	}
	return nil
}

func (s *Service) IsSigningAvailable() bool      { return s.private != nil }
func (s *Service) IsVerificationAvailable() bool { return s.public != nil }

// KeyID returns the public key fingerprint, or "" when no key is loaded.
func (s *Service) KeyID() string { return s.keyID }

// Ephemeral reports whether the key pair was generated for this process only.
func (s *Service) Ephemeral() bool { return s.ephemeral }

// Sign signs the UTF-8 bytes of data with RSA-PSS over SHA-256 using the
// maximum salt length and returns the signature base64 encoded.
func (s *Service) Sign(data string) (SignResult, error) {
	if s.private == nil {
		return SignResult{}, nil
	}

	digest := sha256.Sum256([]byte(data))
	sig, err := rsa.SignPSS(s.random, s.private, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	})
	if err != nil {
		return SignResult{}, fmt.Errorf("failed to sign: %w", err)
	}

	return SignResult{
		Signature: base64.StdEncoding.EncodeToString(sig),
		KeyID:     s.keyID,
		Available: true,
	}, nil
}

// Verify checks signatureB64 against data. It never fails; every negative
// outcome is reported through VerifyResult.Reason.
func (s *Service) Verify(data, signatureB64 string) VerifyResult {
	if s.public == nil {
		return VerifyResult{Reason: ReasonKeyUnavailable}
	}

	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureB64))
	if err != nil {
		return VerifyResult{Reason: ReasonMalformedBase64}
	}
	if len(sig) != s.public.Size() {
		return VerifyResult{Reason: ReasonInvalidLength}
	}

	digest := sha256.Sum256([]byte(data))
	if err := rsa.VerifyPSS(s.public, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	}); err != nil {
		return VerifyResult{Reason: ReasonMismatch}
	}
	return VerifyResult{Valid: true}
}

// ExportPublicKey returns the public key as a PKIX "PUBLIC KEY" PEM block.
func (s *Service) ExportPublicKey() (string, bool) {
	if s.public == nil {
		return "", false
	}
	return s.publicPEM, true
}

// SignRecord signs the chain hash of rec in place. It reports false, leaving
// rec untouched, when no private key is loaded.
func (s *Service) SignRecord(rec *domain.AuditRecord) (bool, error) {
	res, err := s.Sign(rec.ChainHash)
	if err != nil || !res.Available {
		return false, err
	}
	rec.Signature = res.Signature
	rec.SignatureKeyID = res.KeyID
	return true, nil
}

// VerifyRecord checks the signature carried by rec against its chain hash.
func (s *Service) VerifyRecord(rec domain.AuditRecord) VerifyResult {
	if s.public != nil && rec.SignatureKeyID != "" && rec.SignatureKeyID != s.keyID {
		return VerifyResult{Reason: ReasonKeyIDMismatch}
	}
	return s.Verify(rec.ChainHash, rec.Signature)
}
