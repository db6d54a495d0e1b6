// Package chain seals audit entries into hash-linked records and verifies
// sequences of such records.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/spounge-ai/auditchain/internal/domain"
	"github.com/spounge-ai/auditchain/pkg/canonical"
)

const GenesisHash = domain.GenesisHash

// hashSeparator sits between the previous hash and the canonical payload.
// Canonical output never contains a NUL byte.
var hashSeparator = []byte{0x00}

// EntryHash returns the hex SHA-256 of the canonical encoding of data.
func EntryHash(data canonical.Value) (string, error) {
	enc, err := canonical.Encode(data)
	if err != nil {
		return "", err
	}
	return hashBytes(enc), nil
}

// ChainHash binds data to previousHash.
func ChainHash(previousHash string, data canonical.Value) (string, error) {
	enc, err := canonical.Encode(data)
	if err != nil {
		return "", err
	}
	return chainHash(previousHash, enc), nil
}

// IsHash reports whether s is a 64 character lowercase hex digest.
func IsHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func chainHash(previousHash string, encoded []byte) string {
	return hashBytes([]byte(previousHash), hashSeparator, encoded)
}

func hashBytes(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Builder seals entries into records.
type Builder struct {
	now func() time.Time
}

type Option func(*Builder)

// WithClock replaces the source of record timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CreateRecord seals data as the record following previousHash. An empty
// previousHash starts a new chain from GenesisHash. The record is returned
// unsigned; the only possible error is a *canonical.EncodingError.
func (b *Builder) CreateRecord(data canonical.Value, previousHash string, sequenceNumber uint64) (domain.AuditRecord, error) {
	if previousHash == "" {
		previousHash = GenesisHash
	}

	enc, err := canonical.Encode(data)
	if err != nil {
		return domain.AuditRecord{}, err
	}

	return domain.AuditRecord{
		SequenceNumber: sequenceNumber,
		Timestamp:      b.now().UTC(),
		PreviousHash:   previousHash,
		EntryHash:      hashBytes(enc),
		ChainHash:      chainHash(previousHash, enc),
		Data:           data,
	}, nil
}

// Next seals data as the successor of head, or as the first record of a
// chain when head is nil.
func (b *Builder) Next(head *domain.AuditRecord, data canonical.Value) (domain.AuditRecord, error) {
	if head == nil {
		return b.CreateRecord(data, GenesisHash, 0)
	}
	return b.CreateRecord(data, head.ChainHash, head.SequenceNumber+1)
}

var defaultBuilder = NewBuilder()

// CreateRecord seals data using the wall clock.
func CreateRecord(data canonical.Value, previousHash string, sequenceNumber uint64) (domain.AuditRecord, error) {
	return defaultBuilder.CreateRecord(data, previousHash, sequenceNumber)
}
