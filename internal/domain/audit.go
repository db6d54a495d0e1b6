package domain

import (
	"time"

	"github.com/spounge-ai/auditchain/pkg/canonical"
)

// GenesisHash is the previous hash of the first record of every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditRecord is one sealed link of an audit chain. Records are read-only
// once created; Timestamp, Signature and SignatureKeyID are not covered by
// either hash.
type AuditRecord struct {
	SequenceNumber uint64          `json:"sequence_number"`
	Timestamp      time.Time       `json:"timestamp"`
	PreviousHash   string          `json:"previous_hash"`
	EntryHash      string          `json:"entry_hash"`
	ChainHash      string          `json:"chain_hash"`
	Data           canonical.Value `json:"data"`
	Signature      string          `json:"signature,omitempty"`
	SignatureKeyID string          `json:"signature_key_id,omitempty"`
}

// IsSigned reports whether the record carries a signature over its chain hash.
func (r AuditRecord) IsSigned() bool {
	return r.Signature != ""
}

// AnomalyKind names one class of integrity failure.
type AnomalyKind string

const (
	AnomalyPreviousHashMismatch AnomalyKind = "previous_hash mismatch"
	AnomalyChainHashMismatch    AnomalyKind = "chain hash recomputation failed"
	AnomalyEntryHashMismatch    AnomalyKind = "entry_hash mismatch"
	AnomalySequenceOutOfOrder   AnomalyKind = "sequence_number out of order"
	AnomalySignatureInvalid     AnomalyKind = "signature invalid"
	AnomalySignatureMissing     AnomalyKind = "signature missing"
)

// Anomaly is a single finding about one record. Expected and Actual hold
// truncated hashes for diagnostics only.
type Anomaly struct {
	RecordIndex    int         `json:"record_index"`
	SequenceNumber uint64      `json:"sequence_number"`
	Issue          AnomalyKind `json:"issue"`
	Expected       string      `json:"expected,omitempty"`
	Actual         string      `json:"actual,omitempty"`
}

// VerificationResult is the full report of a chain verification.
type VerificationResult struct {
	Valid          bool      `json:"valid"`
	RecordsChecked int       `json:"records_checked"`
	Anomalies      []Anomaly `json:"anomalies"`
}

// AnomaliesAt returns the anomalies reported for the record at index.
func (r VerificationResult) AnomaliesAt(index int) []Anomaly {
	var out []Anomaly
	for _, a := range r.Anomalies {
		if a.RecordIndex == index {
			out = append(out, a)
		}
	}
	return out
}
