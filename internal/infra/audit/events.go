package audit

import "time"

// OperationEvent describes one operation performed against the audit trail.
// It never carries entry payloads; RecordRef names a record by sequence
// number or chain hash.
type OperationEvent struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	ClientIdentity string            `json:"client_identity"`
	Operation      string            `json:"operation"`
	RecordRef      string            `json:"record_ref,omitempty"`
	Success        bool              `json:"success"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Operation names.
const (
	OpSealEntry       = "seal_entry"
	OpCreateRecord    = "create_record"
	OpVerifyChain     = "verify_chain"
	OpVerifyLedger    = "verify_ledger"
	OpListRecords     = "list_records"
	OpVerifySignature = "verify_signature"
	OpGetPublicKey    = "get_public_key"
	OpArchiveLedger   = "archive_ledger"
)
