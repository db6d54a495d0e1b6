package domain

import "context"

// SealFunc builds the next record given the current head of a ledger, which
// is nil for an empty ledger. It runs while the store holds its append lock.
type SealFunc func(head *AuditRecord) (AuditRecord, error)

// RecordRepository is an append-only, ordered store of audit records.
type RecordRepository interface {
	Append(ctx context.Context, seal SealFunc) (AuditRecord, error)
	Head(ctx context.Context) (*AuditRecord, error)
	List(ctx context.Context, fromSequence uint64, limit int) ([]AuditRecord, error)
	All(ctx context.Context) ([]AuditRecord, error)
	Count(ctx context.Context) (int, error)
}

// ArchiveSink stores exported ledger snapshots. ObjectKey reports the key
// under which Put stores name, which may differ from name itself.
type ArchiveSink interface {
	Put(ctx context.Context, name string, body []byte, contentType string) error
	ObjectKey(name string) string
}

// OperationLogger records what was done to a ledger without recording payloads.
type OperationLogger interface {
	LogOperation(ctx context.Context, clientIdentity, operation, recordRef string, success bool, err error)
}
