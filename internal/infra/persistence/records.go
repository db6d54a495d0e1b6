package persistence

import (
	"fmt"
	"math"
	"time"

	"github.com/spounge-ai/auditchain/internal/domain"
	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"github.com/spounge-ai/auditchain/pkg/canonical"
)

// recordRow is the storage shape of an audit record. Data is kept as its
// canonical JSON text so the stored bytes are exactly the hashed bytes.
type recordRow struct {
	SequenceNumber int64
	RecordedAt     time.Time
	PreviousHash   string
	EntryHash      string
	ChainHash      string
	Data           string
	Signature      string
	SignatureKeyID string
}

func newRecordRow(rec domain.AuditRecord) (recordRow, error) {
	if rec.SequenceNumber > math.MaxInt64 {
		return recordRow{}, fmt.Errorf("%w: sequence number %d out of range", app_errors.ErrInvalidInput, rec.SequenceNumber)
	}
	data, err := canonical.Encode(rec.Data)
	if err != nil {
		return recordRow{}, err
	}
	return recordRow{
		SequenceNumber: int64(rec.SequenceNumber),
		RecordedAt:     rec.Timestamp.UTC(),
		PreviousHash:   rec.PreviousHash,
		EntryHash:      rec.EntryHash,
		ChainHash:      rec.ChainHash,
		Data:           string(data),
		Signature:      rec.Signature,
		SignatureKeyID: rec.SignatureKeyID,
	}, nil
}

func (r recordRow) record() (domain.AuditRecord, error) {
	if r.SequenceNumber < 0 {
		return domain.AuditRecord{}, fmt.Errorf("%w: negative sequence number %d", app_errors.ErrStorage, r.SequenceNumber)
	}
	data, err := canonical.FromJSON([]byte(r.Data))
	if err != nil {
		return domain.AuditRecord{}, fmt.Errorf("%w: record %d has unreadable data: %v", app_errors.ErrStorage, r.SequenceNumber, err)
	}
	return domain.AuditRecord{
		SequenceNumber: uint64(r.SequenceNumber),
		Timestamp:      r.RecordedAt.UTC(),
		PreviousHash:   r.PreviousHash,
		EntryHash:      r.EntryHash,
		ChainHash:      r.ChainHash,
		Data:           data,
		Signature:      r.Signature,
		SignatureKeyID: r.SignatureKeyID,
	}, nil
}

// checkLink rejects a sealed record that does not extend head. Every store
// runs it inside its append critical section.
func checkLink(head *domain.AuditRecord, next domain.AuditRecord) error {
	wantSeq, wantPrev := uint64(0), domain.GenesisHash
	if head != nil {
		wantSeq, wantPrev = head.SequenceNumber+1, head.ChainHash
	}
	if next.SequenceNumber != wantSeq {
		return fmt.Errorf("%w: expected sequence number %d, got %d", app_errors.ErrConflict, wantSeq, next.SequenceNumber)
	}
	if next.PreviousHash != wantPrev {
		return fmt.Errorf("%w: record %d does not link to the current head", app_errors.ErrConflict, next.SequenceNumber)
	}
	return nil
}
