package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"github.com/spounge-ai/auditchain/internal/infra/audit"
	"github.com/spounge-ai/auditchain/internal/signing"
	"go.opentelemetry.io/otel/attribute"
)

const (
	snapshotContentType = "application/x-ndjson"
	manifestContentType = "application/json"
)

// ArchiveManifest is written next to every snapshot and returned to the caller.
// ObjectKey and ManifestKey are the keys the sink actually stored.
type ArchiveManifest struct {
	ObjectKey      string    `json:"object_key"`
	ManifestKey    string    `json:"manifest_key"`
	Records        int       `json:"records"`
	HeadSequence   uint64    `json:"head_sequence_number"`
	HeadChainHash  string    `json:"head_chain_hash"`
	SnapshotSHA256 string    `json:"snapshot_sha256"`
	KeyID          string    `json:"key_id,omitempty"`
	Algorithm      string    `json:"algorithm,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Archive verifies the stored ledger and exports it as one JSON record per
// line, followed by a manifest. An invalid or empty ledger is not archived.
func (s *auditTrailImpl) Archive(ctx context.Context) (ArchiveManifest, error) {
	ctx, span := tracer.Start(ctx, "Archive")
	defer span.End()

	manifest, err := s.archiveLedger(ctx)
	if err != nil {
		failSpan(span, err)
		s.logOp(ctx, audit.OpArchiveLedger, "", err)
		return ArchiveManifest{}, err
	}
	span.SetAttributes(
		attribute.String("archive.object_key", manifest.ObjectKey),
		attribute.Int("ledger.records", manifest.Records),
		attribute.String("ledger.head_chain_hash", hashPrefix(manifest.HeadChainHash)),
	)
	s.logOp(ctx, audit.OpArchiveLedger, manifest.ObjectKey, nil)
	return manifest, nil
}

func (s *auditTrailImpl) archiveLedger(ctx context.Context) (ArchiveManifest, error) {
	if s.archive == nil {
		return ArchiveManifest{}, fmt.Errorf("%w: archiving is not configured", app_errors.ErrInvalidInput)
	}

	records, err := s.loadLedger(ctx)
	if err != nil {
		return ArchiveManifest{}, err
	}
	if len(records) == 0 {
		return ArchiveManifest{}, fmt.Errorf("%w: ledger is empty", app_errors.ErrConflict)
	}
	if result := s.verifyStored(ctx, records); !result.Valid {
		return ArchiveManifest{}, fmt.Errorf("%w: ledger failed verification with %d anomalies", app_errors.ErrConflict, len(result.Anomalies))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return ArchiveManifest{}, fmt.Errorf("failed to encode record %d: %w", rec.SequenceNumber, err)
		}
	}
	snapshot := buf.Bytes()
	sum := sha256.Sum256(snapshot)

	now := time.Now().UTC()
	base := fmt.Sprintf("snapshots/%s/%s", now.Format("2006/01/02"), uuid.NewString())
	head := records[len(records)-1]

	snapshotName, manifestName := base+".jsonl", base+".manifest.json"

	manifest := ArchiveManifest{
		ObjectKey:      s.archive.ObjectKey(snapshotName),
		ManifestKey:    s.archive.ObjectKey(manifestName),
		Records:        len(records),
		HeadSequence:   head.SequenceNumber,
		HeadChainHash:  head.ChainHash,
		SnapshotSHA256: hex.EncodeToString(sum[:]),
		KeyID:          s.signer.KeyID(),
		CreatedAt:      now,
	}
	if manifest.KeyID != "" {
		manifest.Algorithm = signing.Algorithm
	}

	if err := s.putObject(ctx, "PutSnapshot", snapshotName, snapshot, snapshotContentType); err != nil {
		return ArchiveManifest{}, err
	}
	body, err := json.Marshal(manifest)
	if err != nil {
		return ArchiveManifest{}, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := s.putObject(ctx, "PutManifest", manifestName, body, manifestContentType); err != nil {
		return ArchiveManifest{}, err
	}

	s.logger.InfoContext(ctx, "ledger archived",
		"object_key", manifest.ObjectKey, "records", manifest.Records, "head_chain_hash", manifest.HeadChainHash)
	return manifest, nil
}

func (s *auditTrailImpl) putObject(ctx context.Context, spanName, name string, body []byte, contentType string) error {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("archive.object_key", s.archive.ObjectKey(name)),
		attribute.Int("archive.bytes", len(body)),
	)
	if err := s.archive.Put(ctx, name, body, contentType); err != nil {
		failSpan(span, err)
		return err
	}
	return nil
}
