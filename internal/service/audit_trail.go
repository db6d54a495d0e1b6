package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spounge-ai/auditchain/internal/chain"
	"github.com/spounge-ai/auditchain/internal/domain"
	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"github.com/spounge-ai/auditchain/internal/infra/audit"
	"github.com/spounge-ai/auditchain/internal/signing"
	"github.com/spounge-ai/auditchain/pkg/canonical"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/spounge-ai/auditchain/internal/service")

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
	// MaxVerifyRecords bounds caller-supplied chains.
	MaxVerifyRecords = 10_000
)

// Signer is the slice of signing.Service the audit trail depends on.
type Signer interface {
	IsSigningAvailable() bool
	IsVerificationAvailable() bool
	KeyID() string
	Verify(data, signatureB64 string) signing.VerifyResult
	ExportPublicKey() (string, bool)
	SignRecord(rec *domain.AuditRecord) (bool, error)
	VerifyRecord(rec domain.AuditRecord) signing.VerifyResult
}

// PublicKeyInfo describes the published verification key.
type PublicKeyInfo struct {
	PEM       string `json:"public_key_pem"`
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"`
}

// AuditTrail is the application surface over one ledger.
type AuditTrail interface {
	Seal(ctx context.Context, entry canonical.Value) (domain.AuditRecord, error)
	CreateRecord(ctx context.Context, entry canonical.Value, previousHash string, sequenceNumber uint64, sign bool) (domain.AuditRecord, error)
	VerifyRecords(ctx context.Context, records []domain.AuditRecord, requireSignatures bool) (domain.VerificationResult, error)
	VerifyLedger(ctx context.Context) (domain.VerificationResult, error)
	ListRecords(ctx context.Context, fromSequence uint64, limit int) ([]domain.AuditRecord, error)
	VerifySignature(ctx context.Context, data, signature string) signing.VerifyResult
	PublicKey(ctx context.Context) (PublicKeyInfo, error)
	Archive(ctx context.Context) (ArchiveManifest, error)
	Close()
}

type auditTrailImpl struct {
	repo        domain.RecordRepository
	signer      Signer
	ops         domain.OperationLogger
	archive     domain.ArchiveSink
	builder     *chain.Builder
	sigCache    *signatureCache
	concurrency int
	logger      *slog.Logger
}

type Option func(*auditTrailImpl)

// WithArchive enables Archive.
func WithArchive(sink domain.ArchiveSink) Option {
	return func(s *auditTrailImpl) { s.archive = sink }
}

// WithBuilder replaces the record builder, mainly to pin the clock in tests.
func WithBuilder(b *chain.Builder) Option {
	return func(s *auditTrailImpl) { s.builder = b }
}

// WithVerifyConcurrency sets how many goroutines recompute hashes during verification.
func WithVerifyConcurrency(n int) Option {
	return func(s *auditTrailImpl) { s.concurrency = n }
}

func NewAuditTrail(repo domain.RecordRepository, signer Signer, ops domain.OperationLogger, logger *slog.Logger, opts ...Option) AuditTrail {
	s := &auditTrailImpl{
		repo:        repo,
		signer:      signer,
		ops:         ops,
		builder:     chain.NewBuilder(),
		concurrency: 4,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sigCache = newSignatureCache(signer)
	return s
}

func (s *auditTrailImpl) Close() {
	s.sigCache.stop()
}

// Seal appends entry to the ledger as the next record, signed when a
// private key is loaded.
func (s *auditTrailImpl) Seal(ctx context.Context, entry canonical.Value) (domain.AuditRecord, error) {
	ctx, span := tracer.Start(ctx, "Seal")
	defer span.End()

	if _, err := canonical.Encode(entry); err != nil {
		failSpan(span, err)
		s.logOp(ctx, audit.OpSealEntry, "", err)
		return domain.AuditRecord{}, err
	}

	rec, err := s.repo.Append(ctx, func(head *domain.AuditRecord) (domain.AuditRecord, error) {
		rec, err := s.builder.Next(head, entry)
		if err != nil {
			return domain.AuditRecord{}, err
		}
		if _, err := s.signer.SignRecord(&rec); err != nil {
			return domain.AuditRecord{}, err
		}
		return rec, nil
	})
	if err != nil {
		failSpan(span, err)
		s.logOp(ctx, audit.OpSealEntry, "", err)
		return domain.AuditRecord{}, err
	}

	span.SetAttributes(
		attribute.Int64("ledger.sequence_number", int64(rec.SequenceNumber)),
		attribute.String("ledger.chain_hash", hashPrefix(rec.ChainHash)),
		attribute.Bool("ledger.signed", rec.Signature != ""),
	)
	s.logOp(ctx, audit.OpSealEntry, recordRef(rec), nil)
	return rec, nil
}

// CreateRecord seals entry against an explicit predecessor without storing it.
func (s *auditTrailImpl) CreateRecord(ctx context.Context, entry canonical.Value, previousHash string, sequenceNumber uint64, sign bool) (domain.AuditRecord, error) {
	if previousHash != "" && !chain.IsHash(previousHash) {
		err := fmt.Errorf("%w: previous_hash must be 64 lowercase hex characters", app_errors.ErrInvalidInput)
		s.logOp(ctx, audit.OpCreateRecord, "", err)
		return domain.AuditRecord{}, err
	}

	rec, err := s.builder.CreateRecord(entry, previousHash, sequenceNumber)
	if err != nil {
		s.logOp(ctx, audit.OpCreateRecord, "", err)
		return domain.AuditRecord{}, err
	}
	if sign {
		if _, err := s.signer.SignRecord(&rec); err != nil {
			s.logOp(ctx, audit.OpCreateRecord, "", err)
			return domain.AuditRecord{}, err
		}
	}

	s.logOp(ctx, audit.OpCreateRecord, recordRef(rec), nil)
	return rec, nil
}

// VerifyRecords checks a caller-supplied chain. Signed records are checked
// when a verification key is loaded.
func (s *auditTrailImpl) VerifyRecords(ctx context.Context, records []domain.AuditRecord, requireSignatures bool) (domain.VerificationResult, error) {
	ctx, span := tracer.Start(ctx, "VerifyRecords")
	defer span.End()

	if len(records) > MaxVerifyRecords {
		err := fmt.Errorf("%w: at most %d records can be verified per call", app_errors.ErrInvalidInput, MaxVerifyRecords)
		failSpan(span, err)
		s.logOp(ctx, audit.OpVerifyChain, "", err)
		return domain.VerificationResult{}, err
	}
	if requireSignatures && !s.signer.IsVerificationAvailable() {
		err := fmt.Errorf("%w: signatures cannot be required without a verification key", app_errors.ErrKeyUnavailable)
		failSpan(span, err)
		s.logOp(ctx, audit.OpVerifyChain, "", err)
		return domain.VerificationResult{}, err
	}

	opts := []chain.VerifyOption{chain.WithConcurrency(s.concurrency)}
	opts = append(opts, s.signatureOptions(requireSignatures)...)
	result := chain.NewVerifier(opts...).Verify(records)

	span.SetAttributes(verificationAttributes(result)...)
	s.logOp(ctx, audit.OpVerifyChain, verifyRef(result), nil)
	return result, nil
}

// VerifyLedger checks the whole stored chain, including entry hashes and
// contiguous sequence numbers. A signing-capable deployment also requires
// every record to be signed.
func (s *auditTrailImpl) VerifyLedger(ctx context.Context) (domain.VerificationResult, error) {
	ctx, span := tracer.Start(ctx, "VerifyLedger")
	defer span.End()

	records, err := s.loadLedger(ctx)
	if err != nil {
		failSpan(span, err)
		s.logOp(ctx, audit.OpVerifyLedger, "", err)
		return domain.VerificationResult{}, err
	}

	result := s.verifyStored(ctx, records)
	span.SetAttributes(verificationAttributes(result)...)
	if !result.Valid {
		s.logger.WarnContext(ctx, "ledger verification found anomalies",
			"records_checked", result.RecordsChecked, "anomalies", len(result.Anomalies))
	}
	s.logOp(ctx, audit.OpVerifyLedger, verifyRef(result), nil)
	return result, nil
}

// loadLedger reads the whole stored chain.
func (s *auditTrailImpl) loadLedger(ctx context.Context) ([]domain.AuditRecord, error) {
	ctx, span := tracer.Start(ctx, "LoadLedger")
	defer span.End()

	records, err := s.repo.All(ctx)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("ledger.records", len(records)))
	if len(records) > 0 {
		span.SetAttributes(attribute.String("ledger.head_chain_hash", hashPrefix(records[len(records)-1].ChainHash)))
	}
	return records, nil
}

func (s *auditTrailImpl) verifyStored(ctx context.Context, records []domain.AuditRecord) domain.VerificationResult {
	_, span := tracer.Start(ctx, "VerifyStoredChain")
	defer span.End()

	opts := []chain.VerifyOption{
		chain.WithEntryHashCheck(),
		chain.WithSequenceCheck(true),
		chain.WithConcurrency(s.concurrency),
	}
	opts = append(opts, s.signatureOptions(s.signer.IsSigningAvailable())...)
	result := chain.NewVerifier(opts...).Verify(records)
	span.SetAttributes(verificationAttributes(result)...)
	return result
}

func (s *auditTrailImpl) signatureOptions(requireSignatures bool) []chain.VerifyOption {
	if !s.signer.IsVerificationAvailable() {
		return nil
	}
	opts := []chain.VerifyOption{chain.WithSignatureCheck(s.sigCache.check)}
	if requireSignatures {
		opts = append(opts, chain.WithRequireSignatures())
	}
	return opts
}

// ListRecords pages through the stored ledger. A zero limit means DefaultListLimit.
func (s *auditTrailImpl) ListRecords(ctx context.Context, fromSequence uint64, limit int) ([]domain.AuditRecord, error) {
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 0 || limit > MaxListLimit {
		err := fmt.Errorf("%w: limit must be between 1 and %d", app_errors.ErrInvalidInput, MaxListLimit)
		s.logOp(ctx, audit.OpListRecords, "", err)
		return nil, err
	}

	records, err := s.repo.List(ctx, fromSequence, limit)
	if err != nil {
		s.logOp(ctx, audit.OpListRecords, "", err)
		return nil, err
	}
	s.logOp(ctx, audit.OpListRecords, "from:"+strconv.FormatUint(fromSequence, 10), nil)
	return records, nil
}

func (s *auditTrailImpl) VerifySignature(ctx context.Context, data, signature string) signing.VerifyResult {
	res := s.signer.Verify(data, signature)
	s.logOp(ctx, audit.OpVerifySignature, "", nil)
	return res
}

func (s *auditTrailImpl) PublicKey(ctx context.Context) (PublicKeyInfo, error) {
	pemText, ok := s.signer.ExportPublicKey()
	if !ok {
		s.logOp(ctx, audit.OpGetPublicKey, "", app_errors.ErrKeyUnavailable)
		return PublicKeyInfo{}, app_errors.ErrKeyUnavailable
	}
	s.logOp(ctx, audit.OpGetPublicKey, s.signer.KeyID(), nil)
	return PublicKeyInfo{PEM: pemText, KeyID: s.signer.KeyID(), Algorithm: signing.Algorithm}, nil
}

func (s *auditTrailImpl) logOp(ctx context.Context, operation, ref string, err error) {
	if s.ops == nil {
		return
	}
	s.ops.LogOperation(ctx, ClientIdentity(ctx), operation, ref, err == nil, err)
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// hashPrefix shortens a hash for span attributes.
func hashPrefix(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

func verificationAttributes(result domain.VerificationResult) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool("verification.valid", result.Valid),
		attribute.Int("verification.records_checked", result.RecordsChecked),
		attribute.Int("verification.anomalies", len(result.Anomalies)),
	}
}

func recordRef(rec domain.AuditRecord) string {
	return "seq:" + strconv.FormatUint(rec.SequenceNumber, 10)
}

func verifyRef(result domain.VerificationResult) string {
	return fmt.Sprintf("checked:%d,anomalies:%d", result.RecordsChecked, len(result.Anomalies))
}
