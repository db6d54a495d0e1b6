package service_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/spounge-ai/auditchain/internal/domain"
	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"github.com/spounge-ai/auditchain/internal/infra/audit"
	"github.com/spounge-ai/auditchain/internal/infra/persistence"
	"github.com/spounge-ai/auditchain/internal/service"
	"github.com/spounge-ai/auditchain/internal/signing"
	"github.com/spounge-ai/auditchain/pkg/canonical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type loggedOp struct {
	client    string
	operation string
	ref       string
	success   bool
}

type recordingOps struct {
	mu  sync.Mutex
	ops []loggedOp
}

func (r *recordingOps) LogOperation(_ context.Context, client, operation, ref string, success bool, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, loggedOp{client, operation, ref, success})
}

func (r *recordingOps) last() loggedOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[len(r.ops)-1]
}

// memorySink stores objects under a prefix, like the S3 archive does.
type memorySink struct {
	prefix  string
	objects map[string][]byte
	types   map[string]string
}

func newMemorySink() *memorySink {
	return &memorySink{prefix: "ledger", objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memorySink) ObjectKey(name string) string {
	return path.Join(m.prefix, name)
}

func (m *memorySink) Put(_ context.Context, name string, body []byte, contentType string) error {
	key := m.ObjectKey(name)
	m.objects[key] = append([]byte(nil), body...)
	m.types[key] = contentType
	return nil
}

// tamperingRepo edits records on the way out, as direct database edits would.
type tamperingRepo struct {
	domain.RecordRepository
	mutate func([]domain.AuditRecord) []domain.AuditRecord
}

func (r *tamperingRepo) All(ctx context.Context) ([]domain.AuditRecord, error) {
	records, err := r.RecordRepository.All(ctx)
	if err == nil && r.mutate != nil {
		records = r.mutate(records)
	}
	return records, err
}

type fixture struct {
	trail  service.AuditTrail
	repo   *tamperingRepo
	signer *signing.Service
	ops    *recordingOps
	sink   *memorySink
}

func newSigner(t *testing.T, opts ...signing.Option) *signing.Service {
	t.Helper()
	opts = append([]signing.Option{signing.WithKeyBits(2048), signing.WithLogger(quietLogger)}, opts...)
	signer, err := signing.NewService(signing.KeyMaterial{}, opts...)
	require.NoError(t, err)
	return signer
}

func newFixture(t *testing.T, signer *signing.Service) *fixture {
	t.Helper()
	f := &fixture{
		repo:   &tamperingRepo{RecordRepository: persistence.NewMemoryStore()},
		signer: signer,
		ops:    &recordingOps{},
		sink:   newMemorySink(),
	}
	f.trail = service.NewAuditTrail(f.repo, signer, f.ops, quietLogger, service.WithArchive(f.sink))
	t.Cleanup(f.trail.Close)
	return f
}

func entry(fields map[string]any) canonical.Value {
	return canonical.MustFromAny(fields)
}

func sealN(t *testing.T, trail service.AuditTrail, n int) []domain.AuditRecord {
	t.Helper()
	out := make([]domain.AuditRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := trail.Seal(context.Background(), entry(map[string]any{"action": "bias_audit", "i": i}))
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestSeal_BuildsSignedLedger(t *testing.T) {
	f := newFixture(t, newSigner(t))
	ctx := service.WithClientIdentity(context.Background(), "svc-governance")

	rec, err := f.trail.Seal(ctx, entry(map[string]any{"action": "model_deployed"}))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.SequenceNumber)
	assert.Equal(t, domain.GenesisHash, rec.PreviousHash)
	assert.True(t, rec.IsSigned())
	assert.Equal(t, f.signer.KeyID(), rec.SignatureKeyID)
	assert.Equal(t, loggedOp{"svc-governance", audit.OpSealEntry, "seq:0", true}, f.ops.last())

	records := sealN(t, f.trail, 3)
	assert.Equal(t, uint64(3), records[2].SequenceNumber)

	result, err := f.trail.VerifyLedger(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Valid, "%+v", result.Anomalies)
	assert.Equal(t, 4, result.RecordsChecked)
}

func TestSeal_UnsignedWhenNoKeyInProduction(t *testing.T) {
	f := newFixture(t, newSigner(t, signing.WithProduction(true)))

	rec, err := f.trail.Seal(context.Background(), entry(map[string]any{"action": "x"}))
	require.NoError(t, err)
	assert.False(t, rec.IsSigned())

	result, err := f.trail.VerifyLedger(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestSeal_RejectsUnencodableEntry(t *testing.T) {
	f := newFixture(t, newSigner(t))

	_, err := f.trail.Seal(context.Background(), canonical.Map(map[string]canonical.Value{
		"score": canonical.Float(math.NaN()),
	}))
	assert.ErrorIs(t, err, canonical.ErrNotSerializable)
	assert.False(t, f.ops.last().success)

	n, err := f.repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateRecord(t *testing.T) {
	f := newFixture(t, newSigner(t))
	ctx := context.Background()

	genesis, err := f.trail.CreateRecord(ctx, entry(map[string]any{"a": 1}), "", 0, false)
	require.NoError(t, err)
	assert.Equal(t, domain.GenesisHash, genesis.PreviousHash)
	assert.False(t, genesis.IsSigned())

	next, err := f.trail.CreateRecord(ctx, entry(map[string]any{"a": 2}), genesis.ChainHash, 1, true)
	require.NoError(t, err)
	assert.True(t, next.IsSigned())

	result, err := f.trail.VerifyRecords(ctx, []domain.AuditRecord{genesis, next}, false)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	_, err = f.trail.CreateRecord(ctx, entry(map[string]any{"a": 3}), "not-a-hash", 2, false)
	assert.ErrorIs(t, err, app_errors.ErrInvalidInput)

	n, err := f.repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "stateless records are never stored")
}

func TestVerifyRecords_ReportsTampering(t *testing.T) {
	f := newFixture(t, newSigner(t))
	ctx := context.Background()
	records := sealN(t, f.trail, 3)

	records[0].Data = records[0].Data.With("action", canonical.String("bias_audiT"))
	result, err := f.trail.VerifyRecords(ctx, records, false)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.Len(t, result.AnomaliesAt(0), 1)
	assert.Equal(t, domain.AnomalyChainHashMismatch, result.AnomaliesAt(0)[0].Issue)
	require.Len(t, result.AnomaliesAt(1), 1)
	assert.Equal(t, domain.AnomalyPreviousHashMismatch, result.AnomaliesAt(1)[0].Issue)
	assert.Empty(t, result.AnomaliesAt(2))
}

func TestVerifyRecords_Signatures(t *testing.T) {
	f := newFixture(t, newSigner(t))
	ctx := context.Background()

	unsigned, err := f.trail.CreateRecord(ctx, entry(map[string]any{"a": 1}), "", 0, false)
	require.NoError(t, err)

	result, err := f.trail.VerifyRecords(ctx, []domain.AuditRecord{unsigned}, false)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	result, err = f.trail.VerifyRecords(ctx, []domain.AuditRecord{unsigned}, true)
	require.NoError(t, err)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, domain.AnomalySignatureMissing, result.Anomalies[0].Issue)

	forged, err := f.trail.CreateRecord(ctx, entry(map[string]any{"a": 1}), "", 0, true)
	require.NoError(t, err)
	forged.Signature = unsigned.ChainHash
	result, err = f.trail.VerifyRecords(ctx, []domain.AuditRecord{forged}, false)
	require.NoError(t, err)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, domain.AnomalySignatureInvalid, result.Anomalies[0].Issue)
}

func TestVerifyRecords_RequireSignaturesNeedsKey(t *testing.T) {
	f := newFixture(t, newSigner(t, signing.WithProduction(true)))

	_, err := f.trail.VerifyRecords(context.Background(), nil, true)
	assert.ErrorIs(t, err, app_errors.ErrKeyUnavailable)
}

func TestVerifyLedger_DetectsStoredTampering(t *testing.T) {
	f := newFixture(t, newSigner(t))
	sealN(t, f.trail, 4)

	f.repo.mutate = func(records []domain.AuditRecord) []domain.AuditRecord {
		records[2].Data = records[2].Data.With("i", canonical.Int(99))
		return records
	}
	result, err := f.trail.VerifyLedger(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.AnomaliesAt(2))
	assert.NotEmpty(t, result.AnomaliesAt(3))
}

func TestVerifyLedger_DetectsDeletedRecord(t *testing.T) {
	f := newFixture(t, newSigner(t))
	sealN(t, f.trail, 4)

	f.repo.mutate = func(records []domain.AuditRecord) []domain.AuditRecord {
		return append(records[:1], records[2:]...)
	}
	result, err := f.trail.VerifyLedger(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Valid)

	var issues []domain.AnomalyKind
	for _, a := range result.AnomaliesAt(1) {
		issues = append(issues, a.Issue)
	}
	assert.Contains(t, issues, domain.AnomalyPreviousHashMismatch)
	assert.Contains(t, issues, domain.AnomalySequenceOutOfOrder)
}

func TestListRecords(t *testing.T) {
	f := newFixture(t, newSigner(t))
	ctx := context.Background()
	sealN(t, f.trail, 5)

	page, err := f.trail.ListRecords(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].SequenceNumber)

	all, err := f.trail.ListRecords(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	for _, limit := range []int{-1, service.MaxListLimit + 1} {
		_, err := f.trail.ListRecords(ctx, 0, limit)
		assert.ErrorIs(t, err, app_errors.ErrInvalidInput, "limit %d", limit)
	}
}

func TestVerifySignatureAndPublicKey(t *testing.T) {
	f := newFixture(t, newSigner(t))
	ctx := context.Background()
	rec := sealN(t, f.trail, 1)[0]

	assert.True(t, f.trail.VerifySignature(ctx, rec.ChainHash, rec.Signature).Valid)
	res := f.trail.VerifySignature(ctx, rec.ChainHash, "@@@")
	assert.Equal(t, signing.ReasonMalformedBase64, res.Reason)

	info, err := f.trail.PublicKey(ctx)
	require.NoError(t, err)
	assert.Contains(t, info.PEM, "BEGIN PUBLIC KEY")
	assert.Equal(t, f.signer.KeyID(), info.KeyID)
	assert.Equal(t, signing.Algorithm, info.Algorithm)

	closed := newFixture(t, newSigner(t, signing.WithProduction(true)))
	_, err = closed.trail.PublicKey(ctx)
	assert.ErrorIs(t, err, app_errors.ErrKeyUnavailable)
}

func TestArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		trail := service.NewAuditTrail(persistence.NewMemoryStore(), newSigner(t), nil, quietLogger)
		defer trail.Close()
		_, err := trail.Archive(ctx)
		assert.ErrorIs(t, err, app_errors.ErrInvalidInput)
	})

	t.Run("empty ledger", func(t *testing.T) {
		f := newFixture(t, newSigner(t))
		_, err := f.trail.Archive(ctx)
		assert.ErrorIs(t, err, app_errors.ErrConflict)
	})

	t.Run("snapshot and manifest", func(t *testing.T) {
		f := newFixture(t, newSigner(t))
		records := sealN(t, f.trail, 3)

		manifest, err := f.trail.Archive(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, manifest.Records)
		assert.Equal(t, records[2].ChainHash, manifest.HeadChainHash)
		assert.Equal(t, f.signer.KeyID(), manifest.KeyID)
		assert.True(t, strings.HasPrefix(manifest.ObjectKey, "ledger/snapshots/"), manifest.ObjectKey)
		assert.True(t, strings.HasSuffix(manifest.ObjectKey, ".jsonl"))
		assert.Contains(t, f.sink.objects, manifest.ObjectKey)
		assert.Contains(t, f.sink.objects, manifest.ManifestKey)
		assert.Equal(t, "application/x-ndjson", f.sink.types[manifest.ObjectKey])

		var archived []domain.AuditRecord
		scanner := bufio.NewScanner(bytes.NewReader(f.sink.objects[manifest.ObjectKey]))
		for scanner.Scan() {
			var rec domain.AuditRecord
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
			archived = append(archived, rec)
		}
		require.Len(t, archived, 3)
		result, err := f.trail.VerifyRecords(ctx, archived, true)
		require.NoError(t, err)
		assert.True(t, result.Valid, "%+v", result.Anomalies)

		var stored service.ArchiveManifest
		require.NoError(t, json.Unmarshal(f.sink.objects[manifest.ManifestKey], &stored))
		assert.Equal(t, manifest.SnapshotSHA256, stored.SnapshotSHA256)
		assert.Equal(t, manifest.ObjectKey, stored.ObjectKey)
	})

	t.Run("refuses a tampered ledger", func(t *testing.T) {
		f := newFixture(t, newSigner(t))
		sealN(t, f.trail, 2)
		f.repo.mutate = func(records []domain.AuditRecord) []domain.AuditRecord {
			records[0].ChainHash = strings.Repeat("f", 64)
			return records
		}

		_, err := f.trail.Archive(ctx)
		assert.ErrorIs(t, err, app_errors.ErrConflict)
		assert.Empty(t, f.sink.objects)
	})
}
