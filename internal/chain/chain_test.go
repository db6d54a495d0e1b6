package chain_test

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/spounge-ai/auditchain/internal/chain"
	"github.com/spounge-ai/auditchain/internal/domain"
	"github.com/spounge-ai/auditchain/pkg/canonical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChain(t *testing.T, n int) []domain.AuditRecord {
	t.Helper()
	b := chain.NewBuilder()
	var head *domain.AuditRecord
	records := make([]domain.AuditRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := b.Next(head, canonical.MustFromAny(map[string]any{
			"action": "bias_audit",
			"run":    i,
			"result": map[string]any{"verdict": "FAIR", "dir": 0.93},
		}))
		require.NoError(t, err)
		records = append(records, rec)
		head = &records[len(records)-1]
	}
	return records
}

func TestCreateRecord_Genesis(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	b := chain.NewBuilder(chain.WithClock(func() time.Time { return fixed }))

	rec, err := b.CreateRecord(canonical.MustFromAny(map[string]any{"action": "bias_audit", "result": "FAIR"}), "", 0)
	require.NoError(t, err)

	assert.Equal(t, chain.GenesisHash, rec.PreviousHash)
	assert.Equal(t, strings.Repeat("0", 64), rec.PreviousHash)
	assert.True(t, chain.IsHash(rec.ChainHash))
	assert.True(t, chain.IsHash(rec.EntryHash))
	assert.NotEqual(t, rec.EntryHash, rec.ChainHash)
	assert.Equal(t, uint64(0), rec.SequenceNumber)
	assert.Equal(t, fixed.UTC(), rec.Timestamp)
	assert.False(t, rec.IsSigned())
}

func TestCreateRecord_HashesMatchHelpers(t *testing.T) {
	data := canonical.MustFromAny(map[string]any{"action": "explain", "features": []any{"age", "income"}})
	rec, err := chain.CreateRecord(data, "", 7)
	require.NoError(t, err)

	entry, err := chain.EntryHash(data)
	require.NoError(t, err)
	linked, err := chain.ChainHash(chain.GenesisHash, data)
	require.NoError(t, err)

	assert.Equal(t, entry, rec.EntryHash)
	assert.Equal(t, linked, rec.ChainHash)
}

func TestCreateRecord_Links(t *testing.T) {
	first, err := chain.CreateRecord(canonical.MustFromAny(map[string]any{"action": "bias_audit"}), "", 0)
	require.NoError(t, err)
	second, err := chain.CreateRecord(canonical.MustFromAny(map[string]any{"action": "second"}), first.ChainHash, 1)
	require.NoError(t, err)

	assert.Equal(t, first.ChainHash, second.PreviousHash)
}

func TestChainHash_DependsOnPredecessor(t *testing.T) {
	data := canonical.MustFromAny(map[string]any{"action": "same"})
	a, err := chain.ChainHash(chain.GenesisHash, data)
	require.NoError(t, err)
	b, err := chain.ChainHash(strings.Repeat("f", 64), data)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestCreateRecord_EncodingError(t *testing.T) {
	_, err := chain.CreateRecord(canonical.Map(map[string]canonical.Value{"x": canonical.Float(math.NaN())}), "", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, canonical.ErrNotSerializable)
}

func TestVerifyChain_Empty(t *testing.T) {
	res := chain.VerifyChain(nil)

	assert.True(t, res.Valid)
	assert.Equal(t, 0, res.RecordsChecked)
	assert.Empty(t, res.Anomalies)
}

func TestVerifyChain_ValidChain(t *testing.T) {
	records := buildChain(t, 25)

	res := chain.VerifyChain(records)
	assert.True(t, res.Valid)
	assert.Equal(t, 25, res.RecordsChecked)
	assert.Empty(t, res.Anomalies)
}

func TestVerifyChain_ConcreteScenario(t *testing.T) {
	first, err := chain.CreateRecord(canonical.MustFromAny(map[string]any{"action": "bias_audit", "result": "FAIR"}), "", 0)
	require.NoError(t, err)
	require.Len(t, first.ChainHash, 64)
	require.NotEqual(t, first.EntryHash, first.ChainHash)

	second, err := chain.CreateRecord(canonical.MustFromAny(map[string]any{"action": "second"}), first.ChainHash, 1)
	require.NoError(t, err)

	res := chain.VerifyChain([]domain.AuditRecord{first, second})
	require.True(t, res.Valid)
	require.Equal(t, 2, res.RecordsChecked)

	tampered := first
	tampered.Data = first.Data.With("action", canonical.String("bias_audiT"))

	res = chain.VerifyChain([]domain.AuditRecord{tampered, second})
	assert.False(t, res.Valid)
	require.Len(t, res.AnomaliesAt(0), 1)
	assert.Equal(t, domain.AnomalyChainHashMismatch, res.AnomaliesAt(0)[0].Issue)
	assert.Equal(t, first.ChainHash[:16]+"...", res.AnomaliesAt(0)[0].Actual)

	require.Len(t, res.AnomaliesAt(1), 1)
	assert.Equal(t, domain.AnomalyPreviousHashMismatch, res.AnomaliesAt(1)[0].Issue)
	assert.Equal(t, uint64(1), res.AnomaliesAt(1)[0].SequenceNumber)
	assert.Len(t, res.Anomalies, 2)
}

func TestVerifyChain_DataTamperAnywhere(t *testing.T) {
	for _, idx := range []int{0, 5, 9} {
		t.Run(fmt.Sprintf("index %d", idx), func(t *testing.T) {
			records := buildChain(t, 10)
			records[idx].Data = records[idx].Data.With("result", canonical.String("UNFAIR"))

			res := chain.VerifyChain(records)
			assert.False(t, res.Valid)
			require.NotEmpty(t, res.AnomaliesAt(idx))
			assert.Equal(t, domain.AnomalyChainHashMismatch, res.AnomaliesAt(idx)[0].Issue)
		})
	}
}

func TestVerifyChain_Splice(t *testing.T) {
	records := buildChain(t, 6)
	records[3].PreviousHash = strings.Repeat("ab", 32)

	res := chain.VerifyChain(records)
	assert.False(t, res.Valid)

	var kinds []domain.AnomalyKind
	for _, a := range res.AnomaliesAt(3) {
		kinds = append(kinds, a.Issue)
	}
	assert.Contains(t, kinds, domain.AnomalyPreviousHashMismatch)
	assert.Empty(t, res.AnomaliesAt(0))
	assert.Empty(t, res.AnomaliesAt(2))
}

func TestVerifyChain_Reorder(t *testing.T) {
	records := buildChain(t, 4)
	records[1], records[2] = records[2], records[1]

	res := chain.VerifyChain(records)
	assert.False(t, res.Valid)
	for _, idx := range []int{1, 2, 3} {
		require.NotEmpty(t, res.AnomaliesAt(idx), "index %d", idx)
		assert.Equal(t, domain.AnomalyPreviousHashMismatch, res.AnomaliesAt(idx)[0].Issue)
	}
}

func TestVerifyChain_DoesNotMutateInput(t *testing.T) {
	records := buildChain(t, 3)
	records[1].ChainHash = strings.Repeat("1", 64)
	snapshot := make([]domain.AuditRecord, len(records))
	copy(snapshot, records)

	chain.VerifyChain(records)
	assert.Equal(t, snapshot, records)
}

func TestVerifyChain_SequenceNotCheckedByDefault(t *testing.T) {
	records := buildChain(t, 3)
	records[2].SequenceNumber = 0

	assert.True(t, chain.VerifyChain(records).Valid)

	res := chain.NewVerifier(chain.WithSequenceCheck(false)).Verify(records)
	assert.False(t, res.Valid)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, domain.AnomalySequenceOutOfOrder, res.Anomalies[0].Issue)
	assert.Equal(t, 2, res.Anomalies[0].RecordIndex)
}

func TestVerifier_ContiguousSequence(t *testing.T) {
	records := buildChain(t, 3)
	records[2].SequenceNumber = 5

	assert.True(t, chain.NewVerifier(chain.WithSequenceCheck(false)).Verify(records).Valid)

	res := chain.NewVerifier(chain.WithSequenceCheck(true)).Verify(records)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, "2", res.Anomalies[0].Expected)
	assert.Equal(t, "5", res.Anomalies[0].Actual)
}

func TestVerifier_ContiguousSequenceStartsAtZero(t *testing.T) {
	rec, err := chain.CreateRecord(canonical.MustFromAny(map[string]any{"a": 1}), "", 7)
	require.NoError(t, err)

	assert.True(t, chain.NewVerifier(chain.WithSequenceCheck(false)).Verify([]domain.AuditRecord{rec}).Valid)

	res := chain.NewVerifier(chain.WithSequenceCheck(true)).Verify([]domain.AuditRecord{rec})
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, domain.AnomalySequenceOutOfOrder, res.Anomalies[0].Issue)
	assert.Equal(t, "0", res.Anomalies[0].Expected)
}

func TestVerifier_EntryHashCheck(t *testing.T) {
	records := buildChain(t, 2)
	records[1].EntryHash = strings.Repeat("e", 64)

	assert.True(t, chain.VerifyChain(records).Valid)

	res := chain.NewVerifier(chain.WithEntryHashCheck()).Verify(records)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, domain.AnomalyEntryHashMismatch, res.Anomalies[0].Issue)
}

func TestVerifier_Signatures(t *testing.T) {
	records := buildChain(t, 3)
	records[0].Signature = "good"
	records[1].Signature = "bad"

	check := func(r domain.AuditRecord) (bool, string) {
		if r.Signature == "good" {
			return true, ""
		}
		return false, "signature does not match"
	}

	res := chain.NewVerifier(chain.WithSignatureCheck(check)).Verify(records)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, domain.AnomalySignatureInvalid, res.Anomalies[0].Issue)
	assert.Equal(t, 1, res.Anomalies[0].RecordIndex)

	res = chain.NewVerifier(chain.WithSignatureCheck(check), chain.WithRequireSignatures()).Verify(records)
	require.Len(t, res.Anomalies, 2)
	assert.Equal(t, domain.AnomalySignatureMissing, res.Anomalies[1].Issue)
	assert.Equal(t, 2, res.Anomalies[1].RecordIndex)
}

func TestVerifier_UnencodableData(t *testing.T) {
	records := buildChain(t, 2)
	records[0].Data = canonical.Map(map[string]canonical.Value{"x": canonical.Float(math.Inf(1))})

	res := chain.VerifyChain(records)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, domain.AnomalyChainHashMismatch, res.Anomalies[0].Issue)
	assert.Equal(t, "<unencodable>", res.Anomalies[0].Expected)
}

func TestVerifier_ConcurrentMatchesSerial(t *testing.T) {
	records := buildChain(t, 200)
	records[17].Data = records[17].Data.With("run", canonical.Int(-1))
	records[120].PreviousHash = strings.Repeat("c", 64)
	records[199].ChainHash = strings.Repeat("d", 64)

	serial := chain.VerifyChain(records)
	parallel := chain.NewVerifier(chain.WithConcurrency(8)).Verify(records)

	assert.False(t, serial.Valid)
	assert.Equal(t, serial, parallel)
}
