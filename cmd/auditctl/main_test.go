package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spounge-ai/auditchain/internal/chain"
	"github.com/spounge-ai/auditchain/internal/domain"
	"github.com/spounge-ai/auditchain/internal/signing"
	"github.com/spounge-ai/auditchain/pkg/canonical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sealedRecords(t *testing.T, privatePEM string) []domain.AuditRecord {
	t.Helper()
	signer, err := signing.NewService(signing.KeyMaterial{PrivateKeyPEM: privatePEM}, signing.WithProduction(true))
	require.NoError(t, err)

	builder := chain.NewBuilder()
	var (
		records []domain.AuditRecord
		head    *domain.AuditRecord
	)
	for i := 0; i < 3; i++ {
		rec, err := builder.Next(head, canonical.MustFromAny(map[string]any{"i": i}))
		require.NoError(t, err)
		_, err = signer.SignRecord(&rec)
		require.NoError(t, err)
		records = append(records, rec)
		head = &records[len(records)-1]
	}
	return records
}

func writeSnapshot(t *testing.T, dir string, privatePEM string, mutate func([]domain.AuditRecord)) string {
	t.Helper()
	records := sealedRecords(t, privatePEM)
	if mutate != nil {
		mutate(records)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		require.NoError(t, enc.Encode(rec))
	}
	path := filepath.Join(dir, "snapshot.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestRun_KeygenPubkeyVerify(t *testing.T) {
	dir := t.TempDir()
	privatePath := filepath.Join(dir, "private.pem")
	publicPath := filepath.Join(dir, "public.pem")

	var stdout, stderr bytes.Buffer
	code := run([]string{"keygen", "-bits", "2048", "-private-out", privatePath, "-public-out", publicPath}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	code = run([]string{"keygen", "-bits", "2048", "-private-out", privatePath}, &stdout, &stderr)
	assert.Equal(t, 2, code, "existing key files are never overwritten")

	stdout.Reset()
	code = run([]string{"pubkey", "-private-key", privatePath}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	publicPEM, err := os.ReadFile(publicPath)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(stdout.String(), string(publicPEM)))

	privatePEM, err := os.ReadFile(privatePath)
	require.NoError(t, err)
	snapshot := writeSnapshot(t, dir, string(privatePEM), nil)

	stdout.Reset()
	code = run([]string{"verify", "-snapshot", snapshot, "-public-key", publicPath, "-require-signatures"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stdout.String())

	var report verifyReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.RecordsChecked)
}

func TestRun_VerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	privatePEM, _, err := signing.GenerateKeyPair(2048, rand.Reader)
	require.NoError(t, err)

	snapshot := writeSnapshot(t, dir, privatePEM, func(records []domain.AuditRecord) {
		records[1].Data = canonical.MustFromAny(map[string]any{"i": 7})
	})

	var stdout, stderr bytes.Buffer
	code := run([]string{"verify", "-snapshot", snapshot}, &stdout, &stderr)
	assert.Equal(t, 1, code)

	var report verifyReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.AnomaliesAt(1))
	assert.NotEmpty(t, report.AnomaliesAt(2))
}

func TestRun_VerifyJSONArraySnapshot(t *testing.T) {
	dir := t.TempDir()
	privatePEM, _, err := signing.GenerateKeyPair(2048, rand.Reader)
	require.NoError(t, err)

	raw, err := json.MarshalIndent(sealedRecords(t, privatePEM), "", "  ")
	require.NoError(t, err)
	snapshot := filepath.Join(dir, "snapshot.json")
	require.NoError(t, os.WriteFile(snapshot, append([]byte("\n"), raw...), 0o600))

	var stdout, stderr bytes.Buffer
	code := run([]string{"verify", "-snapshot", snapshot}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var report verifyReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.RecordsChecked)
}

func TestDecodeSnapshot_Formats(t *testing.T) {
	_, err := decodeSnapshot([]byte(`[{"sequence_number": 0}`))
	assert.Error(t, err)

	records, err := decodeSnapshot([]byte("  []  "))
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = decodeSnapshot(nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"bogus"}, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"verify"}, &stdout, &stderr))
}
