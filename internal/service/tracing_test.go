package service_test

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/spounge-ai/auditchain/internal/domain"
	"github.com/spounge-ai/auditchain/pkg/canonical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var (
	spanOnce     sync.Once
	spanExporter *tracetest.InMemoryExporter
)

// recordSpans installs an in-memory tracer provider once per test binary and
// clears anything recorded by earlier tests.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	spanOnce.Do(func() {
		spanExporter = tracetest.NewInMemoryExporter()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(spanExporter)))
	})
	spanExporter.Reset()
	return spanExporter
}

func findSpan(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, span := range spans {
		if span.Name == name {
			return span
		}
	}
	require.Failf(t, "span not recorded", "no span named %q", name)
	return tracetest.SpanStub{}
}

func spanAttrs(span tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(span.Attributes))
	for _, kv := range span.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracing_VerifyLedger(t *testing.T) {
	f := newFixture(t, newSigner(t))
	records := sealN(t, f.trail, 3)
	exporter := recordSpans(t)

	_, err := f.trail.VerifyLedger(context.Background())
	require.NoError(t, err)

	spans := exporter.GetSpans()
	root := findSpan(t, spans, "VerifyLedger")
	load := findSpan(t, spans, "LoadLedger")
	verify := findSpan(t, spans, "VerifyStoredChain")
	assert.Equal(t, root.SpanContext.SpanID(), load.Parent.SpanID())
	assert.Equal(t, root.SpanContext.SpanID(), verify.Parent.SpanID())

	loaded := spanAttrs(load)
	assert.Equal(t, int64(3), loaded["ledger.records"].AsInt64())
	assert.Equal(t, records[2].ChainHash[:16], loaded["ledger.head_chain_hash"].AsString())

	result := spanAttrs(root)
	assert.True(t, result["verification.valid"].AsBool())
	assert.Equal(t, int64(3), result["verification.records_checked"].AsInt64())
	assert.Zero(t, result["verification.anomalies"].AsInt64())
}

func TestTracing_VerifyLedgerCountsAnomalies(t *testing.T) {
	f := newFixture(t, newSigner(t))
	sealN(t, f.trail, 2)
	f.repo.mutate = func(records []domain.AuditRecord) []domain.AuditRecord {
		records[0].Data = entry(map[string]any{"action": "forged"})
		return records
	}
	exporter := recordSpans(t)

	result, err := f.trail.VerifyLedger(context.Background())
	require.NoError(t, err)
	require.False(t, result.Valid)

	attrs := spanAttrs(findSpan(t, exporter.GetSpans(), "VerifyLedger"))
	assert.False(t, attrs["verification.valid"].AsBool())
	assert.Equal(t, int64(len(result.Anomalies)), attrs["verification.anomalies"].AsInt64())
}

func TestTracing_Archive(t *testing.T) {
	f := newFixture(t, newSigner(t))
	sealN(t, f.trail, 2)
	exporter := recordSpans(t)

	manifest, err := f.trail.Archive(context.Background())
	require.NoError(t, err)

	spans := exporter.GetSpans()
	root := findSpan(t, spans, "Archive")
	for _, name := range []string{"LoadLedger", "VerifyStoredChain", "PutSnapshot", "PutManifest"} {
		assert.Equal(t, root.SpanContext.SpanID(), findSpan(t, spans, name).Parent.SpanID(), name)
	}
	assert.Equal(t, manifest.ObjectKey, spanAttrs(findSpan(t, spans, "PutSnapshot"))["archive.object_key"].AsString())
	assert.Equal(t, manifest.ManifestKey, spanAttrs(findSpan(t, spans, "PutManifest"))["archive.object_key"].AsString())
	assert.Equal(t, manifest.HeadChainHash[:16], spanAttrs(root)["ledger.head_chain_hash"].AsString())
}

func TestTracing_SealFailureMarksSpan(t *testing.T) {
	f := newFixture(t, newSigner(t))
	exporter := recordSpans(t)

	_, err := f.trail.Seal(context.Background(), canonical.Map(map[string]canonical.Value{
		"score": canonical.Float(math.Inf(1)),
	}))
	require.Error(t, err)

	span := findSpan(t, exporter.GetSpans(), "Seal")
	assert.Equal(t, codes.Error, span.Status.Code)
	assert.True(t, strings.Contains(span.Status.Description, "score"), span.Status.Description)
}
