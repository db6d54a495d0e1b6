package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/spounge-ai/auditchain/internal/domain"
	"github.com/spounge-ai/auditchain/internal/infra/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

var (
	_ domain.OperationLogger = (*audit.Logger)(nil)
	_ domain.OperationLogger = (*audit.AsyncAuditLogger)(nil)
)

func TestLogger_WritesStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("user-agent", "auditctl/1.0"))
	ctx = peer.NewContext(ctx, &peer.Peer{Addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 4242}})

	logger.LogOperation(ctx, "svc-ml", audit.OpSealEntry, "seq:3", false, errors.New("ledger conflict"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit_trail_operation", line["msg"])
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "svc-ml", line["client_identity"])
	assert.Equal(t, audit.OpSealEntry, line["operation"])
	assert.Equal(t, "seq:3", line["record_ref"])
	assert.Equal(t, "auditctl/1.0", line["user_agent"])
	assert.Equal(t, "10.0.0.7:4242", line["source_ip"])
	assert.Equal(t, "ledger conflict", line["error"])
	assert.Len(t, line["audit_id"], 36)
}

func TestNewEvent_Defaults(t *testing.T) {
	event := audit.NewEvent(context.Background(), "", audit.OpVerifyLedger, "", true, nil)
	assert.Equal(t, "anonymous", event.ClientIdentity)
	assert.Equal(t, "unknown", event.Metadata["user_agent"])
	assert.Equal(t, "unknown", event.Metadata["source_ip"])
	assert.Empty(t, event.Error)
}

type collectingWriter struct {
	mu     sync.Mutex
	events []*audit.OperationEvent
}

func (w *collectingWriter) WriteEvent(_ context.Context, e *audit.OperationEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
}

func TestAsyncAuditLogger_DrainsOnStop(t *testing.T) {
	writer := &collectingWriter{}
	logger := audit.NewAsyncAuditLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), writer, audit.AsyncAuditLoggerConfig{
		ChannelBufferSize: 100,
		WorkerCount:       3,
		BatchSize:         7,
	})
	logger.Start()

	for i := 0; i < 50; i++ {
		logger.LogOperation(context.Background(), "client", audit.OpListRecords, "", true, nil)
	}
	logger.Stop()
	logger.Stop()

	assert.Len(t, writer.events, 50)
}

func TestAsyncAuditLogger_DropsWhenFull(t *testing.T) {
	var buf bytes.Buffer
	writer := &collectingWriter{}
	logger := audit.NewAsyncAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)), writer, audit.AsyncAuditLoggerConfig{
		ChannelBufferSize: 1,
		WorkerCount:       1,
		BatchSize:         1,
	})

	logger.LogOperation(context.Background(), "client", audit.OpSealEntry, "a", true, nil)
	logger.LogOperation(context.Background(), "client", audit.OpSealEntry, "b", true, nil)
	assert.True(t, strings.Contains(buf.String(), "event dropped"))

	logger.Start()
	logger.Stop()
	assert.Len(t, writer.events, 1)
}
