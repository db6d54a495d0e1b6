package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// EventWriter receives fully built operation events.
type EventWriter interface {
	WriteEvent(ctx context.Context, event *OperationEvent)
}

// Logger implements the domain.OperationLogger interface on top of slog.
type Logger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new operation logger.
func NewAuditLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

// LogOperation builds an event from the call and writes it synchronously.
func (l *Logger) LogOperation(ctx context.Context, clientIdentity, operation, recordRef string, success bool, err error) {
	l.WriteEvent(ctx, NewEvent(ctx, clientIdentity, operation, recordRef, success, err))
}

// WriteEvent emits event as a single structured log line.
func (l *Logger) WriteEvent(ctx context.Context, event *OperationEvent) {
	logAttrs := []slog.Attr{
		slog.String("audit_id", event.ID),
		slog.String("client_identity", event.ClientIdentity),
		slog.String("operation", event.Operation),
		slog.Bool("success", event.Success),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.RecordRef != "" {
		logAttrs = append(logAttrs, slog.String("record_ref", event.RecordRef))
	}
	for k, v := range event.Metadata {
		logAttrs = append(logAttrs, slog.String(k, v))
	}

	level := slog.LevelInfo
	if event.Error != "" {
		level = slog.LevelWarn
		logAttrs = append(logAttrs, slog.String("error", event.Error))
	}

	l.logger.LogAttrs(ctx, level, "audit_trail_operation", logAttrs...)
}

// NewEvent captures the call details and request metadata at call time.
func NewEvent(ctx context.Context, clientIdentity, operation, recordRef string, success bool, err error) *OperationEvent {
	event := &OperationEvent{
		ID:             uuid.New().String(),
		Timestamp:      time.Now().UTC(),
		ClientIdentity: clientIdentity,
		Operation:      operation,
		RecordRef:      recordRef,
		Success:        success,
		Metadata: map[string]string{
			"user_agent": extractUserAgent(ctx),
			"source_ip":  extractSourceIP(ctx),
		},
	}
	if event.ClientIdentity == "" {
		event.ClientIdentity = "anonymous"
	}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}

func extractUserAgent(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ua := md.Get("user-agent"); len(ua) > 0 {
			return ua[0]
		}
	}
	return "unknown"
}

func extractSourceIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}
