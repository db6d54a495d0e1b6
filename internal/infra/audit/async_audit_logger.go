package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AsyncAuditLoggerConfig holds the configuration for the asynchronous logger.
type AsyncAuditLoggerConfig struct {
	ChannelBufferSize int
	WorkerCount       int
	BatchSize         int
	BatchTimeout      time.Duration
}

// DefaultAsyncConfig suits a single server process.
var DefaultAsyncConfig = AsyncAuditLoggerConfig{
	ChannelBufferSize: 1024,
	WorkerCount:       2,
	BatchSize:         32,
	BatchTimeout:      250 * time.Millisecond,
}

// AsyncAuditLogger queues operation events and writes them from background
// workers so request paths never block on logging.
type AsyncAuditLogger struct {
	logger       *slog.Logger
	writer       EventWriter
	eventChannel chan *OperationEvent
	waitGroup    sync.WaitGroup
	config       AsyncAuditLoggerConfig
	startOnce    sync.Once
	stopOnce     sync.Once
}

// NewAsyncAuditLogger creates a new asynchronous audit logger.
func NewAsyncAuditLogger(logger *slog.Logger, writer EventWriter, config AsyncAuditLoggerConfig) *AsyncAuditLogger {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = DefaultAsyncConfig.BatchTimeout
	}
	return &AsyncAuditLogger{
		logger:       logger,
		writer:       writer,
		eventChannel: make(chan *OperationEvent, config.ChannelBufferSize),
		config:       config,
	}
}

// Start begins the worker goroutines that process operation events.
func (l *AsyncAuditLogger) Start() {
	l.startOnce.Do(func() {
		l.waitGroup.Add(l.config.WorkerCount)
		for i := 0; i < l.config.WorkerCount; i++ {
			go l.worker()
		}
	})
}

// Stop drains queued events and waits for the workers to exit.
func (l *AsyncAuditLogger) Stop() {
	l.stopOnce.Do(func() {
		l.logger.Info("shutting down audit logger")
		close(l.eventChannel)
		l.waitGroup.Wait()
		l.logger.Info("audit logger shut down successfully")
	})
}

// LogOperation captures the event immediately and queues it for writing.
func (l *AsyncAuditLogger) LogOperation(ctx context.Context, clientIdentity, operation, recordRef string, success bool, err error) {
	event := NewEvent(ctx, clientIdentity, operation, recordRef, success, err)

	select {
	case l.eventChannel <- event:
	default:
		l.logger.Warn("audit event channel is full, event dropped", "operation", operation, "record_ref", recordRef)
	}
}

func (l *AsyncAuditLogger) worker() {
	defer l.waitGroup.Done()

	ticker := time.NewTicker(l.config.BatchTimeout)
	defer ticker.Stop()

	batch := make([]*OperationEvent, 0, l.config.BatchSize)

	for {
		select {
		case event, ok := <-l.eventChannel:
			if !ok {
				l.flush(batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= l.config.BatchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			l.flush(batch)
			batch = batch[:0]
		}
	}
}

func (l *AsyncAuditLogger) flush(batch []*OperationEvent) {
	for _, event := range batch {
		l.writer.WriteEvent(context.Background(), event)
	}
}
