package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pinger is any backend that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthListener is told about every healthy/unhealthy transition.
type HealthListener func(healthy bool, err error)

type ConnectionMonitor struct {
	target    Pinger
	listener  HealthListener
	logger    *slog.Logger
	mu        sync.RWMutex
	isHealthy bool
}

func NewConnectionMonitor(target Pinger, listener HealthListener, logger *slog.Logger) *ConnectionMonitor {
	return &ConnectionMonitor{
		target:    target,
		listener:  listener,
		logger:    logger,
		isHealthy: true, // Assume healthy on startup
	}
}

// Start checks the target every interval until ctx is done.
func (cm *ConnectionMonitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.Check(ctx)
		}
	}
}

// Check runs one probe and notifies the listener on a state change.
func (cm *ConnectionMonitor) Check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := cm.target.Ping(checkCtx)

	cm.mu.Lock()
	changed := cm.isHealthy != (err == nil)
	cm.isHealthy = err == nil
	cm.mu.Unlock()

	if !changed {
		return
	}
	if err != nil {
		cm.logger.Error("ledger store unhealthy", "error", err)
	} else {
		cm.logger.Info("ledger store recovered")
	}
	if cm.listener != nil {
		cm.listener(err == nil, err)
	}
}

func (cm *ConnectionMonitor) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isHealthy
}
