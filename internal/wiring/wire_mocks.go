//go:build local_mocks

package wiring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spounge-ai/auditchain/internal/domain"
	infra_config "github.com/spounge-ai/auditchain/internal/infra/config"
	"github.com/spounge-ai/auditchain/internal/infra/secrets"
)

// awsClients is empty in local builds; nothing talks to AWS.
type awsClients struct {
	cfg infra_config.AWSConfig
}

func provideParameterStore(_ context.Context, _ *awsClients, cfg *infra_config.Config) (secrets.SecretGetter, error) {
	if cfg.Signing.UsesSSM() {
		return nil, fmt.Errorf("signing keys are configured in SSM, but the local_mocks build tag is provided")
	}
	return nil, nil
}

func provideArchive(_ context.Context, _ *awsClients, cfg *infra_config.Config, logger *slog.Logger) (domain.ArchiveSink, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	logger.Warn("archive is enabled in a local_mocks build, snapshots are kept in memory")
	return &memoryArchive{logger: logger, objects: make(map[string][]byte)}, nil
}

type memoryArchive struct {
	logger  *slog.Logger
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryArchive) ObjectKey(name string) string { return name }

func (m *memoryArchive) Put(ctx context.Context, key string, body []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	m.logger.DebugContext(ctx, "archive object kept in memory", "key", key, "bytes", len(body))
	return nil
}
