//go:build !local_mocks

package wiring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spounge-ai/auditchain/internal/domain"
	infra_config "github.com/spounge-ai/auditchain/internal/infra/config"
	"github.com/spounge-ai/auditchain/internal/infra/persistence"
	"github.com/spounge-ai/auditchain/internal/infra/secrets"
)

// awsClients loads the shared AWS config at most once, and only when a
// component needs it.
type awsClients struct {
	cfg    infra_config.AWSConfig
	loaded *aws.Config
}

func (a *awsClients) config(ctx context.Context) (aws.Config, error) {
	if a.loaded != nil {
		return *a.loaded, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	if a.cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(a.cfg.Endpoint)
	}
	a.loaded = &awsCfg
	return awsCfg, nil
}

func provideParameterStore(ctx context.Context, clients *awsClients, cfg *infra_config.Config) (secrets.SecretGetter, error) {
	if !cfg.Signing.UsesSSM() {
		return nil, nil
	}
	awsCfg, err := clients.config(ctx)
	if err != nil {
		return nil, err
	}
	return secrets.NewParameterStore(awsCfg), nil
}

func provideArchive(ctx context.Context, clients *awsClients, cfg *infra_config.Config, logger *slog.Logger) (domain.ArchiveSink, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	awsCfg, err := clients.config(ctx)
	if err != nil {
		return nil, err
	}
	archive := persistence.NewS3Archive(awsCfg, cfg.Archive.S3Bucket, cfg.Archive.Prefix, cfg.AWS.Endpoint, logger)
	if err := archive.HealthCheck(ctx); err != nil {
		logger.Warn("archive bucket is not reachable yet", "bucket", cfg.Archive.S3Bucket, "error", err)
	}
	return archive, nil
}
