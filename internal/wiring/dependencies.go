package wiring

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"github.com/spounge-ai/auditchain/internal/infra/audit"
	infra_config "github.com/spounge-ai/auditchain/internal/infra/config"
	"github.com/spounge-ai/auditchain/internal/infra/persistence"
	"github.com/spounge-ai/auditchain/internal/infra/secrets"
	"github.com/spounge-ai/auditchain/internal/service"
	"github.com/spounge-ai/auditchain/internal/signing"
)

// Dependencies holds everything the server needs, built from one Config.
type Dependencies struct {
	Config          *infra_config.Config
	Signer          *signing.Service
	Ledger          *persistence.Ledger
	OperationLog    *audit.AsyncAuditLogger
	AuditTrail      service.AuditTrail
	ErrorClassifier *app_errors.ErrorClassifier
	TLS             *tls.Config
}

// ProvideDependencies constructs the application graph. Migrations run
// against SQL stores when migrate is true.
func ProvideDependencies(ctx context.Context, cfg *infra_config.Config, migrate bool, logger *slog.Logger) (*Dependencies, error) {
	tlsConfig, err := ConfigureTLS(cfg.Server.TLS)
	if err != nil {
		return nil, err
	}

	clients := &awsClients{cfg: cfg.AWS}

	signer, err := provideSigner(ctx, clients, cfg, logger)
	if err != nil {
		return nil, err
	}

	archive, err := provideArchive(ctx, clients, cfg, logger)
	if err != nil {
		return nil, err
	}

	ledger, err := persistence.NewRecordRepository(ctx, cfg.Persistence, cfg.IsProduction(), migrate, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	opLog := audit.NewAsyncAuditLogger(logger, audit.NewAuditLogger(logger), audit.DefaultAsyncConfig)
	opLog.Start()

	opts := []service.Option{}
	if archive != nil {
		opts = append(opts, service.WithArchive(archive))
	}
	trail := service.NewAuditTrail(ledger.Repository, signer, opLog, logger, opts...)

	return &Dependencies{
		Config:          cfg,
		Signer:          signer,
		Ledger:          ledger,
		OperationLog:    opLog,
		AuditTrail:      trail,
		ErrorClassifier: app_errors.NewErrorClassifier(logger),
		TLS:             tlsConfig,
	}, nil
}

func provideSigner(ctx context.Context, clients *awsClients, cfg *infra_config.Config, logger *slog.Logger) (*signing.Service, error) {
	remote, err := provideParameterStore(ctx, clients, cfg)
	if err != nil {
		return nil, err
	}
	material, err := secrets.NewKeySource(cfg.Signing, remote, logger).Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve signing keys: %w", err)
	}

	signer, err := signing.NewService(material,
		signing.WithProduction(cfg.IsProduction()),
		signing.WithKeyBits(cfg.Signing.KeyBits),
		signing.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signing service: %w", err)
	}
	return signer, nil
}

// Close releases the dependencies in reverse order of construction. Queued
// operation events are written before the ledger closes.
func (d *Dependencies) Close() error {
	d.AuditTrail.Close()
	d.OperationLog.Stop()
	return d.Ledger.Close()
}
