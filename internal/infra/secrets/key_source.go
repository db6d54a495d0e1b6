package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spounge-ai/auditchain/internal/infra/config"
	"github.com/spounge-ai/auditchain/internal/signing"
	"github.com/spounge-ai/auditchain/pkg/execution"
)

// SecretGetter fetches a named secret from a remote store.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

const (
	fetchAttempts       = 3
	fetchInitialBackoff = 200 * time.Millisecond
	fetchMaxBackoff     = 2 * time.Second
)

// KeySource resolves the signing identity from configuration. It only reads
// material that already exists; it never creates or stores keys.
type KeySource struct {
	cfg    config.SigningConfig
	remote SecretGetter
	logger *slog.Logger
}

// NewKeySource builds a KeySource. remote may be nil when no SSM parameter is configured.
func NewKeySource(cfg config.SigningConfig, remote SecretGetter, logger *slog.Logger) *KeySource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeySource{cfg: cfg, remote: remote, logger: logger}
}

// Resolve returns the private and public PEM text. Each half is taken from
// the first non-empty source among inline PEM, file and SSM parameter.
// Material that is configured but cannot be read is an error.
func (ks *KeySource) Resolve(ctx context.Context) (signing.KeyMaterial, error) {
	private, err := ks.resolveOne(ctx, "private", ks.cfg.PrivateKeyPEM, ks.cfg.PrivateKeyFile, ks.cfg.PrivateKeySSMParam)
	if err != nil {
		return signing.KeyMaterial{}, err
	}
	public, err := ks.resolveOne(ctx, "public", ks.cfg.PublicKeyPEM, ks.cfg.PublicKeyFile, ks.cfg.PublicKeySSMParam)
	if err != nil {
		return signing.KeyMaterial{}, err
	}
	return signing.KeyMaterial{PrivateKeyPEM: private, PublicKeyPEM: public}, nil
}

func (ks *KeySource) resolveOne(ctx context.Context, which, inline, file, param string) (string, error) {
	switch {
	case inline != "":
		ks.logger.Debug("signing key loaded from configuration", "key", which, "source", "inline")
		return inline, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s key file: %w", which, err)
		}
		ks.logger.Debug("signing key loaded from file", "key", which, "path", file)
		return string(data), nil
	case param != "":
		return ks.fetchParameter(ctx, which, param)
	default:
		return "", nil
	}
}

func (ks *KeySource) fetchParameter(ctx context.Context, which, name string) (string, error) {
	if ks.remote == nil {
		return "", fmt.Errorf("%s key parameter %q configured but no parameter store is available", which, name)
	}

	timeout := ks.cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	value, err := execution.WithTimeout(ctx, timeout, func(ctx context.Context) (string, error) {
		return execution.WithRetry(ctx, fetchAttempts, fetchInitialBackoff, fetchMaxBackoff,
			func(err error) bool { return !errors.Is(err, ErrParameterNotFound) },
			func(ctx context.Context) (string, error) {
				return ks.remote.GetSecret(ctx, name)
			})
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s key parameter %q: %w", which, name, err)
	}

	ks.logger.Info("signing key loaded from parameter store", "key", which, "parameter", name)
	return value, nil
}
