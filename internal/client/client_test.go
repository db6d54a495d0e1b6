package client_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/spounge-ai/auditchain/internal/app/grpc"
	"github.com/spounge-ai/auditchain/internal/client"
	"github.com/spounge-ai/auditchain/internal/domain"
	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"github.com/spounge-ai/auditchain/internal/infra/config"
	"github.com/spounge-ai/auditchain/internal/infra/persistence"
	"github.com/spounge-ai/auditchain/internal/service"
	"github.com/spounge-ai/auditchain/internal/signing"
	"github.com/spounge-ai/auditchain/pkg/canonical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newClient(t *testing.T) *client.Client {
	t.Helper()

	signer, err := signing.NewService(signing.KeyMaterial{}, signing.WithKeyBits(2048), signing.WithLogger(quietLogger))
	require.NoError(t, err)
	trail := service.NewAuditTrail(persistence.NewMemoryStore(), signer, nil, quietLogger)
	t.Cleanup(trail.Close)

	lis := bufconn.Listen(1 << 20)
	cfg := &config.Config{Server: config.ServerConfig{Mode: config.ModeDevelopment}}
	srv, _, err := grpc.New(cfg, trail, quietLogger, app_errors.NewErrorClassifier(quietLogger), grpc.WithListener(lis))
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	c, err := client.New(client.Config{
		ServerAddr: "passthrough:///bufnet",
		ClientID:   "client-test",
		DialOptions: []gogrpc.DialOption{
			gogrpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		},
	}, quietLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_SealExportVerify(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	big, err := canonical.FromJSON([]byte(`{"action":"x","n":18446744073709551615}`))
	require.NoError(t, err)

	var sealed []domain.AuditRecord
	for _, entry := range []canonical.Value{big, canonical.MustFromAny(map[string]any{"action": "y"})} {
		rec, err := c.SealEntry(ctx, entry)
		require.NoError(t, err)
		sealed = append(sealed, rec)
	}
	assert.True(t, big.Equal(sealed[0].Data))

	var exported []domain.AuditRecord
	n, err := c.Export(ctx, func(rec domain.AuditRecord) error {
		exported = append(exported, rec)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, sealed[1].ChainHash, exported[1].ChainHash)

	result, err := c.VerifyLedger(ctx)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.RecordsChecked)

	sig, err := c.VerifySignature(ctx, sealed[0].ChainHash, sealed[0].Signature)
	require.NoError(t, err)
	assert.True(t, sig.Valid)

	key, err := c.PublicKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, sealed[0].SignatureKeyID, key.KeyID)
}

func TestClient_RequiresAddress(t *testing.T) {
	_, err := client.New(client.Config{}, quietLogger)
	assert.Error(t, err)
}
