package interceptors

import (
	"context"
	"net"
	"testing"

	"github.com/spounge-ai/auditchain/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/protobuf/types/known/structpb"
)

func withPeer(ctx context.Context, addr string) context.Context {
	tcp, _ := net.ResolveTCPAddr("tcp", addr)
	return peer.NewContext(ctx, &peer.Peer{Addr: tcp})
}

func TestIdentityInterceptor(t *testing.T) {
	interceptor := UnaryIdentityInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/x/Y"}
	capture := func(ctx context.Context, _ any) (any, error) { return service.ClientIdentity(ctx), nil }

	ctx := withPeer(context.Background(), "10.1.2.3:5555")
	got, err := interceptor(ctx, nil, info, capture)
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", got)

	ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(ClientIDHeader, " governance-bot "))
	got, err = interceptor(ctx, nil, info, capture)
	require.NoError(t, err)
	assert.Equal(t, "governance-bot", got)
}

func TestValidateStruct(t *testing.T) {
	schema := RequestSchema{Allowed: []string{"entry", "entry_json", "sign"}, OneOf: []string{"entry", "entry_json"}}
	mk := func(m map[string]any) *structpb.Struct {
		s, err := structpb.NewStruct(m)
		require.NoError(t, err)
		return s
	}

	assert.NoError(t, validateStruct(mk(map[string]any{"entry": map[string]any{}}), schema, 0))
	assert.NoError(t, validateStruct(mk(map[string]any{"entry_json": "{}", "sign": true}), schema, 0))

	err := validateStruct(mk(map[string]any{"entry": 1, "zeta": 1, "alpha": 2}), schema, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fields: alpha, zeta")

	assert.Error(t, validateStruct(mk(map[string]any{}), schema, 0))
	assert.Error(t, validateStruct(mk(map[string]any{"entry": 1, "entry_json": "1"}), schema, 0))
	assert.Error(t, validateStruct(mk(map[string]any{"entry_json": "0123456789"}), schema, 8))
}
