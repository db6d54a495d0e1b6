package interceptors

import (
	"context"
	"net"
	"strings"

	"github.com/spounge-ai/auditchain/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// ClientIDHeader is the metadata key callers use to name themselves in operation logs.
const ClientIDHeader = "x-client-id"

const maxClientIDLen = 128

// UnaryIdentityInterceptor attaches the caller identity to the context. A
// verified client certificate names the caller; otherwise ClientIDHeader does,
// falling back to the peer host.
func UnaryIdentityInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return handler(service.WithClientIdentity(ctx, clientIdentity(ctx)), req)
	}
}

func clientIdentity(ctx context.Context) string {
	if cn := verifiedCommonName(ctx); cn != "" {
		return cn
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(ClientIDHeader); len(ids) > 0 {
			if id := strings.TrimSpace(ids[0]); id != "" {
				if len(id) > maxClientIDLen {
					id = id[:maxClientIDLen]
				}
				return id
			}
		}
	}
	return peerHost(ctx)
}

func verifiedCommonName(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return ""
	}
	info, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(info.State.VerifiedChains) == 0 || len(info.State.VerifiedChains[0]) == 0 {
		return ""
	}
	return info.State.VerifiedChains[0][0].Subject.CommonName
}

// peerHost returns the host part of the peer address, or "" when unknown.
func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
