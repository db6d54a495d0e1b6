package service

import "context"

type clientIdentityKey struct{}

// WithClientIdentity attaches the caller identity used in operation logs.
func WithClientIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, clientIdentityKey{}, identity)
}

// ClientIdentity returns the identity set by WithClientIdentity, or "".
func ClientIdentity(ctx context.Context) string {
	id, _ := ctx.Value(clientIdentityKey{}).(string)
	return id
}
