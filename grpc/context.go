// Package grpc guards gRPC automation APIs with the same session tokens the
// HTTP layer issues, carried in request metadata.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// DefaultMetadataKeyToken is the default gRPC metadata key carrying the
// session or API token.
const DefaultMetadataKeyToken = "x-gatehouse-token"

type usernameKey struct{}

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeyToken is the gRPC metadata key for the auth token.
	// Defaults to "x-gatehouse-token".
	MetadataKeyToken string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{MetadataKeyToken: DefaultMetadataKeyToken}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyToken == "" {
		c.MetadataKeyToken = DefaultMetadataKeyToken
	}
}

// TokenFromContext extracts the raw auth token from incoming metadata.
// Returns empty string when no token was sent.
func TokenFromContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(config.MetadataKeyToken)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// UsernameFromContext returns the authenticated username the interceptor
// attached to the context, or "" when the call was unauthenticated.
func UsernameFromContext(ctx context.Context) string {
	if v := ctx.Value(usernameKey{}); v != nil {
		return v.(string)
	}
	return ""
}

func contextWithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey{}, username)
}

// AppendTokenToOutgoingContext attaches a token to an outgoing client call.
func AppendTokenToOutgoingContext(ctx context.Context, config *Config, token string) context.Context {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()
	return metadata.AppendToOutgoingContext(ctx, config.MetadataKeyToken, token)
}
