package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SessionValidator resolves a token to an identity. The session registry
// satisfies it; so does any token issuer wrapped in a small adapter.
type SessionValidator interface {
	Validate(token string) bool
	UsernameOf(token string) (string, bool)
}

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Validator checks tokens. Required.
	Validator SessionValidator

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but UsernameFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Only used when RequireAuth is true.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// NewInterceptorConfig returns a config that requires auth for all methods
// except the ones listed.
func NewInterceptorConfig(validator SessionValidator, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Config:        DefaultConfig(),
		Validator:     validator,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

func (c *InterceptorConfig) ensure() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
}

func (c *InterceptorConfig) resolve(ctx context.Context) (context.Context, string) {
	token := TokenFromContext(ctx, c.Config)
	if token == "" || c.Validator == nil || !c.Validator.Validate(token) {
		return ctx, ""
	}
	username, ok := c.Validator.UsernameOf(token)
	if !ok {
		return ctx, ""
	}
	return contextWithUsername(ctx, username), username
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that validates the
// auth token from metadata and attaches the username to the context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensure()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, username := config.resolve(ctx)

		if config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			if username == "" {
				return nil, status.Error(codes.Unauthenticated, "authentication required")
			}
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns the stream-side counterpart.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensure()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, username := config.resolve(ss.Context())

		if config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			if username == "" {
				return status.Error(codes.Unauthenticated, "authentication required")
			}
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// wrappedStream overrides the stream context so handlers see the
// authenticated username.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
