package grpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// fakeValidator accepts a fixed token-to-username table.
type fakeValidator struct {
	users map[string]string
}

func (v *fakeValidator) Validate(token string) bool {
	_, ok := v.users[token]
	return ok
}

func (v *fakeValidator) UsernameOf(token string) (string, bool) {
	username, ok := v.users[token]
	return username, ok
}

func incomingCtx(token string) context.Context {
	md := metadata.New(map[string]string{DefaultMetadataKeyToken: token})
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestUnaryInterceptorAuthenticated(t *testing.T) {
	validator := &fakeValidator{users: map[string]string{"tok-1": "alice"}}
	interceptor := UnaryAuthInterceptor(NewInterceptorConfig(validator))

	var seen string
	handler := func(ctx context.Context, req any) (any, error) {
		seen = UsernameFromContext(ctx)
		return "ok", nil
	}

	resp, err := interceptor(incomingCtx("tok-1"), nil,
		&grpc.UnaryServerInfo{FullMethod: "/media.Library/List"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, "alice", seen)
}

func TestUnaryInterceptorRejections(t *testing.T) {
	validator := &fakeValidator{users: map[string]string{"tok-1": "alice"}}
	interceptor := UnaryAuthInterceptor(NewInterceptorConfig(validator))
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/media.Library/List"}

	// No metadata at all.
	_, err := interceptor(context.Background(), nil, info, handler)
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	// Unknown token.
	_, err = interceptor(incomingCtx("bogus"), nil, info, handler)
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestUnaryInterceptorPublicMethod(t *testing.T) {
	validator := &fakeValidator{users: map[string]string{}}
	interceptor := UnaryAuthInterceptor(NewInterceptorConfig(validator, "/media.Library/Ping"))

	var seen string
	handler := func(ctx context.Context, req any) (any, error) {
		seen = UsernameFromContext(ctx)
		return "pong", nil
	}

	resp, err := interceptor(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/media.Library/Ping"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp)
	assert.Empty(t, seen)
}

func TestUnaryInterceptorOptionalAuth(t *testing.T) {
	validator := &fakeValidator{users: map[string]string{"tok-1": "alice"}}
	config := &InterceptorConfig{Validator: validator, RequireAuth: false}
	interceptor := UnaryAuthInterceptor(config)

	var seen string
	handler := func(ctx context.Context, req any) (any, error) {
		seen = UsernameFromContext(ctx)
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/media.Library/List"}

	_, err := interceptor(context.Background(), nil, info, handler)
	require.NoError(t, err, "optional auth lets anonymous calls through")
	assert.Empty(t, seen)

	_, err = interceptor(incomingCtx("tok-1"), nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "alice", seen)
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context { return s.ctx }

func TestStreamInterceptor(t *testing.T) {
	validator := &fakeValidator{users: map[string]string{"tok-1": "alice"}}
	interceptor := StreamAuthInterceptor(NewInterceptorConfig(validator))
	info := &grpc.StreamServerInfo{FullMethod: "/media.Library/Watch"}

	var seen string
	handler := func(srv any, ss grpc.ServerStream) error {
		seen = UsernameFromContext(ss.Context())
		return nil
	}

	err := interceptor(nil, &fakeServerStream{ctx: incomingCtx("tok-1")}, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "alice", seen)

	err = interceptor(nil, &fakeServerStream{ctx: context.Background()}, info, handler)
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestTokenRoundTripsOutgoingToIncoming(t *testing.T) {
	ctx := AppendTokenToOutgoingContext(context.Background(), nil, "tok-1")
	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)

	incoming := metadata.NewIncomingContext(context.Background(), md)
	assert.Equal(t, "tok-1", TokenFromContext(incoming, nil))
}

func TestCustomMetadataKey(t *testing.T) {
	config := &Config{MetadataKeyToken: "x-custom-token"}
	md := metadata.New(map[string]string{"x-custom-token": "tok-9"})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	assert.Equal(t, "tok-9", TokenFromContext(ctx, config))
	assert.Empty(t, TokenFromContext(ctx, DefaultConfig()))
}
