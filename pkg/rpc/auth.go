package rpc

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpccreds "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"drivegate/pkg/types"
)

const (
	// OriginMetadataKey names the calling application.
	OriginMetadataKey = "x-drivegate-origin"
	// AuthorizationMetadataKey carries "Bearer <token>" for the host.
	AuthorizationMetadataKey = "authorization"
)

type actorKey struct{}

// NewActorContext returns a context carrying actor.
func NewActorContext(ctx context.Context, actor types.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor the interceptor attached to ctx.
func ActorFromContext(ctx context.Context) (types.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(types.Actor)
	return actor, ok
}

// ActorInterceptor turns request metadata into a types.Actor. A caller
// presenting the configured bearer token is the privileged host; everyone
// else is identified by the origin header. That origin is only verified
// when the caller's TLS client certificate names it.
type ActorInterceptor struct {
	token      string
	hostOrigin string
}

// NewActorInterceptor creates a new actor interceptor. An empty token means
// no caller can be privileged.
func NewActorInterceptor(token, hostOrigin string) *ActorInterceptor {
	if hostOrigin == "" {
		hostOrigin = types.HostOrigin
	}
	return &ActorInterceptor{token: token, hostOrigin: hostOrigin}
}

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// attaches the actor
func (ai *ActorInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		actor, err := ai.actor(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "authentication failed: %v", err)
		}
		return handler(NewActorContext(ctx, actor), req)
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor that
// attaches the actor
func (ai *ActorInterceptor) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		actor, err := ai.actor(ss.Context())
		if err != nil {
			return status.Errorf(codes.Unauthenticated, "authentication failed: %v", err)
		}
		return handler(srv, &actorServerStream{
			ServerStream: ss,
			ctx:          NewActorContext(ss.Context(), actor),
		})
	}
}

func (ai *ActorInterceptor) actor(ctx context.Context) (types.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	if header := first(md.Get(AuthorizationMetadataKey)); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return types.Actor{}, fmt.Errorf("invalid authorization header format")
		}
		if ai.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(ai.token)) != 1 {
			return types.Actor{}, fmt.Errorf("invalid token")
		}
		return types.Actor{Origin: ai.hostOrigin, Privileged: true}, nil
	}

	origin := first(md.Get(OriginMetadataKey))
	if origin == "" {
		return types.Actor{}, fmt.Errorf("missing %s header", OriginMetadataKey)
	}
	return types.Actor{Origin: origin, Unverified: !certifiesOrigin(ctx, origin)}, nil
}

// certifiesOrigin reports whether the verified client certificate of the
// connection carries origin as a URI SAN or as its common name.
func certifiesOrigin(ctx context.Context, origin string) bool {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return false
	}
	info, ok := p.AuthInfo.(grpccreds.TLSInfo)
	if !ok || len(info.State.VerifiedChains) == 0 || len(info.State.VerifiedChains[0]) == 0 {
		return false
	}
	leaf := info.State.VerifiedChains[0][0]
	for _, uri := range leaf.URIs {
		if uri.String() == origin {
			return true
		}
	}
	return leaf.Subject.CommonName == origin
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// actorServerStream wraps a ServerStream with the actor's context
type actorServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *actorServerStream) Context() context.Context {
	return s.ctx
}

// credentials attaches origin and token to every outgoing call.
type credentials struct {
	origin string
	token  string
}

func (c credentials) outgoing(ctx context.Context) context.Context {
	if c.origin != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, OriginMetadataKey, c.origin)
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, AuthorizationMetadataKey, "Bearer "+c.token)
	}
	return ctx
}

func (c credentials) unaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(c.outgoing(ctx), method, req, reply, cc, opts...)
	}
}

func (c credentials) streamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(c.outgoing(ctx), desc, cc, method, opts...)
	}
}
