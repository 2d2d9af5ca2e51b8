// Package rpc exposes the gateway over gRPC. Messages are CBOR encoded
// and the service descriptor is written by hand.
package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"drivegate/pkg/audit"
	"drivegate/pkg/gateway"
	"drivegate/pkg/permission"
	"drivegate/pkg/types"
)

// ServiceName is the full gRPC service name.
const ServiceName = "drivegate.v1.Gateway"

// streamOpenHeader is sent once a stream has been set up, so clients can
// tell setup errors from an idle stream.
const streamOpenHeader = "x-drivegate-stream"

// ServerOptions configures a Server.
type ServerOptions struct {
	// Grants and Audit back the administrative calls. Either may be nil.
	Grants permission.GrantAdmin
	Audit  audit.Reader
	// Token is the bearer token that makes a caller the privileged host.
	Token      string
	HostOrigin string
	Logger     *zap.Logger
}

// Server serves the Gateway service.
type Server struct {
	gw     *gateway.Gateway
	grants permission.GrantAdmin
	audit  audit.Reader
	actors *ActorInterceptor
	logger *zap.Logger
}

// NewServer creates a new gateway RPC server
func NewServer(gw *gateway.Gateway, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		gw:     gw,
		grants: opts.Grants,
		audit:  opts.Audit,
		actors: NewActorInterceptor(opts.Token, opts.HostOrigin),
		logger: opts.Logger,
	}
}

// Register adds the service to r.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

// NewGRPCServer returns a grpc.Server with the actor and logging
// interceptors installed and the service registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(s.actors.UnaryServerInterceptor(), s.unaryLogger()),
		grpc.ChainStreamInterceptor(s.actors.StreamServerInterceptor(), s.streamLogger()),
	)
	srv := grpc.NewServer(opts...)
	s.Register(srv)
	return srv
}

func (s *Server) unaryLogger() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)
		s.logCall(ctx, info.FullMethod, started, err)
		return resp, err
	}
}

func (s *Server) streamLogger() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		started := time.Now()
		err := handler(srv, ss)
		s.logCall(ss.Context(), info.FullMethod, started, err)
		return err
	}
}

func (s *Server) logCall(ctx context.Context, method string, started time.Time, err error) {
	actor, _ := ActorFromContext(ctx)
	s.logger.Debug("RPC finished",
		zap.String("method", method),
		zap.String("origin", actor.Origin),
		zap.String("code", status.Code(err).String()),
		zap.Duration("duration", time.Since(started)))
}

type unaryFunc[Req, Resp any] func(s *Server, ctx context.Context, actor types.Actor, req *Req) (*Resp, error)

// unary builds the method descriptor for a unary call. Gateway errors are
// returned as statuses with the code in ErrorTrailer.
func unary[Req, Resp any](name string, fn unaryFunc[Req, Resp]) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, in any) (any, error) {
				actor, ok := ActorFromContext(ctx)
				if !ok {
					return nil, status.Error(codes.Unauthenticated, "no actor in context")
				}
				resp, err := fn(srv.(*Server), ctx, actor, in.(*Req))
				if err != nil {
					if md := errorTrailer(err); md != nil {
						_ = grpc.SetTrailer(ctx, md)
					}
					return nil, toStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, req, info, handler)
		},
	}
}

type streamFunc[Req, Event any] func(s *Server, ctx context.Context, actor types.Actor, req *Req) (<-chan Event, error)

// serverStream builds the descriptor for a server streaming call that
// forwards events until the client goes away.
func serverStream[Req, Event any](name string, fn streamFunc[Req, Event]) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			req := new(Req)
			if err := stream.RecvMsg(req); err != nil {
				return err
			}
			actor, ok := ActorFromContext(stream.Context())
			if !ok {
				return status.Error(codes.Unauthenticated, "no actor in context")
			}

			events, err := fn(srv.(*Server), stream.Context(), actor, req)
			if err != nil {
				if md := errorTrailer(err); md != nil {
					stream.SetTrailer(md)
				}
				return toStatus(err)
			}
			if err := stream.SendHeader(metadata.Pairs(streamOpenHeader, "open")); err != nil {
				return err
			}
			for ev := range events {
				if err := stream.SendMsg(&ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

var empty = &Empty{}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateDrive", func(s *Server, ctx context.Context, a types.Actor, r *CreateDriveRequest) (*URLReply, error) {
			url, err := s.gw.CreateDrive(ctx, a, r.Options)
			return &URLReply{URL: url}, err
		}),
		unary("ForkDrive", func(s *Server, ctx context.Context, a types.Actor, r *ForkDriveRequest) (*URLReply, error) {
			url, err := s.gw.ForkDrive(ctx, a, r.URL, r.Options)
			return &URLReply{URL: url}, err
		}),
		unary("LoadDrive", func(s *Server, ctx context.Context, a types.Actor, r *URLRequest) (*URLReply, error) {
			url, err := s.gw.LoadDrive(ctx, a, r.URL, r.Options)
			return &URLReply{URL: url}, err
		}),
		unary("GetInfo", func(s *Server, ctx context.Context, a types.Actor, r *GetInfoRequest) (*InfoReply, error) {
			info, err := s.gw.GetInfo(ctx, a, r.URL, r.Options)
			if err != nil {
				return nil, err
			}
			reply := &InfoReply{Info: *info}
			if info.Manifest != nil {
				reply.ManifestExtra = info.Manifest.Extra
			}
			return reply, nil
		}),
		unary("Configure", func(s *Server, ctx context.Context, a types.Actor, r *ConfigureRequest) (*Empty, error) {
			return empty, s.gw.Configure(ctx, a, r.URL, r.Settings, r.Options)
		}),
		unary("Diff", func(s *Server, ctx context.Context, a types.Actor, r *DiffRequest) (*ChangesReply, error) {
			changes, err := s.gw.Diff(ctx, a, r.Left, r.Right, r.Options)
			return &ChangesReply{Changes: changes}, err
		}),
		unary("Merge", func(s *Server, ctx context.Context, a types.Actor, r *MergeRequest) (*ChangesReply, error) {
			changes, err := s.gw.Merge(ctx, a, r.Source, r.Destination, r.Options)
			return &ChangesReply{Changes: changes}, err
		}),
		unary("Stat", func(s *Server, ctx context.Context, a types.Actor, r *StatRequest) (*StatReply, error) {
			st, err := s.gw.Stat(ctx, a, r.URL, r.Options)
			return &StatReply{Stat: st}, err
		}),
		unary("ReadFile", func(s *Server, ctx context.Context, a types.Actor, r *ReadFileRequest) (*ReadFileReply, error) {
			data, err := s.gw.ReadFile(ctx, a, r.URL, r.Options)
			return &ReadFileReply{Data: data}, err
		}),
		unary("WriteFile", func(s *Server, ctx context.Context, a types.Actor, r *WriteFileRequest) (*Empty, error) {
			return empty, s.gw.WriteFile(ctx, a, r.URL, r.Data, r.Options)
		}),
		unary("Unlink", func(s *Server, ctx context.Context, a types.Actor, r *URLRequest) (*Empty, error) {
			return empty, s.gw.Unlink(ctx, a, r.URL, r.Options)
		}),
		unary("Copy", func(s *Server, ctx context.Context, a types.Actor, r *MoveRequest) (*Empty, error) {
			return empty, s.gw.Copy(ctx, a, r.Source, r.Destination, r.Options)
		}),
		unary("Rename", func(s *Server, ctx context.Context, a types.Actor, r *MoveRequest) (*Empty, error) {
			return empty, s.gw.Rename(ctx, a, r.Source, r.Destination, r.Options)
		}),
		unary("UpdateMetadata", func(s *Server, ctx context.Context, a types.Actor, r *MetadataRequest) (*Empty, error) {
			return empty, s.gw.UpdateMetadata(ctx, a, r.URL, r.Metadata, r.Options)
		}),
		unary("DeleteMetadata", func(s *Server, ctx context.Context, a types.Actor, r *MetadataRequest) (*Empty, error) {
			return empty, s.gw.DeleteMetadata(ctx, a, r.URL, r.Keys, r.Options)
		}),
		unary("Readdir", func(s *Server, ctx context.Context, a types.Actor, r *ReaddirRequest) (*ReaddirReply, error) {
			entries, err := s.gw.Readdir(ctx, a, r.URL, r.Options)
			return &ReaddirReply{Entries: entries}, err
		}),
		unary("Mkdir", func(s *Server, ctx context.Context, a types.Actor, r *URLRequest) (*Empty, error) {
			return empty, s.gw.Mkdir(ctx, a, r.URL, r.Options)
		}),
		unary("Rmdir", func(s *Server, ctx context.Context, a types.Actor, r *RmdirRequest) (*Empty, error) {
			return empty, s.gw.Rmdir(ctx, a, r.URL, r.Options)
		}),
		unary("Symlink", func(s *Server, ctx context.Context, a types.Actor, r *SymlinkRequest) (*Empty, error) {
			return empty, s.gw.Symlink(ctx, a, r.Target, r.Linkname, r.Options)
		}),
		unary("Mount", func(s *Server, ctx context.Context, a types.Actor, r *MountRequest) (*Empty, error) {
			return empty, s.gw.Mount(ctx, a, r.URL, r.MountURL, r.Options)
		}),
		unary("Unmount", func(s *Server, ctx context.Context, a types.Actor, r *URLRequest) (*Empty, error) {
			return empty, s.gw.Unmount(ctx, a, r.URL, r.Options)
		}),
		unary("Query", func(s *Server, ctx context.Context, a types.Actor, r *QueryRequest) (*QueryReply, error) {
			matches, err := s.gw.Query(ctx, a, r.Query, r.Options)
			return &QueryReply{Matches: matches}, err
		}),
		unary("ImportFromFilesystem", func(s *Server, ctx context.Context, a types.Actor, r *TransferRequest) (*TransferReply, error) {
			return transferReply(s.gw.ImportFromFilesystem(ctx, a, r.Source, r.Destination, r.Options))
		}),
		unary("ExportToFilesystem", func(s *Server, ctx context.Context, a types.Actor, r *TransferRequest) (*TransferReply, error) {
			return transferReply(s.gw.ExportToFilesystem(ctx, a, r.Source, r.Destination, r.Options))
		}),
		unary("ExportToDrive", func(s *Server, ctx context.Context, a types.Actor, r *TransferRequest) (*TransferReply, error) {
			return transferReply(s.gw.ExportToDrive(ctx, a, r.Source, r.Destination, r.Options))
		}),
		unary("ListGrants", func(s *Server, ctx context.Context, a types.Actor, r *ListGrantsRequest) (*GrantsReply, error) {
			if err := permission.RequirePrivileged(a, "listing grants"); err != nil {
				return nil, err
			}
			if s.grants == nil {
				return nil, status.Error(codes.Unimplemented, "grant administration is not available")
			}
			grants, err := s.grants.ListGrants(ctx, r.Origin)
			return &GrantsReply{Grants: grants}, err
		}),
		unary("RevokeGrant", func(s *Server, ctx context.Context, a types.Actor, r *RevokeGrantRequest) (*Empty, error) {
			if err := permission.RequirePrivileged(a, "revoking grants"); err != nil {
				return nil, err
			}
			if s.grants == nil {
				return nil, status.Error(codes.Unimplemented, "grant administration is not available")
			}
			s.logger.Info("Revoking grant", zap.String("origin", r.Origin), zap.String("resource", r.Key.String()))
			return empty, s.grants.RevokeGrant(ctx, r.Origin, r.Key)
		}),
		unary("ListAudit", func(s *Server, ctx context.Context, a types.Actor, r *ListAuditRequest) (*AuditReply, error) {
			if err := permission.RequirePrivileged(a, "reading the audit log"); err != nil {
				return nil, err
			}
			if s.audit == nil {
				return nil, status.Error(codes.Unimplemented, "audit log is not readable")
			}
			entries, err := s.audit.List(ctx, r.Filter)
			return &AuditReply{Entries: entries}, err
		}),
	},
	Streams: []grpc.StreamDesc{
		serverStream("Watch", func(s *Server, ctx context.Context, a types.Actor, r *WatchRequest) (<-chan types.Event, error) {
			return s.gw.Watch(ctx, a, r.URL, r.Pattern, gateway.OpOptions{})
		}),
		serverStream("NetworkActivity", func(s *Server, ctx context.Context, a types.Actor, r *WatchRequest) (<-chan types.NetworkEvent, error) {
			return s.gw.CreateNetworkActivityStream(ctx, a, r.URL, gateway.OpOptions{})
		}),
	},
	Metadata: "drivegate/v1/gateway",
}

func transferReply(stats *gateway.TransferStats, err error) (*TransferReply, error) {
	if err != nil {
		return nil, err
	}
	return &TransferReply{Stats: *stats}, nil
}
