package rpc

import (
	"context"
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	grpccreds "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"drivegate/pkg/audit"
	"drivegate/pkg/gateway"
	"drivegate/pkg/query"
	"drivegate/pkg/types"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Origin identifies the calling application.
	Origin string
	// Token, when set, makes the caller the privileged host.
	Token string
	// TLS secures the connection. Nil dials in plaintext.
	TLS *tls.Config
	// Retry applies to unary calls only; streams are never retried.
	Retry       RetryPolicy
	DialOptions []grpc.DialOption
}

// Client calls the Gateway service. Errors carrying a gateway code are
// rebuilt so errs.Is and errs.IsRetryable work on them.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a new gateway client for target
func NewClient(target string, opts ClientOptions) (*Client, error) {
	transport := insecure.NewCredentials()
	if opts.TLS != nil {
		transport = grpccreds.NewTLS(opts.TLS)
	}
	creds := credentials{origin: opts.Origin, token: opts.Token}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(transport),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithChainUnaryInterceptor(creds.unaryClientInterceptor()),
		grpc.WithChainStreamInterceptor(creds.streamClientInterceptor()),
	}, opts.DialOptions...)

	if opts.Retry.MaxAttempts > 1 {
		dialOpts = append(dialOpts, grpc.WithChainUnaryInterceptor(opts.Retry.unaryClientInterceptor()))
	}

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Req, Resp any](ctx context.Context, c *Client, method string, req *Req) (*Resp, error) {
	resp := new(Resp)
	var trailer metadata.MD
	if err := c.conn.Invoke(ctx, fullMethod(method), req, resp, grpc.Trailer(&trailer)); err != nil {
		return nil, fromStatus(err, trailer)
	}
	return resp, nil
}

// subscribe opens a server stream and forwards its events until ctx is
// done or the server ends the stream. Setup errors are returned directly.
func subscribe[Req, Event any](ctx context.Context, c *Client, method string, req *Req) (<-chan Event, error) {
	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, fullMethod(method))
	if err != nil {
		return nil, fromStatus(err, nil)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fromStatus(err, stream.Trailer())
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err, stream.Trailer())
	}

	header, err := stream.Header()
	if err != nil || len(header.Get(streamOpenHeader)) == 0 {
		if err == nil {
			err = stream.RecvMsg(new(Event))
		}
		return nil, fromStatus(err, stream.Trailer())
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for {
			ev := new(Event)
			if err := stream.RecvMsg(ev); err != nil {
				return
			}
			select {
			case out <- *ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) CreateDrive(ctx context.Context, opts gateway.CreateOptions) (string, error) {
	resp, err := invoke[CreateDriveRequest, URLReply](ctx, c, "CreateDrive", &CreateDriveRequest{Options: opts})
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) ForkDrive(ctx context.Context, url string, opts gateway.ForkOptions) (string, error) {
	resp, err := invoke[ForkDriveRequest, URLReply](ctx, c, "ForkDrive", &ForkDriveRequest{URL: url, Options: opts})
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) LoadDrive(ctx context.Context, url string, opts gateway.OpOptions) (string, error) {
	resp, err := invoke[URLRequest, URLReply](ctx, c, "LoadDrive", &URLRequest{URL: url, Options: opts})
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) GetInfo(ctx context.Context, url string, opts gateway.InfoOptions) (*types.DriveInfo, error) {
	resp, err := invoke[GetInfoRequest, InfoReply](ctx, c, "GetInfo", &GetInfoRequest{URL: url, Options: opts})
	if err != nil {
		return nil, err
	}
	info := resp.Info
	if info.Manifest != nil && len(resp.ManifestExtra) > 0 {
		info.Manifest.Extra = resp.ManifestExtra
	}
	return &info, nil
}

func (c *Client) Configure(ctx context.Context, url string, settings gateway.Settings, opts gateway.ConfigureOptions) error {
	_, err := invoke[ConfigureRequest, Empty](ctx, c, "Configure", &ConfigureRequest{URL: url, Settings: settings, Options: opts})
	return err
}

func (c *Client) Diff(ctx context.Context, left, right string, opts gateway.DiffOptions) ([]types.Change, error) {
	resp, err := invoke[DiffRequest, ChangesReply](ctx, c, "Diff", &DiffRequest{Left: left, Right: right, Options: opts})
	if err != nil {
		return nil, err
	}
	return resp.Changes, nil
}

func (c *Client) Merge(ctx context.Context, src, dst string, opts gateway.MergeOptions) ([]types.Change, error) {
	resp, err := invoke[MergeRequest, ChangesReply](ctx, c, "Merge", &MergeRequest{Source: src, Destination: dst, Options: opts})
	if err != nil {
		return nil, err
	}
	return resp.Changes, nil
}

func (c *Client) Stat(ctx context.Context, url string, opts gateway.StatOptions) (types.Stat, error) {
	resp, err := invoke[StatRequest, StatReply](ctx, c, "Stat", &StatRequest{URL: url, Options: opts})
	if err != nil {
		return types.Stat{}, err
	}
	return resp.Stat, nil
}

func (c *Client) ReadFile(ctx context.Context, url string, opts gateway.ReadOptions) ([]byte, error) {
	resp, err := invoke[ReadFileRequest, ReadFileReply](ctx, c, "ReadFile", &ReadFileRequest{URL: url, Options: opts})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) WriteFile(ctx context.Context, url string, data []byte, opts gateway.WriteOptions) error {
	_, err := invoke[WriteFileRequest, Empty](ctx, c, "WriteFile", &WriteFileRequest{URL: url, Data: data, Options: opts})
	return err
}

func (c *Client) Unlink(ctx context.Context, url string, opts gateway.OpOptions) error {
	_, err := invoke[URLRequest, Empty](ctx, c, "Unlink", &URLRequest{URL: url, Options: opts})
	return err
}

func (c *Client) Copy(ctx context.Context, src, dst string, opts gateway.OpOptions) error {
	_, err := invoke[MoveRequest, Empty](ctx, c, "Copy", &MoveRequest{Source: src, Destination: dst, Options: opts})
	return err
}

func (c *Client) Rename(ctx context.Context, src, dst string, opts gateway.OpOptions) error {
	_, err := invoke[MoveRequest, Empty](ctx, c, "Rename", &MoveRequest{Source: src, Destination: dst, Options: opts})
	return err
}

func (c *Client) UpdateMetadata(ctx context.Context, url string, values map[string]string, opts gateway.OpOptions) error {
	_, err := invoke[MetadataRequest, Empty](ctx, c, "UpdateMetadata", &MetadataRequest{URL: url, Metadata: values, Options: opts})
	return err
}

func (c *Client) DeleteMetadata(ctx context.Context, url string, keys []string, opts gateway.OpOptions) error {
	_, err := invoke[MetadataRequest, Empty](ctx, c, "DeleteMetadata", &MetadataRequest{URL: url, Keys: keys, Options: opts})
	return err
}

func (c *Client) Readdir(ctx context.Context, url string, opts gateway.ReaddirOptions) ([]types.DirEntry, error) {
	resp, err := invoke[ReaddirRequest, ReaddirReply](ctx, c, "Readdir", &ReaddirRequest{URL: url, Options: opts})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) Mkdir(ctx context.Context, url string, opts gateway.OpOptions) error {
	_, err := invoke[URLRequest, Empty](ctx, c, "Mkdir", &URLRequest{URL: url, Options: opts})
	return err
}

func (c *Client) Rmdir(ctx context.Context, url string, opts gateway.RmdirOptions) error {
	_, err := invoke[RmdirRequest, Empty](ctx, c, "Rmdir", &RmdirRequest{URL: url, Options: opts})
	return err
}

func (c *Client) Symlink(ctx context.Context, target, linkname string, opts gateway.OpOptions) error {
	_, err := invoke[SymlinkRequest, Empty](ctx, c, "Symlink", &SymlinkRequest{Target: target, Linkname: linkname, Options: opts})
	return err
}

func (c *Client) Mount(ctx context.Context, url, mountURL string, opts gateway.MountOptions) error {
	_, err := invoke[MountRequest, Empty](ctx, c, "Mount", &MountRequest{URL: url, MountURL: mountURL, Options: opts})
	return err
}

func (c *Client) Unmount(ctx context.Context, url string, opts gateway.OpOptions) error {
	_, err := invoke[URLRequest, Empty](ctx, c, "Unmount", &URLRequest{URL: url, Options: opts})
	return err
}

func (c *Client) Query(ctx context.Context, q query.Options, opts gateway.OpOptions) ([]types.Match, error) {
	resp, err := invoke[QueryRequest, QueryReply](ctx, c, "Query", &QueryRequest{Query: q, Options: opts})
	if err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

func (c *Client) ImportFromFilesystem(ctx context.Context, src, dst string, opts gateway.TransferOptions) (*gateway.TransferStats, error) {
	return c.transfer(ctx, "ImportFromFilesystem", src, dst, opts)
}

func (c *Client) ExportToFilesystem(ctx context.Context, src, dst string, opts gateway.TransferOptions) (*gateway.TransferStats, error) {
	return c.transfer(ctx, "ExportToFilesystem", src, dst, opts)
}

func (c *Client) ExportToDrive(ctx context.Context, src, dst string, opts gateway.TransferOptions) (*gateway.TransferStats, error) {
	return c.transfer(ctx, "ExportToDrive", src, dst, opts)
}

func (c *Client) transfer(ctx context.Context, method, src, dst string, opts gateway.TransferOptions) (*gateway.TransferStats, error) {
	resp, err := invoke[TransferRequest, TransferReply](ctx, c, method, &TransferRequest{Source: src, Destination: dst, Options: opts})
	if err != nil {
		return nil, err
	}
	return &resp.Stats, nil
}

// Watch streams change events until ctx is done.
func (c *Client) Watch(ctx context.Context, url, pattern string) (<-chan types.Event, error) {
	return subscribe[WatchRequest, types.Event](ctx, c, "Watch", &WatchRequest{URL: url, Pattern: pattern})
}

// NetworkActivity streams peer and update events until ctx is done.
func (c *Client) NetworkActivity(ctx context.Context, url string) (<-chan types.NetworkEvent, error) {
	return subscribe[WatchRequest, types.NetworkEvent](ctx, c, "NetworkActivity", &WatchRequest{URL: url})
}

func (c *Client) ListGrants(ctx context.Context, origin string) ([]types.Grant, error) {
	resp, err := invoke[ListGrantsRequest, GrantsReply](ctx, c, "ListGrants", &ListGrantsRequest{Origin: origin})
	if err != nil {
		return nil, err
	}
	return resp.Grants, nil
}

func (c *Client) RevokeGrant(ctx context.Context, origin string, key types.GrantKey) error {
	_, err := invoke[RevokeGrantRequest, Empty](ctx, c, "RevokeGrant", &RevokeGrantRequest{Origin: origin, Key: key})
	return err
}

func (c *Client) ListAudit(ctx context.Context, filter audit.Filter) ([]types.AuditEntry, error) {
	resp, err := invoke[ListAuditRequest, AuditReply](ctx, c, "ListAudit", &ListAuditRequest{Filter: filter})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
