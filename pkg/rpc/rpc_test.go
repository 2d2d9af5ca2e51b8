package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io/fs"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpccreds "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"drivegate/pkg/audit"
	"drivegate/pkg/consent"
	"drivegate/pkg/drive"
	"drivegate/pkg/errs"
	"drivegate/pkg/gateway"
	"drivegate/pkg/memdrive"
	"drivegate/pkg/permission"
	"drivegate/pkg/query"
	"drivegate/pkg/types"
)

const (
	testToken = "s3cret"
	appOrigin = "https://app.example"
)

type harness struct {
	engine  *memdrive.Engine
	consent *consent.Static
	grants  *permission.MemoryGrants
	sink    *audit.MemorySink
	drive   drive.Drive
	lis     *bufconn.Listener
}

func newHarness(t *testing.T, c *consent.Static) *harness {
	t.Helper()
	h := &harness{
		engine:  memdrive.New(memdrive.Options{}),
		consent: c,
		grants:  permission.NewMemoryGrants(),
		sink:    audit.NewMemorySink(0),
		lis:     bufconn.Listen(1 << 20),
	}

	d, err := h.engine.CreateDrive(context.Background(), types.Manifest{Title: "Notes"})
	require.NoError(t, err)
	require.NoError(t, h.engine.Seed(d.Key(), map[string][]byte{"/readme.md": []byte("hello")}))
	h.drive = d

	gw, err := gateway.New(gateway.Config{
		Engine:  h.engine,
		Grants:  h.grants,
		Consent: c,
		Queries: memdrive.QueryEngine{},
		Audit:   h.sink,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)

	srv := NewServer(gw, ServerOptions{
		Grants: h.grants,
		Audit:  h.sink,
		Token:  testToken,
		Logger: zap.NewNop(),
	}).NewGRPCServer()
	go func() { _ = srv.Serve(h.lis) }()
	t.Cleanup(srv.Stop)
	return h
}

func (h *harness) client(t *testing.T, opts ClientOptions) *Client {
	t.Helper()
	opts.DialOptions = append(opts.DialOptions, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return h.lis.DialContext(ctx)
	}))
	c, err := NewClient("passthrough:///bufnet", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (h *harness) at(p string) string {
	return h.drive.Key().URL() + p
}

func TestReadThroughClient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, consent.NewDismissing())
	c := h.client(t, ClientOptions{Origin: appOrigin})

	data, err := c.ReadFile(ctx, h.at("readme.md"), gateway.ReadOptions{Encoding: gateway.EncodingHex})
	require.NoError(t, err)
	assert.Equal(t, "68656c6c6f", string(data))

	st, err := c.Stat(ctx, h.at("readme.md"), gateway.StatOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.EntryFile, st.Type)
	assert.Equal(t, int64(5), st.Size)
	assert.False(t, st.Mtime.IsZero())

	entries, err := c.Readdir(ctx, h.at(""), gateway.ReaddirOptions{IncludeStats: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "index.json", entries[0].Name)
	require.NotNil(t, entries[1].Stat)

	info, err := c.GetInfo(ctx, h.at(""), gateway.InfoOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Notes", info.Title)
	assert.Nil(t, info.Manifest)

	_, err = c.Stat(ctx, h.at("missing"), gateway.StatOptions{})
	assert.ErrorIs(t, err, fs.ErrNotExist)

	entries2 := h.sink.Entries()
	require.NotEmpty(t, entries2)
	assert.Equal(t, appOrigin, entries2[0].Origin)
}

func TestGatewayErrorsKeepTheirCode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, consent.NewStatic(false, nil))
	c := h.client(t, ClientOptions{Origin: appOrigin})

	tests := []struct {
		name   string
		call   func() error
		code   string
		status codes.Code
	}{
		{
			name: "UserDenied",
			call: func() error {
				return c.WriteFile(ctx, h.at("a.txt"), []byte("hi"), gateway.WriteOptions{})
			},
			code:   string(errs.CodeUserDenied),
			status: codes.PermissionDenied,
		},
		{
			name: "ProtectedFile",
			call: func() error {
				return c.WriteFile(ctx, h.at("index.json"), []byte("{}"), gateway.WriteOptions{})
			},
			code:   string(errs.CodeProtectedFile),
			status: codes.PermissionDenied,
		},
		{
			name: "InvalidURL",
			call: func() error {
				_, err := c.ReadFile(ctx, "https://example.com/", gateway.ReadOptions{})
				return err
			},
			code:   string(errs.CodeInvalidURL),
			status: codes.InvalidArgument,
		},
		{
			name: "ArchiveNotWritable",
			call: func() error {
				return c.Mkdir(ctx, "hyper://"+h.drive.Key().String()+"+1/dir", gateway.OpOptions{})
			},
			code:   string(errs.CodeArchiveNotWritable),
			status: codes.FailedPrecondition,
		},
		{
			name: "Permissions",
			call: func() error {
				_, err := c.Diff(ctx, h.at(""), h.at(""), gateway.DiffOptions{})
				return err
			},
			code:   string(errs.CodePermissions),
			status: codes.PermissionDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, string(errs.Code(err)))
			assert.Equal(t, tt.status, statusCode(err))
			assert.False(t, errs.IsRetryable(err))
		})
	}
}

func TestAuthentication(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, consent.NewDismissing())

	anonymous := h.client(t, ClientOptions{})
	_, err := anonymous.Stat(ctx, h.at("readme.md"), gateway.StatOptions{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	wrong := h.client(t, ClientOptions{Origin: appOrigin, Token: "guess"})
	_, err = wrong.Stat(ctx, h.at("readme.md"), gateway.StatOptions{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	host := h.client(t, ClientOptions{Token: testToken})
	require.NoError(t, host.WriteFile(ctx, h.at("host.txt"), []byte("x"), gateway.WriteOptions{}))
	assert.Empty(t, h.consent.Prompts())

	info, err := host.GetInfo(ctx, h.at(""), gateway.InfoOptions{})
	require.NoError(t, err)
	require.NotNil(t, info.Manifest)
	assert.Equal(t, "Notes", info.Manifest.Title)

	entries := h.sink.Entries()
	assert.Equal(t, types.HostOrigin, entries[len(entries)-1].Origin)
}

func TestConfigureCarriesExtraFields(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, consent.NewDismissing())
	host := h.client(t, ClientOptions{Token: testToken})

	title := "Renamed"
	require.NoError(t, host.Configure(ctx, h.at(""), gateway.Settings{
		Title: &title,
		Extra: map[string]any{"theme": "dark"},
	}, gateway.ConfigureOptions{}))

	info, err := host.GetInfo(ctx, h.at(""), gateway.InfoOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", info.Title)
	require.NotNil(t, info.Manifest)
	assert.Equal(t, "dark", info.Manifest.Extra["theme"])
}

func TestQueryAndAdministration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, consent.NewStatic(true, nil))
	app := h.client(t, ClientOptions{Origin: appOrigin})
	host := h.client(t, ClientOptions{Token: testToken})

	require.NoError(t, app.WriteFile(ctx, h.at("b.md"), []byte("b"), gateway.WriteOptions{}))

	matches, err := app.Query(ctx, query.Options{Drives: []string{h.at("")}, Path: []string{"/*.md"}}, gateway.OpOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "/b.md", matches[0].Path)
	assert.Equal(t, h.drive.Key(), matches[0].Drive)

	_, err = app.ListGrants(ctx, "")
	assert.True(t, errs.Is(err, errs.CodePermissions), "got %v", err)

	grants, err := host.ListGrants(ctx, appOrigin)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, types.GrantKey{Action: types.ActionWrite, Drive: h.drive.Key()}, grants[0].Key)

	require.NoError(t, host.RevokeGrant(ctx, appOrigin, grants[0].Key))
	grants, err = host.ListGrants(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, grants)

	entries, err := host.ListAudit(ctx, audit.Filter{Origin: appOrigin, Action: "writeFile"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.OutcomeSuccess, entries[0].Outcome)
	require.NotNil(t, entries[0].Size)
	assert.Equal(t, int64(1), *entries[0].Size)
}

func TestWatchStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, consent.NewDismissing())
	app := h.client(t, ClientOptions{Origin: appOrigin})

	_, err := app.Watch(ctx, "not a url", "")
	assert.True(t, errs.Is(err, errs.CodeInvalidURL), "got %v", err)

	events, err := app.Watch(ctx, h.at(""), "/*.txt")
	require.NoError(t, err)

	require.NoError(t, h.engine.Seed(h.drive.Key(), map[string][]byte{"/new.txt": []byte("n")}))
	select {
	case ev := <-events:
		assert.Equal(t, "/new.txt", ev.Path)
		assert.Equal(t, h.drive.Key(), ev.Drive)
	case <-time.After(2 * time.Second):
		t.Fatal("no watch event")
	}

	peers, err := app.NetworkActivity(ctx, h.at(""))
	require.NoError(t, err)
	h.engine.SetPeers(h.drive.Key(), 2)
	select {
	case ev := <-peers:
		assert.Equal(t, types.NetworkPeerAdd, ev.Kind)
		assert.Equal(t, 2, ev.Peers)
	case <-time.After(2 * time.Second):
		t.Fatal("no network event")
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"Quota", errs.QuotaExceeded("full"), codes.ResourceExhausted},
		{"Timeout", errs.Timeout("slow"), codes.DeadlineExceeded},
		{"NotExist", fs.ErrNotExist, codes.NotFound},
		{"Exist", fs.ErrExist, codes.AlreadyExists},
		{"Canceled", context.Canceled, codes.Canceled},
		{"Other", assert.AnError, codes.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusCode(tt.err))
		})
	}

	rebuilt := fromStatus(toStatus(errs.Timeout("slow")), errorTrailer(errs.Timeout("slow")))
	assert.True(t, errs.IsRetryable(rebuilt))
	assert.Nil(t, errorTrailer(assert.AnError))
}

func TestAssertedOriginGetsNoSelfAllowance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, consent.NewDismissing())
	c := h.client(t, ClientOptions{Origin: h.drive.Key().URL()})

	err := c.WriteFile(ctx, h.at("claimed.txt"), []byte("mine"), gateway.WriteOptions{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeUserDenied), "got %v", err)
	assert.Len(t, h.consent.Prompts(), 1)

	_, err = c.Stat(ctx, h.at("claimed.txt"), gateway.StatOptions{})
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestActorOriginVerification(t *testing.T) {
	const origin = "hyper://notes.example/"
	originURL, err := url.Parse(origin)
	require.NoError(t, err)

	withCert := func(cert *x509.Certificate) context.Context {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(OriginMetadataKey, origin))
		state := tls.ConnectionState{}
		if cert != nil {
			state.VerifiedChains = [][]*x509.Certificate{{cert}}
		}
		return peer.NewContext(ctx, &peer.Peer{AuthInfo: grpccreds.TLSInfo{State: state}})
	}

	tests := []struct {
		name       string
		ctx        context.Context
		unverified bool
	}{
		{
			name:       "NoPeer",
			ctx:        metadata.NewIncomingContext(context.Background(), metadata.Pairs(OriginMetadataKey, origin)),
			unverified: true,
		},
		{
			name:       "NoClientCertificate",
			ctx:        withCert(nil),
			unverified: true,
		},
		{
			name:       "URISAN",
			ctx:        withCert(&x509.Certificate{URIs: []*url.URL{originURL}}),
			unverified: false,
		},
		{
			name:       "CommonName",
			ctx:        withCert(&x509.Certificate{Subject: pkix.Name{CommonName: origin}}),
			unverified: false,
		},
		{
			name:       "OtherIdentity",
			ctx:        withCert(&x509.Certificate{Subject: pkix.Name{CommonName: "hyper://other.example/"}}),
			unverified: true,
		},
	}

	ai := NewActorInterceptor(testToken, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor, err := ai.actor(tt.ctx)
			require.NoError(t, err)
			assert.Equal(t, origin, actor.Origin)
			assert.False(t, actor.Privileged)
			assert.Equal(t, tt.unverified, actor.Unverified)
		})
	}
}
