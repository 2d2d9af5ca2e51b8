package permission

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"drivegate/pkg/consent"
	"drivegate/pkg/drive"
	"drivegate/pkg/errs"
	"drivegate/pkg/metrics"
	"drivegate/pkg/types"
)

type fakeDrive struct {
	key types.DriveKey
}

func (f fakeDrive) Key() types.DriveKey    { return f.key }
func (f fakeDrive) Writable() bool         { return true }
func (f fakeDrive) Version() types.Version { return 1 }
func (f fakeDrive) Manifest() types.Manifest {
	return types.Manifest{Title: "Notes", Description: "shared notes"}
}
func (f fakeDrive) Size() int64 { return 0 }
func (f fakeDrive) Peers() int  { return 0 }

func testKey(b byte) types.DriveKey {
	var k types.DriveKey
	for i := range k {
		k[i] = b
	}
	return k
}

type fixture struct {
	mediator *Mediator
	grants   *MemoryGrants
	consent  *consent.Static
	metrics  *metrics.GatewayMetrics
	drive    fakeDrive
}

func newFixture(t *testing.T, c *consent.Static, opts Options) *fixture {
	t.Helper()
	names, err := drive.NewStaticNames(map[string]string{
		"notes.example": testKey(0xaa).String(),
	})
	require.NoError(t, err)

	grants := NewMemoryGrants()
	m := metrics.NewGatewayMetrics(prometheus.NewRegistry())
	resolver := drive.NewResolver(nil, names, zap.NewNop())

	return &fixture{
		mediator: NewMediator(resolver, grants, c, opts, zap.NewNop(), m),
		grants:   grants,
		consent:  c,
		metrics:  m,
		drive:    fakeDrive{key: testKey(0xaa)},
	}
}

func TestMediator_Privileged(t *testing.T) {
	f := newFixture(t, consent.NewStatic(false, nil), Options{})

	for _, kind := range []types.ActionKind{types.ActionWrite, types.ActionCreate, types.ActionDelete} {
		require.NoError(t, f.mediator.Assert(context.Background(), types.Host(), kind, f.drive))
	}
	assert.Empty(t, f.consent.Prompts())
}

func TestMediator_SelfOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
	}{
		{"raw key url", "hyper://" + testKey(0xaa).String() + "/"},
		{"named url", "hyper://notes.example/"},
		{"bare key", testKey(0xaa).String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, consent.NewStatic(false, nil), Options{})
			actor := types.Actor{Origin: tt.origin}

			require.NoError(t, f.mediator.Assert(context.Background(), actor, types.ActionWrite, f.drive))
			assert.Empty(t, f.consent.Prompts())

			// Self origin only covers writes.
			err := f.mediator.Assert(context.Background(), actor, types.ActionDelete, f.drive)
			assert.True(t, errs.Is(err, errs.CodeUserDenied))
			assert.Len(t, f.consent.Prompts(), 1)
		})
	}
}

func TestMediator_OtherDriveOriginPrompts(t *testing.T) {
	f := newFixture(t, consent.NewStatic(false, nil), Options{})
	actor := types.Actor{Origin: "hyper://" + testKey(0xbb).String() + "/"}

	err := f.mediator.Assert(context.Background(), actor, types.ActionWrite, f.drive)
	assert.True(t, errs.Is(err, errs.CodeUserDenied))
	assert.Len(t, f.consent.Prompts(), 1)
}

func TestMediator_CachedGrant(t *testing.T) {
	f := newFixture(t, consent.NewStatic(false, nil), Options{})
	actor := types.Actor{Origin: "https://app.example"}

	require.NoError(t, f.grants.PutPermission(context.Background(), types.Grant{
		Origin:  actor.Origin,
		Key:     types.GrantKey{Action: types.ActionWrite, Drive: f.drive.key},
		Allowed: true,
	}))

	require.NoError(t, f.mediator.Assert(context.Background(), actor, types.ActionWrite, f.drive))
	assert.Empty(t, f.consent.Prompts())

	// A write grant does not cover deletes.
	err := f.mediator.Assert(context.Background(), actor, types.ActionDelete, f.drive)
	assert.True(t, errs.Is(err, errs.CodeUserDenied))
}

func TestMediator_ApprovalIsCached(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, consent.NewStatic(true, nil), Options{Now: func() time.Time { return now }})
	actor := types.Actor{Origin: "https://app.example"}

	require.NoError(t, f.mediator.Assert(context.Background(), actor, types.ActionWrite, f.drive))
	require.NoError(t, f.mediator.Assert(context.Background(), actor, types.ActionWrite, f.drive))
	require.Len(t, f.consent.Prompts(), 1)

	prompt := f.consent.Prompts()[0]
	assert.Equal(t, "Notes", prompt.Title)
	assert.Equal(t, f.drive.key.URL(), prompt.URL)

	grants, err := f.grants.ListGrants(context.Background(), actor.Origin)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.True(t, grants[0].Allowed)
	assert.Equal(t, now, grants[0].GrantedAt)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PermissionDecisions.WithLabelValues("write", "prompt", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PermissionDecisions.WithLabelValues("write", "grant", "true")))
}

func TestMediator_DenialNotCached(t *testing.T) {
	f := newFixture(t, consent.NewStatic(false, nil), Options{})
	actor := types.Actor{Origin: "https://app.example"}

	for i := 0; i < 2; i++ {
		err := f.mediator.Assert(context.Background(), actor, types.ActionWrite, f.drive)
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.CodeUserDenied))
		assert.True(t, errs.IsDenial(err))
	}
	assert.Len(t, f.consent.Prompts(), 2)

	grants, err := f.grants.ListGrants(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestMediator_DismissedIsUserDenied(t *testing.T) {
	f := newFixture(t, consent.NewDismissing(), Options{})

	err := f.mediator.Assert(context.Background(), types.Actor{Origin: "https://app.example"}, types.ActionCreate, f.drive)
	assert.True(t, errs.Is(err, errs.CodeUserDenied))
	assert.True(t, strings.Contains(err.Error(), "dismissed"))
}

func TestMediator_PromptRateLimit(t *testing.T) {
	f := newFixture(t, consent.NewStatic(false, nil), Options{
		PromptRate:  rate.Every(time.Hour),
		PromptBurst: 1,
	})
	spammer := types.Actor{Origin: "https://spam.example"}

	for i := 0; i < 3; i++ {
		err := f.mediator.Assert(context.Background(), spammer, types.ActionWrite, f.drive)
		assert.True(t, errs.Is(err, errs.CodeUserDenied))
	}
	assert.Len(t, f.consent.Prompts(), 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PromptsThrottled))

	// Other origins have their own budget.
	err := f.mediator.Assert(context.Background(), types.Actor{Origin: "https://other.example"}, types.ActionWrite, f.drive)
	assert.True(t, errs.Is(err, errs.CodeUserDenied))
	assert.Len(t, f.consent.Prompts(), 2)
}

func TestMediator_UnthrottledByDefault(t *testing.T) {
	f := newFixture(t, consent.NewStatic(false, nil), Options{})
	actor := types.Actor{Origin: "https://app.example"}

	for i := 0; i < 3*DefaultPromptBurst; i++ {
		err := f.mediator.Assert(context.Background(), actor, types.ActionWrite, f.drive)
		assert.True(t, errs.Is(err, errs.CodeUserDenied))
	}
	assert.Len(t, f.consent.Prompts(), 3*DefaultPromptBurst)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.PromptsThrottled))
	assert.Empty(t, f.mediator.limiters)
}

func TestMediator_IdleLimitersArePruned(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, consent.NewStatic(false, nil), Options{
		PromptRate:  rate.Every(time.Minute),
		PromptBurst: 1,
		Now:         func() time.Time { return now },
	})

	for _, origin := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		_ = f.mediator.Assert(context.Background(), types.Actor{Origin: origin}, types.ActionWrite, f.drive)
	}
	assert.Len(t, f.mediator.limiters, 3)

	// a.example is out of budget until its bucket refills.
	_ = f.mediator.Assert(context.Background(), types.Actor{Origin: "https://a.example"}, types.ActionWrite, f.drive)
	assert.Len(t, f.consent.Prompts(), 3)

	now = now.Add(2 * time.Minute)
	_ = f.mediator.Assert(context.Background(), types.Actor{Origin: "https://d.example"}, types.ActionWrite, f.drive)
	assert.Len(t, f.mediator.limiters, 1)

	_ = f.mediator.Assert(context.Background(), types.Actor{Origin: "https://a.example"}, types.ActionWrite, f.drive)
	assert.Len(t, f.consent.Prompts(), 5)
}

func TestMediator_UnverifiedOriginPrompts(t *testing.T) {
	f := newFixture(t, consent.NewStatic(false, nil), Options{})
	actor := types.Actor{Origin: "hyper://" + testKey(0xaa).String() + "/", Unverified: true}

	err := f.mediator.Assert(context.Background(), actor, types.ActionWrite, f.drive)
	assert.True(t, errs.Is(err, errs.CodeUserDenied), "got %v", err)
	assert.Len(t, f.consent.Prompts(), 1)
}

func TestMediator_CancelledContextDoesNotPrompt(t *testing.T) {
	f := newFixture(t, consent.NewStatic(true, nil), Options{})
	cause := errors.New("caller gave up")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	err := f.mediator.Assert(ctx, types.Actor{Origin: "https://app.example"}, types.ActionWrite, f.drive)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, f.consent.Prompts())

	grants, err := f.grants.ListGrants(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestRequirePrivileged(t *testing.T) {
	assert.NoError(t, RequirePrivileged(types.Host(), "merge"))

	err := RequirePrivileged(types.Actor{Origin: "https://app.example"}, "merge")
	assert.True(t, errs.Is(err, errs.CodePermissions))
	assert.True(t, errs.IsDenial(err))
}
