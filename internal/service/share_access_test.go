package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/sharegate/internal/denycache"
	"github.com/xxxsen/sharegate/internal/identity"
	"github.com/xxxsen/sharegate/internal/model"
	appErr "github.com/xxxsen/sharegate/internal/pkg/errors"
	"github.com/xxxsen/sharegate/internal/pkg/password"
	"github.com/xxxsen/sharegate/internal/pkg/shareerr"
	"github.com/xxxsen/sharegate/internal/pkg/sharetoken"
)

func init() {
	password.SetCost(4)
}

type accessFixture struct {
	store  *memStore
	clock  *fixedClock
	codec  *sharetoken.Codec
	access *AccessService
}

func newAccessFixture(t *testing.T, opts ...Option) *accessFixture {
	t.Helper()
	store := newMemStore()
	clock := newFixedClock()
	codec := sharetoken.NewCodec([]byte("share-secret"), time.Hour, sharetoken.WithClock(clock.Now))
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &accessFixture{
		store:  store,
		clock:  clock,
		codec:  codec,
		access: NewAccessService(store, memFiles{store}, codec, opts...),
	}
}

func hashOf(t *testing.T, plain string) string {
	t.Helper()
	h, err := password.Hash(plain)
	require.NoError(t, err)
	return h
}

func requireKind(t *testing.T, err error, kind shareerr.Kind) {
	t.Helper()
	require.Error(t, err)
	e, ok := shareerr.As(err)
	require.True(t, ok, "expected share error, got %v", err)
	require.Equal(t, kind, e.Kind)
}

func TestAuthorizeDecisionTable(t *testing.T) {
	f := newAccessFixture(t)
	now := f.clock.Now().Unix()
	secretHash := hashOf(t, "open-sesame")

	f.store.put(model.Share{ID: "removed", IsPublic: true, RemovedAt: now - 10})
	f.store.put(model.Share{ID: "expired", IsPublic: true, Expiration: now})
	f.store.put(model.Share{ID: "exhausted", IsPublic: true, MaxViews: intPtr(3), Views: 3, PasswordHash: secretHash})
	f.store.put(model.Share{ID: "private", IsPublic: false})
	f.store.put(model.Share{ID: "open", IsPublic: true})
	f.store.put(model.Share{ID: "locked", IsPublic: true, PasswordHash: secretHash})

	lockedToken, err := f.codec.Issue("locked")
	require.NoError(t, err)
	openToken, err := f.codec.Issue("open")
	require.NoError(t, err)

	anon := identity.Anonymous()
	user := identity.Authenticated("user-1", "")

	tests := []struct {
		name    string
		shareID string
		cred    Credential
		id      identity.Identity
		kind    shareerr.Kind
		msg     string
		counted bool
	}{
		{name: "missing", shareID: "nope", id: anon, kind: shareerr.KindShareRemoved, msg: msgShareNotFound},
		{name: "deleted", shareID: "removed", id: user, kind: shareerr.KindShareRemoved, msg: msgShareDeleted},
		{name: "expired", shareID: "expired", id: user, kind: shareerr.KindShareRemoved, msg: msgShareExpired},
		{name: "limit before password", shareID: "exhausted", id: user, cred: Credential{Password: "open-sesame"}, kind: shareerr.KindViewsExceeded},
		{name: "limit before wrong password", shareID: "exhausted", id: user, cred: Credential{Password: "nope"}, kind: shareerr.KindViewsExceeded},
		{name: "private anonymous", shareID: "private", id: anon, kind: shareerr.KindPrivateShare},
		{name: "private authenticated", shareID: "private", id: user, counted: true},
		{name: "no password", shareID: "open", id: anon, counted: true},
		{name: "no password token reuse", shareID: "open", id: anon, cred: Credential{AccessToken: openToken}},
		{name: "password missing", shareID: "locked", id: anon, kind: shareerr.KindPasswordRequired},
		{name: "password wrong", shareID: "locked", id: anon, cred: Credential{Password: "guess"}, kind: shareerr.KindInvalidPassword},
		{name: "password right", shareID: "locked", id: anon, cred: Credential{Password: "open-sesame"}, counted: true},
		{name: "token", shareID: "locked", id: anon, cred: Credential{AccessToken: lockedToken}},
		{name: "token for other share", shareID: "locked", id: anon, cred: Credential{AccessToken: openToken}, kind: shareerr.KindPasswordRequired},
		{name: "token for other share with wrong password", shareID: "locked", id: anon, cred: Credential{AccessToken: openToken, Password: "guess"}, kind: shareerr.KindInvalidPassword},
		{name: "token wins over password", shareID: "locked", id: anon, cred: Credential{AccessToken: lockedToken, Password: "guess"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.store.views(tt.shareID)
			grant, err := f.access.Authorize(context.Background(), tt.shareID, tt.cred, tt.id)
			if tt.kind != "" {
				requireKind(t, err, tt.kind)
				if tt.msg != "" {
					e, _ := shareerr.As(err)
					require.Equal(t, tt.msg, e.Message)
				}
				require.Nil(t, grant)
				require.Equal(t, before, f.store.views(tt.shareID))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.counted, grant.Counted)
			require.NoError(t, f.codec.Verify(grant.AccessToken, tt.shareID))
			if tt.counted {
				require.Equal(t, before+1, f.store.views(tt.shareID))
				require.Equal(t, before+1, grant.Share.Views)
			} else {
				require.Equal(t, before, f.store.views(tt.shareID))
			}
		})
	}
}

func TestAuthorizeConcurrentViewLimit(t *testing.T) {
	f := newAccessFixture(t)
	const maxViews, attempts = 5, 40
	f.store.put(model.Share{ID: "hot", IsPublic: true, MaxViews: intPtr(maxViews)})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  int
		exceeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.access.Authorize(context.Background(), "hot", Credential{}, identity.Anonymous())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case shareerr.IsKind(err, shareerr.KindViewsExceeded):
				exceeded++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, maxViews, granted)
	require.Equal(t, attempts-maxViews, exceeded)
	require.Equal(t, maxViews, f.store.views("hot"))
}

func TestAuthorizeTokenReuseIsFree(t *testing.T) {
	f := newAccessFixture(t)
	f.store.put(model.Share{ID: "s", IsPublic: true, PasswordHash: hashOf(t, "pw"), MaxViews: intPtr(10)})
	ctx := context.Background()

	grant, err := f.access.Authorize(ctx, "s", Credential{Password: "pw"}, identity.Anonymous())
	require.NoError(t, err)
	require.True(t, grant.Counted)
	require.Equal(t, 1, f.store.views("s"))

	for i := 0; i < 3; i++ {
		again, err := f.access.Authorize(ctx, "s", Credential{AccessToken: grant.AccessToken, Password: "pw"}, identity.Anonymous())
		require.NoError(t, err)
		require.False(t, again.Counted)
		require.Equal(t, grant.AccessToken, again.AccessToken)
		require.Equal(t, grant.ExpiresAt, again.ExpiresAt)
	}
	require.NotZero(t, grant.ExpiresAt)
	require.Equal(t, 1, f.store.views("s"))

	f.clock.Advance(2 * time.Hour)
	_, err = f.access.Authorize(ctx, "s", Credential{AccessToken: grant.AccessToken}, identity.Anonymous())
	requireKind(t, err, shareerr.KindPasswordRequired)
}

func TestAuthorizeLostIncrementReportsViewsExceeded(t *testing.T) {
	store := newMemStore()
	clock := newFixedClock()
	codec := sharetoken.NewCodec([]byte("k"), time.Hour, sharetoken.WithClock(clock.Now))
	access := NewAccessService(racyShares{store}, memFiles{store}, codec, WithClock(clock.Now))
	store.put(model.Share{ID: "s", IsPublic: true, MaxViews: intPtr(1)})

	_, err := access.Authorize(context.Background(), "s", Credential{}, identity.Anonymous())
	requireKind(t, err, shareerr.KindViewsExceeded)
	require.Equal(t, 0, store.views("s"))
}

func TestAuthorizeStoreFaultIsNotADenial(t *testing.T) {
	f := newAccessFixture(t)
	f.store.put(model.Share{ID: "s", IsPublic: true})
	f.store.failWith = errStoreDown

	_, err := f.access.Authorize(context.Background(), "s", Credential{}, identity.Anonymous())
	require.ErrorIs(t, err, errStoreDown)
	_, ok := shareerr.As(err)
	require.False(t, ok)
	require.Equal(t, 0, f.store.views("s"))
}

func TestAuthorizeCachesTerminalDenials(t *testing.T) {
	f := newAccessFixture(t, WithDenyCache(denycache.NewLRU(16, time.Minute)))
	now := f.clock.Now().Unix()
	f.store.put(model.Share{ID: "gone", IsPublic: true, RemovedAt: now})
	f.store.put(model.Share{ID: "locked", IsPublic: true, PasswordHash: hashOf(t, "pw")})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.access.Authorize(ctx, "gone", Credential{}, identity.Anonymous())
		requireKind(t, err, shareerr.KindShareRemoved)
	}
	require.EqualValues(t, 1, f.store.getCalls.Load())

	for i := 0; i < 2; i++ {
		_, err := f.access.Authorize(ctx, "locked", Credential{}, identity.Anonymous())
		requireKind(t, err, shareerr.KindPasswordRequired)
	}
	require.EqualValues(t, 3, f.store.getCalls.Load())
}

func TestAuthorizeAttachesFiles(t *testing.T) {
	f := newAccessFixture(t)
	f.store.put(model.Share{ID: "s", IsPublic: true})
	ok, err := memFiles{f.store}.AddWithinLimit(context.Background(), &model.ShareFile{ID: "f1", ShareID: "s", Name: "a.txt", Size: 3}, 0)
	require.NoError(t, err)
	require.True(t, ok)

	grant, err := f.access.Authorize(context.Background(), "s", Credential{}, identity.Anonymous())
	require.NoError(t, err)
	require.Len(t, grant.Share.Files, 1)
	require.Equal(t, "a.txt", grant.Share.Files[0].Name)
	require.Equal(t, f.clock.Now().Add(time.Hour).Unix(), grant.ExpiresAt)
}

func TestAuthorizeFetch(t *testing.T) {
	f := newAccessFixture(t)
	ctx := context.Background()
	f.store.put(model.Share{ID: "open", IsPublic: true, MaxViews: intPtr(1)})
	f.store.put(model.Share{ID: "locked", IsPublic: true, PasswordHash: hashOf(t, "pw")})
	f.store.put(model.Share{ID: "private", IsPublic: false})
	for _, id := range []string{"open", "locked", "private"} {
		_, err := memFiles{f.store}.AddWithinLimit(ctx, &model.ShareFile{ID: id + "-file", ShareID: id, Name: "x"}, 0)
		require.NoError(t, err)
	}

	_, err := f.access.AuthorizeFetch(ctx, "open", "open-file", "", identity.Anonymous())
	requireKind(t, err, shareerr.KindTokenRequired)
	_, err = f.access.AuthorizeFetch(ctx, "locked", "locked-file", "", identity.Anonymous())
	requireKind(t, err, shareerr.KindPasswordRequired)
	_, err = f.access.AuthorizeFetch(ctx, "private", "private-file", "", identity.Anonymous())
	requireKind(t, err, shareerr.KindPrivateShare)

	grant, err := f.access.Authorize(ctx, "open", Credential{}, identity.Anonymous())
	require.NoError(t, err)
	require.Equal(t, 1, f.store.views("open"))

	// the last counted view can still fetch every file it was granted
	for i := 0; i < 3; i++ {
		file, err := f.access.AuthorizeFetch(ctx, "open", "open-file", grant.AccessToken, identity.Anonymous())
		require.NoError(t, err)
		require.Equal(t, "open-file", file.ID)
	}
	require.Equal(t, 1, f.store.views("open"))

	_, err = f.access.AuthorizeFetch(ctx, "locked", "locked-file", grant.AccessToken, identity.Anonymous())
	requireKind(t, err, shareerr.KindPasswordRequired)

	_, err = f.access.AuthorizeFetch(ctx, "open", "missing", grant.AccessToken, identity.Anonymous())
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.NoError(t, f.store.Remove(ctx, "open", "gone", f.clock.Now().Unix()))
	_, err = f.access.AuthorizeFetch(ctx, "open", "open-file", grant.AccessToken, identity.Anonymous())
	requireKind(t, err, shareerr.KindShareRemoved)
}
