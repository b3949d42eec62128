package service

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/sharegate/internal/denycache"
	"github.com/xxxsen/sharegate/internal/identity"
	"github.com/xxxsen/sharegate/internal/model"
	appErr "github.com/xxxsen/sharegate/internal/pkg/errors"
	"github.com/xxxsen/sharegate/internal/pkg/password"
	"github.com/xxxsen/sharegate/internal/pkg/shareerr"
	"github.com/xxxsen/sharegate/internal/pkg/sharetoken"
)

const (
	msgShareNotFound    = "share not found"
	msgShareDeleted     = "share has been deleted"
	msgShareExpired     = "share has expired"
	msgViewsExceeded    = "share has reached its view limit"
	msgPrivateShare     = "share is private"
	msgPasswordRequired = "share is password protected"
	msgInvalidPassword  = "wrong password"
	msgTokenRequired    = "share access token required"
)

// Credential is what a caller presented for a share. Either field may be empty.
type Credential struct {
	Password    string
	AccessToken string
}

// Grant is a successful share level authorization. Counted is false when the
// caller reused a valid access token and no view was consumed.
type Grant struct {
	Share       *model.Share
	AccessToken string
	ExpiresAt   int64
	Counted     bool
}

type AccessService struct {
	shares ShareStore
	files  ShareFileStore
	codec  *sharetoken.Codec
	cache  denycache.Cache
	now    Clock
}

func NewAccessService(shares ShareStore, files ShareFileStore, codec *sharetoken.Codec, opts ...Option) *AccessService {
	o := applyOptions(opts)
	return &AccessService{shares: shares, files: files, codec: codec, cache: o.cache, now: o.now}
}

// accessRequest is the immutable input every guard looks at. share is nil
// when no record exists for shareID.
type accessRequest struct {
	shareID  string
	share    *model.Share
	identity identity.Identity
	cred     Credential
	tokenOK  bool
	tokenExp int64
	now      int64
}

type verdict int

const (
	verdictNext verdict = iota
	verdictGrant
	verdictCountView
)

type guard struct {
	name  string
	check func(r *accessRequest) (verdict, *shareerr.Error)
}

// Precedence matters: clients branch on which error wins.
var grantGuards = []guard{
	{name: "exists", check: guardExists},
	{name: "expiration", check: guardNotExpired},
	{name: "view_limit", check: guardViewLimit},
	{name: "visibility", check: guardVisibility},
	{name: "access_token", check: guardAccessToken},
	{name: "password", check: guardPassword},
}

// Fetching a file never counts a view, so the view limit is not rechecked:
// the token already stands for a counted view.
var fetchGuards = []guard{
	{name: "exists", check: guardExists},
	{name: "expiration", check: guardNotExpired},
	{name: "visibility", check: guardVisibility},
	{name: "fetch_token", check: guardFetchToken},
}

// recheckGuards classify a share whose view increment did not apply.
var recheckGuards = []guard{
	{name: "exists", check: guardExists},
	{name: "expiration", check: guardNotExpired},
	{name: "view_limit", check: guardViewLimit},
}

func guardExists(r *accessRequest) (verdict, *shareerr.Error) {
	if r.share == nil {
		return verdictNext, shareerr.New(shareerr.KindShareRemoved, msgShareNotFound)
	}
	if r.share.Removed() {
		return verdictNext, shareerr.New(shareerr.KindShareRemoved, msgShareDeleted)
	}
	return verdictNext, nil
}

func guardNotExpired(r *accessRequest) (verdict, *shareerr.Error) {
	if r.share.Expired(r.now) {
		return verdictNext, shareerr.New(shareerr.KindShareRemoved, msgShareExpired)
	}
	return verdictNext, nil
}

func guardViewLimit(r *accessRequest) (verdict, *shareerr.Error) {
	if r.share.ViewsExhausted() {
		return verdictNext, shareerr.New(shareerr.KindViewsExceeded, msgViewsExceeded)
	}
	return verdictNext, nil
}

func guardVisibility(r *accessRequest) (verdict, *shareerr.Error) {
	if !r.share.IsPublic && r.identity.IsAnonymous() {
		return verdictNext, shareerr.New(shareerr.KindPrivateShare, msgPrivateShare)
	}
	return verdictNext, nil
}

func guardAccessToken(r *accessRequest) (verdict, *shareerr.Error) {
	if r.tokenOK {
		return verdictGrant, nil
	}
	return verdictNext, nil
}

func guardPassword(r *accessRequest) (verdict, *shareerr.Error) {
	if !r.share.HasPassword() {
		return verdictCountView, nil
	}
	if r.cred.Password == "" {
		return verdictNext, shareerr.New(shareerr.KindPasswordRequired, msgPasswordRequired)
	}
	if err := password.Compare(r.share.PasswordHash, r.cred.Password); err != nil {
		return verdictNext, shareerr.New(shareerr.KindInvalidPassword, msgInvalidPassword)
	}
	return verdictCountView, nil
}

func guardFetchToken(r *accessRequest) (verdict, *shareerr.Error) {
	if r.tokenOK {
		return verdictGrant, nil
	}
	if r.share.HasPassword() {
		return verdictNext, shareerr.New(shareerr.KindPasswordRequired, msgPasswordRequired)
	}
	return verdictNext, shareerr.New(shareerr.KindTokenRequired, msgTokenRequired)
}

// evaluate runs guards in order and stops at the first denial or decision.
func evaluate(guards []guard, r *accessRequest) (verdict, *shareerr.Error) {
	for _, g := range guards {
		v, denial := g.check(r)
		if denial != nil {
			return verdictNext, denial
		}
		if v != verdictNext {
			return v, nil
		}
	}
	return verdictNext, nil
}

// Authorize decides share level access for the presented credential. A grant
// either reuses a valid access token for free or consumes exactly one view and
// issues a fresh token. Challenges and denials come back as *shareerr.Error;
// any other error is a store fault and nothing was counted.
func (s *AccessService) Authorize(ctx context.Context, shareID string, cred Credential, id identity.Identity) (*Grant, error) {
	key := denycache.ShareKey(shareID)
	if denial, ok := s.cache.Get(ctx, key); ok {
		return nil, denial
	}
	r, err := s.newRequest(ctx, shareID, cred, id)
	if err != nil {
		return nil, err
	}
	v, denial := evaluate(grantGuards, r)
	if denial != nil {
		s.deny(ctx, key, denial)
		return nil, denial
	}
	share := *r.share
	files, err := s.files.ListFiles(ctx, share.ID)
	if err != nil {
		return nil, fmt.Errorf("list share files: %w", err)
	}
	share.Files = files
	switch v {
	case verdictGrant:
		return &Grant{Share: &share, AccessToken: cred.AccessToken, ExpiresAt: r.tokenExp}, nil
	case verdictCountView:
		return s.countView(ctx, r, &share)
	default:
		return nil, fmt.Errorf("no access decision for share %s", shareID)
	}
}

// AuthorizeFetch checks a per file download. It never counts a view: the
// caller must hold a valid access token for the share.
func (s *AccessService) AuthorizeFetch(ctx context.Context, shareID, fileID, accessToken string, id identity.Identity) (*model.ShareFile, error) {
	key := denycache.ShareKey(shareID)
	if denial, ok := s.cache.Get(ctx, key); ok && denial.Kind == shareerr.KindShareRemoved {
		return nil, denial
	}
	r, err := s.newRequest(ctx, shareID, Credential{AccessToken: accessToken}, id)
	if err != nil {
		return nil, err
	}
	if _, denial := evaluate(fetchGuards, r); denial != nil {
		s.deny(ctx, key, denial)
		return nil, denial
	}
	file, err := s.files.GetFile(ctx, shareID, fileID)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, appErr.ErrNotFound
		}
		return nil, fmt.Errorf("get share file: %w", err)
	}
	return file, nil
}

func (s *AccessService) newRequest(ctx context.Context, shareID string, cred Credential, id identity.Identity) (*accessRequest, error) {
	share, err := s.loadShare(ctx, shareID)
	if err != nil {
		return nil, err
	}
	r := &accessRequest{
		shareID:  shareID,
		share:    share,
		identity: id,
		cred:     cred,
		now:      s.now().Unix(),
	}
	if cred.AccessToken != "" {
		if claims, err := s.codec.Parse(cred.AccessToken, shareID); err == nil {
			r.tokenOK = true
			if claims.ExpiresAt != nil {
				r.tokenExp = claims.ExpiresAt.Unix()
			}
		}
	}
	return r, nil
}

func (s *AccessService) loadShare(ctx context.Context, shareID string) (*model.Share, error) {
	share, err := s.shares.GetShare(ctx, shareID)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load share: %w", err)
	}
	return share, nil
}

// countView issues the token first so that a failure after the increment
// cannot leave a counted view without a credential.
func (s *AccessService) countView(ctx context.Context, r *accessRequest, share *model.Share) (*Grant, error) {
	token, err := s.codec.Issue(share.ID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	ok, err := s.shares.TryIncrementViewCount(ctx, share.ID, r.now)
	if err != nil {
		return nil, fmt.Errorf("count share view: %w", err)
	}
	if !ok {
		return nil, s.explainLostIncrement(ctx, r)
	}
	share.Views++
	logutil.GetLogger(ctx).Debug("share view granted",
		zap.String("share_id", share.ID), zap.Int("views", share.Views))
	return &Grant{
		Share:       share,
		AccessToken: token,
		ExpiresAt:   r.now + int64(s.codec.TTL().Seconds()),
		Counted:     true,
	}, nil
}

// explainLostIncrement reloads the share after a refused increment. Whatever
// changed in between decides the denial; a share that still looks fine lost
// the race for its last view.
func (s *AccessService) explainLostIncrement(ctx context.Context, r *accessRequest) error {
	share, err := s.loadShare(ctx, r.shareID)
	if err != nil {
		return err
	}
	fresh := *r
	fresh.share = share
	key := denycache.ShareKey(r.shareID)
	if _, denial := evaluate(recheckGuards, &fresh); denial != nil {
		s.deny(ctx, key, denial)
		return denial
	}
	return shareerr.New(shareerr.KindViewsExceeded, msgViewsExceeded)
}

func (s *AccessService) deny(ctx context.Context, key string, denial *shareerr.Error) {
	if denial.Kind.Cacheable() {
		s.cache.Put(ctx, key, denial)
	}
	logutil.GetLogger(ctx).Debug("share access denied",
		zap.String("key", key), zap.String("kind", string(denial.Kind)))
}
