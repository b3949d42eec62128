package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/sharegate/internal/denycache"
	"github.com/xxxsen/sharegate/internal/model"
	appErr "github.com/xxxsen/sharegate/internal/pkg/errors"
	"github.com/xxxsen/sharegate/internal/pkg/shareerr"
)

const (
	msgReverseNotFound  = "reverse share not found"
	msgReverseExhausted = "reverse share has no uses left"
	msgReverseExpired   = "reverse share has expired"
	msgSizeExceeded     = "share is larger than the reverse share allows"
)

// ReverseSharePolicy is the configuration the exchange engine reads.
type ReverseSharePolicy struct {
	MaxExpiration time.Duration
	SMTPEnabled   bool
}

// NewShareParams are the policy fields a redemption stamps onto the share it
// authorizes. The share itself is already stored under ShareID.
type NewShareParams struct {
	ShareID        string `json:"share_id"`
	OwnerID        string `json:"owner_id"`
	ReverseShareID string `json:"reverse_share_id"`
	Expiration     int64  `json:"expiration"`
	PublicAccess   bool   `json:"public_access"`
	MaxShareSize   int64  `json:"max_share_size"`
}

type CreateReverseShareInput struct {
	MaxShareSize          int64
	ShareExpiration       time.Duration
	RemainingUses         *int
	Expiration            int64
	PublicAccess          bool
	SendEmailNotification bool
}

// ReverseShareWithShares is the owner dashboard view of a reverse share.
type ReverseShareWithShares struct {
	model.ReverseShare
	Shares []model.Share `json:"shares"`
}

type ReverseShareService struct {
	reverse ReverseShareStore
	shares  ShareStore
	policy  ReverseSharePolicy
	cache   denycache.Cache
	now     Clock
}

func NewReverseShareService(reverse ReverseShareStore, shares ShareStore, policy ReverseSharePolicy, opts ...Option) *ReverseShareService {
	o := applyOptions(opts)
	return &ReverseShareService{reverse: reverse, shares: shares, policy: policy, cache: o.cache, now: o.now}
}

func classifyReverseShare(rs *model.ReverseShare, now int64) *shareerr.Error {
	switch {
	case rs == nil:
		return shareerr.New(shareerr.KindReverseShareNotFound, msgReverseNotFound)
	case rs.Exhausted():
		return shareerr.New(shareerr.KindReverseShareExhausted, msgReverseExhausted)
	case rs.Expired(now):
		return shareerr.New(shareerr.KindReverseShareExpired, msgReverseExpired)
	}
	return nil
}

// Check reports whether token could be redeemed right now without consuming
// a use.
func (s *ReverseShareService) Check(ctx context.Context, token string) (*model.ReverseShare, error) {
	key := denycache.ReverseShareKey(token)
	if denial, ok := s.cache.Get(ctx, key); ok {
		return nil, denial
	}
	rs, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if denial := classifyReverseShare(rs, s.now().Unix()); denial != nil {
		s.cache.Put(ctx, key, denial)
		return nil, denial
	}
	return rs, nil
}

// Redeem consumes one use of token and stores draft as the share it
// authorizes, in one atomic step. draft carries the uploader's own fields;
// the inherited policy fields are overwritten from the reverse share. A nil
// draft stores an empty placeholder. When the last use is taken by a
// concurrent caller Redeem reports exhausted, never success.
func (s *ReverseShareService) Redeem(ctx context.Context, token string, proposedSize int64, draft *model.Share) (*NewShareParams, error) {
	key := denycache.ReverseShareKey(token)
	if denial, ok := s.cache.Get(ctx, key); ok {
		return nil, denial
	}
	now := s.now()
	rs, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if denial := classifyReverseShare(rs, now.Unix()); denial != nil {
		s.cache.Put(ctx, key, denial)
		return nil, denial
	}
	if proposedSize > rs.MaxShareSize {
		return nil, shareerr.New(shareerr.KindReverseShareSizeExceeded, msgSizeExceeded)
	}
	share := &model.Share{}
	if draft != nil {
		copied := *draft
		share = &copied
	}
	share.ID = newID()
	share.OwnerID = rs.OwnerID
	share.ReverseShareID = rs.ID
	share.Expiration = s.stampExpiration(rs, now)
	share.IsPublic = rs.PublicAccess
	share.MaxSize = rs.MaxShareSize
	share.Views = 0
	share.RemovedAt = 0
	share.RemovedReason = ""
	share.Ctime = now.Unix()
	share.Mtime = now.Unix()

	ok, err := s.reverse.TryDecrementRemainingUses(ctx, token, now.Unix(), share)
	if err != nil {
		return nil, fmt.Errorf("redeem reverse share: %w", err)
	}
	if !ok {
		return nil, s.explainLostRedeem(ctx, token, now.Unix())
	}
	logutil.GetLogger(ctx).Info("reverse share redeemed",
		zap.String("reverse_share_id", rs.ID), zap.String("share_id", share.ID))
	return &NewShareParams{
		ShareID:        share.ID,
		OwnerID:        rs.OwnerID,
		ReverseShareID: rs.ID,
		Expiration:     share.Expiration,
		PublicAccess:   rs.PublicAccess,
		MaxShareSize:   rs.MaxShareSize,
	}, nil
}

// stampExpiration gives the new share the reverse share's relative
// expiration, capped by the global maximum. Zero means never.
func (s *ReverseShareService) stampExpiration(rs *model.ReverseShare, now time.Time) int64 {
	ttl := time.Duration(rs.ShareExpiration) * time.Second
	if limit := s.policy.MaxExpiration; limit > 0 && (ttl <= 0 || ttl > limit) {
		ttl = limit
	}
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).Unix()
}

func (s *ReverseShareService) explainLostRedeem(ctx context.Context, token string, now int64) error {
	rs, err := s.load(ctx, token)
	if err != nil {
		return err
	}
	denial := classifyReverseShare(rs, now)
	if denial == nil {
		return shareerr.New(shareerr.KindReverseShareExhausted, msgReverseExhausted)
	}
	s.cache.Put(ctx, denycache.ReverseShareKey(token), denial)
	return denial
}

func (s *ReverseShareService) load(ctx context.Context, token string) (*model.ReverseShare, error) {
	if token == "" {
		return nil, nil
	}
	rs, err := s.reverse.GetReverseShare(ctx, token)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load reverse share: %w", err)
	}
	return rs, nil
}

func (s *ReverseShareService) Create(ctx context.Context, ownerID string, input CreateReverseShareInput) (*model.ReverseShare, error) {
	if ownerID == "" {
		return nil, appErr.ErrUnauthorized
	}
	now := s.now()
	if input.MaxShareSize <= 0 {
		return nil, appErr.Invalidf("max share size must be positive")
	}
	if input.RemainingUses != nil && *input.RemainingUses < 1 {
		return nil, appErr.Invalidf("remaining uses must be at least 1")
	}
	if input.ShareExpiration < 0 {
		return nil, appErr.Invalidf("share expiration must not be negative")
	}
	if limit := s.policy.MaxExpiration; limit > 0 {
		if input.ShareExpiration == 0 {
			return nil, appErr.Invalidf("shares must expire")
		}
		if input.ShareExpiration > limit {
			return nil, appErr.Invalidf("share expiration exceeds the maximum allowed")
		}
	}
	if input.Expiration != 0 && input.Expiration <= now.Unix() {
		return nil, appErr.Invalidf("expiration must be in the future")
	}
	if input.SendEmailNotification && !s.policy.SMTPEnabled {
		return nil, appErr.Invalidf("email notifications are not available")
	}
	rs := &model.ReverseShare{
		ID:                    newID(),
		Token:                 newToken(),
		OwnerID:               ownerID,
		MaxShareSize:          input.MaxShareSize,
		ShareExpiration:       int64(input.ShareExpiration / time.Second),
		RemainingUses:         input.RemainingUses,
		Expiration:            input.Expiration,
		PublicAccess:          input.PublicAccess,
		SendEmailNotification: input.SendEmailNotification,
		Ctime:                 now.Unix(),
		Mtime:                 now.Unix(),
	}
	if err := s.reverse.Create(ctx, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

func (s *ReverseShareService) List(ctx context.Context, ownerID string) ([]ReverseShareWithShares, error) {
	items, err := s.reverse.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	shares, err := s.shares.ListByReverseShares(ctx, ids)
	if err != nil {
		return nil, err
	}
	byReverse := make(map[string][]model.Share, len(items))
	for _, share := range shares {
		byReverse[share.ReverseShareID] = append(byReverse[share.ReverseShareID], share)
	}
	result := make([]ReverseShareWithShares, 0, len(items))
	for _, item := range items {
		linked := byReverse[item.ID]
		if linked == nil {
			linked = []model.Share{}
		}
		result = append(result, ReverseShareWithShares{ReverseShare: item, Shares: linked})
	}
	return result, nil
}

// Delete removes the reverse share. Shares created through it stay.
func (s *ReverseShareService) Delete(ctx context.Context, ownerID, id string) error {
	return s.reverse.Delete(ctx, ownerID, id)
}
