package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/sharegate/internal/identity"
	"github.com/xxxsen/sharegate/internal/model"
	appErr "github.com/xxxsen/sharegate/internal/pkg/errors"
	"github.com/xxxsen/sharegate/internal/pkg/password"
	"github.com/xxxsen/sharegate/internal/pkg/shareerr"
	"github.com/xxxsen/sharegate/internal/pkg/sharetoken"
)

const (
	maxShareNameLen   = 255
	removedByOwnerMsg = "removed by owner"
)

type CreateShareInput struct {
	Name              string
	Description       string
	Password          string
	MaxViews          *int
	Expiration        int64
	IsPublic          *bool
	Size              int64
	ReverseShareToken string
}

// CreatedShare carries the upload token the creator needs to add files and
// complete the share. It is unrelated to view access tokens.
type CreatedShare struct {
	Share       *model.Share `json:"share"`
	UploadToken string       `json:"upload_token"`
}

// UpdateShareInput holds the fields an owner may change after creation. Nil
// leaves a field untouched.
type UpdateShareInput struct {
	Name        *string
	Description *string
}

type AddFileInput struct {
	Name string
	Size int64
	Mime string
}

// Uploader is the caller of an upload step. Authenticated creators are
// matched by identity, everyone else by the upload token.
type Uploader struct {
	Identity    identity.Identity
	UploadToken string
}

type ShareService struct {
	shares        ShareStore
	files         ShareFileStore
	reverseShares ReverseShareStore
	exchange      *ReverseShareService
	uploads       *sharetoken.Codec
	notifier      *Notifier
	maxExpiration time.Duration
	now           Clock
}

func NewShareService(shares ShareStore, files ShareFileStore, reverseShares ReverseShareStore,
	exchange *ReverseShareService, uploads *sharetoken.Codec, notifier *Notifier,
	maxExpiration time.Duration, opts ...Option) *ShareService {
	o := applyOptions(opts)
	return &ShareService{
		shares:        shares,
		files:         files,
		reverseShares: reverseShares,
		exchange:      exchange,
		uploads:       uploads,
		notifier:      notifier,
		maxExpiration: maxExpiration,
		now:           o.now,
	}
}

// Create stores a new share. With a reverse share token the share is minted by
// redeeming it and belongs to the reverse share's owner; otherwise the caller
// owns it and must have passed the fallback guard.
func (s *ShareService) Create(ctx context.Context, id identity.Identity, input CreateShareInput) (*CreatedShare, error) {
	name, err := normalizeShareName(input.Name)
	if err != nil {
		return nil, err
	}
	input.Name = name
	if input.MaxViews != nil && *input.MaxViews < 0 {
		return nil, appErr.Invalidf("max views must not be negative")
	}
	if input.Size < 0 {
		return nil, appErr.Invalidf("size must not be negative")
	}
	var hash string
	if input.Password != "" {
		h, err := password.Hash(input.Password)
		if err != nil {
			return nil, err
		}
		hash = h
	}
	now := s.now().Unix()
	draft := &model.Share{
		CreatorID:    id.UserID,
		Name:         input.Name,
		Description:  input.Description,
		PasswordHash: hash,
		MaxViews:     input.MaxViews,
		Ctime:        now,
		Mtime:        now,
	}

	var shareID string
	if token := strings.TrimSpace(input.ReverseShareToken); token != "" {
		params, err := s.exchange.Redeem(ctx, token, input.Size, draft)
		if err != nil {
			return nil, err
		}
		shareID = params.ShareID
	} else {
		if id.State == identity.StateRejected {
			return nil, appErr.ErrUnauthorized
		}
		if err := s.checkExpiration(input.Expiration, now); err != nil {
			return nil, err
		}
		draft.ID = newID()
		draft.OwnerID = id.UserID
		draft.Expiration = input.Expiration
		draft.IsPublic = input.IsPublic == nil || *input.IsPublic
		if err := s.shares.Create(ctx, draft); err != nil {
			return nil, err
		}
		shareID = draft.ID
	}

	share, err := s.shares.GetShare(ctx, shareID)
	if err != nil {
		return nil, err
	}
	uploadToken, err := s.uploads.Issue(share.ID)
	if err != nil {
		return nil, fmt.Errorf("issue upload token: %w", err)
	}
	logutil.GetLogger(ctx).Info("share created",
		zap.String("share_id", share.ID),
		zap.String("owner_id", share.OwnerID),
		zap.Bool("reverse", share.ReverseShareID != ""))
	return &CreatedShare{Share: share, UploadToken: uploadToken}, nil
}

func (s *ShareService) checkExpiration(expiration, now int64) error {
	if expiration < 0 || (expiration != 0 && expiration <= now) {
		return appErr.Invalidf("expiration must be in the future")
	}
	if s.maxExpiration <= 0 {
		return nil
	}
	if expiration == 0 {
		return appErr.Invalidf("shares must expire")
	}
	if expiration-now > int64(s.maxExpiration/time.Second) {
		return appErr.Invalidf("expiration exceeds the maximum allowed")
	}
	return nil
}

// AddFile records file metadata on a share that is still open for uploads.
// Shares minted from a reverse share may not grow past the size limit stamped
// on them at redemption, even after the reverse share is gone.
func (s *ShareService) AddFile(ctx context.Context, caller Uploader, shareID string, input AddFileInput) (*model.ShareFile, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return nil, appErr.Invalidf("file name is required")
	}
	if input.Size < 0 {
		return nil, appErr.Invalidf("file size must not be negative")
	}
	share, err := s.openForUpload(ctx, caller, shareID)
	if err != nil {
		return nil, err
	}
	file := &model.ShareFile{
		ID:      newID(),
		ShareID: share.ID,
		Name:    input.Name,
		Size:    input.Size,
		Mime:    input.Mime,
		Ctime:   s.now().Unix(),
	}
	ok, err := s.files.AddWithinLimit(ctx, file, share.MaxSize)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shareerr.New(shareerr.KindReverseShareSizeExceeded, msgSizeExceeded)
	}
	return file, nil
}

// Complete closes a share for uploads and tells the reverse share owner, when
// they asked for it.
func (s *ShareService) Complete(ctx context.Context, caller Uploader, shareID string) (*model.Share, error) {
	share, err := s.openForUpload(ctx, caller, shareID)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	if err := s.shares.LockUpload(ctx, share.ID, now); err != nil {
		return nil, err
	}
	share.UploadLocked = true
	share.Mtime = now
	files, err := s.files.ListFiles(ctx, share.ID)
	if err != nil {
		return nil, err
	}
	share.Files = files
	if share.ReverseShareID != "" && s.notifier != nil {
		rs, err := s.reverseShares.GetByID(ctx, share.OwnerID, share.ReverseShareID)
		if err == nil && rs.SendEmailNotification {
			s.notifier.ReverseShareUsed(ctx, share)
		}
	}
	return share, nil
}

func (s *ShareService) openForUpload(ctx context.Context, caller Uploader, shareID string) (*model.Share, error) {
	share, err := s.shares.GetShare(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if share.Removed() {
		return nil, appErr.ErrNotFound
	}
	allowed := (caller.Identity.IsAuthenticated() && caller.Identity.UserID == share.CreatorID) ||
		s.uploads.Verify(caller.UploadToken, share.ID) == nil
	if !allowed {
		return nil, appErr.ErrForbidden
	}
	if share.UploadLocked {
		return nil, appErr.Invalidf("share is already completed")
	}
	return share, nil
}

// ListMine returns the live shares owned by userID with their files.
func (s *ShareService) ListMine(ctx context.Context, userID string) ([]model.Share, error) {
	items, err := s.shares.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		files, err := s.files.ListFiles(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Files = files
	}
	return items, nil
}

// Remove soft deletes a share. Later access reports it as deleted.
func (s *ShareService) Remove(ctx context.Context, userID, shareID string) error {
	share, err := s.shares.GetShare(ctx, shareID)
	if err != nil {
		return err
	}
	if share.Removed() {
		return appErr.ErrNotFound
	}
	if !share.CanManage(userID) {
		return appErr.ErrForbidden
	}
	return s.shares.Remove(ctx, share.ID, removedByOwnerMsg, s.now().Unix())
}

// UpdateDetails changes the display fields of a live share the caller manages.
// Access policy fields are fixed at creation.
func (s *ShareService) UpdateDetails(ctx context.Context, userID, shareID string, input UpdateShareInput) (*model.Share, error) {
	share, err := s.shares.GetShare(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if share.Removed() {
		return nil, appErr.ErrNotFound
	}
	if !share.CanManage(userID) {
		return nil, appErr.ErrForbidden
	}
	if input.Name != nil {
		name, err := normalizeShareName(*input.Name)
		if err != nil {
			return nil, err
		}
		share.Name = name
	}
	if input.Description != nil {
		share.Description = strings.TrimSpace(*input.Description)
	}
	share.Mtime = s.now().Unix()
	if err := s.shares.UpdateDetails(ctx, share); err != nil {
		return nil, err
	}
	return share, nil
}

func normalizeShareName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", appErr.Invalidf("name is required")
	}
	if len(name) > maxShareNameLen {
		return "", appErr.Invalidf("name is too long")
	}
	return name, nil
}
