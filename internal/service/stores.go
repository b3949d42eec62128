package service

import (
	"context"
	"time"

	"github.com/xxxsen/sharegate/internal/model"
)

// Stores return errors.ErrNotFound for missing records. The Try* methods are
// the only writes that enforce limits; each one is a single atomic
// conditional update that reports whether it applied.

type ShareStore interface {
	Create(ctx context.Context, share *model.Share) error
	GetShare(ctx context.Context, id string) (*model.Share, error)
	TryIncrementViewCount(ctx context.Context, id string, now int64) (bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Share, error)
	ListByReverseShares(ctx context.Context, reverseShareIDs []string) ([]model.Share, error)
	UpdateDetails(ctx context.Context, share *model.Share) error
	LockUpload(ctx context.Context, id string, mtime int64) error
	Remove(ctx context.Context, id, reason string, now int64) error
}

type ShareFileStore interface {
	AddWithinLimit(ctx context.Context, file *model.ShareFile, limit int64) (bool, error)
	ListFiles(ctx context.Context, shareID string) ([]model.ShareFile, error)
	GetFile(ctx context.Context, shareID, fileID string) (*model.ShareFile, error)
}

type ReverseShareStore interface {
	Create(ctx context.Context, rs *model.ReverseShare) error
	GetReverseShare(ctx context.Context, token string) (*model.ReverseShare, error)
	GetByID(ctx context.Context, ownerID, id string) (*model.ReverseShare, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.ReverseShare, error)
	TryDecrementRemainingUses(ctx context.Context, token string, now int64, placeholder *model.Share) (bool, error)
	Delete(ctx context.Context, ownerID, id string) error
}

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type Clock func() time.Time
