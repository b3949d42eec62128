package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type reverseSharePurger interface {
	PurgeInert(ctx context.Context, cutoff int64) (int64, error)
}

// ReverseShareCleanupJob deletes reverse shares that can no longer be
// redeemed. Shares already created through them are left alone.
type ReverseShareCleanupJob struct {
	reverseShares reverseSharePurger
	retention     time.Duration
	now           func() time.Time
}

func NewReverseShareCleanupJob(reverseShares reverseSharePurger, retention time.Duration) *ReverseShareCleanupJob {
	return &ReverseShareCleanupJob{reverseShares: reverseShares, retention: retention, now: time.Now}
}

func (j *ReverseShareCleanupJob) Name() string {
	return "reverse_share_cleanup"
}

func (j *ReverseShareCleanupJob) Run(ctx context.Context) error {
	if j.reverseShares == nil {
		return nil
	}
	cutoff := cutoffOf(j.now(), j.retention)
	purged, err := j.reverseShares.PurgeInert(ctx, cutoff)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("reverse shares purged", zap.Int64("count", purged), zap.Int64("cutoff", cutoff))
	return nil
}
