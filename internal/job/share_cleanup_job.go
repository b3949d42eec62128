package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const defaultRetention = 7 * 24 * time.Hour

type sharePurger interface {
	PurgeBefore(ctx context.Context, cutoff int64) (int64, error)
}

// ShareCleanupJob hard deletes shares that expired or were removed longer
// than retention ago, together with their file rows.
type ShareCleanupJob struct {
	shares    sharePurger
	retention time.Duration
	now       func() time.Time
}

func NewShareCleanupJob(shares sharePurger, retention time.Duration) *ShareCleanupJob {
	return &ShareCleanupJob{shares: shares, retention: retention, now: time.Now}
}

func (j *ShareCleanupJob) Name() string {
	return "share_cleanup"
}

func (j *ShareCleanupJob) Run(ctx context.Context) error {
	if j.shares == nil {
		return nil
	}
	cutoff := cutoffOf(j.now(), j.retention)
	purged, err := j.shares.PurgeBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("shares purged", zap.Int64("count", purged), zap.Int64("cutoff", cutoff))
	return nil
}

func cutoffOf(now time.Time, retention time.Duration) int64 {
	if retention <= 0 {
		retention = defaultRetention
	}
	return now.Add(-retention).Unix()
}
