package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/sharegate/internal/db"
	"github.com/xxxsen/sharegate/internal/model"
	"github.com/xxxsen/sharegate/internal/pkg/dbutil"
	appErr "github.com/xxxsen/sharegate/internal/pkg/errors"
)

var shareColumns = []string{
	"id", "owner_id", "creator_id", "reverse_share_id", "name", "description",
	"password_hash", "max_views", "views", "expiration", "is_public", "upload_locked",
	"max_size", "removed_at", "removed_reason", "ctime", "mtime",
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type ShareRepo struct {
	db *db.DB
}

func NewShareRepo(conn *db.DB) *ShareRepo {
	return &ShareRepo{db: conn}
}

func (r *ShareRepo) Create(ctx context.Context, share *model.Share) error {
	return insertShare(ctx, r.db, r.db, share)
}

func insertShare(ctx context.Context, conn *db.DB, exec execer, share *model.Share) error {
	var maxViews interface{}
	if share.MaxViews != nil {
		maxViews = *share.MaxViews
	}
	data := map[string]interface{}{
		"id":               share.ID,
		"owner_id":         share.OwnerID,
		"creator_id":       share.CreatorID,
		"reverse_share_id": share.ReverseShareID,
		"name":             share.Name,
		"description":      share.Description,
		"password_hash":    share.PasswordHash,
		"max_views":        maxViews,
		"views":            share.Views,
		"expiration":       share.Expiration,
		"is_public":        boolToInt(share.IsPublic),
		"upload_locked":    boolToInt(share.UploadLocked),
		"max_size":         share.MaxSize,
		"removed_at":       share.RemovedAt,
		"removed_reason":   share.RemovedReason,
		"ctime":            share.Ctime,
		"mtime":            share.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("shares", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = conn.Finalize(sqlStr, args)
	if _, err := exec.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

// GetShare returns the stored record, removed or not. Files are not loaded.
func (r *ShareRepo) GetShare(ctx context.Context, id string) (*model.Share, error) {
	items, err := r.list(ctx, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

// TryIncrementViewCount counts one view if, at the moment of the write, the
// share is live and still below its view limit. It reports false when another
// request took the last view or the share went away in between.
func (r *ShareRepo) TryIncrementViewCount(ctx context.Context, id string, now int64) (bool, error) {
	sqlStr := `UPDATE shares SET views = views + 1, mtime = ?
		WHERE id = ? AND removed_at = 0
		AND (expiration = 0 OR expiration > ?)
		AND (max_views IS NULL OR views < max_views)`
	sqlStr, args := r.db.Finalize(sqlStr, []interface{}{now, id, now})
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *ShareRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Share, error) {
	return r.list(ctx, map[string]interface{}{
		"owner_id":   ownerID,
		"removed_at": 0,
		"_orderby":   "ctime desc",
	})
}

func (r *ShareRepo) ListByReverseShares(ctx context.Context, reverseShareIDs []string) ([]model.Share, error) {
	if len(reverseShareIDs) == 0 {
		return []model.Share{}, nil
	}
	ids := make([]interface{}, 0, len(reverseShareIDs))
	for _, id := range reverseShareIDs {
		ids = append(ids, id)
	}
	return r.list(ctx, map[string]interface{}{
		"reverse_share_id in": ids,
		"removed_at":          0,
		"_orderby":            "ctime desc",
	})
}

func (r *ShareRepo) list(ctx context.Context, where map[string]interface{}) ([]model.Share, error) {
	sqlStr, args, err := builder.BuildSelect("shares", where, shareColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.db.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.Share, 0)
	for rows.Next() {
		var (
			share        model.Share
			maxViews     sql.NullInt64
			isPublic     int
			uploadLocked int
		)
		if err := rows.Scan(&share.ID, &share.OwnerID, &share.CreatorID, &share.ReverseShareID,
			&share.Name, &share.Description, &share.PasswordHash, &maxViews, &share.Views,
			&share.Expiration, &isPublic, &uploadLocked, &share.MaxSize, &share.RemovedAt, &share.RemovedReason,
			&share.Ctime, &share.Mtime); err != nil {
			return nil, err
		}
		if maxViews.Valid {
			v := int(maxViews.Int64)
			share.MaxViews = &v
		}
		share.IsPublic = isPublic != 0
		share.UploadLocked = uploadLocked != 0
		items = append(items, share)
	}
	return items, rows.Err()
}

// UpdateDetails writes the caller editable fields of a share that has not been
// removed.
func (r *ShareRepo) UpdateDetails(ctx context.Context, share *model.Share) error {
	var maxViews interface{}
	if share.MaxViews != nil {
		maxViews = *share.MaxViews
	}
	where := map[string]interface{}{"id": share.ID, "removed_at": 0}
	update := map[string]interface{}{
		"creator_id":    share.CreatorID,
		"name":          share.Name,
		"description":   share.Description,
		"password_hash": share.PasswordHash,
		"max_views":     maxViews,
		"mtime":         share.Mtime,
	}
	return r.update(ctx, where, update)
}

func (r *ShareRepo) LockUpload(ctx context.Context, id string, mtime int64) error {
	where := map[string]interface{}{"id": id, "removed_at": 0}
	return r.update(ctx, where, map[string]interface{}{"upload_locked": 1, "mtime": mtime})
}

func (r *ShareRepo) Remove(ctx context.Context, id, reason string, now int64) error {
	where := map[string]interface{}{"id": id, "removed_at": 0}
	update := map[string]interface{}{"removed_at": now, "removed_reason": reason, "mtime": now}
	return r.update(ctx, where, update)
}

func (r *ShareRepo) update(ctx context.Context, where, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("shares", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = r.db.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// PurgeBefore hard deletes shares, and their file rows, that expired or were
// removed before cutoff.
func (r *ShareRepo) PurgeBefore(ctx context.Context, cutoff int64) (int64, error) {
	cond := `(expiration > 0 AND expiration < ?) OR (removed_at > 0 AND removed_at < ?)`
	var purged int64
	err := r.db.Tx(ctx, func(tx *sql.Tx) error {
		filesSQL, args := r.db.Finalize(`DELETE FROM share_files WHERE share_id IN (SELECT id FROM shares WHERE `+cond+`)`, []interface{}{cutoff, cutoff})
		if _, err := tx.ExecContext(ctx, filesSQL, args...); err != nil {
			return err
		}
		sharesSQL, args := r.db.Finalize(`DELETE FROM shares WHERE `+cond, []interface{}{cutoff, cutoff})
		result, err := tx.ExecContext(ctx, sharesSQL, args...)
		if err != nil {
			return err
		}
		purged, err = result.RowsAffected()
		return err
	})
	return purged, err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
