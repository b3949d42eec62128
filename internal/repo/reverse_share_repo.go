package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/sharegate/internal/db"
	"github.com/xxxsen/sharegate/internal/model"
	"github.com/xxxsen/sharegate/internal/pkg/dbutil"
	appErr "github.com/xxxsen/sharegate/internal/pkg/errors"
)

var reverseShareColumns = []string{
	"id", "token", "owner_id", "max_share_size", "share_expiration", "remaining_uses",
	"expiration", "public_access", "send_email_notification", "ctime", "mtime",
}

var errNotConsumed = errors.New("reverse share not consumed")

type ReverseShareRepo struct {
	db *db.DB
}

func NewReverseShareRepo(conn *db.DB) *ReverseShareRepo {
	return &ReverseShareRepo{db: conn}
}

func (r *ReverseShareRepo) Create(ctx context.Context, rs *model.ReverseShare) error {
	var remaining interface{}
	if rs.RemainingUses != nil {
		remaining = *rs.RemainingUses
	}
	data := map[string]interface{}{
		"id":                      rs.ID,
		"token":                   rs.Token,
		"owner_id":                rs.OwnerID,
		"max_share_size":          rs.MaxShareSize,
		"share_expiration":        rs.ShareExpiration,
		"remaining_uses":          remaining,
		"expiration":              rs.Expiration,
		"public_access":           boolToInt(rs.PublicAccess),
		"send_email_notification": boolToInt(rs.SendEmailNotification),
		"ctime":                   rs.Ctime,
		"mtime":                   rs.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("reverse_shares", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = r.db.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *ReverseShareRepo) GetReverseShare(ctx context.Context, token string) (*model.ReverseShare, error) {
	return r.getOne(ctx, map[string]interface{}{"token": token})
}

func (r *ReverseShareRepo) GetByID(ctx context.Context, ownerID, id string) (*model.ReverseShare, error) {
	return r.getOne(ctx, map[string]interface{}{"id": id, "owner_id": ownerID})
}

func (r *ReverseShareRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.ReverseShare, error) {
	return r.list(ctx, map[string]interface{}{"owner_id": ownerID, "_orderby": "ctime desc"})
}

// TryDecrementRemainingUses consumes one use of the reverse share identified
// by token and stores placeholder as the share it authorizes, in a single
// transaction. It reports false, with nothing written, when the token is gone,
// spent or expired at the moment of the write. Unlimited tokens are never
// decremented.
func (r *ReverseShareRepo) TryDecrementRemainingUses(ctx context.Context, token string, now int64, placeholder *model.Share) (bool, error) {
	err := r.db.Tx(ctx, func(tx *sql.Tx) error {
		sqlStr := `UPDATE reverse_shares
			SET remaining_uses = CASE WHEN remaining_uses IS NULL THEN NULL ELSE remaining_uses - 1 END, mtime = ?
			WHERE token = ? AND (remaining_uses IS NULL OR remaining_uses > 0)
			AND (expiration = 0 OR expiration > ?)`
		sqlStr, args := r.db.Finalize(sqlStr, []interface{}{now, token, now})
		result, err := tx.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return errNotConsumed
		}
		return insertShare(ctx, r.db, tx, placeholder)
	})
	if errors.Is(err, errNotConsumed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ReverseShareRepo) Delete(ctx context.Context, ownerID, id string) error {
	where := map[string]interface{}{"id": id, "owner_id": ownerID}
	sqlStr, args, err := builder.BuildDelete("reverse_shares", where)
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

// PurgeInert deletes reverse shares that can no longer be redeemed: spent ones
// untouched since cutoff and ones that expired before cutoff.
func (r *ReverseShareRepo) PurgeInert(ctx context.Context, cutoff int64) (int64, error) {
	sqlStr := `DELETE FROM reverse_shares
		WHERE (remaining_uses IS NOT NULL AND remaining_uses <= 0 AND mtime < ?)
		OR (expiration > 0 AND expiration < ?)`
	sqlStr, args := r.db.Finalize(sqlStr, []interface{}{cutoff, cutoff})
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *ReverseShareRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.ReverseShare, error) {
	items, err := r.list(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

func (r *ReverseShareRepo) list(ctx context.Context, where map[string]interface{}) ([]model.ReverseShare, error) {
	sqlStr, args, err := builder.BuildSelect("reverse_shares", where, reverseShareColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.db.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.ReverseShare, 0)
	for rows.Next() {
		var (
			item         model.ReverseShare
			remaining    sql.NullInt64
			publicAccess int
			notify       int
		)
		if err := rows.Scan(&item.ID, &item.Token, &item.OwnerID, &item.MaxShareSize, &item.ShareExpiration,
			&remaining, &item.Expiration, &publicAccess, &notify, &item.Ctime, &item.Mtime); err != nil {
			return nil, err
		}
		if remaining.Valid {
			v := int(remaining.Int64)
			item.RemainingUses = &v
		}
		item.PublicAccess = publicAccess != 0
		item.SendEmailNotification = notify != 0
		items = append(items, item)
	}
	return items, rows.Err()
}
