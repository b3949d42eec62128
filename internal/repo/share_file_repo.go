package repo

import (
	"context"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/sharegate/internal/db"
	"github.com/xxxsen/sharegate/internal/model"
	appErr "github.com/xxxsen/sharegate/internal/pkg/errors"
)

var shareFileColumns = []string{"id", "share_id", "name", "size", "mime", "seq", "ctime"}

type ShareFileRepo struct {
	db *db.DB
}

func NewShareFileRepo(conn *db.DB) *ShareFileRepo {
	return &ShareFileRepo{db: conn}
}

// AddWithinLimit appends file to its share unless the share's total size
// would go above limit. A limit of zero or less disables the check. The
// sequence number is assigned by the insert itself.
func (r *ShareFileRepo) AddWithinLimit(ctx context.Context, file *model.ShareFile, limit int64) (bool, error) {
	sqlStr := `INSERT INTO share_files (id, share_id, name, size, mime, seq, ctime)
		SELECT ?, ?, ?, CAST(? AS BIGINT), ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM share_files WHERE share_id = ?),
			CAST(? AS BIGINT)`
	args := []interface{}{file.ID, file.ShareID, file.Name, file.Size, file.Mime, file.ShareID, file.Ctime}
	if limit > 0 {
		sqlStr += `
		WHERE (SELECT COALESCE(SUM(size), 0) FROM share_files WHERE share_id = ?) + CAST(? AS BIGINT) <= CAST(? AS BIGINT)`
		args = append(args, file.ShareID, file.Size, limit)
	}
	sqlStr, args = r.db.Finalize(sqlStr, args)
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

func (r *ShareFileRepo) ListFiles(ctx context.Context, shareID string) ([]model.ShareFile, error) {
	return r.list(ctx, map[string]interface{}{"share_id": shareID, "_orderby": "seq asc"})
}

func (r *ShareFileRepo) GetFile(ctx context.Context, shareID, fileID string) (*model.ShareFile, error) {
	items, err := r.list(ctx, map[string]interface{}{"share_id": shareID, "id": fileID})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

func (r *ShareFileRepo) list(ctx context.Context, where map[string]interface{}) ([]model.ShareFile, error) {
	sqlStr, args, err := builder.BuildSelect("share_files", where, shareFileColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.db.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.ShareFile, 0)
	for rows.Next() {
		var item model.ShareFile
		if err := rows.Scan(&item.ID, &item.ShareID, &item.Name, &item.Size, &item.Mime, &item.Seq, &item.Ctime); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
