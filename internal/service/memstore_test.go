package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xxxsen/sharegate/internal/model"
	appErr "github.com/xxxsen/sharegate/internal/pkg/errors"
)

// memStore is an in-memory stand-in for the repos. Its mutex plays the part
// of the database's atomic conditional update.
type memStore struct {
	mu       sync.Mutex
	shares   map[string]model.Share
	files    map[string][]model.ShareFile
	reverse  map[string]model.ReverseShare
	users    map[string]model.User
	getCalls atomic.Int64
	failWith error
}

func newMemStore() *memStore {
	return &memStore{
		shares:  map[string]model.Share{},
		files:   map[string][]model.ShareFile{},
		reverse: map[string]model.ReverseShare{},
		users:   map[string]model.User{},
	}
}

func (m *memStore) Create(_ context.Context, share *model.Share) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shares[share.ID]; ok {
		return appErr.ErrConflict
	}
	m.shares[share.ID] = *share
	return nil
}

func (m *memStore) GetShare(_ context.Context, id string) (*model.Share, error) {
	m.getCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	share, ok := m.shares[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return &share, nil
}

func (m *memStore) TryIncrementViewCount(_ context.Context, id string, now int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	share, ok := m.shares[id]
	if !ok || share.Removed() || share.Expired(now) || share.ViewsExhausted() {
		return false, nil
	}
	share.Views++
	m.shares[id] = share
	return true, nil
}

func (m *memStore) ListByOwner(_ context.Context, ownerID string) ([]model.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]model.Share, 0)
	for _, share := range m.shares {
		if share.OwnerID == ownerID && !share.Removed() {
			items = append(items, share)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memStore) ListByReverseShares(_ context.Context, ids []string) ([]model.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	items := make([]model.Share, 0)
	for _, share := range m.shares {
		if want[share.ReverseShareID] && !share.Removed() {
			items = append(items, share)
		}
	}
	return items, nil
}

func (m *memStore) UpdateDetails(_ context.Context, share *model.Share) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.shares[share.ID]
	if !ok || stored.Removed() {
		return appErr.ErrNotFound
	}
	stored.CreatorID = share.CreatorID
	stored.Name = share.Name
	stored.Description = share.Description
	stored.PasswordHash = share.PasswordHash
	stored.MaxViews = share.MaxViews
	stored.Mtime = share.Mtime
	m.shares[share.ID] = stored
	return nil
}

func (m *memStore) LockUpload(_ context.Context, id string, mtime int64) error {
	return m.mutateShare(id, func(s *model.Share) {
		s.UploadLocked = true
		s.Mtime = mtime
	})
}

func (m *memStore) Remove(_ context.Context, id, reason string, now int64) error {
	return m.mutateShare(id, func(s *model.Share) {
		s.RemovedAt = now
		s.RemovedReason = reason
	})
}

func (m *memStore) mutateShare(id string, fn func(s *model.Share)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	share, ok := m.shares[id]
	if !ok || share.Removed() {
		return appErr.ErrNotFound
	}
	fn(&share)
	m.shares[id] = share
	return nil
}

func (m *memStore) put(share model.Share) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares[share.ID] = share
}

func (m *memStore) views(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shares[id].Views
}

type memFiles struct{ *memStore }

func (m memFiles) AddWithinLimit(_ context.Context, file *model.ShareFile, limit int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, f := range m.files[file.ShareID] {
		total += f.Size
	}
	if limit > 0 && total+file.Size > limit {
		return false, nil
	}
	file.Seq = len(m.files[file.ShareID]) + 1
	m.files[file.ShareID] = append(m.files[file.ShareID], *file)
	return true, nil
}

func (m memFiles) ListFiles(_ context.Context, shareID string) ([]model.ShareFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ShareFile{}, m.files[shareID]...), nil
}

func (m memFiles) GetFile(_ context.Context, shareID, fileID string) (*model.ShareFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files[shareID] {
		if f.ID == fileID {
			file := f
			return &file, nil
		}
	}
	return nil, appErr.ErrNotFound
}

type memReverse struct{ *memStore }

func (m memReverse) Create(_ context.Context, rs *model.ReverseShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reverse[rs.Token] = *rs
	return nil
}

func (m memReverse) GetReverseShare(_ context.Context, token string) (*model.ReverseShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.reverse[token]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return &rs, nil
}

func (m memReverse) GetByID(_ context.Context, ownerID, id string) (*model.ReverseShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rs := range m.reverse {
		if rs.ID == id && rs.OwnerID == ownerID {
			item := rs
			return &item, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (m memReverse) ListByOwner(_ context.Context, ownerID string) ([]model.ReverseShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]model.ReverseShare, 0)
	for _, rs := range m.reverse {
		if rs.OwnerID == ownerID {
			items = append(items, rs)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m memReverse) TryDecrementRemainingUses(_ context.Context, token string, now int64, placeholder *model.Share) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.reverse[token]
	if !ok || rs.Exhausted() || rs.Expired(now) {
		return false, nil
	}
	if rs.RemainingUses != nil {
		left := *rs.RemainingUses - 1
		rs.RemainingUses = &left
	}
	m.reverse[token] = rs
	m.shares[placeholder.ID] = *placeholder
	return true, nil
}

func (m memReverse) Delete(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, rs := range m.reverse {
		if rs.ID == id && rs.OwnerID == ownerID {
			delete(m.reverse, token)
			return nil
		}
	}
	return appErr.ErrNotFound
}

func (m memReverse) remaining(token string) *int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reverse[token].RemainingUses
}

type memUsers struct{ *memStore }

func (m memUsers) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return appErr.ErrConflict
		}
	}
	m.users[user.ID] = *user
	return nil
}

func (m memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			user := u
			return &user, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (m memUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return &u, nil
}

// racyShares refuses every increment while reporting a live share, as if
// another instance took the last view between the read and the write.
type racyShares struct{ *memStore }

func (r racyShares) TryIncrementViewCount(context.Context, string, int64) (bool, error) {
	return false, nil
}

var errStoreDown = errors.New("store unavailable")

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Unix(1700000000, 0)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func intPtr(v int) *int {
	return &v
}
