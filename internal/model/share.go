package model

type Share struct {
	ID             string      `json:"id"`
	OwnerID        string      `json:"owner_id"`
	CreatorID      string      `json:"creator_id"`
	ReverseShareID string      `json:"reverse_share_id,omitempty"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	PasswordHash   string      `json:"-"`
	MaxViews       *int        `json:"max_views,omitempty"`
	Views          int         `json:"views"`
	Expiration     int64       `json:"expiration"`
	IsPublic       bool        `json:"is_public"`
	UploadLocked   bool        `json:"upload_locked"`
	MaxSize        int64       `json:"max_size,omitempty"`
	RemovedAt      int64       `json:"-"`
	RemovedReason  string      `json:"-"`
	Files          []ShareFile `json:"files,omitempty"`
	Ctime          int64       `json:"ctime"`
	Mtime          int64       `json:"mtime"`
}

func (s *Share) HasPassword() bool {
	return s.PasswordHash != ""
}

func (s *Share) Removed() bool {
	return s.RemovedAt > 0
}

// Expired reports whether the share is past its expiration at now (unix
// seconds). A zero expiration never expires.
func (s *Share) Expired(now int64) bool {
	return s.Expiration > 0 && now >= s.Expiration
}

func (s *Share) ViewsExhausted() bool {
	return s.MaxViews != nil && s.Views >= *s.MaxViews
}

// CanManage reports whether userID may remove the share or change its
// details.
func (s *Share) CanManage(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == s.OwnerID || userID == s.CreatorID
}

func (s *Share) TotalSize() int64 {
	var total int64
	for _, f := range s.Files {
		total += f.Size
	}
	return total
}

type ShareFile struct {
	ID      string `json:"id"`
	ShareID string `json:"share_id"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Mime    string `json:"mime"`
	Seq     int    `json:"seq"`
	Ctime   int64  `json:"ctime"`
}
