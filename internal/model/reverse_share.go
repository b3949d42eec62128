package model

type ReverseShare struct {
	ID                    string `json:"id"`
	Token                 string `json:"token"`
	OwnerID               string `json:"owner_id"`
	MaxShareSize          int64  `json:"max_share_size"`
	ShareExpiration       int64  `json:"share_expiration"`
	RemainingUses         *int   `json:"remaining_uses"`
	Expiration            int64  `json:"expiration"`
	PublicAccess          bool   `json:"public_access"`
	SendEmailNotification bool   `json:"send_email_notification"`
	Ctime                 int64  `json:"ctime"`
	Mtime                 int64  `json:"mtime"`
}

func (r *ReverseShare) Unlimited() bool {
	return r.RemainingUses == nil
}

func (r *ReverseShare) Exhausted() bool {
	return r.RemainingUses != nil && *r.RemainingUses <= 0
}

func (r *ReverseShare) Expired(now int64) bool {
	return r.Expiration > 0 && now >= r.Expiration
}
