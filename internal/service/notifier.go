package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/sharegate/internal/model"
)

// Notifier mails reverse share owners. Delivery problems are logged and never
// fail the request that triggered them.
type Notifier struct {
	users   UserStore
	sender  EmailSender
	baseURL string
}

func NewNotifier(users UserStore, sender EmailSender, baseURL string) *Notifier {
	return &Notifier{users: users, sender: sender, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (n *Notifier) ReverseShareUsed(ctx context.Context, share *model.Share) {
	logger := logutil.GetLogger(ctx).With(zap.String("share_id", share.ID))
	owner, err := n.users.GetByID(ctx, share.OwnerID)
	if err != nil {
		logger.Warn("lookup reverse share owner failed", zap.Error(err))
		return
	}
	subject := "A file was shared with you"
	if share.Name != "" {
		subject = "New upload: " + share.Name
	}
	body := fmt.Sprintf("Someone used your reverse share link to upload %d file(s) to %q.\n", len(share.Files), share.Name)
	if n.baseURL != "" {
		body += fmt.Sprintf("\nOpen it here: %s/share/%s\n", n.baseURL, share.ID)
	}
	if err := n.sender.Send(owner.Email, subject, body); err != nil {
		logger.Warn("send reverse share notification failed", zap.Error(err))
		return
	}
	logger.Info("reverse share notification sent")
}
