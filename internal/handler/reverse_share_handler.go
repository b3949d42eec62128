package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/sharegate/internal/pkg/response"
	"github.com/xxxsen/sharegate/internal/service"
)

type ReverseShareHandler struct {
	reverseShares *service.ReverseShareService
}

func NewReverseShareHandler(reverseShares *service.ReverseShareService) *ReverseShareHandler {
	return &ReverseShareHandler{reverseShares: reverseShares}
}

type createReverseShareRequest struct {
	MaxShareSize          int64 `json:"max_share_size" binding:"required,min=1"`
	ShareExpiration       int64 `json:"share_expiration" binding:"min=0"`
	RemainingUses         *int  `json:"remaining_uses" binding:"omitempty,min=1"`
	Expiration            int64 `json:"expiration" binding:"min=0"`
	PublicAccess          bool  `json:"public_access"`
	SendEmailNotification bool  `json:"send_email_notification"`
}

func (h *ReverseShareHandler) Create(c *gin.Context) {
	var req createReverseShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	rs, err := h.reverseShares.Create(c.Request.Context(), getUserID(c), service.CreateReverseShareInput{
		MaxShareSize:          req.MaxShareSize,
		ShareExpiration:       time.Duration(req.ShareExpiration) * time.Second,
		RemainingUses:         req.RemainingUses,
		Expiration:            req.Expiration,
		PublicAccess:          req.PublicAccess,
		SendEmailNotification: req.SendEmailNotification,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, rs)
}

func (h *ReverseShareHandler) List(c *gin.Context) {
	items, err := h.reverseShares.List(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, items)
}

func (h *ReverseShareHandler) Delete(c *gin.Context) {
	if err := h.reverseShares.Delete(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

// Check lets an uploader validate a reverse share link before sending files.
func (h *ReverseShareHandler) Check(c *gin.Context) {
	rs, err := h.reverseShares.Check(c.Request.Context(), c.Param("token"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"max_share_size":   rs.MaxShareSize,
		"share_expiration": rs.ShareExpiration,
	})
}
