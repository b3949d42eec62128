package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/sharegate/internal/middleware"
	"github.com/xxxsen/sharegate/internal/pkg/response"
	"github.com/xxxsen/sharegate/internal/pkg/timeutil"
	"github.com/xxxsen/sharegate/internal/service"
)

const (
	ShareTokenHeader        = "X-Share-Token"
	UploadTokenHeader       = "X-Upload-Token"
	ReverseShareTokenHeader = "X-Reverse-Share-Token"
	shareTokenCookiePrefix  = "share_token_"
)

type ShareHandler struct {
	shares       *service.ShareService
	access       *service.AccessService
	secureCookie bool
}

func NewShareHandler(shares *service.ShareService, access *service.AccessService, secureCookie bool) *ShareHandler {
	return &ShareHandler{shares: shares, access: access, secureCookie: secureCookie}
}

type createShareRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Password    string `json:"password"`
	MaxViews    *int   `json:"max_views"`
	Expiration  int64  `json:"expiration"`
	IsPublic    *bool  `json:"is_public"`
	Size        int64  `json:"size"`
}

type addFileRequest struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Mime string `json:"mime"`
}

type updateShareRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type shareTokenRequest struct {
	Password string `json:"password"`
}

func (h *ShareHandler) Create(c *gin.Context) {
	var req createShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	created, err := h.shares.Create(c.Request.Context(), middleware.GetIdentity(c), service.CreateShareInput{
		Name:              req.Name,
		Description:       req.Description,
		Password:          req.Password,
		MaxViews:          req.MaxViews,
		Expiration:        req.Expiration,
		IsPublic:          req.IsPublic,
		Size:              req.Size,
		ReverseShareToken: c.GetHeader(ReverseShareTokenHeader),
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, created)
}

func (h *ShareHandler) AddFile(c *gin.Context) {
	var req addFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	file, err := h.shares.AddFile(c.Request.Context(), h.uploader(c), c.Param("id"), service.AddFileInput{
		Name: req.Name,
		Size: req.Size,
		Mime: req.Mime,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, file)
}

func (h *ShareHandler) Complete(c *gin.Context) {
	share, err := h.shares.Complete(c.Request.Context(), h.uploader(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, share)
}

// Token exchanges a password, or a still valid token, for share access. A new
// token is also set as a cookie scoped to the share.
func (h *ShareHandler) Token(c *gin.Context) {
	var req shareTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request")
		return
	}
	shareID := c.Param("id")
	grant, err := h.access.Authorize(c.Request.Context(), shareID, service.Credential{
		Password:    req.Password,
		AccessToken: h.presentedToken(c, shareID),
	}, middleware.GetIdentity(c))
	if err != nil {
		handleError(c, err)
		return
	}
	if grant.Counted {
		h.setTokenCookie(c, shareID, grant.AccessToken, grant.ExpiresAt)
	}
	response.Success(c, gin.H{
		"token":      grant.AccessToken,
		"expires_at": grant.ExpiresAt,
		"share":      grant.Share,
	})
}

// Get returns the share for a caller that already holds access, or counts a
// view for shares without a password.
func (h *ShareHandler) Get(c *gin.Context) {
	shareID := c.Param("id")
	grant, err := h.access.Authorize(c.Request.Context(), shareID, service.Credential{
		AccessToken: h.presentedToken(c, shareID),
	}, middleware.GetIdentity(c))
	if err != nil {
		handleError(c, err)
		return
	}
	if grant.Counted {
		h.setTokenCookie(c, shareID, grant.AccessToken, grant.ExpiresAt)
	}
	response.Success(c, grant.Share)
}

func (h *ShareHandler) GetFile(c *gin.Context) {
	shareID := c.Param("id")
	file, err := h.access.AuthorizeFetch(c.Request.Context(), shareID, c.Param("file_id"),
		h.presentedToken(c, shareID), middleware.GetIdentity(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, file)
}

func (h *ShareHandler) ListMine(c *gin.Context) {
	shares, err := h.shares.ListMine(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, shares)
}

func (h *ShareHandler) Update(c *gin.Context) {
	var req updateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	share, err := h.shares.UpdateDetails(c.Request.Context(), getUserID(c), c.Param("id"), service.UpdateShareInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, share)
}

func (h *ShareHandler) Remove(c *gin.Context) {
	if err := h.shares.Remove(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *ShareHandler) uploader(c *gin.Context) service.Uploader {
	return service.Uploader{
		Identity:    middleware.GetIdentity(c),
		UploadToken: strings.TrimSpace(c.GetHeader(UploadTokenHeader)),
	}
}

func (h *ShareHandler) presentedToken(c *gin.Context, shareID string) string {
	if token := strings.TrimSpace(c.GetHeader(ShareTokenHeader)); token != "" {
		return token
	}
	token, err := c.Cookie(shareTokenCookiePrefix + shareID)
	if err != nil {
		return ""
	}
	return token
}

func (h *ShareHandler) setTokenCookie(c *gin.Context, shareID, token string, expiresAt int64) {
	maxAge := int(expiresAt - timeutil.NowUnix())
	if maxAge <= 0 {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(shareTokenCookiePrefix+shareID, token, maxAge, "/", "", h.secureCookie, true)
}
