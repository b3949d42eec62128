package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/sharegate/internal/middleware"
	"github.com/xxxsen/sharegate/internal/pkg/errcode"
	appErr "github.com/xxxsen/sharegate/internal/pkg/errors"
	"github.com/xxxsen/sharegate/internal/pkg/response"
	"github.com/xxxsen/sharegate/internal/pkg/shareerr"
)

func getUserID(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextUserIDKey)
	userID, _ := value.(string)
	return userID
}

func shareErrorStatus(kind shareerr.Kind) int {
	switch kind {
	case shareerr.KindShareRemoved, shareerr.KindReverseShareNotFound, shareerr.KindReverseShareExpired:
		return http.StatusNotFound
	case shareerr.KindReverseShareSizeExceeded:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusForbidden
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get("request_id")
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
	)
	if e, ok := shareerr.As(err); ok {
		// challenges are an ordinary part of the access flow
		if e.Kind.Class() == shareerr.ClassChallenge {
			logger.Debug("share challenge", zap.String("kind", string(e.Kind)))
		} else {
			logger.Info("share denied", zap.String("kind", string(e.Kind)), zap.String("message", e.Message))
		}
		response.Error(c, shareErrorStatus(e.Kind), string(e.Kind), e.Message)
		return
	}
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, http.StatusUnauthorized, errcode.Unauthorized, "unauthorized")
	case errors.Is(err, appErr.ErrForbidden):
		response.Error(c, http.StatusForbidden, errcode.Forbidden, "forbidden")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, http.StatusNotFound, errcode.NotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, http.StatusBadRequest, errcode.Invalid, err.Error())
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, http.StatusConflict, errcode.Conflict, "conflict")
	default:
		logger.Error("request failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, errcode.Internal, "internal error")
		return
	}
	logger.Info("request rejected", zap.Error(err))
}

func badRequest(c *gin.Context, message string) {
	response.Error(c, http.StatusBadRequest, errcode.Invalid, message)
}
