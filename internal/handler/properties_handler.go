package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/sharegate/internal/config"
	"github.com/xxxsen/sharegate/internal/middleware"
	"github.com/xxxsen/sharegate/internal/pkg/response"
)

type PropertiesHandler struct {
	properties config.Properties
}

func NewPropertiesHandler(properties config.Properties) *PropertiesHandler {
	return &PropertiesHandler{properties: properties}
}

type callerProperties struct {
	Authenticated         bool `json:"authenticated"`
	CanCreateShare        bool `json:"can_create_share"`
	CanCreateReverseShare bool `json:"can_create_reverse_share"`
}

// Get returns the server flags together with what the current caller may do
// under them.
func (h *PropertiesHandler) Get(c *gin.Context) {
	id := middleware.GetIdentity(c)
	authed := id.IsAuthenticated()
	response.Success(c, gin.H{
		"properties": h.properties,
		"caller": callerProperties{
			Authenticated:         authed,
			CanCreateShare:        authed || h.properties.AllowUnauthenticatedShares,
			CanCreateReverseShare: authed,
		},
	})
}
