package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type body struct {
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, body{Data: data})
}

// Error writes a failure. code is the machine readable value clients branch on.
func Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, body{Error: code, Message: message})
}
