package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

// ContextUserIDKey is the gin context key holding the requester's id.
const ContextUserIDKey = "user_id"

// UserID returns the requester set by the identity middleware.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserIDKey)
}

// respondError writes err as {"success": false, "error": ...}.
func respondError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.HTTPStatus(err), gin.H{
		"success": false,
		"error":   errors.PublicMessage(err),
	})
}

// respondBindError reports a malformed request body.
func respondBindError(c *gin.Context, err error) {
	respondError(c, errors.NewInvalidInputError(err.Error()))
}

// paramID parses a positive numeric path parameter.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "not found"})
		return 0, false
	}
	return uint(id), true
}
