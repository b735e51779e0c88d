package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obsmiddleware "github.com/smallbiznis/storyvoice/internal/observability/logger"
)

const contextUserIDKey = "user_id"

// UserRequired reads the caller id set by the upstream auth layer.
func UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(obsmiddleware.HeaderUserID))
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.EqualFold(strings.TrimSpace(c.GetHeader(obsmiddleware.HeaderUserRole)), "admin") {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func userIDFrom(c *gin.Context) int64 {
	return c.GetInt64(contextUserIDKey)
}
