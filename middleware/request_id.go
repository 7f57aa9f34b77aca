package middleware

import (
	"github.com/absconder01/facefilter/utils"
	"github.com/gin-gonic/gin"
)

const RequestIDKey = "X-Request-ID"

// RequestID 沿用客户端传入的请求ID，否则生成 ULID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDKey)
		if requestID == "" {
			requestID = utils.GenerateID()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDKey, requestID)

		c.Next()
	}
}
