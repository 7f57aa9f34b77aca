package middleware

import (
	"net/http"
	"sync"

	"github.com/absconder01/facefilter/model"
	"github.com/absconder01/facefilter/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiter 按客户端IP维护令牌桶
type rateLimiter struct {
	bucket    map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
	mutex     sync.Mutex
}

func newRateLimiter(reqRate rate.Limit, burstSize int) *rateLimiter {
	return &rateLimiter{
		bucket:    make(map[string]*rate.Limiter),
		rate:      reqRate,
		burstSize: burstSize,
	}
}

func (r *rateLimiter) limiterFor(ip string) *rate.Limiter {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	limiter, ok := r.bucket[ip]
	if !ok {
		limiter = rate.NewLimiter(r.rate, r.burstSize)
		r.bucket[ip] = limiter
	}
	return limiter
}

// RateLimit 限流中间件，超出配额返回 429
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	limiter := newRateLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.limiterFor(ip).Allow() {
			utils.Logger.Warn("too many requests", zap.String("ip", ip))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, model.ErrorResponse{
				Success: false,
				Message: "请求过于频繁",
			})
			return
		}

		c.Next()
	}
}
