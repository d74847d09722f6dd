package middleware

import (
	"net/http"
	"strconv"
	"time"

	"flowtale/internal/models"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig - лимит запросов на один IP за окно Window.
type RateLimitConfig struct {
	Requests uint
	Window   time.Duration
}

// NewRateLimiter ограничивает частоту запросов к генерации.
// Если redisClient не nil, счетчики хранятся в Redis и общие для всех инстансов.
func NewRateLimiter(cfg RateLimitConfig, redisClient *redis.Client, log *zap.Logger) gin.HandlerFunc {
	var store ratelimit.Store
	if redisClient != nil {
		store = ratelimit.RedisStore(&ratelimit.RedisOptions{
			RedisClient: redisClient,
			Rate:        cfg.Window,
			Limit:       cfg.Requests,
		})
	} else {
		store = ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
			Rate:  cfg.Window,
			Limit: cfg.Requests,
		})
	}

	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: func(c *gin.Context, info ratelimit.Info) {
			retryAfter := time.Until(info.ResetTime).Round(time.Second)
			log.Warn("Rate limit exceeded",
				zap.String("clientIP", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
				zap.Time("resetTime", info.ResetTime),
			)
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Code:    models.ErrCodeTooManyRequests,
				Message: "Too many generation requests. Try again in " + retryAfter.String(),
			})
		},
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})
}
