package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/harvesttable/donations/internal/http/response"
	"github.com/harvesttable/donations/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitKeyFunc 生成限流 key 的函数
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitRule 限流规则
type RateLimitRule struct {
	Prefix        string
	WindowSeconds int
	MaxRequests   int
}

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("TTL", KEYS[1])
return {current, ttl}
`)

// RateLimitMiddleware 频率限制中间件；Redis 可用时跨实例共享计数，否则退化为进程内令牌桶
func RateLimitMiddleware(client *redis.Client, rule RateLimitRule, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	fallback := newMemoryLimiter(rule, 10*time.Minute)
	return func(c *gin.Context) {
		if rule.WindowSeconds <= 0 || rule.MaxRequests <= 0 {
			c.Next()
			return
		}

		key := ""
		if keyFunc != nil {
			key = strings.TrimSpace(keyFunc(c))
		}
		if key == "" {
			key = c.ClientIP()
		}
		if rule.Prefix != "" {
			key = fmt.Sprintf("%s:%s", rule.Prefix, key)
		}

		if client == nil {
			if allowed, wait := fallback.Allow(key, time.Now()); !allowed {
				rejectRateLimited(c, wait)
				return
			}
			c.Next()
			return
		}

		count, ttlSeconds, err := runRateLimitScript(c, client, key, rule.WindowSeconds)
		if err != nil {
			logger.Warnw("rate_limit_redis_failed", "key", rule.Prefix, "error", err)
			if allowed, wait := fallback.Allow(key, time.Now()); !allowed {
				rejectRateLimited(c, wait)
				return
			}
			c.Next()
			return
		}
		if count > int64(rule.MaxRequests) {
			waitSeconds := int(ttlSeconds)
			if waitSeconds < 1 {
				waitSeconds = rule.WindowSeconds
			}
			rejectRateLimited(c, waitSeconds)
			return
		}

		c.Next()
	}
}

func runRateLimitScript(c *gin.Context, client *redis.Client, key string, windowSeconds int) (int64, int64, error) {
	result, err := rateLimitScript.Run(c.Request.Context(), client, []string{key}, windowSeconds).Result()
	if err != nil {
		return 0, 0, err
	}
	values, ok := result.([]interface{})
	if !ok || len(values) < 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit result: %v", result)
	}
	count, ok := toInt64(values[0])
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rate limit counter: %v", values[0])
	}
	ttlSeconds, _ := toInt64(values[1])
	return count, ttlSeconds, nil
}

func rejectRateLimited(c *gin.Context, waitSeconds int) {
	if waitSeconds < 1 {
		waitSeconds = 1
	}
	c.Header("Retry-After", fmt.Sprintf("%d", waitSeconds))
	response.Error(c, response.CodeTooManyRequests, fmt.Sprintf("too many requests, retry in %d seconds", waitSeconds))
	c.Abort()
}

// memoryLimiter 进程内按 key 的令牌桶，重启后清零
type memoryLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	visitors  map[string]*limiterVisitor
	lastSweep time.Time
}

type limiterVisitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newMemoryLimiter(rule RateLimitRule, ttl time.Duration) *memoryLimiter {
	limit := rate.Inf
	if rule.WindowSeconds > 0 && rule.MaxRequests > 0 {
		limit = rate.Limit(float64(rule.MaxRequests) / float64(rule.WindowSeconds))
	}
	return &memoryLimiter{
		limit:    limit,
		burst:    rule.MaxRequests,
		ttl:      ttl,
		visitors: make(map[string]*limiterVisitor),
	}
}

// Allow 返回是否放行，拒绝时附带建议等待秒数
func (m *memoryLimiter) Allow(key string, now time.Time) (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) > m.ttl {
		for k, v := range m.visitors {
			if now.Sub(v.lastSeen) > m.ttl {
				delete(m.visitors, k)
			}
		}
		m.lastSweep = now
	}

	visitor, ok := m.visitors[key]
	if !ok {
		visitor = &limiterVisitor{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.visitors[key] = visitor
	}
	visitor.lastSeen = now
	if visitor.limiter.AllowN(now, 1) {
		return true, 0
	}
	wait := 1
	if m.limit > 0 && m.limit != rate.Inf {
		wait = int(math.Ceil(1 / float64(m.limit)))
	}
	return false, wait
}

// KeyByIP 使用 IP 作为限流 key
func KeyByIP(c *gin.Context) string {
	return c.ClientIP()
}

// KeyByIPAndJSONField 使用 IP + JSON 字段作为限流 key
func KeyByIPAndJSONField(field string) RateLimitKeyFunc {
	return func(c *gin.Context) string {
		value := strings.ToLower(strings.TrimSpace(readJSONField(c, field)))
		if value == "" {
			return c.ClientIP()
		}
		return fmt.Sprintf("%s|%s", value, c.ClientIP())
	}
}

func readJSONField(c *gin.Context, field string) string {
	if c == nil || c.Request == nil || c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return ""
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	value, ok := payload[field]
	if !ok {
		return ""
	}
	if text, ok := value.(string); ok {
		return strings.TrimSpace(text)
	}
	return ""
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint8:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
