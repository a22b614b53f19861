package server

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var errUnauthorized = errors.New("unauthorized")

// requestID tags every response with an X-Request-ID, reusing the
// client's when it sent one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if path == "/health" || path == "/metrics" || strings.HasPrefix(path, "/assets/") {
			return
		}
		slog.Info("Request handled",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", c.Writer.Header().Get("X-Request-ID")))
	}
}

// authenticate enforces the optional bearer token. An empty configured
// token leaves the API open.
func (s *Server) authenticate(c *gin.Context) error {
	expected := s.cfg.Token
	if expected == "" {
		return nil
	}
	auth := c.GetHeader("Authorization")
	provided := ""
	if len(auth) > 7 && auth[:7] == "Bearer " {
		provided = auth[7:]
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return errUnauthorized
	}
	return nil
}

// limitBody caps the request body so oversized uploads fail with 413
// instead of being buffered whole.
func (s *Server) limitBody() gin.HandlerFunc {
	limit := int64(s.cfg.Limits.MaxUploadMB) << 20
	return func(c *gin.Context) {
		if limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter hands out one token bucket per client IP and forgets
// clients that have been quiet for a while.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
}

func newIPLimiter(perMinute, burst int) *ipLimiter {
	l := &ipLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(float64(perMinute) / 60),
		burst:    burst,
	}
	go l.janitor()
	return l
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

func (l *ipLimiter) janitor() {
	for range time.Tick(time.Minute) {
		l.mu.Lock()
		for ip, v := range l.visitors {
			if time.Since(v.lastSeen) > 10*time.Minute {
				delete(l.visitors, ip)
			}
		}
		l.mu.Unlock()
	}
}

// rateLimit rejects clients that exceed the configured request rate.
// Disabled when no rate is configured.
func (s *Server) rateLimit() gin.HandlerFunc {
	perMinute := s.cfg.Limits.RatePerMinute
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := s.cfg.Limits.RateBurst
	if burst < 1 {
		burst = perMinute
	}
	limiter := newIPLimiter(perMinute, burst)
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
