package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/clipshare/server/internal/errors"
	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v2"
)

// Category names one of the rate-limit buckets from §4.1. Each category
// carries its own limit and fixed window; a client is tracked separately
// per category so hitting the upload limit never blocks ordinary chat.
type Category string

const (
	CategoryHTTPGeneral   Category = "http_general"
	CategoryHTTPUpload    Category = "http_upload"
	CategoryHTTPAuth      Category = "http_auth"
	CategoryHTTPStrict    Category = "http_strict"
	CategoryHTTPRoomAct   Category = "http_room_action"
	CategoryEventJoin     Category = "event_join_room"
	CategoryEventLeave    Category = "event_leave_room"
	CategoryEventMessage  Category = "event_send_message"
	CategoryEventUserList Category = "event_user_list"
	CategoryEventPassword Category = "event_password_change"
	CategoryEventShare    Category = "event_share_room"
)

type window struct {
	limit  int
	period time.Duration
}

// windows is the fixed-window table from §4.1: N events allowed per period,
// the (N+1)th in the same period is rejected. A new period starts fresh
// rather than refilling continuously, unlike a token bucket.
var windows = map[Category]window{
	CategoryHTTPGeneral:   {limit: 100, period: 15 * time.Minute},
	CategoryHTTPUpload:    {limit: 5, period: time.Minute},
	CategoryHTTPAuth:      {limit: 20, period: 15 * time.Minute},
	CategoryHTTPStrict:    {limit: 50, period: 5 * time.Minute},
	CategoryHTTPRoomAct:   {limit: 30, period: time.Minute},
	CategoryEventJoin:     {limit: 5, period: time.Minute},
	CategoryEventLeave:    {limit: 10, period: time.Minute},
	CategoryEventMessage:  {limit: 30, period: time.Minute},
	CategoryEventUserList: {limit: 20, period: time.Minute},
	CategoryEventPassword: {limit: 10, period: time.Minute},
	CategoryEventShare:    {limit: 20, period: time.Minute},
}

// counter is one (category, key) fixed window: count resets to zero the
// instant the ttlcache entry expires, which is what gives the window its
// sharp edge instead of a rolling decay.
type counter struct {
	mu    sync.Mutex
	count int
}

// Limiter tracks per-key, per-category fixed-window counters. Each category
// gets its own ttlcache instance so windows of different lengths don't
// collide on eviction timing.
type Limiter struct {
	mu     sync.Mutex
	caches map[Category]*ttlcache.Cache
}

func NewLimiter() *Limiter {
	return &Limiter{caches: make(map[Category]*ttlcache.Cache)}
}

func (l *Limiter) cacheFor(cat Category) *ttlcache.Cache {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.caches[cat]; ok {
		return c
	}
	w := windows[cat]
	c := ttlcache.NewCache()
	_ = c.SetTTL(w.period)
	// Without this, ttlcache/v2 refreshes an entry's TTL on every Get,
	// anchoring the window to the most recent request instead of the
	// first — a client polling steadily would never see the window
	// reset once it hit the cap.
	c.SkipTTLExtensionOnHit(true)
	l.caches[cat] = c
	return c
}

// Allow reports whether key may perform one more event of cat in the
// current window, incrementing the counter as a side effect.
func (l *Limiter) Allow(cat Category, key string) bool {
	w, ok := windows[cat]
	if !ok {
		return true
	}
	cache := l.cacheFor(cat)

	raw, err := cache.Get(key)
	var ctr *counter
	if err != nil {
		ctr = &counter{}
		_ = cache.Set(key, ctr)
	} else {
		ctr = raw.(*counter)
	}

	ctr.mu.Lock()
	defer ctr.mu.Unlock()
	if ctr.count >= w.limit {
		return false
	}
	ctr.count++
	return true
}

// RateLimit builds gin middleware enforcing cat against the client's IP.
func (l *Limiter) RateLimit(cat Category) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(cat, c.ClientIP()) {
			retryAfter := int(windows[cat].period / time.Second)
			if retryAfter <= 0 {
				retryAfter = 60
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			Fail(c, errors.New(errors.CodeRateLimited, "rate limit exceeded, try again later"))
			return
		}
		c.Next()
	}
}

// AllowFor is the gateway-side entry point: websocket event handlers call
// this directly since events don't flow through gin middleware.
func (l *Limiter) AllowFor(cat Category, userID string) bool {
	return l.Allow(cat, userID)
}
