// Package security implements the validation, rate limiting, blocklist,
// and audit-log responsibilities of C9.
package security

import (
	"context"
	"fmt"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Per spec §4.9: 60 commands/minute per authenticated user; 100
// connect-attempts/minute per source IP before authentication.
const ipRateFormatted = "100-M"

// RateLimiter enforces the per-user command rate and the pre-auth
// per-IP connection rate, grounded on the teacher pack's own
// ulule/limiter/v3 usage (RoseWrightdev-Video-Conferencing).
type RateLimiter struct {
	perUser *limiter.Limiter
	perIP   *limiter.Limiter
}

// NewRateLimiter builds both limiters over a shared in-memory store.
// ulule/limiter expresses a rate as "<limit>-<period>"; the per-user
// limit is a fixed window of 60 commands per minute. There is no
// separate burst allowance: the whole 60 may arrive at once, and no
// more are allowed until the window resets.
func NewRateLimiter() *RateLimiter {
	store := memory.NewStore()
	userRate, _ := limiter.NewRateFromFormatted("60-M")
	ipRate, _ := limiter.NewRateFromFormatted(ipRateFormatted)
	return &RateLimiter{
		perUser: limiter.New(store, userRate),
		perIP:   limiter.New(store, ipRate),
	}
}

// AllowCommand reports whether userID may issue another command now.
func (r *RateLimiter) AllowCommand(ctx context.Context, userID string) (bool, error) {
	res, err := r.perUser.Get(ctx, userID)
	if err != nil {
		return true, err // fail open: availability over strictness
	}
	return !res.Reached, nil
}

// AllowConnect reports whether a new pre-auth connection from ip is
// permitted.
func (r *RateLimiter) AllowConnect(ctx context.Context, ip string) (bool, error) {
	res, err := r.perIP.Get(ctx, fmt.Sprintf("connect:%s", ip))
	if err != nil {
		return true, err
	}
	return !res.Reached, nil
}
