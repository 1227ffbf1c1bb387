package storage

import (
	"time"

	"athsync/internal/model"
)

// MatchesTier reports whether c satisfies the band, liveness and lease rules
// of q. In-memory stores use it directly; SQL stores express the same rules
// as predicates.
func MatchesTier(c *model.Call, q TierQuery) bool {
	if c.IsInvalidated {
		return false
	}
	if c.ReviewReason != nil && *c.ReviewReason == model.ReviewInvalidEntryPrice {
		return false
	}
	if !inBand(c.LiquidityUSD, q.MinLiquidityUSD, q.MaxLiquidityUSD) {
		return false
	}
	if c.IsDead {
		if q.DeadBefore.IsZero() {
			return false
		}
		if c.DeadCheckedAt != nil && !c.DeadCheckedAt.Before(q.DeadBefore) {
			return false
		}
	}
	return LeaseFree(c, q.Now)
}

// MatchesVerify reports whether c is eligible for re-verification.
func MatchesVerify(c *model.Call, q VerifyQuery) bool {
	if c.IsInvalidated || c.AthPrice == nil {
		return false
	}
	if !inBand(c.LiquidityUSD, q.MinLiquidityUSD, q.MaxLiquidityUSD) {
		return false
	}
	return LeaseFree(c, q.Now)
}

// LeaseFree reports whether nobody holds a live claim on c at now.
func LeaseFree(c *model.Call, now time.Time) bool {
	return c.ClaimedUntil == nil || c.ClaimedUntil.Before(now)
}

// inBand admits calls with unknown liquidity to every band; the first run
// that prices them records a liquidity and settles their tier.
func inBand(liq *float64, min, max float64) bool {
	if liq == nil {
		return true
	}
	v := *liq
	if v < min {
		return false
	}
	if max > 0 && v >= max {
		return false
	}
	return true
}

// OlderFirst orders by the nullable timestamp (nil first) then id.
func OlderFirst(a, b *time.Time, idA, idB int64) bool {
	switch {
	case a == nil && b == nil:
		return idA < idB
	case a == nil:
		return true
	case b == nil:
		return false
	case !a.Equal(*b):
		return a.Before(*b)
	}
	return idA < idB
}
