package model

import "time"

// CallPatch is a column-scoped update for a single call. Only non-nil fields
// are written; identity columns are not representable.
type CallPatch struct {
	CurrentPrice  *float64
	LiquidityUSD  *float64
	MarketCap     *float64
	PriceProvider *string
	PoolAddress   *string

	AthPrice      *float64
	AthTimestamp  *time.Time
	AthRoiPercent *float64

	LastCheckedAt *time.Time
	AthVerifiedAt *time.Time

	IsDead        *bool
	DeadCheckedAt *time.Time

	ClaimedUntil *time.Time
	ReleaseClaim bool // writes claimed_until = NULL

	ReviewReason *string
	ClearReview  bool // writes review_reason = NULL
}

// Columns returns the patch as a column -> value map. Nil means SQL NULL.
func (p CallPatch) Columns() map[string]any {
	cols := make(map[string]any)
	setFloat := func(name string, v *float64) {
		if v != nil {
			cols[name] = *v
		}
	}
	setTime := func(name string, v *time.Time) {
		if v != nil {
			cols[name] = v.UTC()
		}
	}

	setFloat("current_price", p.CurrentPrice)
	setFloat("liquidity_usd", p.LiquidityUSD)
	setFloat("market_cap", p.MarketCap)
	if p.PriceProvider != nil {
		cols["price_provider"] = *p.PriceProvider
	}
	if p.PoolAddress != nil {
		cols["pool_address"] = *p.PoolAddress
	}

	setFloat("ath_price", p.AthPrice)
	setTime("ath_timestamp", p.AthTimestamp)
	setFloat("ath_roi_percent", p.AthRoiPercent)

	setTime("last_checked_at", p.LastCheckedAt)
	setTime("ath_verified_at", p.AthVerifiedAt)

	if p.IsDead != nil {
		cols["is_dead"] = *p.IsDead
	}
	setTime("dead_checked_at", p.DeadCheckedAt)

	if p.ReleaseClaim {
		cols["claimed_until"] = nil
	} else {
		setTime("claimed_until", p.ClaimedUntil)
	}

	if p.ClearReview {
		cols["review_reason"] = nil
	} else if p.ReviewReason != nil {
		cols["review_reason"] = *p.ReviewReason
	}
	return cols
}

// IsEmpty reports whether the patch would write nothing.
func (p CallPatch) IsEmpty() bool {
	return len(p.Columns()) == 0
}

// Apply writes the patch onto c in place. In-memory stores use it to mirror
// what a column-scoped UPDATE does in SQL.
func (p CallPatch) Apply(c *Call) {
	copyF := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		x := *v
		return &x
	}
	copyT := func(v *time.Time) *time.Time {
		if v == nil {
			return nil
		}
		x := v.UTC()
		return &x
	}

	if p.CurrentPrice != nil {
		c.CurrentPrice = copyF(p.CurrentPrice)
	}
	if p.LiquidityUSD != nil {
		c.LiquidityUSD = copyF(p.LiquidityUSD)
	}
	if p.MarketCap != nil {
		c.MarketCap = copyF(p.MarketCap)
	}
	if p.PriceProvider != nil {
		s := *p.PriceProvider
		c.PriceProvider = &s
	}
	if p.PoolAddress != nil {
		s := *p.PoolAddress
		c.PoolAddress = &s
	}
	if p.AthPrice != nil {
		c.AthPrice = copyF(p.AthPrice)
	}
	if p.AthTimestamp != nil {
		c.AthTimestamp = copyT(p.AthTimestamp)
	}
	if p.AthRoiPercent != nil {
		c.AthRoiPercent = copyF(p.AthRoiPercent)
	}
	if p.LastCheckedAt != nil {
		c.LastCheckedAt = copyT(p.LastCheckedAt)
	}
	if p.AthVerifiedAt != nil {
		c.AthVerifiedAt = copyT(p.AthVerifiedAt)
	}
	if p.IsDead != nil {
		c.IsDead = *p.IsDead
	}
	if p.DeadCheckedAt != nil {
		c.DeadCheckedAt = copyT(p.DeadCheckedAt)
	}
	if p.ReleaseClaim {
		c.ClaimedUntil = nil
	} else if p.ClaimedUntil != nil {
		c.ClaimedUntil = copyT(p.ClaimedUntil)
	}
	if p.ClearReview {
		c.ReviewReason = nil
	} else if p.ReviewReason != nil {
		s := *p.ReviewReason
		c.ReviewReason = &s
	}
}

// SetAth fills the ATH columns from a computed record.
func (p *CallPatch) SetAth(rec AthRecord) {
	price, roi, ts := rec.AthPrice, rec.AthRoiPercent, rec.AthTimestamp.UTC()
	p.AthPrice = &price
	p.AthRoiPercent = &roi
	p.AthTimestamp = &ts
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
