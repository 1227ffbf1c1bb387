package postgres

import (
	"time"

	"athsync/internal/model"
)

// CallRecord is the calls table as the engine sees it. Self-hosted
// deployments create it through AutoMigrate.
type CallRecord struct {
	ID int64 `gorm:"primaryKey"`

	Ticker          string    `gorm:"type:text;not null"`
	Network         string    `gorm:"type:varchar(32);not null;index:idx_calls_network_contract"`
	ContractAddress string    `gorm:"type:text;not null;index:idx_calls_network_contract"`
	PoolAddress     *string   `gorm:"type:text"`
	CallTimestamp   time.Time `gorm:"not null"`
	EntryPrice      float64   `gorm:"type:double precision;not null"`

	LiquidityUSD  *float64 `gorm:"column:liquidity_usd;type:double precision;index:idx_calls_liquidity"`
	CurrentPrice  *float64 `gorm:"type:double precision"`
	MarketCap     *float64 `gorm:"type:double precision"`
	PriceProvider *string  `gorm:"type:varchar(32)"`

	AthPrice      *float64   `gorm:"type:double precision"`
	AthTimestamp  *time.Time
	AthRoiPercent *float64 `gorm:"type:double precision"`

	LastCheckedAt *time.Time `gorm:"index:idx_calls_last_checked"`
	AthVerifiedAt *time.Time `gorm:"index:idx_calls_ath_verified"`

	IsDead        bool `gorm:"not null;default:false"`
	DeadCheckedAt *time.Time
	IsInvalidated bool `gorm:"not null;default:false"`

	ClaimedUntil *time.Time
	ReviewReason *string `gorm:"type:varchar(32)"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (CallRecord) TableName() string {
	return "calls"
}

// ToCall converts the row to the engine's model, normalising times to UTC.
func (r *CallRecord) ToCall() model.Call {
	return model.Call{
		ID:              r.ID,
		Ticker:          r.Ticker,
		Network:         r.Network,
		ContractAddress: r.ContractAddress,
		PoolAddress:     r.PoolAddress,
		CallTimestamp:   r.CallTimestamp.UTC(),
		EntryPrice:      r.EntryPrice,
		LiquidityUSD:    r.LiquidityUSD,
		CurrentPrice:    r.CurrentPrice,
		MarketCap:       r.MarketCap,
		PriceProvider:   r.PriceProvider,
		AthPrice:        r.AthPrice,
		AthTimestamp:    utc(r.AthTimestamp),
		AthRoiPercent:   r.AthRoiPercent,
		LastCheckedAt:   utc(r.LastCheckedAt),
		AthVerifiedAt:   utc(r.AthVerifiedAt),
		IsDead:          r.IsDead,
		DeadCheckedAt:   utc(r.DeadCheckedAt),
		IsInvalidated:   r.IsInvalidated,
		ClaimedUntil:    utc(r.ClaimedUntil),
		ReviewReason:    r.ReviewReason,
	}
}

// ToCallRecord converts a call for insertion. Used by seeding and tests;
// the engine itself never inserts calls.
func ToCallRecord(c model.Call) *CallRecord {
	return &CallRecord{
		ID:              c.ID,
		Ticker:          c.Ticker,
		Network:         c.Network,
		ContractAddress: c.ContractAddress,
		PoolAddress:     c.PoolAddress,
		CallTimestamp:   c.CallTimestamp.UTC(),
		EntryPrice:      c.EntryPrice,
		LiquidityUSD:    c.LiquidityUSD,
		CurrentPrice:    c.CurrentPrice,
		MarketCap:       c.MarketCap,
		PriceProvider:   c.PriceProvider,
		AthPrice:        c.AthPrice,
		AthTimestamp:    utc(c.AthTimestamp),
		AthRoiPercent:   c.AthRoiPercent,
		LastCheckedAt:   utc(c.LastCheckedAt),
		AthVerifiedAt:   utc(c.AthVerifiedAt),
		IsDead:          c.IsDead,
		DeadCheckedAt:   utc(c.DeadCheckedAt),
		IsInvalidated:   c.IsInvalidated,
		ClaimedUntil:    utc(c.ClaimedUntil),
		ReviewReason:    c.ReviewReason,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
