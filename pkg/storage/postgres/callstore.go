package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"athsync/internal/model"
	"athsync/internal/storage"

	"gorm.io/gorm"
)

var _ storage.CallStore = (*PostgresClient)(nil)

// InsertCall adds a call row. The engine never creates calls; this exists
// for seeding and tests.
func (p *PostgresClient) InsertCall(ctx context.Context, c model.Call) error {
	if err := p.DB.WithContext(ctx).Create(ToCallRecord(c)).Error; err != nil {
		return fmt.Errorf("insert call %d: %w", c.ID, err)
	}
	return nil
}

func (p *PostgresClient) SelectForTier(ctx context.Context, q storage.TierQuery) ([]model.Call, error) {
	tx := p.tierScope(ctx, q).
		Where("(claimed_until IS NULL OR claimed_until < ?)", q.Now.UTC()).
		Order("last_checked_at ASC NULLS FIRST").
		Order("id ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var records []CallRecord
	if err := tx.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("select for tier: %w", err)
	}
	return toCalls(records), nil
}

func (p *PostgresClient) SelectForVerify(ctx context.Context, q storage.VerifyQuery) ([]model.Call, error) {
	tx := band(p.DB.WithContext(ctx).Model(&CallRecord{}), q.MinLiquidityUSD, q.MaxLiquidityUSD).
		Where("is_invalidated = ?", false).
		Where("ath_price IS NOT NULL").
		Where("(claimed_until IS NULL OR claimed_until < ?)", q.Now.UTC()).
		Order("ath_verified_at ASC NULLS FIRST").
		Order("id ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var records []CallRecord
	if err := tx.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("select for verify: %w", err)
	}
	return toCalls(records), nil
}

func (p *PostgresClient) Get(ctx context.Context, id int64) (*model.Call, error) {
	var rec CallRecord
	err := p.DB.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get call %d: %w", id, err)
	}
	c := rec.ToCall()
	return &c, nil
}

// Claim is a single conditional UPDATE; only one concurrent caller can see
// a row affected.
func (p *PostgresClient) Claim(ctx context.Context, id int64, now, until time.Time) (bool, error) {
	res := p.DB.WithContext(ctx).Model(&CallRecord{}).
		Where("id = ?", id).
		Where("(claimed_until IS NULL OR claimed_until < ?)", now.UTC()).
		Update("claimed_until", until.UTC())
	if res.Error != nil {
		return false, fmt.Errorf("claim call %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (p *PostgresClient) Patch(ctx context.Context, id int64, patch model.CallPatch) error {
	cols := patch.Columns()
	if len(cols) == 0 {
		return storage.ErrEmptyPatch
	}
	res := p.DB.WithContext(ctx).Model(&CallRecord{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("patch call %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (p *PostgresClient) PatchMany(ctx context.Context, ids []int64, patch model.CallPatch) error {
	if len(ids) == 0 {
		return nil
	}
	cols := patch.Columns()
	if len(cols) == 0 {
		return storage.ErrEmptyPatch
	}
	res := p.DB.WithContext(ctx).Model(&CallRecord{}).Where("id IN ?", ids).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("patch %d calls: %w", len(ids), res.Error)
	}
	return nil
}

func (p *PostgresClient) Count(ctx context.Context, q storage.TierQuery) (int, error) {
	var n int64
	if err := p.tierScope(ctx, q).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count calls: %w", err)
	}
	return int(n), nil
}

// tierScope applies every tier predicate except the lease.
func (p *PostgresClient) tierScope(ctx context.Context, q storage.TierQuery) *gorm.DB {
	tx := band(p.DB.WithContext(ctx).Model(&CallRecord{}), q.MinLiquidityUSD, q.MaxLiquidityUSD).
		Where("is_invalidated = ?", false).
		Where("(review_reason IS NULL OR review_reason <> ?)", model.ReviewInvalidEntryPrice)
	if q.DeadBefore.IsZero() {
		return tx.Where("is_dead = ?", false)
	}
	return tx.Where("(is_dead = ? OR dead_checked_at IS NULL OR dead_checked_at < ?)", false, q.DeadBefore.UTC())
}

// band admits unknown liquidity, matching storage.MatchesTier.
func band(tx *gorm.DB, lo, hi float64) *gorm.DB {
	if hi > 0 {
		return tx.Where("(liquidity_usd IS NULL OR (liquidity_usd >= ? AND liquidity_usd < ?))", lo, hi)
	}
	return tx.Where("(liquidity_usd IS NULL OR liquidity_usd >= ?)", lo)
}

func toCalls(records []CallRecord) []model.Call {
	out := make([]model.Call, len(records))
	for i := range records {
		out[i] = records[i].ToCall()
	}
	return out
}
