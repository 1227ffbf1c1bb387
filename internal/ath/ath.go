// Package ath derives all-time-high price and ROI from candle history.
package ath

import (
	"math"
	"strconv"
	"time"

	"athsync/internal/model"
)

// Compute returns the highest high at or after callTime and the ROI
// relative to entryPrice. Equal highs resolve to the earliest timestamp,
// whatever the input order. Candles with non-finite or non-positive highs
// are ignored.
func Compute(candles []model.Candle, callTime time.Time, entryPrice float64) (model.AthRecord, error) {
	if !(entryPrice > 0) || math.IsInf(entryPrice, 0) {
		return model.AthRecord{}, model.ErrInvalidEntryPrice
	}

	var (
		best  model.Candle
		found bool
	)
	for _, c := range candles {
		if c.Timestamp.Before(callTime) {
			continue
		}
		if !(c.High > 0) || math.IsInf(c.High, 0) {
			continue
		}
		if !found || c.High > best.High || (c.High == best.High && c.Timestamp.Before(best.Timestamp)) {
			best = c
			found = true
		}
	}
	if !found {
		return model.AthRecord{}, model.ErrNoDataAfterCall
	}

	return model.AthRecord{
		AthPrice:      best.High,
		AthTimestamp:  best.Timestamp.UTC(),
		AthRoiPercent: ROI(best.High, entryPrice),
	}, nil
}

// ROI is (price - entry) / entry * 100.
func ROI(price, entry float64) float64 {
	return (price - entry) / entry * 100
}

// Improves reports whether rec beats the stored ATH.
func Improves(rec model.AthRecord, stored *float64) bool {
	return stored == nil || rec.AthPrice > *stored
}

// FormatPrice renders p without exponent so sub-cent prices keep their zeros.
func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
