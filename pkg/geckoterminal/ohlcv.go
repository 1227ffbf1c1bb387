package geckoterminal

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"

	"athsync/internal/model"
)

// ParseOHLCVList converts GeckoTerminal OHLCV rows to candles sorted by
// timestamp ascending. It safely skips malformed rows.
func ParseOHLCVList(raw [][]json.Number) []model.Candle {
	out := make([]model.Candle, 0, len(raw))

	for _, row := range raw {
		if len(row) < 6 {
			continue // skip incomplete row
		}

		ts, err := row[0].Int64()
		if err != nil {
			f, ferr := row[0].Float64()
			if ferr != nil {
				continue
			}
			ts = int64(f)
		}

		var vals [5]float64
		ok := true
		for i := 1; i <= 5; i++ {
			v, err := row[i].Float64()
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				ok = false
				break
			}
			vals[i-1] = v
		}
		if !ok {
			continue
		}

		out = append(out, model.Candle{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// parseUSD parses an optional decimal string attribute. Missing or malformed
// values read as zero.
func parseUSD(s *string) float64 {
	if s == nil || *s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(*s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
