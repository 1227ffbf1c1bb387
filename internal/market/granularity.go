package market

import (
	"time"

	"athsync/internal/model"
)

// Windows bounds the candle granularity by call age. Upstream retention for
// fine-grained candles is short, so old calls are served from coarser data.
type Windows struct {
	Minute time.Duration
	Hour   time.Duration
}

func DefaultWindows() Windows {
	return Windows{Minute: 48 * time.Hour, Hour: 30 * 24 * time.Hour}
}

// SelectGranularity picks minute, hour or day candles for a call made at callTime.
func SelectGranularity(callTime, now time.Time, w Windows) model.Granularity {
	if w.Minute <= 0 && w.Hour <= 0 {
		w = DefaultWindows()
	}
	age := now.Sub(callTime)
	switch {
	case age < w.Minute:
		return model.GranularityMinute
	case age < w.Hour:
		return model.GranularityHour
	}
	return model.GranularityDay
}
