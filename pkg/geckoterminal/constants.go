package geckoterminal

// Timeframe is the OHLCV timeframe path segment used for API requests.
type Timeframe string

const (
	TimeframeMinute Timeframe = "minute"
	TimeframeHour   Timeframe = "hour"
	TimeframeDay    Timeframe = "day"
)

// MaxOHLCVLimit is the largest page size the OHLCV endpoint returns.
const MaxOHLCVLimit = 1000

var validTimeframes = map[Timeframe]struct{}{
	TimeframeMinute: {},
	TimeframeHour:   {},
	TimeframeDay:    {},
}

// IsValid checks if the Timeframe is a supported value.
func (t Timeframe) IsValid() bool {
	_, ok := validTimeframes[t]
	return ok
}
