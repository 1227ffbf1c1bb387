package model

import "time"

// Discrepancy classifies a stored ATH against a recomputed one.
type Discrepancy string

const (
	DiscrepancyNone        Discrepancy = "none"
	DiscrepancyMinor       Discrepancy = "minor"
	DiscrepancyMajor       Discrepancy = "major"
	DiscrepancyMissingData Discrepancy = "missing-data"
)

// DiscrepancyReport is the verifier's result for one call.
type DiscrepancyReport struct {
	CallID         int64       `json:"call_id"`
	Ticker         string      `json:"ticker"`
	StoredAth      float64     `json:"stored_ath"`
	RecomputedAth  float64     `json:"recomputed_ath"`
	DeltaPercent   float64     `json:"delta_percent"`
	Classification Discrepancy `json:"classification"`
	Corrected      bool        `json:"corrected"`
	Pool           string      `json:"pool,omitempty"`
	CheckedAt      time.Time   `json:"checked_at"`
}

// EventType names a notification emitted by the engine.
type EventType string

const (
	EventNewATH      EventType = "new_ath"
	EventDiscrepancy EventType = "discrepancy"
	EventDead        EventType = "dead"
	EventRevived     EventType = "revived"
)

// Event is handed to the notification sink. Delivery formatting is the
// sink's concern.
type Event struct {
	Type      EventType          `json:"type"`
	CallID    int64              `json:"call_id"`
	Ticker    string             `json:"ticker"`
	Network   string             `json:"network"`
	Ath       *AthRecord         `json:"ath,omitempty"`
	Report    *DiscrepancyReport `json:"report,omitempty"`
	EmittedAt time.Time          `json:"emitted_at"`
}
