package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names an outward notification about an escrow
type EventKind string

const (
	EventFunded    EventKind = "funded"
	EventReleased  EventKind = "released"
	EventDisputed  EventKind = "disputed"
	EventCancelled EventKind = "cancelled"
)

// Observation is one incoming transfer reported by a ledger explorer
type Observation struct {
	TxHash        string          `json:"tx_hash"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int             `json:"confirmations"`
}

// Quote is the fee/net split computed when an escrow amount is locked
type Quote struct {
	Gross decimal.Decimal `json:"gross"`
	Fee   decimal.Decimal `json:"fee"`
	Net   decimal.Decimal `json:"net"`
}

// OverrideAction is what an admin forces on an escrow
type OverrideAction string

const (
	OverrideRelease OverrideAction = "release"
	OverrideCancel  OverrideAction = "cancel"
)

// CycleStats summarizes one poll scheduler cycle
type CycleStats struct {
	Pending  int
	Funded   int
	Failed   int
	Duration time.Duration
}
