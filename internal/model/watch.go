package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Watch is one chat's interest in one product. A Watch without a Threshold
// exists (the chat added the product but never set a price) and is invisible
// to the scheduler.
type Watch struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`

	Threshold *decimal.Decimal `json:"threshold,omitempty"`

	// LastNotifiedPrice and LastNotifiedAt are set together when a
	// notification is sent and cleared together when the threshold changes.
	// A nil LastNotifiedPrice means no notification since the last reset.
	LastNotifiedPrice *decimal.Decimal `json:"last_notified_price,omitempty"`
	LastNotifiedAt    *time.Time       `json:"last_notified_at,omitempty"`

	// LastCheckedPrice and LastCheckedAt record the most recent observation
	// by the scheduler, set together regardless of notification outcome.
	// Used for prioritization only.
	LastCheckedPrice *decimal.Decimal `json:"last_checked_price,omitempty"`
	LastCheckedAt    *time.Time       `json:"last_checked_at,omitempty"`
}

func (w Watch) Schedulable() bool {
	return w.Threshold != nil
}

func (w *Watch) SetChecked(price decimal.Decimal, at time.Time) {
	w.LastCheckedPrice = &price
	w.LastCheckedAt = &at
}

func (w *Watch) SetNotified(price decimal.Decimal, at time.Time) {
	w.LastNotifiedPrice = &price
	w.LastNotifiedAt = &at
}

func (w *Watch) ClearNotified() {
	w.LastNotifiedPrice = nil
	w.LastNotifiedAt = nil
}

// OwnedWatch pairs a Watch with the chat that owns it, for code that works
// across all chats (the scheduler, cross-owner name lookup).
type OwnedWatch struct {
	ChatID int64
	Watch
}

// PriceSnapshot is the price data returned for a product: the current price
// plus statistics over a trailing 90-day window. Window statistics may be
// absent when the upstream does not report them. Snapshots are never
// persisted; only Current feeds back into Watch fields.
type PriceSnapshot struct {
	Current   decimal.Decimal  `json:"current"`
	Lowest90  *decimal.Decimal `json:"lowest_90,omitempty"`
	Average90 *decimal.Decimal `json:"average_90,omitempty"`
	Highest90 *decimal.Decimal `json:"highest_90,omitempty"`
}

type NotificationKind string

const (
	NotificationBelowThreshold NotificationKind = "below_threshold"
	NotificationNearThreshold  NotificationKind = "near_threshold"
)
