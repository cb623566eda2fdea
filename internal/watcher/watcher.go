// Package watcher drives one price-check pass: pick the most urgent watches
// under a fixed budget, fetch fresh prices, and decide per watch whether the
// owning chat gets notified.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/misc"
	"pricewatch/internal/model"
	"pricewatch/internal/pricesource"
	"pricewatch/internal/store"
)

// NotifyCooldown is the minimum spacing between two notifications for the
// same watch, whatever the price does in between.
const NotifyCooldown = 12 * time.Hour

type logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

type Notification struct {
	ChatID    int64
	Kind      model.NotificationKind
	ProductID string
	Name      string
	Price     decimal.Decimal
	Threshold decimal.Decimal
}

// Notifier delivers one notification. Delivery is best effort: a failure is
// reported but the watch state is already committed by then, so the same
// price is never re-announced on a flaky transport.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Watcher struct {
	Store    *store.Store
	Prices   pricesource.Source
	Notifier Notifier
	Logger   logger

	// Budget is the per-tick cap on upstream checks; zero means
	// DefaultTickBudget.
	Budget int

	tickMu sync.Mutex
}

type TickReport struct {
	Checked  int `json:"checked"`
	Notified int `json:"notified"`
	Skipped  int `json:"skipped"`
}

// RunTick performs one scheduler pass at the given time. Ticks are
// serialized: an eagerly fired trigger waits for the previous pass instead
// of mutating the store concurrently. All watch mutations of the pass are
// persisted in a single save at the end.
func (w *Watcher) RunTick(ctx context.Context, now time.Time) (TickReport, error) {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()

	var report TickReport

	candidates := w.Store.Schedulable()
	w.Logger.Infof("RunTick: %d schedulable Watch(es)", len(candidates))

	budget := w.Budget
	if budget <= 0 {
		budget = DefaultTickBudget
	}
	selected := selectForCheck(candidates, budget, now)
	if len(selected) < len(candidates) {
		w.Logger.Infof("RunTick: Selected %d of %d Watch(es) under budget %d", len(selected), len(candidates), budget)
	}

	for _, ow := range selected {
		if ctx.Err() != nil {
			w.Logger.Warnf("RunTick: Tick cancelled after %d check(s), persisting partial progress, err: %v",
				report.Checked, ctx.Err())
			break
		}
		notified, err := w.checkWatch(ctx, ow, now)
		if err != nil {
			// Transient upstream fault: the watch keeps its previous
			// last_checked data and stays in future candidate sets.
			report.Skipped++
			w.Logger.Warnf("RunTick: Skipping Watch for product: %s, chat: %d, err: %v", ow.ProductID, ow.ChatID, err)
			continue
		}
		report.Checked++
		if notified {
			report.Notified++
		}
	}

	if err := w.Store.SaveIfDirty(); err != nil {
		// In-memory state stays authoritative; the dirty flag survives so
		// the next successful save catches up.
		w.Logger.Errorf("RunTick: Error persisting watches, err: %v", err)
		return report, err
	}

	w.Logger.Infof("RunTick: Finished, checked: %d, notified: %d, skipped: %d",
		report.Checked, report.Notified, report.Skipped)
	return report, nil
}

// checkWatch runs the notification state machine for one selected watch.
// The observation (last_checked_price/at) always lands on a successful
// fetch; whether a notification goes out depends on the cooldown, the
// threshold bands and the last notified price baseline.
func (w *Watcher) checkWatch(ctx context.Context, ow model.OwnedWatch, now time.Time) (notified bool, err error) {
	snap, err := w.Prices.PriceData(ctx, ow.ProductID)
	if err != nil {
		return false, err
	}
	current := snap.Current
	threshold := *ow.Threshold

	w.Store.CheckedAt(ow.ChatID, ow.ProductID, current, now)

	if ow.LastNotifiedAt != nil && now.Sub(*ow.LastNotifiedAt) < NotifyCooldown {
		w.Logger.Debugf("checkWatch: Cooldown active for product: %s, chat: %d, last notified: %s",
			ow.ProductID, ow.ChatID, ow.LastNotifiedAt.Format(time.RFC3339))
		return false, nil
	}

	over := current.Sub(threshold)
	nearBand := current.Mul(nearBandRatio)

	if over.Cmp(nearBand) > 0 {
		// Price is back above the threshold beyond the near band. Clearing
		// the baseline here re-arms the watch for the next crossing down;
		// the cooldown still rate-limits how soon that can notify.
		if ow.LastNotifiedPrice != nil {
			w.Store.UpdateWatch(ow.ChatID, ow.ProductID, func(sw *model.Watch) {
				sw.ClearNotified()
			})
			w.Logger.Debugf("checkWatch: Price %s back above threshold %s for product: %s, chat: %d, baseline cleared",
				current.StringFixed(2), threshold.StringFixed(2), ow.ProductID, ow.ChatID)
		}
		return false, nil
	}

	if ow.LastNotifiedPrice != nil && current.Equal(*ow.LastNotifiedPrice) {
		// Same price the chat was already told about.
		return false, nil
	}

	kind := model.NotificationNearThreshold
	if over.Sign() <= 0 {
		kind = model.NotificationBelowThreshold
	}

	name := ow.Name
	if name == "" {
		name = w.Store.FindNameForProduct(ow.ProductID)
	}

	// Commit before delivery so a transport failure cannot re-trigger the
	// same notification next tick.
	w.Store.UpdateWatch(ow.ChatID, ow.ProductID, func(sw *model.Watch) {
		sw.SetNotified(current, now)
	})

	n := Notification{
		ChatID:    ow.ChatID,
		Kind:      kind,
		ProductID: ow.ProductID,
		Name:      name,
		Price:     current,
		Threshold: threshold,
	}
	w.Logger.Infof("checkWatch: Notifying chat: %d, kind: %s, product: %s (%s), price: %s, threshold: %s",
		n.ChatID, n.Kind, n.ProductID, misc.StringLimit(name, 45), current.StringFixed(2), threshold.StringFixed(2))
	if err := w.Notifier.Notify(ctx, n); err != nil {
		w.Logger.Errorf("checkWatch: Delivery failed for product: %s, chat: %d, err: %v", ow.ProductID, ow.ChatID, err)
	}
	return true, nil
}

// RunInInterval drives ticks from an internal ticker for deployments without
// an external cron. Each firing runs the same serialized RunTick the HTTP
// trigger uses.
func (w *Watcher) RunInInterval(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunTick(ctx, time.Now()); err != nil {
				w.Logger.Errorf("RunInInterval: Tick failed, err: %v", err)
			}
		}
	}
}
