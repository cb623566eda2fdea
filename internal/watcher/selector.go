package watcher

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/slices"

	"pricewatch/internal/model"
)

// DefaultTickBudget caps how many watches one tick may re-check upstream.
const DefaultTickBudget = 25

var (
	nearBandRatio = decimal.NewFromFloat(0.01)
	soonBandRatio = decimal.NewFromFloat(0.05)
	farBandRatio  = decimal.NewFromFloat(0.15)
)

// bucket is the coarse urgency class of a watch, from the last price the
// scheduler saw relative to the threshold. Lower is more urgent. Comparisons
// are written as price-threshold <= threshold*ratio so a zero threshold
// needs no special case.
func bucket(w model.Watch) int {
	if w.LastCheckedPrice == nil {
		// Never checked: most urgent, ranked among bucket 0 by staleness.
		return 0
	}
	over := w.LastCheckedPrice.Sub(*w.Threshold)
	switch {
	case over.Sign() <= 0 || over.Cmp(w.Threshold.Mul(nearBandRatio)) <= 0:
		return 0
	case over.Cmp(w.Threshold.Mul(soonBandRatio)) <= 0:
		return 1
	case over.Cmp(w.Threshold.Mul(farBandRatio)) <= 0:
		return 2
	default:
		return 3
	}
}

// staleness is the age of the last observation; never-observed is maximal
// so new watches win every tie-break inside their bucket.
func staleness(w model.Watch, now time.Time) time.Duration {
	if w.LastCheckedAt == nil {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(*w.LastCheckedAt)
}

// selectForCheck ranks every schedulable watch by (bucket, staleness) and
// truncates to budget. The final chat/product tie-breaks make the order
// total, so the same input always selects the same subset. Staleness only
// grows for unselected watches, so nothing starves: within a fixed bucket
// distribution every watch is picked within ceil(N/budget) ticks.
func selectForCheck(all []model.OwnedWatch, budget int, now time.Time) []model.OwnedWatch {
	if len(all) == 0 || budget <= 0 {
		return nil
	}

	ranked := make([]model.OwnedWatch, len(all))
	copy(ranked, all)
	slices.SortStableFunc(ranked, func(a, b model.OwnedWatch) int {
		if c := bucket(a.Watch) - bucket(b.Watch); c != 0 {
			return c
		}
		sa, sb := staleness(a.Watch, now), staleness(b.Watch, now)
		if sa != sb {
			if sa > sb {
				return -1
			}
			return 1
		}
		if a.ChatID != b.ChatID {
			if a.ChatID < b.ChatID {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ProductID, b.ProductID)
	})

	if budget < len(ranked) {
		ranked = ranked[:budget]
	}
	return ranked
}
