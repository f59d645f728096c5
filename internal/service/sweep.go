package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/thriftpay/internal/domain"
	"github.com/punchamoorthee/thriftpay/internal/store"
)

// SweepReport counts what one sweep did.
type SweepReport struct {
	Checked      int `json:"checked"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	StillPending int `json:"still_pending"`
	Errors       int `json:"errors"`
}

// Sweep re-verifies up to limit payments that have been pending for longer
// than age. Errors on one payment are logged and counted; the payment stays
// pending for the next sweep.
func (r *Reconciler) Sweep(ctx context.Context, lister store.PaymentLister, age time.Duration, limit int) (SweepReport, error) {
	var rep SweepReport

	stale, err := lister.StalePayments(ctx, r.now().Add(-age), limit)
	if err != nil {
		return rep, fmt.Errorf("list stale payments: %w", err)
	}

	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Checked++

		out, err := r.Verify(ctx, p.Reference)
		if err != nil {
			rep.Errors++
			if !errors.Is(err, ErrGatewayUnavailable) {
				r.logger.Error("sweep: verify failed", "reference", p.Reference, "error", err)
			}
			continue
		}
		switch out.Kind {
		case domain.OutcomeSucceeded:
			rep.Succeeded++
		case domain.OutcomeFailed:
			rep.Failed++
		default:
			rep.StillPending++
		}
	}

	r.logger.Info("sweep finished",
		"checked", rep.Checked,
		"succeeded", rep.Succeeded,
		"failed", rep.Failed,
		"pending", rep.StillPending,
		"errors", rep.Errors)
	return rep, nil
}
