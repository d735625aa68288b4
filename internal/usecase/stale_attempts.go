package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const staleAttemptReason = "checkout attempt stayed PENDING past the stale threshold"

// before より前から PENDING のままの試行を照合対象として通知する。
// 決済済みかどうかはここでは分からないので、在庫もキーも解放しない。
// 通知できたものだけ flagged にし、失敗したものは次回また拾う。
func (u *CheckoutUsecase) SweepStaleAttempts(ctx context.Context, before time.Time, limit int) (int, error) {
	stale, err := u.attempts.ListStalePending(ctx, before, limit)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, a := range stale {
		u.logger.Error("STALE CHECKOUT ATTEMPT: pending attempt needs reconciliation",
			zap.Int64("attempt_id", a.ID),
			zap.Int64("buyer_id", a.BuyerID),
			zap.String("idempotency_key", a.Key),
			zap.Time("updated_at", a.UpdatedAt))

		if u.alerter != nil {
			alert := ChargeAlert{
				BuyerID:        a.BuyerID,
				IdempotencyKey: a.Key,
				AttemptID:      a.ID,
				Reason:         staleAttemptReason,
				OccurredAt:     time.Now().UTC(),
			}
			if err := u.alerter.AlertChargedUnrecorded(ctx, alert); err != nil {
				u.logger.Warn("publish stale attempt alert failed, will retry",
					zap.Int64("attempt_id", a.ID),
					zap.Error(err))
				continue
			}
		}

		if err := u.attempts.MarkFlagged(ctx, a.ID, time.Now().UTC()); err != nil {
			// 直前にCompleteされた等。次回の一覧には出ない
			u.logger.Warn("flag stale attempt failed",
				zap.Int64("attempt_id", a.ID),
				zap.Error(err))
			continue
		}
		u.metrics.StaleAttempt()
		flagged++
	}
	return flagged, nil
}
