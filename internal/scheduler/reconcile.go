package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	"go.uber.org/zap"
)

// SweepReport summarizes one pass over every obligation.
type SweepReport struct {
	Checked    int            `json:"checked"`
	Consistent int            `json:"consistent"`
	Drifted    []snowflake.ID `json:"drifted"`
	Failed     int            `json:"failed"`
}

func (s *Scheduler) ReconcileObligationsJob(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep replays the transaction log of every obligation in id order and
// compares it with the stored cumulative totals. Drifted obligations are
// reported and logged but never rewritten.
func (s *Scheduler) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, run := s.startJobRun(ctx, JobReconcileObligations, s.cfg.BatchSize)

	var (
		report  SweepReport
		afterID snowflake.ID
		jobErr  error
	)
	for {
		if err := ctx.Err(); err != nil {
			return report, errors.Join(jobErr, err)
		}

		ids, err := s.ledgerRepo.ListObligationIDs(ctx, s.db.WithContext(ctx), afterID, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.obligation.page.failed", err,
				zap.String("after_id", idString(afterID)),
			)
			return report, errors.Join(jobErr, err)
		}
		if len(ids) == 0 {
			break
		}

		consistent, drifted := 0, 0
		for _, id := range ids {
			result, err := s.collectionSvc.Reconcile(ctx, id)
			if errors.Is(err, ledgerdomain.ErrObligationNotFound) {
				continue
			}
			if err != nil {
				report.Failed++
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.obligation.reconcile.failed", err,
					zap.String("obligation_id", idString(id)),
				)
				if ctx.Err() != nil {
					break
				}
				continue
			}
			report.Checked++
			if result.Consistent {
				consistent++
				continue
			}
			drifted++
			report.Drifted = append(report.Drifted, id)
			s.logger(ctx).Warn("scheduler.obligation.drifted",
				zap.String("obligation_id", result.ObligationID),
				zap.Int("record_count", result.RecordCount),
				zap.Any("stored", result.Stored),
				zap.Any("folded", result.Folded),
			)
		}

		report.Consistent += consistent
		run.AddProcessed(consistent + drifted)
		run.AddDrifted(drifted)
		s.ledgerMetrics.AddReconciled(consistent, drifted)

		afterID = ids[len(ids)-1]
		if len(ids) < s.cfg.BatchSize {
			break
		}
	}

	return report, jobErr
}
