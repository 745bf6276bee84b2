package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/jobflow/bus"
	"github.com/BaSui01/jobflow/review"
	"github.com/BaSui01/jobflow/types"
)

// Review follow-up actions a reviewer may emit through the command bus.
const (
	ActionContinue = "continue"
	ActionRollback = "rollback"
	ActionFail     = "fail"
)

// RegisterReviewHandlers binds the follow-up actions of review
// decisions onto the command bus. Each action resolves to one typed
// handler at registration time.
func (l *Leader) RegisterReviewHandlers(b *bus.CommandBus, gate *review.ContinueGate) {
	b.Register(ActionContinue, bus.HandlerFunc(func(ctx context.Context, cmd *types.Command) error {
		gate.AllowContinue()
		return nil
	}))

	b.Register(ActionRollback, bus.HandlerFunc(func(ctx context.Context, cmd *types.Command) error {
		jobID, err := bus.RequireStringParam(cmd, "job_id")
		if err != nil {
			return err
		}
		if err := l.jobs.ResetJobResult(ctx, jobID); err != nil {
			return err
		}
		// The rolled-back unit must not stay parked on the gate.
		gate.AllowContinue()
		l.logger.Info("review rolled back sub-job",
			zap.String("sub_job_id", jobID),
			zap.String("reason", bus.StringParam(cmd, "reason", "")),
		)
		return nil
	}))

	b.Register(ActionFail, bus.HandlerFunc(func(ctx context.Context, cmd *types.Command) error {
		jobID, err := bus.RequireStringParam(cmd, "job_id")
		if err != nil {
			return err
		}
		sub, err := l.jobs.GetSubJob(ctx, jobID)
		if err != nil {
			return err
		}
		reason := bus.StringParam(cmd, "reason", "review rejected sub-job "+jobID)
		if err := l.FailJobGraph(ctx, sub.OriginalJobID, reason); err != nil {
			return err
		}
		gate.AllowContinue()
		return nil
	}))
}
