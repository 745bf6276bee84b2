package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/jobflow/bus"
	"github.com/BaSui01/jobflow/config"
	"github.com/BaSui01/jobflow/internal/metrics"
	"github.com/BaSui01/jobflow/review"
	"github.com/BaSui01/jobflow/scheduler"
	"github.com/BaSui01/jobflow/store"
	"github.com/BaSui01/jobflow/types"
)

// run wires the engine together and executes a single goal end to end.
// This is the only place process-wide instances live; every layer below
// receives its collaborators explicitly.
func run(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector, goal, session string) error {
	ctx := context.Background()

	jobs := store.NewMemoryJobStore()
	defer func() { _ = jobs.Close() }()

	messages, err := buildMessageStore(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer func() { _ = messages.Close() }()

	provenance, err := buildLedger(cfg.Ledger, logger)
	if err != nil {
		return err
	}
	defer func() { _ = provenance.Close() }()

	commandBus := bus.NewCommandBus(logger, bus.WithCollector(collector), bus.WithAsyncLimit(cfg.Bus.AsyncLimit))
	gate := review.NewContinueGate()

	reviewPool := review.NewPool(
		review.PoolConfig{Workers: cfg.Review.Workers, QueueSize: cfg.Review.QueueSize},
		approveEverything,
		review.BusNotifier(commandBus, logger),
		logger,
		collector,
	)
	defer reviewPool.Stop()

	experts := scheduler.NewRegistry()
	experts.Register(scheduler.NewWorkflowExpert(
		"generalist",
		[]scheduler.Operator{scheduler.OperatorFunc{
			OpID:   "op-answer",
			OpName: "answer",
			Fn:     answerOperator,
		}},
		provenance,
		logger,
		scheduler.WithReview(reviewPool, gate),
	))

	leader, err := scheduler.NewLeader(scheduler.Options{
		JobStore:         jobs,
		MessageStore:     messages,
		Experts:          experts,
		Decomposer:       scheduler.DecomposerFunc(singleExpertPlan),
		Collector:        collector,
		Logger:           logger,
		DefaultLifeCycle: cfg.Scheduler.DefaultLifeCycle,
		MaxWorkers:       cfg.Scheduler.MaxWorkers,
		QueueSize:        cfg.Scheduler.QueueSize,
	})
	if err != nil {
		return err
	}
	defer leader.Close()
	leader.RegisterReviewHandlers(commandBus, gate)

	// Keep review follow-up commands flowing while the graph executes.
	busCtx, cancelBus := context.WithCancel(ctx)
	defer cancelBus()
	go dispatchLoop(busCtx, commandBus, logger)

	job := types.NewJob(session, goal, "")
	if err := jobs.SaveJob(ctx, job); err != nil {
		return err
	}
	if err := leader.ExecuteOriginalJob(ctx, job.ID); err != nil {
		return err
	}

	result, err := jobs.GetJobResult(ctx, job.ID)
	if err != nil {
		return err
	}
	fmt.Printf("job %s finished with status %s\n%s\n", job.ID, result.Status, result.Payload)
	return nil
}

// dispatchLoop drains the command bus until the run ends.
func dispatchLoop(ctx context.Context, b *bus.CommandBus, logger *zap.Logger) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.Pending() > 0 {
			if err := b.DispatchAsync(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("command dispatch failed", zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// singleExpertPlan is the built-in decomposer: one sub-job for the
// generalist expert. Replace it with a model-backed planner in real
// deployments.
func singleExpertPlan(ctx context.Context, goal, jobContext string, availableExperts []string) (map[string]scheduler.SubJobSpec, error) {
	expert := "generalist"
	if len(availableExperts) > 0 {
		expert = availableExperts[0]
	}
	return map[string]scheduler.SubJobSpec{
		"task-1": {
			Goal:               goal,
			Context:            jobContext,
			CompletionCriteria: "the goal is addressed",
			AssignedExpert:     expert,
		},
	}, nil
}

// answerOperator is the built-in expert step: it echoes its input and
// records the invocation in the ledger.
func answerOperator(ctx context.Context, oc *scheduler.OperatorContext) (string, error) {
	output := strings.TrimSpace(oc.Input())
	if output == "" {
		output = "done"
	}
	if _, err := oc.RecordAction("act-answer", "respond", oc.Input(), "builtin", output, "", 0, 0, 0); err != nil {
		return "", err
	}
	return output, nil
}

// approveEverything is the built-in review decision: score and let the
// unit continue.
func approveEverything(ctx context.Context, req *review.Request) (*review.Decision, error) {
	return &review.Decision{
		OperatorID: req.OperatorID,
		Action:     scheduler.ActionContinue,
		Score:      1.0,
		Reason:     "auto-approved",
	}, nil
}
