// Package review provides the asynchronous review gate: a bounded pool
// of reviewer workers that evaluate completed operator output and emit
// follow-up commands, plus the continuation gate experts block on while
// a review is pending.
package review

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/jobflow/bus"
	"github.com/BaSui01/jobflow/internal/metrics"
	"github.com/BaSui01/jobflow/types"
)

// Request describes one just-finished operator awaiting review.
type Request struct {
	// JobID identifies the sub-job the operator ran under
	JobID string `json:"job_id"`

	// ExpertName names the expert whose workflow contains the operator
	ExpertName string `json:"expert_name"`

	// OperatorID and OperatorName identify the reviewed step
	OperatorID   string `json:"operator_id"`
	OperatorName string `json:"operator_name,omitempty"`

	// Task is what the operator was asked to do
	Task string `json:"task"`

	// Output is what the operator produced
	Output string `json:"output"`

	// Status is the operator's own outcome classification
	Status string `json:"status"`

	// Predecessors and Successors place the operator in its workflow
	Predecessors []string `json:"predecessors,omitempty"`
	Successors   []string `json:"successors,omitempty"`
}

// Decision is the outcome of one review. An empty Action means the
// reviewer had nothing to say and the decision is dropped.
type Decision struct {
	// OperatorID echoes the reviewed operator
	OperatorID string `json:"operator_id"`

	// Action selects the follow-up command (retry, rollback, continue, ...)
	Action string `json:"action"`

	// Score rates the reviewed output
	Score float64 `json:"score"`

	// Reason explains the decision
	Reason string `json:"reason,omitempty"`

	// Instruction carries corrective guidance for a retry
	Instruction string `json:"instruction,omitempty"`

	// Err is set when the review itself failed
	Err string `json:"error,omitempty"`
}

// DecisionFunc evaluates one review request. Implementations typically
// call a model endpoint; the pool only depends on this signature.
type DecisionFunc func(ctx context.Context, req *Request) (*Decision, error)

// Callback receives every decision, in worker completion order — which
// is not necessarily submission order.
type Callback func(jobID string, decision *Decision)

// Pool runs a fixed set of reviewer workers over a queue of requests.
type Pool struct {
	queue   chan *Request
	stop    chan struct{}
	wg      sync.WaitGroup
	decide  DecisionFunc
	cb      Callback
	stopped sync.Once

	logger    *zap.Logger
	collector *metrics.Collector
}

// PoolConfig configures the review pool.
type PoolConfig struct {
	// Workers is the number of concurrent reviewers
	Workers int `yaml:"workers" json:"workers"`
	// QueueSize bounds the pending request queue
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 2, QueueSize: 64}
}

// NewPool creates and starts the worker set.
func NewPool(config PoolConfig, decide DecisionFunc, cb Callback, logger *zap.Logger, collector *metrics.Collector) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	p := &Pool{
		queue:     make(chan *Request, config.QueueSize),
		stop:      make(chan struct{}),
		decide:    decide,
		cb:        cb,
		logger:    logger.With(zap.String("component", "review_pool")),
		collector: collector,
	}
	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues a review request. Returns false if the pool has been
// stopped or the queue is full.
func (p *Pool) Submit(req *Request) bool {
	select {
	case <-p.stop:
		return false
	default:
	}
	select {
	case p.queue <- req:
		return true
	default:
		p.logger.Warn("review queue full, dropping request",
			zap.String("job_id", req.JobID),
			zap.String("operator_id", req.OperatorID),
		)
		return false
	}
}

// Stop signals all workers to exit after draining in-flight work and
// waits for them to finish.
func (p *Pool) Stop() {
	p.stopped.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case req := <-p.queue:
			p.process(req)
		case <-p.stop:
			// Drain whatever is already queued, then exit.
			for {
				select {
				case req := <-p.queue:
					p.process(req)
				default:
					return
				}
			}
		}
	}
}

// process invokes the decision function. A decision error or panic is
// converted into a synthetic failed decision rather than crashing the
// worker.
func (p *Pool) process(req *Request) {
	if req == nil {
		return
	}
	start := time.Now()
	decision, err := p.safeDecide(req)
	if err != nil {
		p.logger.Warn("review decision failed",
			zap.String("job_id", req.JobID),
			zap.String("operator_id", req.OperatorID),
			zap.Error(err),
		)
		decision = &Decision{
			OperatorID: req.OperatorID,
			Action:     "failed",
			Err:        err.Error(),
		}
	}
	if decision.OperatorID == "" {
		decision.OperatorID = req.OperatorID
	}
	if p.collector != nil {
		outcome := decision.Action
		if outcome == "" {
			outcome = "none"
		}
		p.collector.RecordReview(outcome, time.Since(start))
	}
	p.cb(req.JobID, decision)
}

func (p *Pool) safeDecide(req *Request) (d *Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = types.NewErrorf(types.ErrInternalError, "review panicked: %v", r)
		}
	}()
	d, err = p.decide(context.Background(), req)
	if err == nil && d == nil {
		err = types.NewError(types.ErrInternalError, "review returned no decision")
	}
	return d, err
}

// BusNotifier returns a Callback that turns decisions into commands on
// the bus: the decision's action becomes the command action, the
// reviewed operator its target, and score/reason/instruction its
// parameters. Decisions with an empty action are logged and dropped.
func BusNotifier(b *bus.CommandBus, logger *zap.Logger) Callback {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "review_notifier"))
	return func(jobID string, decision *Decision) {
		if decision.Action == "" {
			logger.Info("review produced no action, dropping",
				zap.String("job_id", jobID),
				zap.String("operator_id", decision.OperatorID),
			)
			return
		}
		cmd := types.NewCommand(decision.Action, decision.OperatorID, map[string]any{
			"job_id":      jobID,
			"score":       decision.Score,
			"reason":      decision.Reason,
			"instruction": decision.Instruction,
		})
		cmd.Source = "review_pool"
		cmd.Reason = decision.Reason
		if err := b.Submit(cmd, nil); err != nil {
			logger.Warn("failed to submit review command",
				zap.String("job_id", jobID),
				zap.String("action", decision.Action),
				zap.Error(err),
			)
		}
	}
}
