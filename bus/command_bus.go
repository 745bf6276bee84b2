// Package bus provides the priority command bus that decouples decision
// producers (review outcomes, orchestrator triggers) from side-effecting
// handlers, with ordering, retry, and causal tracing.
package bus

import (
	"container/heap"
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/jobflow/internal/metrics"
	"github.com/BaSui01/jobflow/types"
)

// Handler processes one command. Handlers are registered per action name
// in a closed mapping resolved at startup; there is no reflective
// parameter binding at dispatch time.
type Handler interface {
	Handle(ctx context.Context, cmd *types.Command) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, cmd *types.Command) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, cmd *types.Command) error {
	return f(ctx, cmd)
}

// Validator inspects a command at submission time. A non-nil error
// rejects the command before it enters the queue.
type Validator func(cmd *types.Command) error

// FailureHook is invoked once a command exhausts its retry budget,
// immediately before it moves to the dead-letter list.
type FailureHook func(cmd *types.Command, err error)

// CommandBus is a priority queue of commands with pluggable handlers,
// automatic retry, and a dead-letter sink for repeated handler failure.
// Lower priority values dispatch first; arrival order breaks ties.
type CommandBus struct {
	mu          sync.Mutex
	queue       commandQueue
	seq         uint64
	handlers    map[string]Handler
	validators  []Validator
	failHooks   []FailureHook
	deadLetters []*types.Command

	logger     *zap.Logger
	collector  *metrics.Collector
	asyncLimit int
}

// Option configures the bus.
type Option func(*CommandBus)

// WithCollector attaches a metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(b *CommandBus) { b.collector = c }
}

// WithAsyncLimit caps concurrent handlers in DispatchAsync.
func WithAsyncLimit(n int) Option {
	return func(b *CommandBus) {
		if n > 0 {
			b.asyncLimit = n
		}
	}
}

// NewCommandBus creates a command bus.
func NewCommandBus(logger *zap.Logger, opts ...Option) *CommandBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &CommandBus{
		handlers:   make(map[string]Handler),
		logger:     logger.With(zap.String("component", "command_bus")),
		asyncLimit: 8,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register binds the handler for an action name. Re-registering an
// action replaces the previous handler.
func (b *CommandBus) Register(action string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[action]; exists {
		b.logger.Warn("replacing command handler", zap.String("action", action))
	}
	b.handlers[action] = h
}

// RegisterValidator appends a submission-time validator.
func (b *CommandBus) RegisterValidator(v Validator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validators = append(b.validators, v)
}

// RegisterFailureHook appends a hook invoked on retry exhaustion.
func (b *CommandBus) RegisterFailureHook(h FailureHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failHooks = append(b.failHooks, h)
}

// Submit stamps trace lineage onto the command, runs all validators, and
// enqueues it by (priority, arrival). A nil parent starts a fresh trace;
// a non-nil parent passes its trace id down and becomes the command's
// causal parent.
func (b *CommandBus) Submit(cmd *types.Command, parent *types.Command) error {
	if cmd == nil {
		return types.NewError(types.ErrValidation, "command cannot be nil")
	}
	if parent != nil {
		cmd.TraceID = parent.TraceID
		cmd.ParentID = parent.ID
	}
	if cmd.TraceID == "" {
		cmd.TraceID = uuid.NewString()
	}
	// A fresh span per submission keeps retries distinguishable in traces.
	cmd.SpanID = uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, v := range b.validators {
		if err := v(cmd); err != nil {
			b.logger.Warn("command rejected by validator",
				zap.String("command_id", cmd.ID),
				zap.String("action", cmd.Action),
				zap.Error(err),
			)
			return types.NewErrorf(types.ErrValidation, "command %s rejected", cmd.ID).WithCause(err)
		}
	}
	b.push(cmd)
	b.logger.Debug("command accepted",
		zap.String("command_id", cmd.ID),
		zap.String("action", cmd.Action),
		zap.Int("priority", cmd.Priority),
	)
	return nil
}

// push enqueues under b.mu.
func (b *CommandBus) push(cmd *types.Command) {
	b.seq++
	heap.Push(&b.queue, &queuedCommand{cmd: cmd, seq: b.seq})
}

// pop dequeues the next command, or nil when the queue is empty.
func (b *CommandBus) pop() *types.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(&b.queue).(*queuedCommand).cmd
}

// Dispatch drains the queue, invoking the registered handler for each
// command in (priority, arrival) order. A missing handler is a fatal
// configuration error and aborts the drain. Handler failures re-enqueue
// the command at the same priority until MaxRetries is reached, after
// which failure hooks run and the command dead-letters.
func (b *CommandBus) Dispatch(ctx context.Context) error {
	for {
		cmd := b.pop()
		if cmd == nil {
			return nil
		}
		if err := b.dispatchOne(ctx, cmd); err != nil {
			return err
		}
	}
}

// DispatchAsync drains the queue like Dispatch but runs handlers on a
// bounded set of goroutines so a handler that suspends (for example on
// the review continuation gate) does not stall unrelated commands.
// Dispatch start order is still (priority, arrival); retry and
// dead-letter semantics are unchanged. DispatchAsync returns once every
// in-flight handler has finished and no retries remain queued.
func (b *CommandBus) DispatchAsync(ctx context.Context) error {
	for {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.asyncLimit)
		drained := true
		for {
			cmd := b.pop()
			if cmd == nil {
				break
			}
			drained = false
			// Missing handlers must surface as an error to the caller:
			// it is a wiring bug, not a runtime failure.
			if _, ok := b.handler(cmd.Action); !ok {
				_ = g.Wait()
				return types.NewErrorf(types.ErrHandlerNotFound,
					"no handler registered for action %q", cmd.Action)
			}
			g.Go(func() error {
				return b.dispatchOne(gctx, cmd)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if drained {
			return nil
		}
		// Retries re-enqueued by in-flight handlers need another pass.
	}
}

func (b *CommandBus) handler(action string) (Handler, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handlers[action]
	return h, ok
}

func (b *CommandBus) dispatchOne(ctx context.Context, cmd *types.Command) error {
	h, ok := b.handler(cmd.Action)
	if !ok {
		return types.NewErrorf(types.ErrHandlerNotFound,
			"no handler registered for action %q", cmd.Action)
	}

	err := b.invoke(ctx, h, cmd)
	if err == nil {
		cmd.Status = types.CommandSuccess
		cmd.FinalResult = "completed"
		if b.collector != nil {
			b.collector.RecordCommandDispatched("success")
		}
		b.logger.Debug("command dispatched", zap.String("command_id", cmd.ID))
		return nil
	}

	cmd.Error = err.Error()
	if cmd.RetryCount < cmd.MaxRetries {
		cmd.RetryCount++
		cmd.Status = types.CommandRetrying
		if b.collector != nil {
			b.collector.RecordCommandRetry()
		}
		b.logger.Warn("command handler failed, retrying",
			zap.String("command_id", cmd.ID),
			zap.String("action", cmd.Action),
			zap.Int("retry_count", cmd.RetryCount),
			zap.Error(err),
		)
		b.mu.Lock()
		b.push(cmd)
		b.mu.Unlock()
		return nil
	}

	b.mu.Lock()
	hooks := make([]FailureHook, len(b.failHooks))
	copy(hooks, b.failHooks)
	b.mu.Unlock()
	for _, hook := range hooks {
		hook(cmd, err)
	}
	cmd.Status = types.CommandDead
	b.mu.Lock()
	b.deadLetters = append(b.deadLetters, cmd)
	b.mu.Unlock()
	if b.collector != nil {
		b.collector.RecordCommandDispatched("dead")
		b.collector.RecordCommandDead()
	}
	b.logger.Error("command exhausted retries, dead-lettered",
		zap.String("command_id", cmd.ID),
		zap.String("action", cmd.Action),
		zap.Int("retry_count", cmd.RetryCount),
		zap.Error(err),
	)
	return nil
}

// invoke shields the bus from handler panics; a panic counts as a
// handler failure subject to the normal retry budget.
func (b *CommandBus) invoke(ctx context.Context, h Handler, cmd *types.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewErrorf(types.ErrInternalError, "handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, cmd)
}

// DeadLetters returns a snapshot of the dead-letter list.
func (b *CommandBus) DeadLetters() []*types.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.Command, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// Pending returns the number of queued commands.
func (b *CommandBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}
