package bus

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/jobflow/types"
)

// recordingHandler appends every command id it sees, in order.
type recordingHandler struct {
	mu  sync.Mutex
	ids []string
}

func (h *recordingHandler) Handle(ctx context.Context, cmd *types.Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, cmd.ID)
	return nil
}

func TestDispatch_PriorityThenArrival(t *testing.T) {
	b := NewCommandBus(nil)
	h := &recordingHandler{}
	b.Register("noop", h)

	first := types.NewCommand("noop", "t", nil)
	first.Priority = 5
	second := types.NewCommand("noop", "t", nil)
	second.Priority = 1
	third := types.NewCommand("noop", "t", nil)
	third.Priority = 5

	require.NoError(t, b.Submit(first, nil))
	require.NoError(t, b.Submit(second, nil))
	require.NoError(t, b.Submit(third, nil))

	require.NoError(t, b.Dispatch(context.Background()))

	// Priority 1 first, then the two priority-5 commands in arrival order.
	assert.Equal(t, []string{second.ID, first.ID, third.ID}, h.ids)
}

func TestSubmit_StampsTraceLineage(t *testing.T) {
	b := NewCommandBus(nil)

	parent := types.NewCommand("noop", "t", nil)
	require.NoError(t, b.Submit(parent, nil))
	require.NotEmpty(t, parent.TraceID)
	require.NotEmpty(t, parent.SpanID)

	child := types.NewCommand("noop", "t", nil)
	require.NoError(t, b.Submit(child, parent))
	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.ID, child.ParentID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
}

func TestSubmit_ValidatorRejects(t *testing.T) {
	b := NewCommandBus(nil)
	b.RegisterValidator(func(cmd *types.Command) error {
		if cmd.Target == "" {
			return errors.New("target required")
		}
		return nil
	})

	err := b.Submit(types.NewCommand("noop", "", nil), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.Equal(t, 0, b.Pending())
}

func TestDispatch_MissingHandlerIsFatal(t *testing.T) {
	b := NewCommandBus(nil)
	require.NoError(t, b.Submit(types.NewCommand("unbound", "t", nil), nil))

	err := b.Dispatch(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrHandlerNotFound, types.GetErrorCode(err))
}

func TestDispatch_RetryThenDeadLetter(t *testing.T) {
	b := NewCommandBus(nil)
	attempts := 0
	b.Register("flaky", HandlerFunc(func(ctx context.Context, cmd *types.Command) error {
		attempts++
		return errors.New("boom")
	}))

	var hooked []*types.Command
	b.RegisterFailureHook(func(cmd *types.Command, err error) {
		hooked = append(hooked, cmd)
	})

	cmd := types.NewCommand("flaky", "t", nil)
	cmd.MaxRetries = 2
	require.NoError(t, b.Submit(cmd, nil))
	require.NoError(t, b.Dispatch(context.Background()))

	// Initial attempt plus two retries.
	assert.Equal(t, 3, attempts)

	dead := b.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, cmd.ID, dead[0].ID)
	assert.Equal(t, cmd.MaxRetries, dead[0].RetryCount)
	assert.Equal(t, types.CommandDead, dead[0].Status)
	require.Len(t, hooked, 1)
	assert.Equal(t, cmd.ID, hooked[0].ID)
}

func TestDispatch_RetrySucceedsBeforeExhaustion(t *testing.T) {
	b := NewCommandBus(nil)
	attempts := 0
	b.Register("flaky", HandlerFunc(func(ctx context.Context, cmd *types.Command) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	}))

	cmd := types.NewCommand("flaky", "t", nil)
	require.NoError(t, b.Submit(cmd, nil))
	require.NoError(t, b.Dispatch(context.Background()))

	assert.Equal(t, 2, attempts)
	assert.Equal(t, types.CommandSuccess, cmd.Status)
	assert.Empty(t, b.DeadLetters())
}

func TestDispatch_HandlerPanicCountsAsFailure(t *testing.T) {
	b := NewCommandBus(nil)
	b.Register("panicky", HandlerFunc(func(ctx context.Context, cmd *types.Command) error {
		panic("kaboom")
	}))

	cmd := types.NewCommand("panicky", "t", nil)
	cmd.MaxRetries = 0
	require.NoError(t, b.Submit(cmd, nil))
	require.NoError(t, b.Dispatch(context.Background()))

	require.Len(t, b.DeadLetters(), 1)
	assert.Contains(t, b.DeadLetters()[0].Error, "kaboom")
}

func TestDispatchAsync_DrainsAllAndRetries(t *testing.T) {
	b := NewCommandBus(nil, WithAsyncLimit(4))
	var mu sync.Mutex
	handled := 0
	failedOnce := make(map[string]bool)
	b.Register("work", HandlerFunc(func(ctx context.Context, cmd *types.Command) error {
		mu.Lock()
		defer mu.Unlock()
		if !failedOnce[cmd.ID] {
			failedOnce[cmd.ID] = true
			return errors.New("first attempt fails")
		}
		handled++
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Submit(types.NewCommand("work", "t", nil), nil))
	}
	require.NoError(t, b.DispatchAsync(context.Background()))

	assert.Equal(t, 10, handled)
	assert.Equal(t, 0, b.Pending())
	assert.Empty(t, b.DeadLetters())
}

func TestDispatchAsync_MissingHandlerIsFatal(t *testing.T) {
	b := NewCommandBus(nil)
	require.NoError(t, b.Submit(types.NewCommand("unbound", "t", nil), nil))

	err := b.DispatchAsync(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrHandlerNotFound, types.GetErrorCode(err))
}

// TestProperty_DispatchOrder checks priority-then-arrival ordering over
// arbitrary submission sequences.
func TestProperty_DispatchOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		priorities := rapid.SliceOfN(rapid.IntRange(0, 5), 1, 30).Draw(rt, "priorities")

		b := NewCommandBus(nil)
		h := &recordingHandler{}
		b.Register("noop", h)

		type submitted struct {
			id       string
			priority int
			arrival  int
		}
		cmds := make([]submitted, 0, len(priorities))
		for i, p := range priorities {
			cmd := types.NewCommand("noop", "t", nil)
			cmd.Priority = p
			require.NoError(rt, b.Submit(cmd, nil))
			cmds = append(cmds, submitted{id: cmd.ID, priority: p, arrival: i})
		}
		require.NoError(rt, b.Dispatch(context.Background()))

		expected := make([]submitted, len(cmds))
		copy(expected, cmds)
		sort.SliceStable(expected, func(i, j int) bool {
			if expected[i].priority != expected[j].priority {
				return expected[i].priority < expected[j].priority
			}
			return expected[i].arrival < expected[j].arrival
		})

		require.Len(rt, h.ids, len(expected))
		for i, want := range expected {
			assert.Equal(rt, want.id, h.ids[i])
		}
	})
}
