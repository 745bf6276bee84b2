package review

import "sync"

// ContinueGate is the blocking rendezvous between an executing expert
// and the reviewer. An expert calls WaitForContinue after producing
// output; AllowContinue releases every waiter blocked at that point and
// resets for the next round.
//
// This is a single-slot signal, not a counting semaphore: at most one
// pending "continue" is buffered. An AllowContinue issued before any
// waiter arrives admits exactly the next WaitForContinue call.
type ContinueGate struct {
	mu          sync.Mutex
	cond        *sync.Cond
	canContinue bool
}

// NewContinueGate creates a gate in the blocking state.
func NewContinueGate() *ContinueGate {
	g := &ContinueGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// WaitForContinue blocks the caller until the gate opens, then resets
// the gate so the next round blocks again.
func (g *ContinueGate) WaitForContinue() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for !g.canContinue {
		g.cond.Wait()
	}
	g.canContinue = false
}

// AllowContinue opens the gate, waking the waiters blocked at this
// point. The first waiter through consumes the token.
func (g *ContinueGate) AllowContinue() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canContinue = true
	g.cond.Broadcast()
}
