package bus

import "github.com/BaSui01/jobflow/types"

// queuedCommand pairs a command with its arrival sequence number so that
// equal priorities dispatch in FIFO order.
type queuedCommand struct {
	cmd *types.Command
	seq uint64
}

// commandQueue is a min-heap ordered by (priority, arrival sequence).
type commandQueue []*queuedCommand

func (q commandQueue) Len() int { return len(q) }

func (q commandQueue) Less(i, j int) bool {
	if q[i].cmd.Priority != q[j].cmd.Priority {
		return q[i].cmd.Priority < q[j].cmd.Priority
	}
	return q[i].seq < q[j].seq
}

func (q commandQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *commandQueue) Push(x any) {
	*q = append(*q, x.(*queuedCommand))
}

func (q *commandQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
