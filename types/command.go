package types

import (
	"time"

	"github.com/google/uuid"
)

// CommandStatus tracks a command through the bus.
type CommandStatus string

const (
	CommandPending  CommandStatus = "pending"
	CommandRetrying CommandStatus = "retrying"
	CommandSuccess  CommandStatus = "success"
	CommandDead     CommandStatus = "dead"
)

// Command is a unit of decision carried by the command bus from a
// producer (review outcome, orchestrator trigger) to a registered handler.
type Command struct {
	// ID is the unique identifier for the command
	ID string `json:"id"`

	// Action selects the registered handler
	Action string `json:"action"`

	// Target is the id of the node or module the command applies to
	Target string `json:"target,omitempty"`

	// Params carries handler parameters
	Params map[string]any `json:"params,omitempty"`

	// Priority orders dispatch; lower values dispatch first
	Priority int `json:"priority"`

	// RetryCount and MaxRetries bound handler retries
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Source names the producing module
	Source string `json:"source,omitempty"`

	// Reason records why the command was issued
	Reason string `json:"reason,omitempty"`

	// TraceID, ParentID and SpanID link the command causally to its
	// producer and to the whole run
	TraceID  string `json:"trace_id,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
	SpanID   string `json:"span_id,omitempty"`

	// Status is the current bus-side status
	Status CommandStatus `json:"status"`

	// FinalResult records the dispatch outcome
	FinalResult string `json:"final_result,omitempty"`

	// Error records the last handler failure
	Error string `json:"error,omitempty"`

	// CreatedAt is when the command was created
	CreatedAt time.Time `json:"created_at"`
}

// NewCommand creates a pending command with default retry budget.
func NewCommand(action, target string, params map[string]any) *Command {
	return &Command{
		ID:         uuid.NewString(),
		Action:     action,
		Target:     target,
		Params:     params,
		MaxRetries: 3,
		Status:     CommandPending,
		CreatedAt:  time.Now(),
	}
}
