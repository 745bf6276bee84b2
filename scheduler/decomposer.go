package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/jobflow/types"
)

// SubJobSpec is one entry of a decomposition result. Keys of the
// returned mapping are temporary ids local to the batch; Dependencies
// reference those temporary ids.
type SubJobSpec struct {
	// Goal is the decomposed goal text
	Goal string `json:"goal"`

	// Context carries supporting context for the unit
	Context string `json:"context,omitempty"`

	// CompletionCriteria states when the unit counts as done
	CompletionCriteria string `json:"completion_criteria"`

	// AssignedExpert names the expert that must execute the unit
	AssignedExpert string `json:"assigned_expert"`

	// Dependencies lists temporary ids of units that must finish first
	Dependencies []string `json:"dependencies,omitempty"`

	// Thinking is the decomposer's reasoning for this unit
	Thinking string `json:"thinking,omitempty"`
}

// Decomposer turns a goal into a batch of sub-job specs. Implementations
// typically call a planning model; the scheduler only depends on this
// signature and validates the result itself.
type Decomposer interface {
	Decompose(ctx context.Context, goal, context string, availableExperts []string) (map[string]SubJobSpec, error)
}

// DecomposerFunc adapts a function to the Decomposer interface.
type DecomposerFunc func(ctx context.Context, goal, context string, availableExperts []string) (map[string]SubJobSpec, error)

func (f DecomposerFunc) Decompose(ctx context.Context, goal, jobContext string, availableExperts []string) (map[string]SubJobSpec, error) {
	return f(ctx, goal, jobContext, availableExperts)
}

// validateDecomposition checks a decomposition batch against the closed
// expert set and internal dependency consistency. The returned error
// doubles as the corrective lesson for the retry attempt.
func validateDecomposition(specs map[string]SubJobSpec, availableExperts []string) error {
	if len(specs) == 0 {
		return types.NewError(types.ErrValidation, "decomposition produced no sub-jobs")
	}
	known := make(map[string]struct{}, len(availableExperts))
	for _, name := range availableExperts {
		known[name] = struct{}{}
	}
	var problems []string
	for tempID, spec := range specs {
		if strings.TrimSpace(spec.Goal) == "" {
			problems = append(problems, fmt.Sprintf("sub-job %q is missing a goal", tempID))
		}
		if strings.TrimSpace(spec.AssignedExpert) == "" {
			problems = append(problems, fmt.Sprintf("sub-job %q is missing an assigned expert", tempID))
		} else if _, ok := known[spec.AssignedExpert]; !ok {
			problems = append(problems, fmt.Sprintf("sub-job %q names unknown expert %q", tempID, spec.AssignedExpert))
		}
		for _, dep := range spec.Dependencies {
			if _, ok := specs[dep]; !ok {
				problems = append(problems, fmt.Sprintf("sub-job %q depends on unknown id %q", tempID, dep))
			}
		}
	}
	if len(problems) > 0 {
		return types.NewErrorf(types.ErrValidation,
			"invalid decomposition: %s", strings.Join(problems, "; "))
	}
	return nil
}
