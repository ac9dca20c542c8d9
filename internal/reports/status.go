package reports

import "fmt"

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// transitions lists every legal status change. pending->failed covers a run
// that could not claim its record; terminal->pending is re-analysis.
var transitions = map[string][]string{
	StatusPending:    {StatusProcessing, StatusFailed, StatusPending},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusPending},
	StatusFailed:     {StatusPending},
}

// IsValidStatus reports whether s is a known status.
func IsValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether s ends a run.
func IsTerminal(s string) bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transition validates from->to. Every status write in the repos goes through it.
func Transition(from, to string) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	if from == StatusProcessing && to == StatusPending {
		return ErrAnalysisInProgress
	}
	return fmt.Errorf("%w: %s->%s", ErrInvalidTransition, from, to)
}

func transitionLabel(from, to string) string {
	return from + "->" + to
}
