package dispatch

import (
	"context"
	"time"
)

const DefaultThinkDelay = 800 * time.Millisecond

// ThinkingSteps are shown to the user one by one before a "deep thinking" dispatch.
// They are cosmetic and have no effect on the request.
var ThinkingSteps = []string{
	"Analyzing the question context...",
	"Searching the knowledge base...",
	"Drafting an initial solution...",
	"Verifying the solution...",
	"Polishing the final answer...",
}

// Think waits before each step and reports it through onStep. It returns
// ctx.Err() as soon as the context is cancelled.
func (d *Dispatcher) Think(ctx context.Context, onStep func(string)) error {
	timer := time.NewTimer(d.thinkDelay)
	defer timer.Stop()

	for i, step := range ThinkingSteps {
		if i > 0 {
			timer.Reset(d.thinkDelay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if onStep != nil {
			onStep(step)
		}
	}
	return nil
}
