package saga

import (
	"context"
	"log/slog"
)

type compensation struct {
	name string
	fn   func(context.Context) error
}

// Compensations is an ordered stack of compensating actions. Each action is
// registered right after its forward step commits; on failure the stack is
// unwound last-in-first-out. A failing compensation is logged and skipped so
// it never blocks the remaining ones.
type Compensations struct {
	retry RetryPolicy
	items []compensation
}

// NewCompensations returns an empty stack whose actions run under the given
// retry policy.
func NewCompensations(retry RetryPolicy) *Compensations {
	return &Compensations{retry: retry}
}

// Add pushes a compensating action. Call it only after the matching forward
// step has succeeded.
func (c *Compensations) Add(name string, fn func(context.Context) error) {
	c.items = append(c.items, compensation{name: name, fn: fn})
}

// Compensate unwinds the stack in strict reverse registration order. Every
// action runs even if an earlier one fails.
func (c *Compensations) Compensate(ctx context.Context) {
	for i := len(c.items) - 1; i >= 0; i-- {
		item := c.items[i]
		slog.InfoContext(ctx, "compensating step", "step", item.name)
		if err := c.retry.Do(ctx, item.name, item.fn); err != nil {
			slog.ErrorContext(ctx, "CRITICAL: compensation failed",
				"step", item.name, "error", err)
		}
	}
}

// Len reports the number of registered compensations.
func (c *Compensations) Len() int { return len(c.items) }
