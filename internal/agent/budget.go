package agent

import "github.com/haasonsaas/operator/internal/computer"

// Budget caps the number of state-mutating actions in one session. The count
// only grows and never passes the limit; once the limit is reached the flag
// stays set for the rest of the session.
type Budget struct {
	count   int
	limit   int
	reached bool
}

// NewBudget creates a budget. A limit <= 0 means unlimited.
func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// Record counts kind if it is billable and reports whether the limit has
// been reached. Observation actions never count.
func (b *Budget) Record(kind string) bool {
	if b.reached || !computer.Billable(kind) {
		return b.reached
	}
	b.count++
	if b.limit > 0 && b.count >= b.limit {
		b.reached = true
	}
	return b.reached
}

// Reached reports whether the limit has been hit.
func (b *Budget) Reached() bool { return b.reached }

func (b *Budget) Count() int { return b.count }

func (b *Budget) Limit() int { return b.limit }
