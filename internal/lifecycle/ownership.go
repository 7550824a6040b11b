package lifecycle

import (
	"strings"
	"time"

	"github.com/TWRT/task-lifecycle/internal/models"
)

// OwnershipLock is the single-owner claim policy over Task.OwnerOperator.
// It holds no state of its own; the record is the lock.
type OwnershipLock struct{}

// Holds reports whether operator currently owns the task.
func (OwnershipLock) Holds(t models.Task, operator string) bool {
	return t.OwnerOperator != "" && t.OwnerOperator == strings.TrimSpace(operator)
}

// Claim takes the task for operator. Re-claiming by the current owner is a
// no-op and reports changed=false.
func (o OwnershipLock) Claim(t *models.Task, operator string, now time.Time) (bool, error) {
	if t.IsCompleted {
		return false, withCurrent(KindInvalidTransition, *t, "task is completed; reopen it first")
	}
	if o.Holds(*t, operator) {
		return false, nil
	}
	if t.OwnerOperator != "" {
		return false, withCurrent(KindAlreadyOwned, *t, "task is claimed by %s", t.OwnerOperator)
	}
	at := now.UTC()
	t.OwnerOperator = strings.TrimSpace(operator)
	t.ClaimedAt = &at
	return true, nil
}

// CheckWriter rejects progress from anyone but the owner. Unowned tasks are
// open to any identified operator.
func (o OwnershipLock) CheckWriter(t models.Task, operator string) error {
	if t.OwnerOperator != "" && !o.Holds(t, operator) {
		return withCurrent(KindNotOwner, t, "task is claimed by %s", t.OwnerOperator)
	}
	return nil
}

// Release clears the claim on completion and remembers who held it.
func (OwnershipLock) Release(t *models.Task) {
	t.PreviousOwner = t.OwnerOperator
	t.OwnerOperator = ""
	t.ClaimedAt = nil
}

// Restore applies the reopen policy: hand the task back to the owner recorded
// at completion, or release it to the pool.
func (OwnershipLock) Restore(t *models.Task, clearOwner bool, now time.Time) {
	if clearOwner || t.PreviousOwner == "" {
		t.OwnerOperator = ""
		t.ClaimedAt = nil
		t.PreviousOwner = ""
		return
	}
	at := now.UTC()
	t.OwnerOperator = t.PreviousOwner
	t.ClaimedAt = &at
	t.PreviousOwner = ""
}
