package progress

import (
	"errors"
	"fmt"
	"time"
)

// Change records one committed mutation of a table's progress along with the
// job rollup after the mutation.
type Change struct {
	JobID string
	Table string
	// Previous is nil when the table entered the store with this change.
	Previous *TableProgress
	Current  TableProgress
	Summary  Summary
	At       time.Time
}

// Validate performs coarse validation on Change payloads, including the
// forward-only status rule.
func (c Change) Validate() error {
	if c.JobID == "" {
		return errors.New("job id is required")
	}
	if c.Table == "" {
		return errors.New("table is required")
	}
	if c.Current.Table != c.Table {
		return fmt.Errorf("current progress is for table %q, not %q", c.Current.Table, c.Table)
	}
	if c.At.IsZero() {
		return errors.New("timestamp is required")
	}
	if c.Previous != nil && !ValidStep(c.Previous.Status, c.Current.Status) {
		return fmt.Errorf("illegal status step %s -> %s", c.Previous.Status, c.Current.Status)
	}
	return nil
}

// EnteredTerminal reports whether the table reached a terminal state in this change.
func (c Change) EnteredTerminal() bool {
	if !c.Current.Status.Terminal() {
		return false
	}
	return c.Previous == nil || !c.Previous.Status.Terminal()
}
