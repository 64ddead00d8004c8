package provision

import (
	"log/slog"
)

type undoEntry struct {
	step string
	undo func() error
}

// journal records how to revert each change made to the target.
type journal []undoEntry

func (j *journal) push(step string, undo func() error) {
	*j = append(*j, undoEntry{step: step, undo: undo})
}

// rollback reverts the recorded changes, latest first, and reports each step as rolled back.
// A change failing to revert is logged and reported, and the others are still reverted.
func (j journal) rollback(log *slog.Logger, rep *Report) {
	for i := len(j) - 1; i >= 0; i-- {
		e := j[i]
		if err := e.undo(); err != nil {
			log.Error("Failed to roll back change", "step", e.step, "error", err)
			rep.mark(e.step, StatusFailed, "rollback failed: "+err.Error())
			continue
		}
		log.Info("Rolled back change", "step", e.step)
		rep.mark(e.step, StatusRolledBack, "")
	}
}
