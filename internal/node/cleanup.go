package node

import (
	"time"

	"github.com/ymatsuda/tandem/internal/events"
)

// cleanupLoop sweeps completed task trees once they have been idle past the
// configured retention. Only tasks with a final result are eligible; an
// unfinished task is never deleted by the sweep.
func (n *ExecutionNode) cleanupLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(time.Duration(n.cfg.Cleanup.SweepIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.sweepCompleted()
		}
	}
}

func (n *ExecutionNode) sweepCompleted() {
	retain := time.Duration(n.cfg.Cleanup.RetainSec) * time.Second
	cutoff := time.Now().Add(-retain)

	ids, err := n.st.ListTasks()
	if err != nil {
		n.logger.Errorf("cleanup list tasks: %v", err)
		return
	}

	for _, id := range ids {
		if !n.st.HasFinalResult(id) {
			continue
		}
		finished, err := n.st.FinalResultTime(id)
		if err != nil || finished.After(cutoff) {
			continue
		}

		meta, _ := n.st.ReadMeta(id)
		if err := n.st.Cleanup(id); err != nil {
			n.logger.Errorf("cleanup task=%s err=%v", id, err)
			continue
		}
		n.bus.Publish(events.Event{Type: events.EventTaskCleaned, TaskID: id, ChatID: meta.ChatID, Detail: "idle"})
		n.logger.Infof("task cleaned task=%s reason=idle finished=%s", id, finished.Format(time.RFC3339))
	}
}
