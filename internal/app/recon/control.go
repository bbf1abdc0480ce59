package recon

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

// Submit admits an operator supplied task spec. Out-of-scope specs return an
// error matching domain.ErrScopeViolation; a spec whose key already exists
// returns the existing task id.
func (s *Scheduler) Submit(ctx context.Context, spec domain.TaskSpec) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.do(ctx, func(ctx context.Context) error {
		if s.session.Status().IsTerminal() {
			return fmt.Errorf("%w: session is %s", domain.ErrSessionClosed, s.session.Status())
		}
		task, err := s.admit(ctx, spec)
		if err != nil {
			return err
		}
		id = task.ID()
		return nil
	})
	return id, err
}

// Pause stops dispatching new tasks. Running tasks finish and their
// discoveries are still ingested.
func (s *Scheduler) Pause(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.transitionSession(ctx, domain.SessionStatusPaused)
	})
}

// Resume restarts dispatching after Pause.
func (s *Scheduler) Resume(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.transitionSession(ctx, domain.SessionStatusRunning)
	})
}

func (s *Scheduler) transitionSession(ctx context.Context, target domain.SessionStatus) error {
	from := s.session.Status()
	if err := s.session.Transition(target, s.tp.Now()); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	s.emitSession(ctx, from)
	return nil
}

// Skip abandons a task. A running adapter is cancelled with ErrTaskSkipped
// and whatever it returns afterwards is discarded. Tasks waiting on the
// skipped one are skipped too.
func (s *Scheduler) Skip(ctx context.Context, taskID uuid.UUID) error {
	return s.do(ctx, func(ctx context.Context) error {
		task, ok := s.graph.get(taskID)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
		}

		if task.Status() == domain.TaskStatusFailed {
			timer, pending := s.retries[taskID]
			if !pending {
				return fmt.Errorf("%w: task %s already failed", domain.ErrInvalidRequest, taskID)
			}
			timer.Stop()
			delete(s.retries, taskID)
			s.settleDependents(ctx, task)
			return nil
		}

		from := task.Status()
		if err := task.Skip(domain.FailureReasonUserSkipped); err != nil {
			return err
		}
		s.queue.remove(taskID)
		if e, ok := s.executions[taskID]; ok {
			e.timer.Stop()
			e.cancel(ErrTaskSkipped)
			delete(s.executions, taskID)
		}
		s.emitTaskChange(ctx, task, from)
		s.metrics.IncTasksSkipped(ctx, task.Tool())
		s.logger.Info(ctx, "task skipped by operator",
			"task_id", taskID.String(),
			"tool", task.Tool(),
			"target", task.Target(),
			"was", from,
		)
		s.settleDependents(ctx, task)
		return nil
	})
}

// Retry moves a Failed task back to Pending. Operator retries are not bounded
// by the automatic attempt budget.
func (s *Scheduler) Retry(ctx context.Context, taskID uuid.UUID) error {
	return s.do(ctx, func(ctx context.Context) error {
		if s.session.Status().IsTerminal() {
			return fmt.Errorf("%w: session is %s", domain.ErrSessionClosed, s.session.Status())
		}
		task, ok := s.graph.get(taskID)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
		}
		if timer, pending := s.retries[taskID]; pending {
			timer.Stop()
			delete(s.retries, taskID)
		}
		if err := s.retry(ctx, task, 0); err != nil {
			return err
		}
		s.logger.Info(ctx, "task retried by operator", "task_id", taskID.String(), "attempts", task.Attempts())
		return nil
	})
}

// Abort cancels every unfinished task and closes the session. Running
// adapters are cancelled with ErrScanAborted.
func (s *Scheduler) Abort(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		if s.session.Status().IsTerminal() {
			return fmt.Errorf("%w: session is %s", domain.ErrSessionClosed, s.session.Status())
		}

		for id, e := range s.executions {
			e.timer.Stop()
			e.cancel(ErrScanAborted)
			delete(s.executions, id)
		}
		for id, timer := range s.retries {
			timer.Stop()
			delete(s.retries, id)
		}
		s.dropConfirmations()
		s.queue.clear()

		cancelled := 0
		for _, t := range s.graph.all() {
			if !t.Status().IsActive() {
				continue
			}
			from := t.Status()
			if err := t.Cancel(); err != nil {
				s.logger.Error(ctx, "failed to cancel task", "task_id", t.ID().String(), "error", err)
				continue
			}
			s.emitTaskChange(ctx, t, from)
			cancelled++
		}

		if err := s.transitionSession(ctx, domain.SessionStatusAborted); err != nil {
			return err
		}
		s.takeSnapshot()
		s.logger.Warn(ctx, "scan aborted", "cancelled_tasks", cancelled)
		return nil
	})
}

// Decide answers a pending confirmation request.
func (s *Scheduler) Decide(ctx context.Context, requestID uuid.UUID, approve bool) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.resolve(ctx, decision{requestID: requestID, approve: approve})
	})
}

// Status returns a point-in-time view of the scan.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func(context.Context) error {
		st = buildStatus(s.session, s.graph.all(), s.registry, s.scopeViolations)
		st.Ready = s.queue.Len()
		st.InFlight = s.inflight
		st.PendingConfirmations = s.pendingRequests()
		return nil
	})
	return st, err
}
