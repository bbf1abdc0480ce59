package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

// confirmation is a derived spec held until an operator approves it or the
// confirmation window closes.
type confirmation struct {
	request events.ConfirmationRequest
	spec    domain.TaskSpec
	timer   *time.Timer
}

func (c *confirmation) stop() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

type decision struct {
	requestID uuid.UUID
	approve   bool
	timedOut  bool
}

// requestConfirmation parks spec and announces it on the bus. The loop keeps
// running; the decision arrives later as a command or a timer.
func (s *Scheduler) requestConfirmation(ctx context.Context, spec domain.TaskSpec) {
	id := uuid.New()
	timeout := s.cfg.ConfirmTimeout
	req := events.ConfirmationRequest{
		RequestID: id,
		Tool:      spec.Tool,
		Target:    spec.Target,
		Rule:      spec.Rule,
		Reason:    spec.Reason,
		ExpiresAt: s.tp.Now().Add(timeout),
	}

	c := &confirmation{request: req, spec: spec}
	if timeout > 0 {
		fallback := s.cfg.ConfirmDefault
		c.timer = time.AfterFunc(timeout, func() {
			select {
			case s.decisions <- decision{requestID: id, approve: fallback, timedOut: true}:
			case <-s.done:
			}
		})
	}
	s.confirmations[id] = c
	s.pendingKeys[spec.Key()] = id

	s.emit(ctx, events.TaskConfirmationRequired, req)
	s.logger.Info(ctx, "task awaiting confirmation",
		"request_id", id.String(),
		"tool", spec.Tool,
		"target", spec.Target,
		"rule", spec.Rule,
	)
}

// resolve applies a decision. Approved specs go through normal admission,
// including the scope check. Specs waiting on the decided one are admitted or
// dropped with it.
func (s *Scheduler) resolve(ctx context.Context, d decision) error {
	c, ok := s.confirmations[d.requestID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConfirmationNotFound, d.requestID)
	}
	c.stop()
	delete(s.confirmations, d.requestID)
	delete(s.pendingKeys, c.spec.Key())

	s.metrics.IncConfirmations(ctx, d.approve, d.timedOut)
	payload := events.ConfirmationDecision{
		RequestID: d.requestID,
		Approved:  d.approve,
		TimedOut:  d.timedOut,
	}

	admitted, held := false, false
	if d.approve && !s.session.Status().IsTerminal() {
		spec := c.spec
		spec.NeedsConfirmation = false
		task, waiting, err := s.place(ctx, spec)
		switch {
		case err != nil:
			payload.Approved = false
		case task != nil:
			payload.TaskID = task.ID()
			admitted = true
		}
		held = waiting
	}

	s.emit(ctx, events.TaskConfirmationDecided, payload)
	s.logger.Info(ctx, "confirmation decided",
		"request_id", d.requestID.String(),
		"approved", payload.Approved,
		"timed_out", d.timedOut,
		"held", held,
	)
	if !held {
		s.release(ctx, c.spec.Key(), admitted)
	}
	return nil
}

// place admits spec unless one of its prerequisites is still undecided. Such
// a spec waits for that prerequisite and held is true.
func (s *Scheduler) place(ctx context.Context, spec domain.TaskSpec) (task *domain.Task, held bool, err error) {
	if key, ok := s.awaiting(spec); ok {
		s.held[key] = append(s.held[key], spec)
		s.heldKeys[spec.Key()] = struct{}{}
		s.logger.Debug(ctx, "task waiting on undecided prerequisite",
			"tool", spec.Tool,
			"target", spec.Target,
			"prerequisite", string(key),
		)
		return nil, true, nil
	}
	task, err = s.admit(ctx, spec)
	return task, false, err
}

// awaiting returns the first prerequisite of spec that is neither in the
// graph nor settled: parked behind a confirmation or itself waiting.
func (s *Scheduler) awaiting(spec domain.TaskSpec) (domain.TaskKey, bool) {
	for _, key := range spec.After {
		if s.graph.known(key) {
			continue
		}
		if _, ok := s.pendingKeys[key]; ok {
			return key, true
		}
		if _, ok := s.heldKeys[key]; ok {
			return key, true
		}
	}
	return "", false
}

// release settles the specs waiting on key. When key was admitted they are
// placed again, otherwise they are dropped along with their own waiters.
func (s *Scheduler) release(ctx context.Context, key domain.TaskKey, admitted bool) {
	waiting := s.held[key]
	delete(s.held, key)
	for _, spec := range waiting {
		delete(s.heldKeys, spec.Key())
		if !admitted {
			s.logger.Info(ctx, "dropping task whose prerequisite was not admitted",
				"tool", spec.Tool,
				"target", spec.Target,
				"prerequisite", string(key),
			)
			s.release(ctx, spec.Key(), false)
			continue
		}

		task, held, err := s.place(ctx, spec)
		if held {
			continue
		}
		if err != nil {
			s.logger.Debug(ctx, "waiting task not admitted",
				"tool", spec.Tool,
				"target", spec.Target,
				"error", err,
			)
		}
		s.release(ctx, spec.Key(), task != nil)
	}
}

// pendingRequests returns the outstanding confirmation requests ordered by
// expiry.
func (s *Scheduler) pendingRequests() []events.ConfirmationRequest {
	out := make([]events.ConfirmationRequest, 0, len(s.confirmations))
	for _, c := range s.confirmations {
		out = append(out, c.request)
	}
	sortRequests(out)
	return out
}

func (s *Scheduler) dropConfirmations() {
	for id, c := range s.confirmations {
		c.stop()
		delete(s.confirmations, id)
	}
	clear(s.pendingKeys)
	clear(s.held)
	clear(s.heldKeys)
}
