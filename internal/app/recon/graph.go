package recon

import (
	"github.com/google/uuid"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

// taskGraph is the session's DAG of tasks linked by AND-join prerequisite
// edges. Tasks are only ever added.
type taskGraph struct {
	tasks      map[uuid.UUID]*domain.Task
	order      []uuid.UUID
	byKey      map[domain.TaskKey]uuid.UUID
	dependents map[uuid.UUID][]uuid.UUID
}

func newTaskGraph() *taskGraph {
	return &taskGraph{
		tasks:      make(map[uuid.UUID]*domain.Task),
		byKey:      make(map[domain.TaskKey]uuid.UUID),
		dependents: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (g *taskGraph) add(t *domain.Task) {
	id := t.ID()
	g.tasks[id] = t
	g.order = append(g.order, id)
	g.byKey[t.Key()] = id
	for _, p := range t.Prerequisites() {
		g.dependents[p] = append(g.dependents[p], id)
	}
}

func (g *taskGraph) get(id uuid.UUID) (*domain.Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

func (g *taskGraph) lookup(key domain.TaskKey) (*domain.Task, bool) {
	id, ok := g.byKey[key]
	if !ok {
		return nil, false
	}
	return g.tasks[id], true
}

func (g *taskGraph) known(key domain.TaskKey) bool {
	_, ok := g.byKey[key]
	return ok
}

func (g *taskGraph) dependentsOf(id uuid.UUID) []*domain.Task {
	ids := g.dependents[id]
	out := make([]*domain.Task, 0, len(ids))
	for _, d := range ids {
		out = append(out, g.tasks[d])
	}
	return out
}

// all returns every task in creation order.
func (g *taskGraph) all() []*domain.Task {
	out := make([]*domain.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

func (g *taskGraph) len() int { return len(g.order) }

func (g *taskGraph) hasActive() bool {
	for _, t := range g.tasks {
		if t.Status().IsActive() {
			return true
		}
	}
	return false
}

// readiness evaluates a Pending task's prerequisites. ready is true when
// every prerequisite succeeded. blocked is true when some prerequisite can no
// longer succeed; awaitingRetry exempts Failed prerequisites that will run again.
func (g *taskGraph) readiness(t *domain.Task, awaitingRetry func(uuid.UUID) bool) (ready, blocked bool) {
	ready = true
	for _, pid := range t.Prerequisites() {
		p, ok := g.tasks[pid]
		if !ok {
			continue
		}
		switch p.Status() {
		case domain.TaskStatusSucceeded:
		case domain.TaskStatusSkipped, domain.TaskStatusCancelled:
			return false, true
		case domain.TaskStatusFailed:
			if awaitingRetry == nil || !awaitingRetry(pid) {
				return false, true
			}
			ready = false
		default:
			ready = false
		}
	}
	return ready, false
}
