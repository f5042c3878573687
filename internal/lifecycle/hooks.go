package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"platformd/backend/internal/models"
	"platformd/backend/internal/platform"
)

type Event string

const (
	EventBeforeCreate Event = "before_create"
	EventBeforeUpdate Event = "before_update"
	EventAfterUpdate  Event = "after_update"
	EventBeforeDelete Event = "before_delete"
)

// Record is the subject handed to hooks.
type Record struct {
	Kind         platform.Kind
	Platform     models.Platform
	Confirmation string
}

type HookFunc func(ctx context.Context, rec *Record) error

// Hook is a named step on one event. After names hooks of the same event that must run first.
type Hook struct {
	Name  string
	Event Event
	After []string
	Fn    HookFunc
}

// Hooks keeps the hooks of each event in dependency order. Order is fixed by Seal; a Register
// after Seal is picked up by the next Run.
type Hooks struct {
	mu         sync.RWMutex
	registered map[Event][]Hook
	ordered    map[Event][]Hook
	logger     *slog.Logger
}

func NewHooks(logger *slog.Logger) *Hooks {
	return &Hooks{registered: map[Event][]Hook{}, logger: logger}
}

func (h *Hooks) Register(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registered[hook.Event] = append(h.registered[hook.Event], hook)
	h.ordered = nil
}

// Seal sorts every event's hooks topologically, keeping registration order between independent
// hooks. Unknown dependencies and cycles are errors.
func (h *Hooks) Seal() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sealLocked()
}

func (h *Hooks) sealLocked() error {
	ordered := make(map[Event][]Hook, len(h.registered))
	for event, hooks := range h.registered {
		sorted, err := toposort(hooks)
		if err != nil {
			return fmt.Errorf("%s hooks: %w", event, err)
		}
		ordered[event] = sorted
	}
	h.ordered = ordered
	return nil
}

// Names returns the sealed order of an event's hooks.
func (h *Hooks) Names(event Event) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var names []string
	for _, hook := range h.ordered[event] {
		names = append(names, hook.Name)
	}
	return names
}

// Run executes the hooks of event in order and stops at the first failure.
func (h *Hooks) Run(ctx context.Context, event Event, rec *Record) error {
	hooks, err := h.sealed(event)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		if err := hook.Fn(ctx, rec); err != nil {
			h.logger.Warn("hook failed",
				"event", string(event),
				"hook", hook.Name,
				"kind", rec.Kind.Name(),
				"platform_id", rec.Platform.Common().ID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// sealed returns the ordered hooks of event, sealing first if a Register invalidated the order.
func (h *Hooks) sealed(event Event) ([]Hook, error) {
	h.mu.RLock()
	ordered := h.ordered
	h.mu.RUnlock()
	if ordered != nil {
		return ordered[event], nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ordered == nil {
		if err := h.sealLocked(); err != nil {
			return nil, err
		}
	}
	return h.ordered[event], nil
}

func toposort(hooks []Hook) ([]Hook, error) {
	index := make(map[string]int, len(hooks))
	for i, hook := range hooks {
		if _, dup := index[hook.Name]; dup {
			return nil, fmt.Errorf("hook %q registered twice", hook.Name)
		}
		index[hook.Name] = i
	}

	indegree := make([]int, len(hooks))
	dependents := make([][]int, len(hooks))
	for i, hook := range hooks {
		for _, dep := range hook.After {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("hook %q depends on unknown hook %q", hook.Name, dep)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	out := make([]Hook, 0, len(hooks))
	done := make([]bool, len(hooks))
	for len(out) < len(hooks) {
		next := -1
		for i := range hooks {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var cycle []string
			for i, hook := range hooks {
				if !done[i] {
					cycle = append(cycle, hook.Name)
				}
			}
			return nil, fmt.Errorf("dependency cycle between hooks %s", strings.Join(cycle, ", "))
		}
		done[next] = true
		out = append(out, hooks[next])
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return out, nil
}
