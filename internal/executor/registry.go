package executor

import (
	"context"
	"fmt"
	"sync"

	"gtmq/internal/domain"
)

// Outcome is what a handler reports back after performing the external
// side effect. RollbackToken is empty for irreversible actions.
type Outcome struct {
	ExternalRef   string
	RollbackToken string
}

// Handler performs the external side effect for one action type. The core
// treats the context payload as opaque and never inspects domain content.
type Handler interface {
	Handle(ctx context.Context, item domain.QueueItem, actionCtx map[string]any) (Outcome, error)
}

// Reverser is implemented by handlers whose actions can be undone.
type Reverser interface {
	Undo(ctx context.Context, rollbackToken string) (bool, error)
}

// Registry maps action types to handlers. The action type set is closed:
// registering or resolving an unknown type fails at the boundary.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(actionType string, h Handler) error {
	if !domain.KnownActionType(actionType) {
		return fmt.Errorf("%w: %s", ErrInvalidActionType, actionType)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", actionType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
	return nil
}

func (r *Registry) Get(actionType string) (Handler, error) {
	if !domain.KnownActionType(actionType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidActionType, actionType)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: no handler registered for %s", ErrInvalidActionType, actionType)
	}
	return h, nil
}

// Registered returns the action types with a handler, for status output.
func (r *Registry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, t := range domain.ActionTypes() {
		if _, ok := r.handlers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
