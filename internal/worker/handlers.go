package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuongbtq/amqp-jobs/internal/job"
)

// HandlerFunc runs a decoded command
type HandlerFunc func(ctx context.Context, cmd job.Command) error

// Registry maps command names to their handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a handler for name
func (r *Registry) Register(name string, handler HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("handler name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler for %s is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler already registered for %s", name)
	}

	r.handlers[name] = handler
	return nil
}

// Lookup returns the handler registered for name
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	return h, ok
}

// Names lists registered command names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
