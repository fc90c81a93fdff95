// -----------------------------------------------------------------------
// Type Registry - logical type name to record constructor
// -----------------------------------------------------------------------

package codec

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/jezel/internal/models"
)

// Factory constructs an empty record of one registered variant.
type Factory func() models.Record

// UnknownTypeError is returned when no registered variant matches a type
// tag, even after the fallback lookup chain.
type UnknownTypeError struct {
	Tag string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("no registered type for tag %q", e.Tag)
}

// IsUnknownType reports whether err is an UnknownTypeError.
func IsUnknownType(err error) bool {
	var ut *UnknownTypeError
	return errors.As(err, &ut)
}

// Registry maps logical type names to constructors. Lookups fall back in
// order: exact match, case-insensitive match, last dotted segment match,
// case-insensitive last-segment match. Resolved fallbacks are cached as
// aliases.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	aliases   map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		aliases:   make(map[string]Factory),
	}
}

// Register adds a variant under the tag its zero value reports.
func (r *Registry) Register(fn Factory) {
	tag := fn().TypeTag()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = fn
}

// Tags returns the canonical tags of every registered variant.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		out = append(out, tag)
	}
	return out
}

// Resolve finds the constructor for a type tag via the fallback chain.
func (r *Registry) Resolve(tag string) (Factory, error) {
	r.mu.RLock()
	if fn, ok := r.factories[tag]; ok {
		r.mu.RUnlock()
		return fn, nil
	}
	if fn, ok := r.aliases[tag]; ok {
		r.mu.RUnlock()
		return fn, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock before scanning.
	if fn, ok := r.factories[tag]; ok {
		return fn, nil
	}
	if fn, ok := r.aliases[tag]; ok {
		return fn, nil
	}

	folded := strings.ToLower(tag)
	for k, fn := range r.factories {
		if strings.ToLower(k) == folded {
			r.aliases[tag] = fn
			return fn, nil
		}
	}

	last := lastSegment(tag)
	for k, fn := range r.factories {
		if lastSegment(k) == last {
			r.aliases[tag] = fn
			return fn, nil
		}
	}

	foldedLast := strings.ToLower(last)
	for k, fn := range r.factories {
		if strings.ToLower(lastSegment(k)) == foldedLast {
			r.aliases[tag] = fn
			return fn, nil
		}
	}

	return nil, &UnknownTypeError{Tag: tag}
}

func lastSegment(tag string) string {
	if i := strings.LastIndexByte(tag, '.'); i >= 0 {
		return tag[i+1:]
	}
	return tag
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry populated with every
// domain variant. Initialized once, lock-protected thereafter.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		r := NewRegistry()
		r.Register(func() models.Record { return &models.System{} })
		r.Register(func() models.Record { return &models.User{} })
		r.Register(func() models.Record { return &models.Job{} })
		r.Register(func() models.Record { return &models.Config{} })
		r.Register(func() models.Record { return &models.TriggerEvent{} })
		r.Register(func() models.Record { return &models.CancellationEvent{} })
		r.Register(func() models.Record { return &models.Execution{} })
		r.Register(func() models.Record { return &models.ExecutionServer{} })
		r.Register(func() models.Record { return &models.WorkerThread{} })
		r.Register(func() models.Record { return &models.SchedulerLease{} })
		defaultRegistry = r
	})
	return defaultRegistry
}
