package task

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
)

// HandlerFunc is a type-erased task handler operating on the raw payload.
// Typed handlers registered with Define are converted to a HandlerFunc at
// registration time by closing over JSON decoding, schema validation and
// the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

// CheckFunc validates a raw payload against the task's input schema
// without executing the handler.
type CheckFunc func(payload []byte) error

type definition struct {
	name    string
	check   CheckFunc
	handler HandlerFunc
}

// Registry is the process-wide mapping from task name to handler.
// Registration happens during a startup phase; Freeze is called when the
// dispatcher starts and no mutation is allowed afterward.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]*definition
	frozen bool
}

// validate is shared by all payload schemas. go-playground/validator
// instances cache struct metadata, so a single instance is intentional.
var validate = validator.New()

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*definition),
	}
}

// Define registers a typed task. The payload schema is the struct type T:
// at enqueue and dispatch time the raw payload is JSON-decoded into T and
// checked against T's validate tags. Returns ErrDuplicateTask if the name
// is already registered and ErrRegistryFrozen after the dispatcher has
// started.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Define[T any](r *Registry, name string, handler func(ctx context.Context, input T) error) error {
	if name == "" {
		return fmt.Errorf("task name must not be empty")
	}

	check := func(payload []byte) error {
		_, err := decodePayload[T](name, payload)
		return err
	}

	wrapped := func(ctx context.Context, payload []byte) error {
		input, err := decodePayload[T](name, payload)
		if err != nil {
			return err
		}
		return handler(ctx, input)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("cannot register task %q: %w", name, ErrRegistryFrozen)
	}
	if _, exists := r.defs[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, name)
	}

	r.defs[name] = &definition{
		name:    name,
		check:   check,
		handler: wrapped,
	}
	return nil
}

// decodePayload unmarshals payload into T and validates it. Failures are
// wrapped in ErrInvalidPayload so callers can classify them.
func decodePayload[T any](name string, payload []byte) (T, error) {
	var input T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &input); err != nil {
			return input, fmt.Errorf("%w: task %q: %v", ErrInvalidPayload, name, err)
		}
	}

	// validator.Struct panics on non-struct types; tasks with scalar or
	// slice payloads skip tag validation.
	if isStruct(input) {
		if err := validate.Struct(input); err != nil {
			return input, fmt.Errorf("%w: task %q: %v", ErrInvalidPayload, name, err)
		}
	}
	return input, nil
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Struct
}

// Freeze marks the end of the registration phase. Called by the
// dispatcher on start; later Define calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Handler returns the handler for the given task name.
func (r *Registry) Handler(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, false
	}
	return def.handler, true
}

// ValidatePayload checks a raw payload against the named task's input
// schema. Returns ErrUnknownTask if the task is not registered and
// ErrInvalidPayload if the payload does not conform.
func (r *Registry) ValidatePayload(name string, payload []byte) error {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return def.check(payload)
}

// Names returns all registered task names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}
