// Package commands holds the static set of named operations callable over
// HTTP, the CLI and MCP.
package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/spf13/cast"
)

var (
	// ErrUnknownCommand is returned for a name that is not registered.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrInvalidArgument is returned when an argument is missing, has the
	// wrong type or is out of range.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ParamType is the JSON type of a parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
)

// Param describes one named argument.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
}

// Args carries named arguments as decoded from JSON or parsed from the
// command line.
type Args map[string]any

// String returns the named argument as a string.
func (a Args) String(name string) (string, error) {
	v, ok := a[name]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
	}
	return s, nil
}

// Float returns the named argument as a float64.
func (a Args) Float(name string) (float64, error) {
	v, ok := a[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s must be finite", ErrInvalidArgument, name)
	}
	return f, nil
}

// Int returns the named argument as an int. Fractional numbers are rejected.
func (a Args) Int(name string) (int, error) {
	v, ok := a[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
	}
	if f, ok := v.(float64); ok && f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s must be a whole number, got %v", ErrInvalidArgument, name, f)
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
	}
	return n, nil
}

// Handler is one registered command.
type Handler struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
	Run         func(ctx context.Context, args Args) (string, error) `json:"-"`
}

// Registry maps command names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*Handler)}
}

// Default returns a registry holding the built-in FBT commands.
func Default() *Registry {
	r := NewRegistry()
	for _, h := range builtins() {
		r.Register(h)
	}
	return r
}

// Register adds or replaces a handler. Handlers without a name or Run
// function are ignored.
func (r *Registry) Register(h *Handler) {
	if h == nil || h.Name == "" || h.Run == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name] = h
}

// Get returns the handler for name.
func (r *Registry) Get(name string) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered names in sorted order.
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

// List returns the handlers sorted by name.
func (r *Registry) List() []*Handler {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handler, 0, len(names))
	for _, name := range names {
		if h, ok := r.handlers[name]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Run executes the named command.
func (r *Registry) Run(ctx context.Context, name string, args Args) (string, error) {
	h, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	if args == nil {
		args = Args{}
	}
	for _, p := range h.Params {
		if _, present := args[p.Name]; p.Required && !present {
			return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, p.Name)
		}
	}
	return h.Run(ctx, args)
}
