package graph

import (
	"archivecore/pkg/domain"
	"context"
	"fmt"
	"sort"
	"sync"
)

// Params are the string arguments of a named query.
type Params map[string]string

// Result is the outcome of a named query. Queries fill the fields that apply.
type Result struct {
	Records []domain.Record
	IDs     []domain.ID
	Count   int
}

// Query is a read-only graph query that provides one or more named operations.
type Query interface {
	Names() []string
	Run(ctx context.Context, engine *Engine, name string, params Params) (Result, error)
}

// QueryNotFoundError reports an unknown query name.
type QueryNotFoundError struct {
	Name string
}

func (e *QueryNotFoundError) Error() string {
	return fmt.Sprintf("query %q is not registered", e.Name)
}

// MissingParamError reports a required parameter that was not supplied.
type MissingParamError struct {
	Query string
	Param string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("query %s requires parameter %q", e.Query, e.Param)
}

// Registry maps query names to the Query providing them. It is built once at
// start up and shared by reference.
type Registry struct {
	mu      sync.RWMutex
	engine  *Engine
	queries map[string]Query
}

// NewRegistry constructs a registry bound to engine and registers queries.
func NewRegistry(engine *Engine, queries ...Query) (*Registry, error) {
	r := &Registry{engine: engine, queries: make(map[string]Query)}
	for _, q := range queries {
		if err := r.Register(q); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewDefaultRegistry registers the built-in queries.
func NewDefaultRegistry(engine *Engine) *Registry {
	r, err := NewRegistry(engine, DefaultQueries()...)
	if err != nil {
		panic(fmt.Errorf("built-in queries: %w", err))
	}
	return r
}

// Register adds every name q provides. A name already taken is an error and
// nothing is registered.
func (r *Registry) Register(q Query) error {
	names := q.Names()
	if len(names) == 0 {
		return fmt.Errorf("query %T provides no names", q)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, exists := r.queries[name]; exists {
			return fmt.Errorf("query %q already registered", name)
		}
	}
	for _, name := range names {
		r.queries[name] = q
	}
	return nil
}

// Names lists registered query names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.queries))
	for name := range r.queries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run executes the named query.
func (r *Registry) Run(ctx context.Context, name string, params Params) (Result, error) {
	r.mu.RLock()
	q, ok := r.queries[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, &QueryNotFoundError{Name: name}
	}
	return q.Run(ctx, r.engine, name, params)
}

func required(query string, params Params, keys ...string) error {
	for _, key := range keys {
		if params[key] == "" {
			return &MissingParamError{Query: query, Param: key}
		}
	}
	return nil
}
