package omapi

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrTypeNameRequired = errors.New("omapi: type name required")
	ErrHandlerRequired  = errors.New("omapi: type handler required")
	ErrTypeExists       = errors.New("omapi: type already registered")
)

// Handler is the mandatory callback set of an object kind.
//
// A handler returns StatusNotFound for keys and signals it does not
// recognise; chain dispatch then moves to the inner object.
type Handler interface {
	SetValue(obj, id Object, name string, value *TypedData) Status
	GetValue(obj, id Object, name string) (*Value, Status)
	Destroy(obj Object) Status
	SignalHandler(obj Object, sig Signal) Status
	StuffValues(w ValueWriter, id, obj Object) Status
}

// Looker resolves a query object to a live object of the kind.
type Looker interface {
	Lookup(out *Ref, id, query Object) Status
}

// Creator builds a new object of the kind.
type Creator interface {
	Create(out *Ref, id Object) Status
}

// Remover tears an object of the kind out of its collaborators.
type Remover interface {
	Remove(obj, id Object) Status
}

// Type is a registered object kind.
type Type struct {
	name    string
	index   int
	handler Handler
}

func (t *Type) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

func (t *Type) String() string {
	if t == nil {
		return "<untyped>"
	}
	return t.name
}

// Lookup calls the kind's Looker, or reports NotImplemented.
func (t *Type) Lookup(out *Ref, id, query Object) Status {
	if l, ok := t.handler.(Looker); ok {
		return l.Lookup(out, id, query)
	}
	return StatusNotImplemented
}

func (t *Type) Create(out *Ref, id Object) Status {
	if c, ok := t.handler.(Creator); ok {
		return c.Create(out, id)
	}
	return StatusNotImplemented
}

func (t *Type) Remove(obj, id Object) Status {
	if r, ok := t.handler.(Remover); ok {
		return r.Remove(obj, id)
	}
	return StatusNotImplemented
}

// Registry is the append-only table of object kinds for one process.
type Registry struct {
	mu     sync.RWMutex
	types  []*Type
	byName map[string]*Type
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Type)}
}

// Register adds a kind. Names are unique for the registry's lifetime.
func (r *Registry) Register(name string, h Handler) (*Type, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrTypeNameRequired
	}
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrHandlerRequired, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeExists, name)
	}
	t := &Type{name: name, index: len(r.types), handler: h}
	r.types = append(r.types, t)
	r.byName[name] = t
	log.Debug().Str("type", name).Int("index", t.index).Msg("omapi: type registered")
	return t, nil
}

// MustRegister registers a kind at startup. A process cannot run without
// its type table, so failure is fatal.
func (r *Registry) MustRegister(name string, h Handler) *Type {
	t, err := r.Register(name, h)
	if err != nil {
		log.Fatal().Err(err).Str("type", name).Msg("can't register object type")
	}
	return t
}

func (r *Registry) Lookup(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Types returns the registered kinds in registration order.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Type, len(r.types))
	copy(out, r.types)
	return out
}
