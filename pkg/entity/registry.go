// Package entity turns object placements from map object layers into the
// engine's binary entity records. Object types are dispatched by name to
// serializers held in a Registry, so games add their own types by
// registering them before a build runs.
package entity

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/tilebake/pkg/tiled"
)

// Serializer writes the versioned payload of one object placement. The
// payload starts with the serializer's own version tag.
type Serializer interface {
	Serialize(w *PayloadWriter, obj *tiled.Object) error
}

// SerializerFunc adapts a plain function to Serializer.
type SerializerFunc func(w *PayloadWriter, obj *tiled.Object) error

// Serialize calls f(w, obj).
func (f SerializerFunc) Serialize(w *PayloadWriter, obj *tiled.Object) error {
	return f(w, obj)
}

// TypeCodeFunc returns the engine type code for a placement.
type TypeCodeFunc func(obj *tiled.Object) uint32

// StaticTypeCode returns a TypeCodeFunc that always yields code.
func StaticTypeCode(code uint32) TypeCodeFunc {
	return func(*tiled.Object) uint32 { return code }
}

// Registration binds a type name to its serializer.
type Registration struct {
	Name       string
	Serializer Serializer
	TypeCode   TypeCodeFunc

	// Flag is handed to the engine with every record of this type. The
	// engine reads it as "keep in quadtree".
	Flag bool
}

// Registry maps object type names to registrations.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
	log     *zap.Logger
}

// NewRegistry creates an empty registry. A nil logger disables logging.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]Registration),
		log:     log,
	}
}

// Register adds or replaces the registration for name.
func (r *Registry) Register(name string, s Serializer, code TypeCodeFunc, flag bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; ok {
		r.log.Debug("replacing entity serializer", zap.String("type", name))
	}
	r.entries[name] = Registration{
		Name:       name,
		Serializer: s,
		TypeCode:   code,
		Flag:       flag,
	}
}

// Resolve returns the registration for name.
func (r *Registry) Resolve(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg, ok
}

// Names returns all registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
