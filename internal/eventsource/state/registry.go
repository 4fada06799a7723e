package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownVariant indicates a record name with no registered decoder.
var ErrUnknownVariant = errors.New("unknown variant")

// Registry maps variant names to decoders for the concrete types of T.
type Registry[T Variant] struct {
	mu       sync.RWMutex
	decoders map[string]func([]byte) (T, error)
}

// NewRegistry creates an empty registry.
func NewRegistry[T Variant]() *Registry[T] {
	return &Registry[T]{decoders: make(map[string]func([]byte) (T, error))}
}

// Register adds the concrete type V under its variant name. It panics when V
// does not implement T or the name is taken.
func Register[V any, T Variant](reg *Registry[T]) {
	var zero V
	variant, ok := any(zero).(T)
	if !ok {
		panic(fmt.Sprintf("state: %T does not implement the registry variant type", zero))
	}
	name := variant.VariantName()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.decoders[name]; exists {
		panic(fmt.Sprintf("state: variant %q registered twice", name))
	}
	reg.decoders[name] = func(data []byte) (T, error) {
		var v V
		if err := json.Unmarshal(data, &v); err != nil {
			var none T
			return none, fmt.Errorf("decode %s: %w", name, err)
		}
		return any(v).(T), nil
	}
}

// Decode decodes data as the variant registered under name.
func (r *Registry[T]) Decode(name string, data []byte) (T, error) {
	r.mu.RLock()
	decode, ok := r.decoders[name]
	r.mu.RUnlock()
	if !ok {
		var none T
		return none, fmt.Errorf("%w: %s", ErrUnknownVariant, name)
	}
	return decode(data)
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[name]
	return ok
}

// Names lists the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
