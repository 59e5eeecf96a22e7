package core

import "sync"

// ── Registry ──────────────────────────────────────────────────────────────────

// Registry maps cache formats to Encoder implementations.  It is safe for
// concurrent use.
type Registry[T any] struct {
	mu       sync.RWMutex
	encoders map[Format]Encoder[T]
}

// NewRegistry returns an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{encoders: make(map[Format]Encoder[T])}
}

func (r *Registry[T]) RegisterEncoder(f Format, e Encoder[T]) {
	r.mu.Lock()
	r.encoders[f] = e
	r.mu.Unlock()
}

func (r *Registry[T]) EncoderFor(f Format) (Encoder[T], bool) {
	r.mu.RLock()
	e, ok := r.encoders[f]
	r.mu.RUnlock()
	return e, ok
}
