// Package pending correlates request ids with one-shot completion callbacks.
package pending

import (
	"strings"
	"sync"
)

// Callback receives the reply for a registered id
type Callback[T any] func(T)

// Registry maps request ids to callbacks. Every callback runs at most once:
// the entry is removed before it is invoked. Entries whose reply never
// arrives stay until Clear.
type Registry[T any] struct {
	mu        sync.Mutex
	callbacks map[string]Callback[T]
}

// New creates an empty registry
func New[T any]() *Registry[T] {
	return &Registry[T]{
		callbacks: make(map[string]Callback[T]),
	}
}

// Register stores cb under id, replacing any previous callback
func (r *Registry[T]) Register(id string, cb Callback[T]) {
	if cb == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[id] = cb
}

// Has reports whether id is waiting for a reply
func (r *Registry[T]) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.callbacks[id]
	return ok
}

// Take removes and returns the callback for id
func (r *Registry[T]) Take(id string) (Callback[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.callbacks[id]
	if ok {
		delete(r.callbacks, id)
	}
	return cb, ok
}

// Resolve invokes and removes the callback for id. A miss is not an error
// and returns false.
func (r *Registry[T]) Resolve(id string, v T) bool {
	cb, ok := r.Take(id)
	if !ok {
		return false
	}
	cb(v)
	return true
}

// ResolveSuffix resolves id only when it ends with ":"+purpose
func (r *Registry[T]) ResolveSuffix(id, purpose string, v T) bool {
	if !HasPurpose(id, purpose) {
		return false
	}
	return r.Resolve(id, v)
}

// Remove drops id without invoking its callback
func (r *Registry[T]) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.callbacks, id)
}

// Len returns the number of outstanding ids
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks)
}

// Clear drops every outstanding id
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = make(map[string]Callback[T])
}

// HasPurpose reports whether a request id ends with ":"+purpose
func HasPurpose(id, purpose string) bool {
	return strings.HasSuffix(id, ":"+purpose)
}
