// Package runonce provides a compute-once, cache-by-key helper.
//
// The first caller for a key runs the action; concurrent callers for the same
// key block until it completes and then observe its result. Later callers get
// the cached result without running the action again.
package runonce

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

type result[V any] struct {
	value V
	err   error
}

// Group memoizes the result of actions by key. The zero value is ready to
// use. A Group must not be copied after first use.
type Group[V any] struct {
	flight singleflight.Group

	mut  sync.RWMutex
	done map[string]result[V]
}

// Do runs fn if no result is cached for key and returns the cached result
// otherwise. Errors are cached like values: an action that failed for a key is
// not retried by later calls for the same key.
func (g *Group[V]) Do(key string, fn func() (V, error)) (V, error) {
	if res, ok := g.lookup(key); ok {
		return res.value, res.err
	}

	v, _, _ := g.flight.Do(key, func() (any, error) {
		// Another flight for the same key may have finished between the
		// lookup above and joining this one.
		if res, ok := g.lookup(key); ok {
			return res, nil
		}

		var res result[V]
		res.value, res.err = fn()

		g.mut.Lock()
		if g.done == nil {
			g.done = make(map[string]result[V])
		}
		g.done[key] = res
		g.mut.Unlock()
		return res, nil
	})

	res := v.(result[V])
	return res.value, res.err
}

// Cached reports whether a result is cached for key.
func (g *Group[V]) Cached(key string) bool {
	_, ok := g.lookup(key)
	return ok
}

// Forget drops the cached result for key.
func (g *Group[V]) Forget(key string) {
	g.mut.Lock()
	defer g.mut.Unlock()
	delete(g.done, key)
}

// Len returns the number of cached results.
func (g *Group[V]) Len() int {
	g.mut.RLock()
	defer g.mut.RUnlock()
	return len(g.done)
}

func (g *Group[V]) lookup(key string) (result[V], bool) {
	g.mut.RLock()
	defer g.mut.RUnlock()
	res, ok := g.done[key]
	return res, ok
}

// ObjectKey returns a key derived from the identity of obj, which must be a
// pointer. Two distinct objects never share a key while both are alive.
func ObjectKey(obj any) string {
	return fmt.Sprintf("%T@%p", obj, obj)
}
