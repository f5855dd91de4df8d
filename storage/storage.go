// Package storage defines the key/value contract behind the session and token stores.
// A KV plays the role of browser storage: a shared instance is visible to every tab,
// a private instance is scoped to one tab.
package storage

import (
	"bytes"
	"sync"

	"github.com/jrsteele09/alumni-session/internal/errors"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.ErrNotFound

// ErrConflict is returned by Apply when a precondition of the batch does not hold.
var ErrConflict = errors.ErrConflict

// Op is a single write inside a Batch. A precondition op writes nothing: it requires the key
// to hold Value, or to be absent when Delete is set.
type Op struct {
	Key          string
	Value        []byte
	Delete       bool
	Precondition bool
}

// Batch is applied atomically: readers observe all of it or none of it. When any
// precondition fails nothing is written.
type Batch []Op

func (b Batch) Put(key string, value []byte) Batch {
	return append(b, Op{Key: key, Value: value})
}

func (b Batch) Delete(key string) Batch {
	return append(b, Op{Key: key, Delete: true})
}

// Expect requires key to hold value when the batch is applied.
func (b Batch) Expect(key string, value []byte) Batch {
	return append(b, Op{Key: key, Value: value, Precondition: true})
}

// ExpectAbsent requires key to be missing when the batch is applied.
func (b Batch) ExpectAbsent(key string) Batch {
	return append(b, Op{Key: key, Delete: true, Precondition: true})
}

// Satisfied checks every precondition against lookup, which reports the current value of a key.
func (b Batch) Satisfied(lookup func(key string) ([]byte, bool)) bool {
	for _, op := range b {
		if !op.Precondition {
			continue
		}
		v, ok := lookup(op.Key)
		if op.Delete {
			if ok {
				return false
			}
			continue
		}
		if !ok || !bytes.Equal(v, op.Value) {
			return false
		}
	}
	return true
}

// Change describes one committed write. Origin identifies the writer so that a tab
// can ignore notifications about its own writes.
type Change struct {
	Key     string
	Value   []byte
	Deleted bool
	Origin  string
}

type KV interface {
	Get(key string) ([]byte, error)
	// View reads several keys from one consistent snapshot. Missing keys are absent from the map.
	View(keys ...string) (map[string][]byte, error)
	Apply(origin string, batch Batch) error
	// Watch registers fn for every committed change and returns a function that removes it.
	Watch(fn func(Change)) (cancel func())
}

// Watchers is the subscriber list shared by KV implementations.
type Watchers struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(Change)
}

func (w *Watchers) Add(fn func(Change)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(Change))
	}
	id := w.next
	w.next++
	w.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.fns, id)
			w.mu.Unlock()
		})
	}
}

// Notify delivers the batch to every watcher. Call it after the batch has been committed
// and with no store lock held.
func (w *Watchers) Notify(origin string, batch Batch) {
	w.mu.RLock()
	fns := make([]func(Change), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.RUnlock()

	for _, op := range batch {
		if op.Precondition {
			continue
		}
		c := Change{Key: op.Key, Deleted: op.Delete, Origin: origin}
		if !op.Delete {
			c.Value = append([]byte(nil), op.Value...)
		}
		for _, fn := range fns {
			fn(c)
		}
	}
}
