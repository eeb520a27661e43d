package bsonmap

import (
	"iter"
	"reflect"
	"slices"
)

// Enumerable is the non-generic sequence shape. Interface-typed members of
// this shape deserialize into a *List.
type Enumerable interface {
	Values() iter.Seq[any]
	Add(v any)
}

// Dictionary is the non-generic key/value shape. Interface-typed members of
// this shape deserialize into a *Hashtable.
type Dictionary interface {
	All() iter.Seq2[any, any]
	Set(key, value any)
}

// Set is the non-generic set shape. Interface-typed members of this shape
// deserialize into a *HashSet.
type Set interface {
	Values() iter.Seq[any]
	Add(v any)
	Contains(v any) bool
}

var (
	_ Enumerable = (*List)(nil)
	_ Dictionary = (*Hashtable)(nil)
	_ Set        = (*HashSet)(nil)
)

// List is an ordered sequence of arbitrary values.
type List struct {
	items []any
}

// NewList returns a list holding a copy of items.
func NewList(items ...any) *List {
	return &List{items: slices.Clone(items)}
}

// Add appends v.
func (l *List) Add(v any) { l.items = append(l.items, v) }

// Len returns the number of items.
func (l *List) Len() int { return len(l.items) }

// At returns the item at index i.
func (l *List) At(i int) any { return l.items[i] }

// Values iterates over the items in order.
func (l *List) Values() iter.Seq[any] { return slices.Values(l.items) }

// Hashtable maps arbitrary comparable keys to values and iterates in
// insertion order.
type Hashtable struct {
	keys []any
	m    map[any]any
}

// NewHashtable returns an empty hashtable.
func NewHashtable() *Hashtable {
	return &Hashtable{m: make(map[any]any)}
}

// Set stores value under key. A new key goes last in iteration order.
func (h *Hashtable) Set(key, value any) {
	if h.m == nil {
		h.m = make(map[any]any)
	}
	if _, ok := h.m[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.m[key] = value
}

// Get returns the value stored under key.
func (h *Hashtable) Get(key any) (any, bool) {
	v, ok := h.m[key]
	return v, ok
}

// Len returns the number of entries.
func (h *Hashtable) Len() int { return len(h.keys) }

// All iterates over the entries in insertion order.
func (h *Hashtable) All() iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		for _, k := range h.keys {
			if !yield(k, h.m[k]) {
				return
			}
		}
	}
}

// HashSet is a set of arbitrary comparable values, iterated in insertion
// order.
type HashSet struct {
	order []any
	m     map[any]struct{}
}

// NewHashSet returns a set holding items, duplicates dropped.
func NewHashSet(items ...any) *HashSet {
	s := &HashSet{m: make(map[any]struct{})}
	for _, v := range items {
		s.Add(v)
	}
	return s
}

// Add inserts v unless it is already present.
func (s *HashSet) Add(v any) {
	if s.m == nil {
		s.m = make(map[any]struct{})
	}
	if _, ok := s.m[v]; ok {
		return
	}
	s.m[v] = struct{}{}
	s.order = append(s.order, v)
}

// Contains reports whether v is in the set.
func (s *HashSet) Contains(v any) bool {
	_, ok := s.m[v]
	return ok
}

// Len returns the number of members.
func (s *HashSet) Len() int { return len(s.order) }

// Values iterates over the members in insertion order.
func (s *HashSet) Values() iter.Seq[any] { return slices.Values(s.order) }

// Queue is a first-in first-out sequence. It serializes front first.
type Queue[T any] struct {
	items []T
}

// NewQueue returns a queue holding items, the first at the front.
func NewQueue[T any](items ...T) *Queue[T] {
	return &Queue[T]{items: slices.Clone(items)}
}

// Enqueue adds v at the back.
func (q *Queue[T]) Enqueue(v T) { q.items = append(q.items, v) }

// Dequeue removes and returns the front item.
func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Peek returns the front item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// Len returns the number of items.
func (q *Queue[T]) Len() int { return len(q.items) }

// Values iterates from front to back.
func (q *Queue[T]) Values() iter.Seq[T] { return slices.Values(q.items) }

// TypeArguments returns the element type.
func (q *Queue[T]) TypeArguments() []reflect.Type { return []reflect.Type{reflect.TypeFor[T]()} }

// Stack is a last-in first-out sequence. It serializes top first.
type Stack[T any] struct {
	items []T
}

// NewStack returns a stack with items pushed in order, the last on top.
func NewStack[T any](items ...T) *Stack[T] {
	return &Stack[T]{items: slices.Clone(items)}
}

// Push puts v on top.
func (s *Stack[T]) Push(v T) { s.items = append(s.items, v) }

// Pop removes and returns the top item.
func (s *Stack[T]) Pop() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	v := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return v, true
}

// Peek returns the top item without removing it.
func (s *Stack[T]) Peek() (T, bool) {
	if len(s.items) == 0 {
		var zero T
		return zero, false
	}
	return s.items[len(s.items)-1], true
}

// Len returns the number of items.
func (s *Stack[T]) Len() int { return len(s.items) }

// Values iterates from top to bottom.
func (s *Stack[T]) Values() iter.Seq[T] {
	return func(yield func(T) bool) {
		for i := len(s.items) - 1; i >= 0; i-- {
			if !yield(s.items[i]) {
				return
			}
		}
	}
}

// TypeArguments returns the element type.
func (s *Stack[T]) TypeArguments() []reflect.Type { return []reflect.Type{reflect.TypeFor[T]()} }

// KeyValuePair serializes as {k: key, v: value}.
type KeyValuePair[K, V any] struct {
	Key   K
	Value V
}

// TypeArguments returns the key and value types.
func (p KeyValuePair[K, V]) TypeArguments() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[K](), reflect.TypeFor[V]()}
}

// ReadOnlyCollection is an immutable sequence. Structs embedding it
// serialize as the sequence itself.
type ReadOnlyCollection[T any] struct {
	items []T
}

// NewReadOnlyCollection returns a collection holding a copy of items.
func NewReadOnlyCollection[T any](items ...T) ReadOnlyCollection[T] {
	return ReadOnlyCollection[T]{items: slices.Clone(items)}
}

// Len returns the number of items.
func (c ReadOnlyCollection[T]) Len() int { return len(c.items) }

// At returns the item at index i.
func (c ReadOnlyCollection[T]) At(i int) T { return c.items[i] }

// Values iterates over the items in order.
func (c ReadOnlyCollection[T]) Values() iter.Seq[T] { return slices.Values(c.items) }

// TypeArguments returns the element type.
func (c ReadOnlyCollection[T]) TypeArguments() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[T]()}
}

func (c *ReadOnlyCollection[T]) elementType() reflect.Type { return reflect.TypeFor[T]() }

func (c *ReadOnlyCollection[T]) itemsValue() reflect.Value { return reflect.ValueOf(c.items) }

func (c *ReadOnlyCollection[T]) setItems(v reflect.Value) { c.items = v.Interface().([]T) }

// readOnlyCollection is implemented by *ReadOnlyCollection[T] and by
// pointers to structs embedding it.
type readOnlyCollection interface {
	elementType() reflect.Type
	itemsValue() reflect.Value
	setItems(v reflect.Value)
}

var readOnlyCollectionType = reflect.TypeFor[readOnlyCollection]()
