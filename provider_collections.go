package bsonmap

import (
	"reflect"
	"slices"
)

type collectionKind int

const (
	genericDictionaryKind collectionKind = iota
	dictionaryKind
	genericSetKind
	readOnlyCollectionKind
	genericEnumerableKind
	enumerableKind
)

// collectionShape is what shape inference learned about a collection type.
type collectionShape struct {
	kind collectionKind
	key  reflect.Type
	elem reflect.Type
	// impl is the type instantiated on read; it differs from the collection
	// type only for interfaces.
	impl reflect.Type
}

type collectionRule struct {
	kind    collectionKind
	match   func(t reflect.Type) (key, elem reflect.Type, ok bool)
	implied reflect.Type
}

// collectionRules are consulted in order; the first match wins.
var collectionRules = []collectionRule{
	{kind: genericDictionaryKind, match: matchGenericDictionary},
	{kind: dictionaryKind, match: matchDictionary, implied: reflect.TypeFor[*Hashtable]()},
	{kind: genericSetKind, match: matchGenericSet, implied: reflect.TypeFor[*HashSet]()},
	{kind: readOnlyCollectionKind, match: matchReadOnlyCollection},
	{kind: genericEnumerableKind, match: matchGenericEnumerable},
	{kind: enumerableKind, match: matchEnumerable, implied: reflect.TypeFor[*List]()},
}

// inferCollectionShape classifies t. Interfaces only match a rule whose
// implied implementation satisfies them.
func inferCollectionShape(t reflect.Type) (collectionShape, bool) {
	if t.Kind() == reflect.Pointer || t == anyType {
		return collectionShape{}, false
	}
	for _, r := range collectionRules {
		key, elem, ok := r.match(t)
		if !ok {
			continue
		}
		shape := collectionShape{kind: r.kind, key: key, elem: elem, impl: t}
		if t.Kind() == reflect.Interface {
			if r.implied == nil || !r.implied.Implements(t) {
				return collectionShape{}, false
			}
			shape.impl = r.implied
		}
		return shape, true
	}
	return collectionShape{}, false
}

// collectionsProvider serves maps, slices, sets and types with a
// collection-shaped method set.
type collectionsProvider struct{}

func (collectionsProvider) GetSerializer(d *Domain, t reflect.Type) (Serializer, error) {
	shape, ok := inferCollectionShape(t)
	if !ok {
		return nil, nil
	}
	switch shape.kind {
	case genericDictionaryKind, dictionaryKind:
		return newDictionarySerializer(d, t, shape, defaultDictionaryRepresentation(shape.key))
	case genericSetKind:
		return newSetSerializer(d, t, shape), nil
	case readOnlyCollectionKind:
		return newReadOnlyCollectionSerializer(d, t, shape), nil
	default:
		return newEnumerableSerializer(d, t, shape, "Add", false), nil
	}
}

// methodSignature returns the parameter and result types of the method
// name callable on a value of t (or its address), without the receiver.
func methodSignature(t reflect.Type, name string) (in, out []reflect.Type, ok bool) {
	var ft reflect.Type
	skip := 0
	if t.Kind() == reflect.Interface {
		m, found := t.MethodByName(name)
		if !found {
			return nil, nil, false
		}
		ft = m.Type
	} else {
		pt := t
		if t.Kind() != reflect.Pointer {
			pt = reflect.PointerTo(t)
		}
		m, found := pt.MethodByName(name)
		if !found {
			return nil, nil, false
		}
		ft, skip = m.Type, 1
	}
	for i := skip; i < ft.NumIn(); i++ {
		in = append(in, ft.In(i))
	}
	for i := 0; i < ft.NumOut(); i++ {
		out = append(out, ft.Out(i))
	}
	return in, out, true
}

// seqArgs returns the yielded types of an iterator function type with n
// yield parameters.
func seqArgs(seq reflect.Type, n int) ([]reflect.Type, bool) {
	if seq.Kind() != reflect.Func || seq.NumIn() != 1 || seq.NumOut() != 0 {
		return nil, false
	}
	yield := seq.In(0)
	if yield.Kind() != reflect.Func || yield.NumIn() != n || yield.NumOut() != 1 || yield.Out(0).Kind() != reflect.Bool {
		return nil, false
	}
	args := make([]reflect.Type, n)
	for i := range args {
		args[i] = yield.In(i)
	}
	return args, true
}

func iteratorOf(t reflect.Type, name string, n int) ([]reflect.Type, bool) {
	in, out, ok := methodSignature(t, name)
	if !ok || len(in) != 0 || len(out) != 1 {
		return nil, false
	}
	return seqArgs(out[0], n)
}

func hasMutator(t reflect.Type, name string, params ...reflect.Type) bool {
	in, out, ok := methodSignature(t, name)
	return ok && len(out) == 0 && slices.Equal(in, params)
}

func dictionaryMethods(t reflect.Type) (key, elem reflect.Type, ok bool) {
	args, ok := iteratorOf(t, "All", 2)
	if !ok || !hasMutator(t, "Set", args[0], args[1]) {
		return nil, nil, false
	}
	return args[0], args[1], true
}

func matchGenericDictionary(t reflect.Type) (key, elem reflect.Type, ok bool) {
	if t.Kind() == reflect.Map {
		if t.Elem() == emptyStructTyp {
			return nil, nil, false
		}
		return t.Key(), t.Elem(), true
	}
	key, elem, ok = dictionaryMethods(t)
	if !ok || (key == anyType && elem == anyType) {
		return nil, nil, false
	}
	return key, elem, true
}

func matchDictionary(t reflect.Type) (key, elem reflect.Type, ok bool) {
	if t.Kind() == reflect.Map {
		return nil, nil, false
	}
	key, elem, ok = dictionaryMethods(t)
	if !ok || key != anyType || elem != anyType {
		return nil, nil, false
	}
	return key, elem, true
}

func matchGenericSet(t reflect.Type) (key, elem reflect.Type, ok bool) {
	if t.Kind() == reflect.Map {
		if t.Elem() != emptyStructTyp {
			return nil, nil, false
		}
		return nil, t.Key(), true
	}
	args, ok := iteratorOf(t, "Values", 1)
	if !ok || !hasMutator(t, "Add", args[0]) {
		return nil, nil, false
	}
	in, out, found := methodSignature(t, "Contains")
	if !found || len(in) != 1 || in[0] != args[0] || len(out) != 1 || out[0].Kind() != reflect.Bool {
		return nil, nil, false
	}
	return nil, args[0], true
}

func matchReadOnlyCollection(t reflect.Type) (key, elem reflect.Type, ok bool) {
	if t.Kind() != reflect.Struct || !reflect.PointerTo(t).Implements(readOnlyCollectionType) {
		return nil, nil, false
	}
	return nil, reflect.New(t).Interface().(readOnlyCollection).elementType(), true
}

func enumerableMethods(t reflect.Type) (reflect.Type, bool) {
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Map || t.Kind() == reflect.Array {
		return nil, false
	}
	args, ok := iteratorOf(t, "Values", 1)
	if !ok || !hasMutator(t, "Add", args[0]) {
		return nil, false
	}
	return args[0], true
}

func matchGenericEnumerable(t reflect.Type) (key, elem reflect.Type, ok bool) {
	if t.Kind() == reflect.Slice {
		return nil, t.Elem(), true
	}
	elem, ok = enumerableMethods(t)
	if !ok || elem == anyType {
		return nil, nil, false
	}
	return nil, elem, true
}

func matchEnumerable(t reflect.Type) (key, elem reflect.Type, ok bool) {
	elem, ok = enumerableMethods(t)
	if !ok || elem != anyType {
		return nil, nil, false
	}
	return nil, elem, true
}
