package bsonmap

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

var (
	anyType        = reflect.TypeFor[any]()
	errorType      = reflect.TypeFor[error]()
	emptyStructTyp = reflect.TypeFor[struct{}]()
	classMarkerTyp = reflect.TypeFor[Class]()
)

// baseTypeOf returns the struct a struct type extends: the type of its first
// field when that field is an embedded struct. Everything else has no base.
func baseTypeOf(t reflect.Type) (reflect.Type, int, bool) {
	if t == nil || t.Kind() != reflect.Struct {
		return nil, -1, false
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Name == "_" {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			return f.Type, i, true
		}
		return nil, -1, false
	}
	return nil, -1, false
}

// baseChain returns t followed by each of its bases, nearest first.
func baseChain(t reflect.Type) []reflect.Type {
	chain := []reflect.Type{t}
	for {
		base, _, ok := baseTypeOf(t)
		if !ok {
			return chain
		}
		chain = append(chain, base)
		t = base
	}
}

// derivesFrom reports whether base appears on t's base chain, t included.
func derivesFrom(t, base reflect.Type) bool {
	for _, c := range baseChain(t) {
		if c == base {
			return true
		}
	}
	return false
}

// isAssignableTo reports whether a value of concrete type t can be produced
// where nominal is expected: t extends nominal, or nominal is an interface
// that t or *t implements.
func isAssignableTo(t, nominal reflect.Type) bool {
	if t == nominal || nominal == anyType {
		return true
	}
	if nominal.Kind() == reflect.Interface {
		return t.Implements(nominal) || (t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(nominal))
	}
	if t.Kind() == reflect.Pointer && nominal.Kind() == reflect.Pointer {
		return derivesFrom(t.Elem(), nominal.Elem())
	}
	return derivesFrom(t, nominal)
}

// assignValue stores src into dst, adapting between a value and its pointer
// when dst is an interface only the pointer satisfies.
func assignValue(dst, src reflect.Value) error {
	if !src.IsValid() {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	st, dt := src.Type(), dst.Type()
	switch {
	case st.AssignableTo(dt):
		dst.Set(src)
		return nil
	case dt.Kind() == reflect.Interface && reflect.PointerTo(st).Implements(dt):
		p := reflect.New(st)
		p.Elem().Set(src)
		dst.Set(p)
		return nil
	case dt.Kind() == reflect.Pointer && st.AssignableTo(dt.Elem()):
		p := reflect.New(dt.Elem())
		p.Elem().Set(src)
		dst.Set(p)
		return nil
	case st.Kind() == reflect.Interface:
		if src.IsNil() {
			dst.Set(reflect.Zero(dt))
			return nil
		}
		return assignValue(dst, src.Elem())
	case st.Kind() == reflect.Pointer && !src.IsNil() && st.Elem().AssignableTo(dt):
		dst.Set(src.Elem())
		return nil
	}
	return formatErrorf("a value of type %s cannot be assigned to %s", st, dt)
}

// unwrapInterface peels interface layers off v.
func unwrapInterface(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// isNilValue reports whether v holds nothing a serializer could write.
func isNilValue(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// anyValue returns a settable value of type any holding x.
func anyValue(x any) reflect.Value {
	v := reflect.New(anyType).Elem()
	if x != nil {
		v.Set(reflect.ValueOf(x))
	}
	return v
}

// typeName is the stable name a type is recorded under for type-name
// discriminators.
func typeName(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// currentType returns the BSON type the reader is positioned on. A reader over
// a whole document reports no type until it is read.
func currentType(vr bsonrw.ValueReader) bsontype.Type {
	if t := vr.Type(); t != 0 {
		return t
	}
	return bsontype.EmbeddedDocument
}

// fieldByIndex walks index from v, allocating nil embedded pointers when
// alloc is set. It reports false when a nil pointer blocks the path.
func fieldByIndex(v reflect.Value, index []int, alloc bool) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				if !alloc {
					return reflect.Value{}, false
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}

// sortValues orders map keys so output is deterministic across runs.
func sortValues(keys []reflect.Value) {
	slices.SortFunc(keys, compareValues)
}

func compareValues(a, b reflect.Value) int {
	a, b = unwrapInterface(a), unwrapInterface(b)
	if !a.IsValid() || !b.IsValid() {
		switch {
		case !a.IsValid() && !b.IsValid():
			return 0
		case !a.IsValid():
			return -1
		}
		return 1
	}
	if a.Kind() != b.Kind() {
		return cmp.Compare(a.Kind(), b.Kind())
	}
	switch a.Kind() {
	case reflect.String:
		return strings.Compare(a.String(), b.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(a.Int(), b.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return cmp.Compare(a.Uint(), b.Uint())
	case reflect.Float32, reflect.Float64:
		return cmp.Compare(a.Float(), b.Float())
	case reflect.Bool:
		switch {
		case a.Bool() == b.Bool():
			return 0
		case !a.Bool():
			return -1
		}
		return 1
	}
	return strings.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
}
