package bsonmap

import (
	"reflect"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

const maxArrayRank = 3

// arrayRank counts the fixed-size array dimensions of t.
func arrayRank(t reflect.Type) int {
	rank := 0
	for t.Kind() == reflect.Array {
		rank++
		t = t.Elem()
	}
	return rank
}

// ArraySerializer serves fixed-size arrays as BSON arrays. Multi-dimensional
// arrays nest one BSON array per dimension.
type ArraySerializer struct {
	t    reflect.Type
	elem *lazySerializer
}

// NewArraySerializer serializes the fixed size array type t as a BSON array.
func NewArraySerializer(d *Domain, t reflect.Type) (*ArraySerializer, error) {
	if t.Kind() != reflect.Array {
		return nil, configurationErrorf("%s is not an array type", t)
	}
	if rank := arrayRank(t); rank > maxArrayRank {
		return nil, resolutionErrorf("no serializer found for array of rank %d", rank)
	}
	return &ArraySerializer{t: t, elem: newLazySerializer(d, t.Elem())}, nil
}

func (s *ArraySerializer) ValueType() reflect.Type { return s.t }

func (s *ArraySerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if !v.IsValid() {
		return ctx.Writer().WriteNull()
	}
	es, err := s.elem.get()
	if err != nil {
		return err
	}
	aw, err := ctx.Writer().WriteArray()
	if err != nil {
		return err
	}
	args := SerializationArgs{NominalType: s.t.Elem()}
	for i := 0; i < v.Len(); i++ {
		evw, err := aw.WriteArrayElement()
		if err != nil {
			return err
		}
		if err := es.Serialize(ctx.withWriter(evw), args, v.Index(i)); err != nil {
			return errors.Wrapf(err, "serializing element %d of %s", i, s.t)
		}
	}
	return aw.WriteArrayEnd()
}

func (s *ArraySerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	if vr.Type() != bsontype.Array {
		return reflect.Value{}, formatErrorf(readPrimitiveErrorFmt, s.t, vr.Type())
	}
	es, err := s.elem.get()
	if err != nil {
		return reflect.Value{}, err
	}
	ar, err := vr.ReadArray()
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(s.t).Elem()
	args := DeserializationArgs{NominalType: s.t.Elem()}
	n := 0
	for {
		evr, err := ar.ReadValue()
		if errors.Is(err, bsonrw.ErrEOA) {
			break
		}
		if err != nil {
			return reflect.Value{}, err
		}
		if n >= s.t.Len() {
			return reflect.Value{}, formatErrorf("too many elements for %s: expected %d", s.t, s.t.Len())
		}
		ev, err := es.Deserialize(ctx.withReader(evr), args)
		if err != nil {
			return reflect.Value{}, errors.Wrapf(err, "deserializing element %d of %s", n, s.t)
		}
		if err := assignValue(out.Index(n), ev); err != nil {
			return reflect.Value{}, err
		}
		n++
	}
	if n != s.t.Len() {
		return reflect.Value{}, formatErrorf("expected %d elements for %s but found %d", s.t.Len(), s.t, n)
	}
	return out, nil
}

// PointerSerializer serves pointer types: nil is written as BSON null and
// anything else as the pointed-to value.
type PointerSerializer struct {
	t    reflect.Type
	elem *lazySerializer
}

// NewPointerSerializer serializes pointer type t as its element, nil as null.
func NewPointerSerializer(d *Domain, t reflect.Type) (*PointerSerializer, error) {
	if t.Kind() != reflect.Pointer {
		return nil, configurationErrorf("%s is not a pointer type", t)
	}
	return &PointerSerializer{t: t, elem: newLazySerializer(d, t.Elem())}, nil
}

func (s *PointerSerializer) ValueType() reflect.Type { return s.t }

func (s *PointerSerializer) Serialize(ctx *SerializationContext, args SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return ctx.Writer().WriteNull()
	}
	es, err := s.elem.get()
	if err != nil {
		return err
	}
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	return es.Serialize(ctx, SerializationArgs{NominalType: s.t.Elem(), SerializeIDFirst: args.SerializeIDFirst}, v)
}

func (s *PointerSerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	if vr.Type() == bsontype.Null {
		return reflect.Zero(s.t), vr.ReadNull()
	}
	es, err := s.elem.get()
	if err != nil {
		return reflect.Value{}, err
	}
	ev, err := es.Deserialize(ctx, DeserializationArgs{NominalType: s.t.Elem()})
	if err != nil {
		return reflect.Value{}, err
	}
	if ev.Type() != s.t.Elem() && ev.Type().Kind() == reflect.Struct && s.t.Elem().Kind() == reflect.Struct {
		// A derived class: hand back a pointer to it and let the caller
		// adapt it to the nominal type.
		p := reflect.New(ev.Type())
		p.Elem().Set(ev)
		return p, nil
	}
	p := reflect.New(s.t.Elem())
	if err := assignValue(p.Elem(), ev); err != nil {
		return reflect.Value{}, err
	}
	return p, nil
}
