package bsonmap

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/MichaelAJay/go-bsonmap/vector"
)

// VectorSerializer writes a vector.Vector as BSON binary subtype 9.
type VectorSerializer[T vector.Element] struct{}

func (s *VectorSerializer[T]) ValueType() reflect.Type { return reflect.TypeFor[vector.Vector[T]]() }

func (s *VectorSerializer[T]) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if !v.IsValid() {
		return ctx.Writer().WriteNull()
	}
	b, err := vector.ToBinary(v.Interface().(vector.Vector[T]))
	if err != nil {
		return err
	}
	return ctx.Writer().WriteBinaryWithSubtype(b.Data, b.Subtype)
}

func (s *VectorSerializer[T]) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	if vr.Type() != bsontype.Binary {
		return reflect.Value{}, formatErrorf(readPrimitiveErrorFmt, s.ValueType(), vr.Type())
	}
	data, subtype, err := vr.ReadBinary()
	if err != nil {
		return reflect.Value{}, err
	}
	vec, err := vector.FromBinary[T](primitive.Binary{Subtype: subtype, Data: data})
	if err != nil {
		return reflect.Value{}, formatErrorf("invalid vector: %v", err)
	}
	return reflect.ValueOf(vec), nil
}
