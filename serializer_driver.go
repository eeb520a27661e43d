package bsonmap

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// driverCodecSerializer hands the driver's primitive wrapper types to the
// codecs of the driver's default registry.
type driverCodecSerializer struct {
	t reflect.Type
}

func (s *driverCodecSerializer) ValueType() reflect.Type { return s.t }

func (s *driverCodecSerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if !v.IsValid() {
		return ctx.Writer().WriteNull()
	}
	enc, err := bson.DefaultRegistry.LookupEncoder(s.t)
	if err != nil {
		return resolutionErrorf("no driver encoder for %s: %v", s.t, err)
	}
	return enc.EncodeValue(bsoncodec.EncodeContext{Registry: bson.DefaultRegistry}, ctx.Writer(), v)
}

func (s *driverCodecSerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	dec, err := bson.DefaultRegistry.LookupDecoder(s.t)
	if err != nil {
		return reflect.Value{}, resolutionErrorf("no driver decoder for %s: %v", s.t, err)
	}
	out := reflect.New(s.t).Elem()
	if err := dec.DecodeValue(bsoncodec.DecodeContext{Registry: bson.DefaultRegistry}, ctx.Reader(), out); err != nil {
		return reflect.Value{}, formatErrorf("decoding %s: %v", s.t, err)
	}
	return out, nil
}

// valueMarshalerSerializer serves types implementing the driver's
// MarshalBSONValue and UnmarshalBSONValue pair.
type valueMarshalerSerializer struct {
	t reflect.Type
}

func (s *valueMarshalerSerializer) ValueType() reflect.Type { return s.t }

func (s *valueMarshalerSerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if !v.IsValid() {
		return ctx.Writer().WriteNull()
	}
	p := reflect.New(s.t)
	p.Elem().Set(v)
	bt, data, err := p.Interface().(bsoncodec.ValueMarshaler).MarshalBSONValue()
	if err != nil {
		return err
	}
	return bsonrw.Copier{}.CopyValueFromBytes(ctx.Writer(), bt, data)
}

func (s *valueMarshalerSerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	bt, data, err := bsonrw.Copier{}.CopyValueToBytes(ctx.Reader())
	if err != nil {
		return reflect.Value{}, err
	}
	p := reflect.New(s.t)
	if err := p.Interface().(bsoncodec.ValueUnmarshaler).UnmarshalBSONValue(bt, data); err != nil {
		return reflect.Value{}, formatErrorf("unmarshaling %s: %v", s.t, err)
	}
	return p.Elem(), nil
}
