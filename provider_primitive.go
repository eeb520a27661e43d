package bsonmap

import (
	"reflect"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/MichaelAJay/go-bsonmap/vector"
)

// primitiveProvider serves scalars, pointers, the package's generic value
// types, fixed-size arrays and enums.
type primitiveProvider struct{}

var primitiveSerializers = map[reflect.Type]func() Serializer{
	timeType:       func() Serializer { return newTimeSerializer() },
	durationType:   func() Serializer { return newKindSerializer(durationType) },
	uuidType:       func() Serializer { return newUUIDSerializer() },
	objectIDType:   func() Serializer { return newObjectIDSerializer() },
	decimal128Type: func() Serializer { return newDecimal128Serializer() },
	bytesType:      func() Serializer { return newBytesSerializer(bytesType) },

	reflect.TypeFor[vector.Vector[float32]](): func() Serializer { return &VectorSerializer[float32]{} },
	reflect.TypeFor[vector.Vector[int8]]():    func() Serializer { return &VectorSerializer[int8]{} },
	reflect.TypeFor[vector.Vector[uint8]]():   func() Serializer { return &VectorSerializer[uint8]{} },
}

// builtinGenericSerializers is matched by generic definition and specialized
// with the type arguments.
var builtinGenericSerializers = map[GenericDefinition]GenericSerializerFactory{
	GenericDefinitionFor[Queue[any]](): func(d *Domain, t reflect.Type, args []reflect.Type) (Serializer, error) {
		return newEnumerableSerializer(d, t, collectionShape{elem: args[0], impl: t}, "Enqueue", false), nil
	},
	GenericDefinitionFor[Stack[any]](): func(d *Domain, t reflect.Type, args []reflect.Type) (Serializer, error) {
		return newEnumerableSerializer(d, t, collectionShape{elem: args[0], impl: t}, "Push", true), nil
	},
	GenericDefinitionFor[KeyValuePair[any, any]](): func(d *Domain, t reflect.Type, args []reflect.Type) (Serializer, error) {
		return newKeyValuePairSerializer(d, t, args[0], args[1]), nil
	},
}

func (primitiveProvider) GetSerializer(d *Domain, t reflect.Type) (Serializer, error) {
	if f, ok := primitiveSerializers[t]; ok {
		return f(), nil
	}
	if t.Kind() == reflect.Pointer {
		return NewPointerSerializer(d, t)
	}
	if def, ok := GenericDefinitionOf(t); ok {
		if factory := builtinGenericSerializers[def]; factory != nil {
			args, ok := typeArgumentsOf(t)
			if !ok {
				return nil, resolutionErrorf("generic type %s does not report its type arguments", t)
			}
			return factory(d, t, args)
		}
	}
	switch t.Kind() {
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return newBytesSerializer(t), nil
		}
		return nil, nil
	case reflect.Array:
		return NewArraySerializer(d, t)
	}
	if t.PkgPath() == "" {
		if s := newKindSerializer(t); s != nil {
			return s, nil
		}
		return nil, nil
	}
	if isEnumKind(t) {
		return NewEnumSerializer(t, EnumDefault)
	}
	switch t.Kind() {
	case reflect.Bool, reflect.Float32, reflect.Float64:
		return newKindSerializer(t), nil
	}
	return nil, nil
}

// KeyValuePairSerializer writes a KeyValuePair as {k: key, v: value}.
type KeyValuePairSerializer struct {
	t       reflect.Type
	keyType reflect.Type
	valType reflect.Type
	keys    *lazySerializer
	values  *lazySerializer
}

func newKeyValuePairSerializer(d *Domain, t, key, value reflect.Type) *KeyValuePairSerializer {
	return &KeyValuePairSerializer{
		t:       t,
		keyType: key,
		valType: value,
		keys:    newLazySerializer(d, key),
		values:  newLazySerializer(d, value),
	}
}

func (s *KeyValuePairSerializer) ValueType() reflect.Type { return s.t }

func (s *KeyValuePairSerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if !v.IsValid() {
		return ctx.Writer().WriteNull()
	}
	ks, err := s.keys.get()
	if err != nil {
		return err
	}
	vs, err := s.values.get()
	if err != nil {
		return err
	}
	dw, err := ctx.Writer().WriteDocument()
	if err != nil {
		return err
	}
	vw, err := dw.WriteDocumentElement(keyElementName)
	if err != nil {
		return err
	}
	if err := ks.Serialize(ctx.withWriter(vw), SerializationArgs{NominalType: s.keyType}, v.Field(0)); err != nil {
		return err
	}
	vw, err = dw.WriteDocumentElement(valueElementName)
	if err != nil {
		return err
	}
	if err := vs.Serialize(ctx.withWriter(vw), SerializationArgs{NominalType: s.valType}, v.Field(1)); err != nil {
		return err
	}
	return dw.WriteDocumentEnd()
}

func (s *KeyValuePairSerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	if t := currentType(vr); t != bsontype.EmbeddedDocument {
		return reflect.Value{}, formatErrorf("cannot deserialize %s from BSON type %s", s.t, t)
	}
	ks, err := s.keys.get()
	if err != nil {
		return reflect.Value{}, err
	}
	vs, err := s.values.get()
	if err != nil {
		return reflect.Value{}, err
	}
	dr, err := vr.ReadDocument()
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(s.t).Elem()
	for {
		name, evr, err := dr.ReadElement()
		if errors.Is(err, bsonrw.ErrEOD) {
			break
		}
		if err != nil {
			return reflect.Value{}, err
		}
		var x reflect.Value
		switch name {
		case keyElementName:
			if x, err = ks.Deserialize(ctx.withReader(evr), DeserializationArgs{NominalType: s.keyType}); err == nil {
				err = assignValue(out.Field(0), x)
			}
		case valueElementName:
			if x, err = vs.Deserialize(ctx.withReader(evr), DeserializationArgs{NominalType: s.valType}); err == nil {
				err = assignValue(out.Field(1), x)
			}
		default:
			err = formatErrorf("unexpected element '%s' in %s", name, s.t)
		}
		if err != nil {
			return reflect.Value{}, err
		}
	}
	return out, nil
}
