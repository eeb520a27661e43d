package bsonmap

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// DiscriminatedInterfaceSerializer serves an interface type. Values are
// written with a discriminator so the concrete type can be recovered.
type DiscriminatedInterfaceSerializer struct {
	iface reflect.Type
}

// NewDiscriminatedInterfaceSerializer serializes values of interface type
// iface with a discriminator naming their concrete type.
func NewDiscriminatedInterfaceSerializer(iface reflect.Type) (*DiscriminatedInterfaceSerializer, error) {
	if iface == nil || iface.Kind() != reflect.Interface {
		return nil, configurationErrorf("%v is not an interface type", iface)
	}
	return &DiscriminatedInterfaceSerializer{iface: iface}, nil
}

func (s *DiscriminatedInterfaceSerializer) ValueType() reflect.Type { return s.iface }

func (s *DiscriminatedInterfaceSerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if isNilValue(v) {
		return ctx.Writer().WriteNull()
	}
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	return serializeDiscriminatedValue(ctx, s.iface, v)
}

func (s *DiscriminatedInterfaceSerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	switch t := currentType(vr); t {
	case bsontype.Null:
		return reflect.Zero(s.iface), vr.ReadNull()
	case bsontype.EmbeddedDocument:
	default:
		return reflect.Value{}, formatErrorf("expected a document for interface type %s, but found a value of type %s instead", s.iface, t)
	}
	v, err := deserializeDiscriminatedDocument(ctx, s.iface)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(s.iface).Elem()
	if err := assignValue(out, v); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}
