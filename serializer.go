package bsonmap

import (
	"reflect"
)

// Serializer converts values of one Go type to and from BSON.
//
// Serialize receives a value of ValueType, or for serializers of interface
// and polymorphic types, any value assignable to it. Deserialize returns a
// value assignable to ValueType; polymorphic serializers may return a more
// derived type.
type Serializer interface {
	ValueType() reflect.Type
	Serialize(ctx *SerializationContext, args SerializationArgs, v reflect.Value) error
	Deserialize(ctx *DeserializationContext, args DeserializationArgs) (reflect.Value, error)
}

// PolymorphicSerializer is implemented by serializers that write their own
// discriminator and can therefore be used in place of the object wrapper.
type PolymorphicSerializer interface {
	Serializer
	IsDiscriminatorCompatibleWithObjectSerializer() bool
}

// SerializationArgs are per-call parameters of a Serialize call.
type SerializationArgs struct {
	// NominalType is the declared type at the call site. When nil the
	// serializer's value type is assumed.
	NominalType reflect.Type
	// SerializeAsNominalType suppresses polymorphic dispatch.
	SerializeAsNominalType bool
	// SerializeIDFirst writes the id member before any other element.
	SerializeIDFirst bool
}

// DeserializationArgs are per-call parameters of a Deserialize call.
type DeserializationArgs struct {
	NominalType reflect.Type
}

// SerializerDeclarer lets a type choose its own serializer. It is consulted on
// a zero value of the type.
type SerializerDeclarer interface {
	BsonSerializer() Serializer
}

// KnownTypesDeclarer lets a type list the concrete types that may stand in
// for it. The list is registered the first time the type is used as a
// nominal type.
type KnownTypesDeclarer interface {
	BsonKnownTypes() []reflect.Type
}

// TypeArgumentsProvider is implemented by instantiated generic types that
// report their type arguments, which reflection cannot recover on its own.
type TypeArgumentsProvider interface {
	TypeArguments() []reflect.Type
}

func nominalOr(t, fallback reflect.Type) reflect.Type {
	if t == nil {
		return fallback
	}
	return t
}
