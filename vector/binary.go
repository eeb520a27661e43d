package vector

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BinarySubtype is the BSON binary subtype that carries vectors.
const BinarySubtype byte = 0x09

// ToBinary wraps v in a BSON binary value.
func ToBinary[T Element](v Vector[T]) (primitive.Binary, error) {
	data, err := v.Bytes()
	if err != nil {
		return primitive.Binary{}, err
	}
	return primitive.Binary{Subtype: BinarySubtype, Data: data}, nil
}

// FromBinary decodes the vector carried by b.
func FromBinary[T Element](b primitive.Binary) (Vector[T], error) {
	if b.Subtype != BinarySubtype {
		return Vector[T]{}, errors.Wrapf(ErrMalformedVector, "binary subtype must be %d but was %d", BinarySubtype, b.Subtype)
	}
	return FromBytes[T](b.Data)
}
