// Package vector encodes packed numeric vectors into the payload of BSON
// binary subtype 9.
//
// The payload starts with a two byte header, the data type tag and the
// number of padding bits in the final byte, followed by the items:
// little-endian IEEE-754 singles for Float32, raw bytes for Int8 and
// PackedBit.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/pkg/errors"
)

// DataType is the tag in the first byte of a vector payload.
type DataType byte

const (
	Int8      DataType = 0x03
	Float32   DataType = 0x27
	PackedBit DataType = 0x10
)

// HeaderSize is the number of bytes before the items.
const HeaderSize = 2

const maxPadding = 7

var (
	// ErrMalformedVector reports a payload that violates the layout rules.
	ErrMalformedVector = errors.New("vector: malformed vector data")
	// ErrTypeMismatch reports items whose Go type does not fit the data type.
	ErrTypeMismatch = errors.New("vector: element type does not match data type")
)

func (d DataType) String() string {
	switch d {
	case Int8:
		return "Int8"
	case Float32:
		return "Float32"
	case PackedBit:
		return "PackedBit"
	}
	return fmt.Sprintf("DataType(0x%02x)", byte(d))
}

// ParseDataType maps a data type name, as printed by String, to its tag.
func ParseDataType(name string) (DataType, error) {
	switch name {
	case "Int8", "int8":
		return Int8, nil
	case "Float32", "float32":
		return Float32, nil
	case "PackedBit", "packedbit", "packed-bit":
		return PackedBit, nil
	}
	return 0, errors.Errorf("vector: unknown data type %q", name)
}

// Element is the set of item types a vector can hold.
type Element interface {
	~float32 | ~int8 | ~uint8
}

// checkElement verifies that items of type T may be stored under dt. Int8
// accepts either signed or unsigned bytes; the others are exact.
func checkElement[T Element](dt DataType) error {
	kind := reflect.TypeFor[T]().Kind()
	ok := false
	switch dt {
	case Float32:
		ok = kind == reflect.Float32
	case Int8:
		ok = kind == reflect.Int8 || kind == reflect.Uint8
	case PackedBit:
		ok = kind == reflect.Uint8
	default:
		return errors.Wrapf(ErrMalformedVector, "unsupported data type %s", dt)
	}
	if !ok {
		return errors.Wrapf(ErrTypeMismatch, "%s items cannot be stored as %s", reflect.TypeFor[T](), dt)
	}
	return nil
}

func checkPadding(dt DataType, padding uint8, payload int) error {
	if padding > maxPadding {
		return errors.Wrapf(ErrMalformedVector, "padding %d is out of range [0,%d]", padding, maxPadding)
	}
	if padding != 0 && dt != PackedBit {
		return errors.Wrapf(ErrMalformedVector, "padding must be zero for %s but was %d", dt, padding)
	}
	if padding != 0 && payload == 0 {
		return errors.Wrapf(ErrMalformedVector, "padding %d without any data", padding)
	}
	return nil
}

// Encode lays out items under dt with the given padding.
func Encode[T Element](items []T, dt DataType, padding uint8) ([]byte, error) {
	if err := checkElement[T](dt); err != nil {
		return nil, err
	}
	if err := checkPadding(dt, padding, len(items)); err != nil {
		return nil, err
	}
	if dt == Float32 {
		out := make([]byte, HeaderSize, HeaderSize+4*len(items))
		out[0], out[1] = byte(dt), padding
		for _, f := range items {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(f)))
		}
		return out, nil
	}
	out := make([]byte, HeaderSize, HeaderSize+len(items))
	out[0], out[1] = byte(dt), padding
	return append(out, byteView(items)...), nil
}

// ReadHeader validates the header of data and returns the payload after it.
func ReadHeader(data []byte) (DataType, uint8, []byte, error) {
	if len(data) < HeaderSize {
		return 0, 0, nil, errors.Wrapf(ErrMalformedVector, "vector data must be at least %d bytes but was %d", HeaderSize, len(data))
	}
	dt, padding, payload := DataType(data[0]), data[1], data[HeaderSize:]
	switch dt {
	case Int8, Float32, PackedBit:
	default:
		return 0, 0, nil, errors.Wrapf(ErrMalformedVector, "unsupported data type %s", dt)
	}
	if err := checkPadding(dt, padding, len(payload)); err != nil {
		return 0, 0, nil, err
	}
	if dt == Float32 && len(payload)%4 != 0 {
		return 0, 0, nil, errors.Wrapf(ErrMalformedVector, "float32 payload length %d is not a multiple of 4", len(payload))
	}
	return dt, padding, payload, nil
}

// Decode reads items of type T out of data.
func Decode[T Element](data []byte) (items []T, padding uint8, dt DataType, err error) {
	dt, padding, payload, err := ReadHeader(data)
	if err != nil {
		return nil, 0, 0, err
	}
	if err := checkElement[T](dt); err != nil {
		return nil, 0, 0, err
	}
	if dt == Float32 {
		items = make([]T, len(payload)/4)
		for i := range items {
			items[i] = T(math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:])))
		}
		return items, padding, dt, nil
	}
	items = make([]T, len(payload))
	copy(byteView(items), payload)
	return items, padding, dt, nil
}

// Vector is a decoded vector.
type Vector[T Element] struct {
	DataType DataType
	Items    []T
	// Padding is the number of unused low bits in the last byte of a
	// PackedBit vector.
	Padding uint8
}

// NewFloat32 returns a Float32 vector of items.
func NewFloat32(items []float32) Vector[float32] {
	return Vector[float32]{DataType: Float32, Items: items}
}

// NewInt8 returns an Int8 vector of items.
func NewInt8(items []int8) Vector[int8] {
	return Vector[int8]{DataType: Int8, Items: items}
}

// NewPackedBit wraps bits packed eight to a byte, most significant bit first.
func NewPackedBit(items []byte, padding uint8) (Vector[byte], error) {
	if err := checkPadding(PackedBit, padding, len(items)); err != nil {
		return Vector[byte]{}, err
	}
	return Vector[byte]{DataType: PackedBit, Items: items, Padding: padding}, nil
}

// Bytes encodes v.
func (v Vector[T]) Bytes() ([]byte, error) {
	return Encode(v.Items, v.DataType, v.Padding)
}

// Len returns the number of logical items: bits for PackedBit vectors.
func (v Vector[T]) Len() int {
	if v.DataType == PackedBit {
		return len(v.Items)*8 - int(v.Padding)
	}
	return len(v.Items)
}

// FromBytes decodes a vector payload.
func FromBytes[T Element](data []byte) (Vector[T], error) {
	items, padding, dt, err := Decode[T](data)
	if err != nil {
		return Vector[T]{}, err
	}
	return Vector[T]{DataType: dt, Items: items, Padding: padding}, nil
}
