package bsonmap

import (
	"encoding"
	"fmt"
	"math"
	"reflect"

	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// EnumRepresentation selects how an enum value is written.
type EnumRepresentation int

const (
	// EnumDefault writes integer enums as Int32 or Int64 by width and string
	// enums as strings.
	EnumDefault EnumRepresentation = iota
	EnumInt32
	EnumInt64
	// EnumString writes the name of the value. Integer enums must implement
	// fmt.Stringer and, to be read back, encoding.TextUnmarshaler on their
	// pointer.
	EnumString
)

func (r EnumRepresentation) String() string {
	switch r {
	case EnumInt32:
		return "Int32"
	case EnumInt64:
		return "Int64"
	case EnumString:
		return "String"
	}
	return "Default"
}

var (
	stringerType        = reflect.TypeFor[fmt.Stringer]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// EnumSerializer serves named integer and string types.
type EnumSerializer struct {
	t              reflect.Type
	representation EnumRepresentation
}

// isEnumKind reports whether t is a named integer or string type.
func isEnumKind(t reflect.Type) bool {
	if t.Name() == "" || t.PkgPath() == "" {
		return false
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.String:
		return true
	}
	return false
}

// NewEnumSerializer serializes the enum type t in representation.
func NewEnumSerializer(t reflect.Type, representation EnumRepresentation) (*EnumSerializer, error) {
	if !isEnumKind(t) {
		return nil, configurationErrorf("%s is not a named integer or string type", t)
	}
	if representation == EnumDefault {
		representation = defaultEnumRepresentation(t)
	}
	switch representation {
	case EnumString:
		if t.Kind() != reflect.String && !t.Implements(stringerType) {
			return nil, configurationErrorf("enum %s must implement fmt.Stringer to be written as a string", t)
		}
	case EnumInt32, EnumInt64:
		if t.Kind() == reflect.String {
			return nil, configurationErrorf("string enum %s cannot be written as %s", t, representation)
		}
	}
	return &EnumSerializer{t: t, representation: representation}, nil
}

func defaultEnumRepresentation(t reflect.Type) EnumRepresentation {
	switch t.Kind() {
	case reflect.String:
		return EnumString
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return EnumInt32
	}
	return EnumInt64
}

func (s *EnumSerializer) ValueType() reflect.Type { return s.t }

// Representation returns the layout used when writing.
func (s *EnumSerializer) Representation() EnumRepresentation { return s.representation }

func (s *EnumSerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	vw := ctx.Writer()
	if !v.IsValid() {
		return vw.WriteNull()
	}
	switch s.representation {
	case EnumString:
		if s.t.Kind() == reflect.String {
			return vw.WriteString(v.String())
		}
		return vw.WriteString(v.Interface().(fmt.Stringer).String())
	case EnumInt32:
		x, err := enumInt64(v)
		if err != nil {
			return err
		}
		if x < math.MinInt32 || x > math.MaxInt32 {
			return formatErrorf("enum value %d of %s overflows Int32", x, s.t)
		}
		return vw.WriteInt32(int32(x))
	default:
		x, err := enumInt64(v)
		if err != nil {
			return err
		}
		return vw.WriteInt64(x)
	}
}

func enumInt64(v reflect.Value) (int64, error) {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > math.MaxInt64 {
			return 0, formatErrorf("enum value %d of %s overflows Int64", u, v.Type())
		}
		return int64(u), nil
	}
	return v.Int(), nil
}

func (s *EnumSerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	switch vr.Type() {
	case bsontype.String:
		str, err := vr.ReadString()
		if err != nil {
			return reflect.Value{}, err
		}
		return s.parse(str)
	case bsontype.Int32, bsontype.Int64, bsontype.Double:
		if s.t.Kind() == reflect.String {
			return reflect.Value{}, formatErrorf("cannot deserialize string enum %s from BSON type %s", s.t, vr.Type())
		}
		switch s.t.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return readUnsigned(vr, s.t)
		}
		return readSigned(vr, s.t)
	}
	return reflect.Value{}, formatErrorf(readPrimitiveErrorFmt, s.t, vr.Type())
}

func (s *EnumSerializer) parse(str string) (reflect.Value, error) {
	out := reflect.New(s.t)
	if s.t.Kind() == reflect.String {
		out.Elem().SetString(str)
		return out.Elem(), nil
	}
	u, ok := out.Interface().(encoding.TextUnmarshaler)
	if !ok {
		return reflect.Value{}, formatErrorf("enum %s cannot be read from a string because it does not implement %s", s.t, textUnmarshalerType)
	}
	if err := u.UnmarshalText([]byte(str)); err != nil {
		return reflect.Value{}, formatErrorf("parsing %q as %s: %v", str, s.t, err)
	}
	return out.Elem(), nil
}
