package bsonmap

import (
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	binarySubtypeGeneric  = 0x00
	binarySubtypeOld      = 0x02
	binarySubtypeUUIDOld  = 0x03
	binarySubtypeUUID     = 0x04
	binarySubtypeVector   = 0x09
	maxExactFloatInteger  = 1 << 53
	minExactFloatInteger  = -(1 << 53)
	readPrimitiveErrorFmt = "cannot deserialize a %s from BSON type %s"
)

var (
	timeType       = reflect.TypeFor[time.Time]()
	durationType   = reflect.TypeFor[time.Duration]()
	uuidType       = reflect.TypeFor[uuid.UUID]()
	objectIDType   = reflect.TypeFor[primitive.ObjectID]()
	decimal128Type = reflect.TypeFor[primitive.Decimal128]()
	bytesType      = reflect.TypeFor[[]byte]()
)

// ScalarSerializer writes one BSON scalar per value.
type ScalarSerializer struct {
	t     reflect.Type
	write func(vw bsonrw.ValueWriter, v reflect.Value) error
	read  func(vr bsonrw.ValueReader) (reflect.Value, error)
}

func (s *ScalarSerializer) ValueType() reflect.Type { return s.t }

func (s *ScalarSerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if !v.IsValid() {
		return ctx.Writer().WriteNull()
	}
	return s.write(ctx.Writer(), v)
}

func (s *ScalarSerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	v, err := s.read(ctx.Reader())
	if err != nil {
		return reflect.Value{}, err
	}
	if v.Type() != s.t {
		v = v.Convert(s.t)
	}
	return v, nil
}

// newKindSerializer serves any type whose kind is a basic boolean, numeric
// or string kind, named or not.
func newKindSerializer(t reflect.Type) *ScalarSerializer {
	s := &ScalarSerializer{t: t}
	switch t.Kind() {
	case reflect.Bool:
		s.write = func(vw bsonrw.ValueWriter, v reflect.Value) error { return vw.WriteBoolean(v.Bool()) }
		s.read = func(vr bsonrw.ValueReader) (reflect.Value, error) {
			if vr.Type() != bsontype.Boolean {
				return reflect.Value{}, formatErrorf(readPrimitiveErrorFmt, t, vr.Type())
			}
			b, err := vr.ReadBoolean()
			return reflect.ValueOf(b), err
		}
	case reflect.Int8, reflect.Int16, reflect.Int32:
		s.write = func(vw bsonrw.ValueWriter, v reflect.Value) error { return vw.WriteInt32(int32(v.Int())) }
		s.read = func(vr bsonrw.ValueReader) (reflect.Value, error) { return readSigned(vr, t) }
	case reflect.Int, reflect.Int64:
		s.write = func(vw bsonrw.ValueWriter, v reflect.Value) error { return vw.WriteInt64(v.Int()) }
		s.read = func(vr bsonrw.ValueReader) (reflect.Value, error) { return readSigned(vr, t) }
	case reflect.Uint8, reflect.Uint16:
		s.write = func(vw bsonrw.ValueWriter, v reflect.Value) error { return vw.WriteInt32(int32(v.Uint())) }
		s.read = func(vr bsonrw.ValueReader) (reflect.Value, error) { return readUnsigned(vr, t) }
	case reflect.Uint32, reflect.Uint, reflect.Uint64:
		s.write = func(vw bsonrw.ValueWriter, v reflect.Value) error {
			u := v.Uint()
			if u > math.MaxInt64 {
				return formatErrorf("%d overflows the BSON Int64 range of %s", u, t)
			}
			return vw.WriteInt64(int64(u))
		}
		s.read = func(vr bsonrw.ValueReader) (reflect.Value, error) { return readUnsigned(vr, t) }
	case reflect.Float32, reflect.Float64:
		s.write = func(vw bsonrw.ValueWriter, v reflect.Value) error { return vw.WriteDouble(v.Float()) }
		s.read = func(vr bsonrw.ValueReader) (reflect.Value, error) { return readFloat(vr, t) }
	case reflect.String:
		s.write = func(vw bsonrw.ValueWriter, v reflect.Value) error { return vw.WriteString(v.String()) }
		s.read = func(vr bsonrw.ValueReader) (reflect.Value, error) {
			switch vr.Type() {
			case bsontype.String:
				str, err := vr.ReadString()
				return reflect.ValueOf(str), err
			case bsontype.Symbol:
				str, err := vr.ReadSymbol()
				return reflect.ValueOf(str), err
			}
			return reflect.Value{}, formatErrorf(readPrimitiveErrorFmt, t, vr.Type())
		}
	default:
		return nil
	}
	return s
}

func readInteger(vr bsonrw.ValueReader, t reflect.Type) (int64, error) {
	switch vr.Type() {
	case bsontype.Int32:
		x, err := vr.ReadInt32()
		return int64(x), err
	case bsontype.Int64:
		return vr.ReadInt64()
	case bsontype.Double:
		f, err := vr.ReadDouble()
		if err != nil {
			return 0, err
		}
		if f != math.Trunc(f) || f < minExactFloatInteger || f > maxExactFloatInteger {
			return 0, formatErrorf("double %v cannot be converted to %s without loss", f, t)
		}
		return int64(f), nil
	}
	return 0, formatErrorf(readPrimitiveErrorFmt, t, vr.Type())
}

func readSigned(vr bsonrw.ValueReader, t reflect.Type) (reflect.Value, error) {
	x, err := readInteger(vr, t)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(t).Elem()
	if out.OverflowInt(x) {
		return reflect.Value{}, formatErrorf("%d overflows %s", x, t)
	}
	out.SetInt(x)
	return out, nil
}

func readUnsigned(vr bsonrw.ValueReader, t reflect.Type) (reflect.Value, error) {
	x, err := readInteger(vr, t)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(t).Elem()
	if x < 0 || out.OverflowUint(uint64(x)) {
		return reflect.Value{}, formatErrorf("%d overflows %s", x, t)
	}
	out.SetUint(uint64(x))
	return out, nil
}

func readFloat(vr bsonrw.ValueReader, t reflect.Type) (reflect.Value, error) {
	var f float64
	switch vr.Type() {
	case bsontype.Double:
		x, err := vr.ReadDouble()
		if err != nil {
			return reflect.Value{}, err
		}
		f = x
	case bsontype.Int32:
		x, err := vr.ReadInt32()
		if err != nil {
			return reflect.Value{}, err
		}
		f = float64(x)
	case bsontype.Int64:
		x, err := vr.ReadInt64()
		if err != nil {
			return reflect.Value{}, err
		}
		f = float64(x)
	default:
		return reflect.Value{}, formatErrorf(readPrimitiveErrorFmt, t, vr.Type())
	}
	out := reflect.New(t).Elem()
	if !math.IsInf(f, 0) && !math.IsNaN(f) && out.OverflowFloat(f) {
		return reflect.Value{}, formatErrorf("%v overflows %s", f, t)
	}
	out.SetFloat(f)
	return out, nil
}

// newBytesSerializer serves slices of uint8 kind, named element types
// included, as generic binary data.
func newBytesSerializer(t reflect.Type) *ScalarSerializer {
	return &ScalarSerializer{
		t: t,
		write: func(vw bsonrw.ValueWriter, v reflect.Value) error {
			if v.IsNil() {
				return vw.WriteNull()
			}
			return vw.WriteBinary(v.Bytes())
		},
		read: func(vr bsonrw.ValueReader) (reflect.Value, error) {
			switch vr.Type() {
			case bsontype.Null:
				return reflect.Zero(t), vr.ReadNull()
			case bsontype.Binary:
				data, subtype, err := vr.ReadBinary()
				if err != nil {
					return reflect.Value{}, err
				}
				if subtype != binarySubtypeGeneric && subtype != binarySubtypeOld {
					return reflect.Value{}, formatErrorf("cannot deserialize %s from binary subtype %d", t, subtype)
				}
				out := reflect.MakeSlice(t, len(data), len(data))
				copy(out.Bytes(), data)
				return out, nil
			}
			return reflect.Value{}, formatErrorf(readPrimitiveErrorFmt, t, vr.Type())
		},
	}
}

func newTimeSerializer() *ScalarSerializer {
	return &ScalarSerializer{
		t: timeType,
		write: func(vw bsonrw.ValueWriter, v reflect.Value) error {
			return vw.WriteDateTime(v.Interface().(time.Time).UnixMilli())
		},
		read: func(vr bsonrw.ValueReader) (reflect.Value, error) {
			switch vr.Type() {
			case bsontype.DateTime:
				ms, err := vr.ReadDateTime()
				return reflect.ValueOf(time.UnixMilli(ms).UTC()), err
			case bsontype.Timestamp:
				sec, _, err := vr.ReadTimestamp()
				return reflect.ValueOf(time.Unix(int64(sec), 0).UTC()), err
			}
			return reflect.Value{}, formatErrorf(readPrimitiveErrorFmt, timeType, vr.Type())
		},
	}
}

func newUUIDSerializer() *ScalarSerializer {
	return &ScalarSerializer{
		t: uuidType,
		write: func(vw bsonrw.ValueWriter, v reflect.Value) error {
			id := v.Interface().(uuid.UUID)
			return vw.WriteBinaryWithSubtype(id[:], binarySubtypeUUID)
		},
		read: func(vr bsonrw.ValueReader) (reflect.Value, error) {
			switch vr.Type() {
			case bsontype.Binary:
				data, subtype, err := vr.ReadBinary()
				if err != nil {
					return reflect.Value{}, err
				}
				if subtype != binarySubtypeUUID && subtype != binarySubtypeUUIDOld {
					return reflect.Value{}, formatErrorf("cannot deserialize a uuid from binary subtype %d", subtype)
				}
				id, err := uuid.FromBytes(data)
				if err != nil {
					return reflect.Value{}, formatErrorf("invalid uuid: %v", err)
				}
				return reflect.ValueOf(id), nil
			case bsontype.String:
				s, err := vr.ReadString()
				if err != nil {
					return reflect.Value{}, err
				}
				id, err := uuid.Parse(s)
				if err != nil {
					return reflect.Value{}, formatErrorf("invalid uuid %q: %v", s, err)
				}
				return reflect.ValueOf(id), nil
			}
			return reflect.Value{}, formatErrorf(readPrimitiveErrorFmt, uuidType, vr.Type())
		},
	}
}

func newObjectIDSerializer() *ScalarSerializer {
	return &ScalarSerializer{
		t: objectIDType,
		write: func(vw bsonrw.ValueWriter, v reflect.Value) error {
			return vw.WriteObjectID(v.Interface().(primitive.ObjectID))
		},
		read: func(vr bsonrw.ValueReader) (reflect.Value, error) {
			switch vr.Type() {
			case bsontype.ObjectID:
				oid, err := vr.ReadObjectID()
				return reflect.ValueOf(oid), err
			case bsontype.String:
				s, err := vr.ReadString()
				if err != nil {
					return reflect.Value{}, err
				}
				oid, err := primitive.ObjectIDFromHex(s)
				if err != nil {
					return reflect.Value{}, formatErrorf("invalid object id %q: %v", s, err)
				}
				return reflect.ValueOf(oid), nil
			}
			return reflect.Value{}, formatErrorf(readPrimitiveErrorFmt, objectIDType, vr.Type())
		},
	}
}

func newDecimal128Serializer() *ScalarSerializer {
	return &ScalarSerializer{
		t: decimal128Type,
		write: func(vw bsonrw.ValueWriter, v reflect.Value) error {
			return vw.WriteDecimal128(v.Interface().(primitive.Decimal128))
		},
		read: func(vr bsonrw.ValueReader) (reflect.Value, error) {
			if vr.Type() != bsontype.Decimal128 {
				return reflect.Value{}, formatErrorf(readPrimitiveErrorFmt, decimal128Type, vr.Type())
			}
			d, err := vr.ReadDecimal128()
			return reflect.ValueOf(d), err
		},
	}
}
