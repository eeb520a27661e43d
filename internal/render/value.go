package render

import (
	"encoding/hex"
	"reflect"
	"slices"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Type names the BSON-level kind of a decoded value.
type Type string

const (
	TypeNil      Type = "null"
	TypeString   Type = "string"
	TypeInt      Type = "int"
	TypeFloat    Type = "double"
	TypeBool     Type = "bool"
	TypeArray    Type = "array"
	TypeDocument Type = "document"
	TypeBinary   Type = "binary"
	TypeDateTime Type = "date"
	TypeObjectID Type = "objectId"
	TypeOther    Type = "other"
)

// TypeOf classifies a value produced by dynamic BSON decoding.
func TypeOf(v any) Type {
	switch v.(type) {
	case nil:
		return TypeNil
	case string:
		return TypeString
	case int32, int64:
		return TypeInt
	case float64:
		return TypeFloat
	case bool:
		return TypeBool
	case primitive.A, []any:
		return TypeArray
	case primitive.D, primitive.M, map[string]any:
		return TypeDocument
	case []byte, primitive.Binary, uuid.UUID:
		return TypeBinary
	case time.Time, primitive.DateTime:
		return TypeDateTime
	case primitive.ObjectID:
		return TypeObjectID
	}
	return TypeOther
}

// Document is an ordered document that keeps its element order when
// rendered.
type Document []Element

// Element is one key and value of a Document.
type Element struct {
	Key   string
	Value any
}

func (d Document) MarshalJSON() ([]byte, error) {
	stream := jsonAPI.BorrowStream(nil)
	defer jsonAPI.ReturnStream(stream)
	stream.WriteObjectStart()
	for i, e := range d {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(e.Key)
		stream.WriteVal(e.Value)
	}
	stream.WriteObjectEnd()
	if stream.Error != nil {
		return nil, stream.Error
	}
	return slices.Clone(stream.Buffer()), nil
}

var _ msgpack.CustomEncoder = Document(nil)

func (d Document) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(len(d)); err != nil {
		return err
	}
	for _, e := range d {
		if err := enc.EncodeString(e.Key); err != nil {
			return err
		}
		if err := enc.Encode(e.Value); err != nil {
			return err
		}
	}
	return nil
}

var jsonAPI = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
}.Froze()

// Normalize rewrites a dynamically decoded BSON value into plain values both
// renderers agree on: ordered documents, arrays, strings for identifiers and
// decimals, hex for opaque binary.
func Normalize(v any) any {
	switch x := v.(type) {
	case primitive.D:
		out := make(Document, len(x))
		for i, e := range x {
			out[i] = Element{Key: e.Key, Value: Normalize(e.Value)}
		}
		return out
	case primitive.M:
		return normalizeMap(x)
	case map[string]any:
		return normalizeMap(x)
	case primitive.A:
		return normalizeSlice(x)
	case []any:
		return normalizeSlice(x)
	case primitive.ObjectID:
		return x.Hex()
	case primitive.Decimal128:
		return x.String()
	case uuid.UUID:
		return x.String()
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Binary:
		return Document{{Key: "subtype", Value: int(x.Subtype)}, {Key: "data", Value: hex.EncodeToString(x.Data)}}
	case []byte:
		return hex.EncodeToString(x)
	case nil:
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func normalizeMap(m map[string]any) Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make(Document, len(keys))
	for i, k := range keys {
		out[i] = Element{Key: k, Value: Normalize(m[k])}
	}
	return out
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = Normalize(v)
	}
	return out
}
