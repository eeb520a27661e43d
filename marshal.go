package bsonmap

import (
	"bytes"
	"reflect"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// Marshal serializes v, which must serialize as a document, to BSON bytes.
// The id member, when there is one, is written first.
func (d *Domain) Marshal(v any) ([]byte, error) {
	if v == nil {
		return nil, configurationErrorf("cannot marshal nil")
	}
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return d.marshal(t, v)
}

func (d *Domain) marshal(nominal reflect.Type, v any) ([]byte, error) {
	var buf bytes.Buffer
	vw, err := bsonrw.NewBSONValueWriter(&buf)
	if err != nil {
		return nil, err
	}
	if err := d.Serialize(vw, nominal, v, nil, SerializationArgs{SerializeIDFirst: true}); err != nil {
		return nil, errors.Wrapf(err, "marshaling %s", nominal)
	}
	return buf.Bytes(), nil
}

// Unmarshal deserializes a BSON document into out, which must be a non-nil
// pointer.
func (d *Domain) Unmarshal(data []byte, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return configurationErrorf("Unmarshal needs a non-nil pointer, not %T", out)
	}
	target := rv.Elem()
	v, err := d.deserializeValue(bsonrw.NewBSONDocumentReader(data), target.Type(), nil)
	if err != nil {
		return errors.Wrapf(err, "unmarshaling %s", target.Type())
	}
	return assignValue(target, v)
}

// MarshalAs serializes v with T as the nominal type, so a value of a derived
// type carries its discriminator.
func MarshalAs[T any](d *Domain, v T) ([]byte, error) {
	return d.marshal(reflect.TypeFor[T](), v)
}

// UnmarshalAs deserializes a BSON document as a T.
func UnmarshalAs[T any](d *Domain, data []byte) (T, error) {
	return DeserializeValue[T](d, bsonrw.NewBSONDocumentReader(data), nil)
}

// Marshal serializes v with the default domain.
func Marshal(v any) ([]byte, error) {
	return DefaultDomain().Marshal(v)
}

// Unmarshal deserializes data into out with the default domain.
func Unmarshal(data []byte, out any) error {
	return DefaultDomain().Unmarshal(data, out)
}
