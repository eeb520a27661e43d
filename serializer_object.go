package bsonmap

import (
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// wrappedValueElement holds the value of a {_t, _v} wrapper document.
const wrappedValueElement = "_v"

var (
	dynamicDocumentType = reflect.TypeFor[primitive.D]()
	dynamicArrayType    = reflect.TypeFor[primitive.A]()
	dynamicMapType      = reflect.TypeFor[primitive.M]()
)

// naturalTypes are written under any without a type wrapper because reading
// their BSON form back as any yields the same type.
var naturalTypes = map[reflect.Type]bool{
	reflect.TypeFor[float64]():                 true,
	reflect.TypeFor[string]():                  true,
	reflect.TypeFor[bool]():                    true,
	reflect.TypeFor[int32]():                   true,
	reflect.TypeFor[int64]():                   true,
	timeType:                                   true,
	objectIDType:                               true,
	decimal128Type:                             true,
	bytesType:                                  true,
	uuidType:                                   true,
	dynamicDocumentType:                        true,
	dynamicArrayType:                           true,
	dynamicMapType:                             true,
	reflect.TypeFor[primitive.Binary]():        true,
	reflect.TypeFor[primitive.Regex]():         true,
	reflect.TypeFor[primitive.Timestamp]():     true,
	reflect.TypeFor[primitive.JavaScript]():    true,
	reflect.TypeFor[primitive.Symbol]():        true,
	reflect.TypeFor[primitive.CodeWithScope](): true,
	reflect.TypeFor[primitive.DBPointer]():     true,
	reflect.TypeFor[primitive.MinKey]():        true,
	reflect.TypeFor[primitive.MaxKey]():        true,
	reflect.TypeFor[primitive.Undefined]():     true,
}

// builtinNamedTypes are resolvable by type name in every domain.
var builtinNamedTypes = []reflect.Type{
	reflect.TypeFor[int](),
	reflect.TypeFor[int8](),
	reflect.TypeFor[int16](),
	reflect.TypeFor[uint](),
	reflect.TypeFor[uint8](),
	reflect.TypeFor[uint16](),
	reflect.TypeFor[uint32](),
	reflect.TypeFor[uint64](),
	reflect.TypeFor[float32](),
	durationType,
	reflect.TypeFor[map[string]any](),
	reflect.TypeFor[[]any](),
	reflect.TypeFor[[]string](),
	reflect.TypeFor[[]int](),
	reflect.TypeFor[[]float64](),
	reflect.TypeFor[List](),
	reflect.TypeFor[Hashtable](),
	reflect.TypeFor[HashSet](),
}

// ObjectSerializer serves the any type. Natural values are written as is,
// classes with their discriminator, and everything else wrapped in a
// {_t: type name, _v: value} document.
type ObjectSerializer struct{}

func (s *ObjectSerializer) ValueType() reflect.Type { return anyType }

func (s *ObjectSerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if isNilValue(v) {
		return ctx.Writer().WriteNull()
	}
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	return serializeDiscriminatedValue(ctx, anyType, v)
}

// serializeDiscriminatedValue writes v so that reading it back through
// nominal recovers its type.
func serializeDiscriminatedValue(ctx *SerializationContext, nominal reflect.Type, v reflect.Value) error {
	d := ctx.Domain()
	t := v.Type()
	ser, err := d.LookupSerializer(t)
	if err != nil {
		return err
	}
	if nominal == anyType && (naturalTypes[t] || ctx.IsDynamicType(t)) {
		return ser.Serialize(ctx, SerializationArgs{NominalType: t}, v)
	}
	if ps, ok := ser.(PolymorphicSerializer); ok && ps.IsDiscriminatorCompatibleWithObjectSerializer() {
		return ser.Serialize(ctx, SerializationArgs{NominalType: nominal}, v)
	}

	d.recordTypeName(t)
	conv := d.LookupDiscriminatorConvention(nominal)
	dw, err := ctx.Writer().WriteDocument()
	if err != nil {
		return err
	}
	vw, err := dw.WriteDocumentElement(conv.ElementName())
	if err != nil {
		return err
	}
	if err := vw.WriteString(typeName(t)); err != nil {
		return err
	}
	vw, err = dw.WriteDocumentElement(wrappedValueElement)
	if err != nil {
		return err
	}
	if err := ser.Serialize(ctx.withWriter(vw), SerializationArgs{NominalType: t}, v); err != nil {
		return errors.Wrapf(err, "serializing wrapped %s", t)
	}
	return dw.WriteDocumentEnd()
}

func (s *ObjectSerializer) Deserialize(ctx *DeserializationContext, args DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	switch currentType(vr) {
	case bsontype.Null:
		return reflect.Zero(anyType), vr.ReadNull()
	case bsontype.EmbeddedDocument:
		return deserializeDiscriminatedDocument(ctx, nominalOr(args.NominalType, anyType))
	case bsontype.Array:
		return ctx.DynamicArraySerializer().Deserialize(ctx, DeserializationArgs{NominalType: dynamicArrayType})
	case bsontype.Double:
		f, err := vr.ReadDouble()
		return reflect.ValueOf(f), err
	case bsontype.String:
		str, err := vr.ReadString()
		return reflect.ValueOf(str), err
	case bsontype.Boolean:
		b, err := vr.ReadBoolean()
		return reflect.ValueOf(b), err
	case bsontype.Int32:
		x, err := vr.ReadInt32()
		return reflect.ValueOf(x), err
	case bsontype.Int64:
		x, err := vr.ReadInt64()
		return reflect.ValueOf(x), err
	case bsontype.DateTime:
		ms, err := vr.ReadDateTime()
		return reflect.ValueOf(time.UnixMilli(ms).UTC()), err
	case bsontype.ObjectID:
		oid, err := vr.ReadObjectID()
		return reflect.ValueOf(oid), err
	case bsontype.Decimal128:
		dec, err := vr.ReadDecimal128()
		return reflect.ValueOf(dec), err
	case bsontype.Binary:
		data, subtype, err := vr.ReadBinary()
		if err != nil {
			return reflect.Value{}, err
		}
		data = append([]byte(nil), data...)
		switch {
		case subtype == binarySubtypeGeneric || subtype == binarySubtypeOld:
			return reflect.ValueOf(data), nil
		case subtype == binarySubtypeUUID && len(data) == 16:
			return reflect.ValueOf(uuid.UUID(data)), nil
		}
		return reflect.ValueOf(primitive.Binary{Subtype: subtype, Data: data}), nil
	}
	out := reflect.New(anyType).Elem()
	dec, err := bson.DefaultRegistry.LookupDecoder(anyType)
	if err != nil {
		return reflect.Value{}, err
	}
	if err := dec.DecodeValue(bsoncodec.DecodeContext{Registry: bson.DefaultRegistry}, vr, out); err != nil {
		return reflect.Value{}, formatErrorf("decoding %s as any: %v", vr.Type(), err)
	}
	return out, nil
}

// deserializeDiscriminatedDocument reads a document whose nominal type is any
// or an interface: a type wrapper, a discriminated class, or for any a
// plain dynamic document.
func deserializeDiscriminatedDocument(ctx *DeserializationContext, nominal reflect.Type) (reflect.Value, error) {
	d := ctx.Domain()
	if err := d.EnsureKnownTypesAreRegistered(nominal); err != nil {
		return reflect.Value{}, err
	}
	raw, err := bsonrw.Copier{}.CopyDocumentToBytes(ctx.Reader())
	if err != nil {
		return reflect.Value{}, err
	}
	doc := bsoncore.Document(raw)
	rawCtx := ctx.withReader(bsonrw.NewBSONDocumentReader(raw))
	conv := d.LookupDiscriminatorConvention(nominal)

	if name, ok := wrappedTypeName(doc, conv.ElementName()); ok {
		t, err := d.resolveWrappedType(nominal, name)
		if err != nil {
			return reflect.Value{}, err
		}
		return deserializeWrappedValue(rawCtx, t)
	}
	if _, err := doc.LookupErr(conv.ElementName()); err == nil {
		actual, err := conv.GetActualType(d, nominal, doc)
		if err != nil {
			return reflect.Value{}, err
		}
		ser, err := d.LookupSerializer(actual)
		if err != nil {
			return reflect.Value{}, err
		}
		if cs, ok := ser.(*ClassMapSerializer); ok {
			return cs.deserializeClass(rawCtx)
		}
		return ser.Deserialize(rawCtx, DeserializationArgs{NominalType: actual})
	}
	if nominal != anyType {
		return reflect.Value{}, formatErrorf("unable to determine actual type of object to deserialize for interface type %s", nominal)
	}
	return rawCtx.DynamicDocumentSerializer().Deserialize(rawCtx, DeserializationArgs{NominalType: dynamicDocumentType})
}

// wrappedTypeName recognizes a document of exactly the discriminator element
// and the value element.
func wrappedTypeName(doc bsoncore.Document, elementName string) (string, bool) {
	elems, err := doc.Elements()
	if err != nil || len(elems) != 2 {
		return "", false
	}
	if elems[0].Key() != elementName || elems[1].Key() != wrappedValueElement {
		return "", false
	}
	name, ok := elems[0].Value().StringValueOK()
	return name, ok
}

func (d *Domain) resolveWrappedType(nominal reflect.Type, name string) (reflect.Type, error) {
	if t, ok := d.typeByName(name); ok && isAssignableTo(t, nominal) {
		return t, nil
	}
	return d.LookupActualType(nominal, ScalarDiscriminator(name))
}

func deserializeWrappedValue(ctx *DeserializationContext, t reflect.Type) (reflect.Value, error) {
	ser, err := ctx.Domain().LookupSerializer(t)
	if err != nil {
		return reflect.Value{}, err
	}
	dr, err := ctx.Reader().ReadDocument()
	if err != nil {
		return reflect.Value{}, err
	}
	var out reflect.Value
	for {
		name, evr, err := dr.ReadElement()
		if errors.Is(err, bsonrw.ErrEOD) {
			break
		}
		if err != nil {
			return reflect.Value{}, err
		}
		if name != wrappedValueElement {
			if err := evr.Skip(); err != nil {
				return reflect.Value{}, err
			}
			continue
		}
		out, err = ser.Deserialize(ctx.withReader(evr), DeserializationArgs{NominalType: t})
		if err != nil {
			return reflect.Value{}, errors.Wrapf(err, "deserializing wrapped %s", t)
		}
	}
	return out, nil
}

func interfaceOf(v reflect.Value) any {
	if !v.IsValid() || (v.Kind() == reflect.Interface && v.IsNil()) {
		return nil
	}
	return v.Interface()
}

// DynamicDocumentSerializer serves bson.D, reading every value as any.
type DynamicDocumentSerializer struct{}

func (s *DynamicDocumentSerializer) ValueType() reflect.Type { return dynamicDocumentType }

func (s *DynamicDocumentSerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if isNilValue(v) {
		return ctx.Writer().WriteNull()
	}
	doc := v.Convert(dynamicDocumentType).Interface().(primitive.D)
	dw, err := ctx.Writer().WriteDocument()
	if err != nil {
		return err
	}
	object := ctx.Domain().object
	for i := range doc {
		vw, err := dw.WriteDocumentElement(doc[i].Key)
		if err != nil {
			return err
		}
		if err := object.Serialize(ctx.withWriter(vw), SerializationArgs{NominalType: anyType}, reflect.ValueOf(&doc[i].Value).Elem()); err != nil {
			return errors.Wrapf(err, "serializing element %s", doc[i].Key)
		}
	}
	return dw.WriteDocumentEnd()
}

func (s *DynamicDocumentSerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	if vr.Type() == bsontype.Null {
		return reflect.Zero(dynamicDocumentType), vr.ReadNull()
	}
	dr, err := vr.ReadDocument()
	if err != nil {
		return reflect.Value{}, err
	}
	object := ctx.Domain().object
	out := primitive.D{}
	seen := make(map[string]bool)
	for {
		name, evr, err := dr.ReadElement()
		if errors.Is(err, bsonrw.ErrEOD) {
			break
		}
		if err != nil {
			return reflect.Value{}, err
		}
		if seen[name] && !ctx.AllowDuplicateElementNames() {
			return reflect.Value{}, formatErrorf("duplicate element name '%s'", name)
		}
		seen[name] = true
		v, err := object.Deserialize(ctx.withReader(evr), DeserializationArgs{NominalType: anyType})
		if err != nil {
			return reflect.Value{}, errors.Wrapf(err, "deserializing element %s", name)
		}
		out = append(out, primitive.E{Key: name, Value: interfaceOf(v)})
	}
	return reflect.ValueOf(out), nil
}

// DynamicMapSerializer serves bson.M. Keys are written in sorted order.
type DynamicMapSerializer struct{}

func (s *DynamicMapSerializer) ValueType() reflect.Type { return dynamicMapType }

func (s *DynamicMapSerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if isNilValue(v) {
		return ctx.Writer().WriteNull()
	}
	keys := v.MapKeys()
	sortValues(keys)
	dw, err := ctx.Writer().WriteDocument()
	if err != nil {
		return err
	}
	object := ctx.Domain().object
	for _, k := range keys {
		vw, err := dw.WriteDocumentElement(k.String())
		if err != nil {
			return err
		}
		if err := object.Serialize(ctx.withWriter(vw), SerializationArgs{NominalType: anyType}, v.MapIndex(k)); err != nil {
			return errors.Wrapf(err, "serializing element %s", k.String())
		}
	}
	return dw.WriteDocumentEnd()
}

func (s *DynamicMapSerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	if vr.Type() == bsontype.Null {
		return reflect.Zero(dynamicMapType), vr.ReadNull()
	}
	dr, err := vr.ReadDocument()
	if err != nil {
		return reflect.Value{}, err
	}
	object := ctx.Domain().object
	out := primitive.M{}
	for {
		name, evr, err := dr.ReadElement()
		if errors.Is(err, bsonrw.ErrEOD) {
			break
		}
		if err != nil {
			return reflect.Value{}, err
		}
		if _, dup := out[name]; dup && !ctx.AllowDuplicateElementNames() {
			return reflect.Value{}, formatErrorf("duplicate element name '%s'", name)
		}
		v, err := object.Deserialize(ctx.withReader(evr), DeserializationArgs{NominalType: anyType})
		if err != nil {
			return reflect.Value{}, errors.Wrapf(err, "deserializing element %s", name)
		}
		out[name] = interfaceOf(v)
	}
	return reflect.ValueOf(out), nil
}

// DynamicArraySerializer serves bson.A, reading every value as any.
type DynamicArraySerializer struct{}

func (s *DynamicArraySerializer) ValueType() reflect.Type { return dynamicArrayType }

func (s *DynamicArraySerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if isNilValue(v) {
		return ctx.Writer().WriteNull()
	}
	aw, err := ctx.Writer().WriteArray()
	if err != nil {
		return err
	}
	object := ctx.Domain().object
	for i := 0; i < v.Len(); i++ {
		vw, err := aw.WriteArrayElement()
		if err != nil {
			return err
		}
		if err := object.Serialize(ctx.withWriter(vw), SerializationArgs{NominalType: anyType}, v.Index(i)); err != nil {
			return errors.Wrapf(err, "serializing element %d", i)
		}
	}
	return aw.WriteArrayEnd()
}

func (s *DynamicArraySerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	if vr.Type() == bsontype.Null {
		return reflect.Zero(dynamicArrayType), vr.ReadNull()
	}
	ar, err := vr.ReadArray()
	if err != nil {
		return reflect.Value{}, err
	}
	object := ctx.Domain().object
	out := primitive.A{}
	for i := 0; ; i++ {
		evr, err := ar.ReadValue()
		if errors.Is(err, bsonrw.ErrEOA) {
			break
		}
		if err != nil {
			return reflect.Value{}, err
		}
		v, err := object.Deserialize(ctx.withReader(evr), DeserializationArgs{NominalType: anyType})
		if err != nil {
			return reflect.Value{}, errors.Wrapf(err, "deserializing element %d", i)
		}
		out = append(out, interfaceOf(v))
	}
	return reflect.ValueOf(out), nil
}
