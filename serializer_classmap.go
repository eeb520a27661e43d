package bsonmap

import (
	"reflect"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// ClassMapSerializer serializes a struct according to its class map.
type ClassMapSerializer struct {
	cm *ClassMap
}

// NewClassMapSerializer serializes values of the class cm describes.
func NewClassMapSerializer(cm *ClassMap) *ClassMapSerializer {
	return &ClassMapSerializer{cm: cm}
}

// ClassMap returns the class map the serializer follows.
func (s *ClassMapSerializer) ClassMap() *ClassMap { return s.cm }

func (s *ClassMapSerializer) ValueType() reflect.Type { return s.cm.classType }

func (s *ClassMapSerializer) IsDiscriminatorCompatibleWithObjectSerializer() bool { return true }

func (s *ClassMapSerializer) Serialize(ctx *SerializationContext, args SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if v.IsValid() && v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v = reflect.Value{}
		} else {
			v = v.Elem()
		}
	}
	if !v.IsValid() {
		return ctx.Writer().WriteNull()
	}
	if v.Type() != s.cm.classType && !args.SerializeAsNominalType {
		actual, err := ctx.Domain().LookupSerializer(v.Type())
		if err != nil {
			return err
		}
		if args.NominalType == nil {
			args.NominalType = s.cm.classType
		}
		return actual.Serialize(ctx, args, v)
	}
	return s.serializeClass(ctx, args, v)
}

func (s *ClassMapSerializer) shouldSerializeDiscriminator(nominal reflect.Type) bool {
	return nominal != s.cm.classType || s.cm.discriminatorIsRequired || s.cm.hasRootClass
}

func (s *ClassMapSerializer) serializeClass(ctx *SerializationContext, args SerializationArgs, v reflect.Value) error {
	cm := s.cm
	nominal := nominalOr(args.NominalType, cm.classType)
	dw, err := ctx.Writer().WriteDocument()
	if err != nil {
		return err
	}

	if args.SerializeIDFirst && cm.idIndex >= 0 {
		if err := s.serializeMember(ctx, dw, v, cm.allMembers[cm.idIndex]); err != nil {
			return err
		}
	}
	if s.shouldSerializeDiscriminator(nominal) {
		d := ctx.Domain()
		conv := d.LookupDiscriminatorConvention(cm.classType)
		disc, err := conv.GetDiscriminator(d, nominal, cm.classType)
		if err != nil {
			return err
		}
		if !disc.IsZero() {
			vw, err := dw.WriteDocumentElement(conv.ElementName())
			if err != nil {
				return err
			}
			if err := disc.write(vw); err != nil {
				return err
			}
		}
	}
	for i, bm := range cm.allMembers {
		if args.SerializeIDFirst && i == cm.idIndex {
			continue
		}
		if i == cm.extraIndex {
			if err := s.serializeExtraElements(ctx, dw, v, bm); err != nil {
				return err
			}
			continue
		}
		if err := s.serializeMember(ctx, dw, v, bm); err != nil {
			return err
		}
	}
	return dw.WriteDocumentEnd()
}

func (s *ClassMapSerializer) serializeMember(ctx *SerializationContext, dw bsonrw.DocumentWriter, v reflect.Value, bm boundMember) error {
	fv, ok := fieldByIndex(v, bm.index, false)
	if !ok || !bm.mm.ShouldSerialize(fv) {
		return nil
	}
	ms, err := bm.mm.GetSerializer()
	if err != nil {
		return err
	}
	vw, err := dw.WriteDocumentElement(bm.mm.elementName)
	if err != nil {
		return err
	}
	if err := ms.Serialize(ctx.withWriter(vw), SerializationArgs{NominalType: bm.mm.MemberType()}, fv); err != nil {
		return errors.Wrapf(err, "serializing field %s of class %s", bm.mm.MemberName(), s.cm.classType)
	}
	return nil
}

func (s *ClassMapSerializer) serializeExtraElements(ctx *SerializationContext, dw bsonrw.DocumentWriter, v reflect.Value, bm boundMember) error {
	fv, ok := fieldByIndex(v, bm.index, false)
	if !ok || fv.IsNil() {
		return nil
	}
	keys := fv.MapKeys()
	sortValues(keys)
	object := ctx.Domain().object
	for _, k := range keys {
		name := k.String()
		if _, taken := s.cm.elementIndex[name]; taken {
			return configurationErrorf("extra element '%s' of class %s collides with a mapped member", name, s.cm.classType)
		}
		vw, err := dw.WriteDocumentElement(name)
		if err != nil {
			return err
		}
		if err := object.Serialize(ctx.withWriter(vw), SerializationArgs{NominalType: anyType}, fv.MapIndex(k)); err != nil {
			return errors.Wrapf(err, "serializing extra element %s of class %s", name, s.cm.classType)
		}
	}
	return nil
}

func (s *ClassMapSerializer) Deserialize(ctx *DeserializationContext, args DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	if vr.Type() == bsontype.Null {
		return reflect.Zero(s.cm.classType), vr.ReadNull()
	}
	if t := currentType(vr); t != bsontype.EmbeddedDocument {
		return reflect.Value{}, formatErrorf("expected a nested document representing the serialized form of a %s value, but found a value of type %s instead", s.cm.classType, t)
	}
	d := ctx.Domain()
	nominal := nominalOr(args.NominalType, s.cm.classType)
	if err := d.EnsureKnownTypesAreRegistered(nominal); err != nil {
		return reflect.Value{}, err
	}
	if !d.IsTypeDiscriminated(nominal) {
		return s.deserializeClass(ctx)
	}

	raw, err := bsonrw.Copier{}.CopyDocumentToBytes(vr)
	if err != nil {
		return reflect.Value{}, err
	}
	conv := d.LookupDiscriminatorConvention(nominal)
	actual, err := conv.GetActualType(d, nominal, raw)
	if err != nil {
		return reflect.Value{}, err
	}
	rawCtx := ctx.withReader(bsonrw.NewBSONDocumentReader(raw))
	if actual == s.cm.classType {
		return s.deserializeClass(rawCtx)
	}
	if !isAssignableTo(actual, nominal) {
		return reflect.Value{}, formatErrorf("discriminated type %s is not assignable to %s", actual, nominal)
	}
	as, err := d.LookupSerializer(actual)
	if err != nil {
		return reflect.Value{}, err
	}
	if cs, ok := as.(*ClassMapSerializer); ok {
		return cs.deserializeClass(rawCtx)
	}
	return as.Deserialize(rawCtx, DeserializationArgs{NominalType: actual})
}

// deserializeClass reads a document into a new instance of exactly the
// mapped class.
func (s *ClassMapSerializer) deserializeClass(ctx *DeserializationContext) (reflect.Value, error) {
	cm := s.cm
	vr := ctx.Reader()
	if t := currentType(vr); t != bsontype.EmbeddedDocument {
		return reflect.Value{}, formatErrorf("expected a nested document representing the serialized form of a %s value, but found a value of type %s instead", cm.classType, t)
	}
	obj, err := cm.CreateInstance()
	if err != nil {
		return reflect.Value{}, err
	}
	dr, err := vr.ReadDocument()
	if err != nil {
		return reflect.Value{}, err
	}
	conv := ctx.Domain().LookupDiscriminatorConvention(cm.classType)
	found := make([]bool, len(cm.allMembers))
	for {
		name, evr, err := dr.ReadElement()
		if errors.Is(err, bsonrw.ErrEOD) {
			break
		}
		if err != nil {
			return reflect.Value{}, err
		}
		if i, ok := cm.elementIndex[name]; ok {
			if err := s.deserializeMember(ctx.withReader(evr), obj, cm.allMembers[i]); err != nil {
				return reflect.Value{}, err
			}
			found[i] = true
			continue
		}
		switch {
		case name == conv.ElementName():
			err = evr.Skip()
		case cm.extraIndex >= 0:
			err = s.deserializeExtraElement(ctx.withReader(evr), obj, name)
		case cm.ignoreExtraElements:
			err = evr.Skip()
		default:
			err = formatErrorf("element '%s' does not match any field or property of class %s", name, cm.classType)
		}
		if err != nil {
			return reflect.Value{}, err
		}
	}

	for i, bm := range cm.allMembers {
		if found[i] || i == cm.extraIndex {
			continue
		}
		if bm.mm.isRequired {
			return reflect.Value{}, formatErrorf("required element '%s' for field '%s' of class %s is missing", bm.mm.elementName, bm.mm.MemberName(), cm.classType)
		}
		if bm.mm.defaultValue.IsValid() {
			fv, _ := fieldByIndex(obj, bm.index, true)
			fv.Set(bm.mm.defaultValue)
		}
	}
	return obj, nil
}

func (s *ClassMapSerializer) deserializeMember(ctx *DeserializationContext, obj reflect.Value, bm boundMember) error {
	ms, err := bm.mm.GetSerializer()
	if err != nil {
		return err
	}
	v, err := ms.Deserialize(ctx, DeserializationArgs{NominalType: bm.mm.MemberType()})
	if err != nil {
		return errors.Wrapf(err, "an error occurred while deserializing the %s field of class %s", bm.mm.MemberName(), s.cm.classType)
	}
	fv, _ := fieldByIndex(obj, bm.index, true)
	if err := assignValue(fv, v); err != nil {
		return errors.Wrapf(err, "an error occurred while deserializing the %s field of class %s", bm.mm.MemberName(), s.cm.classType)
	}
	return nil
}

func (s *ClassMapSerializer) deserializeExtraElement(ctx *DeserializationContext, obj reflect.Value, name string) error {
	bm := s.cm.allMembers[s.cm.extraIndex]
	fv, _ := fieldByIndex(obj, bm.index, true)
	v, err := ctx.Domain().object.Deserialize(ctx, DeserializationArgs{NominalType: anyType})
	if err != nil {
		return errors.Wrapf(err, "an error occurred while deserializing extra element %s of class %s", name, s.cm.classType)
	}
	if fv.IsNil() {
		fv.Set(reflect.MakeMap(fv.Type()))
	}
	if !v.IsValid() {
		v = reflect.Zero(fv.Type().Elem())
	}
	fv.SetMapIndex(reflect.ValueOf(name).Convert(fv.Type().Key()), v)
	return nil
}
