package bsonmap

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// DefaultDiscriminatorElementName is the element discriminators are written
// to unless a convention says otherwise.
const DefaultDiscriminatorElementName = "_t"

// Discriminator is the type tag written next to a document: a single scalar,
// or an array of scalars naming a class and its ancestors below a root class.
type Discriminator struct {
	values  []any
	isArray bool
}

// ScalarDiscriminator returns a discriminator holding one value.
func ScalarDiscriminator(v any) Discriminator {
	return Discriminator{values: []any{normalizeDiscriminatorValue(v)}}
}

// ArrayDiscriminator returns a discriminator holding values, root first.
func ArrayDiscriminator(values ...any) Discriminator {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = normalizeDiscriminatorValue(v)
	}
	return Discriminator{values: out, isArray: true}
}

// IsZero reports whether no discriminator was present.
func (d Discriminator) IsZero() bool { return len(d.values) == 0 && !d.isArray }

// IsArray reports whether the discriminator was written as an array.
func (d Discriminator) IsArray() bool { return d.isArray }

// Values returns the discriminator values, root first for arrays.
func (d Discriminator) Values() []any { return d.values }

// Last returns the most derived value.
func (d Discriminator) Last() any {
	if len(d.values) == 0 {
		return nil
	}
	return d.values[len(d.values)-1]
}

func (d Discriminator) String() string {
	if !d.isArray {
		return fmt.Sprint(d.Last())
	}
	parts := make([]string, len(d.values))
	for i, v := range d.values {
		parts[i] = fmt.Sprint(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (d Discriminator) write(vw bsonrw.ValueWriter) error {
	if !d.isArray {
		return writeDiscriminatorValue(vw, d.Last())
	}
	aw, err := vw.WriteArray()
	if err != nil {
		return err
	}
	for _, v := range d.values {
		evw, err := aw.WriteArrayElement()
		if err != nil {
			return err
		}
		if err := writeDiscriminatorValue(evw, v); err != nil {
			return err
		}
	}
	return aw.WriteArrayEnd()
}

// normalizeDiscriminatorValue maps Go scalars to the type they are read back
// as, so registered values and decoded values compare equal.
func normalizeDiscriminatorValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int32(x)
	case int16:
		return int32(x)
	case uint8:
		return int32(x)
	case uint16:
		return int32(x)
	case uint32:
		return int64(x)
	case uint:
		if uint64(x) <= math.MaxInt64 {
			return int64(x)
		}
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
	case float32:
		return float64(x)
	case fmt.Stringer:
		return x.String()
	}
	return v
}

// checkDiscriminatorValue normalizes v and rejects values that have no BSON
// scalar form.
func checkDiscriminatorValue(v any) (any, error) {
	n := normalizeDiscriminatorValue(v)
	switch n.(type) {
	case string, int32, int64, float64, bool:
		return n, nil
	}
	return nil, configurationErrorf("discriminator value %v of type %T is not a BSON scalar", v, v)
}

func writeDiscriminatorValue(vw bsonrw.ValueWriter, v any) error {
	switch x := v.(type) {
	case string:
		return vw.WriteString(x)
	case int32:
		return vw.WriteInt32(x)
	case int64:
		return vw.WriteInt64(x)
	case float64:
		return vw.WriteDouble(x)
	case bool:
		return vw.WriteBoolean(x)
	}
	return configurationErrorf("discriminator value %v of type %T is not a BSON scalar", v, v)
}

func discriminatorValueFromBSON(v bsoncore.Value) (any, error) {
	switch v.Type {
	case bsontype.String:
		return v.StringValue(), nil
	case bsontype.Symbol:
		return v.Symbol(), nil
	case bsontype.Int32:
		return v.Int32(), nil
	case bsontype.Int64:
		return v.Int64(), nil
	case bsontype.Double:
		return v.Double(), nil
	case bsontype.Boolean:
		return v.Boolean(), nil
	}
	return nil, formatErrorf("a discriminator cannot be of BSON type %s", v.Type)
}

// discriminatorFromBSON reads the discriminator element of a raw document.
func discriminatorFromBSON(v bsoncore.Value) (Discriminator, error) {
	if v.Type != bsontype.Array {
		x, err := discriminatorValueFromBSON(v)
		if err != nil {
			return Discriminator{}, err
		}
		return Discriminator{values: []any{x}}, nil
	}
	values, err := v.Array().Values()
	if err != nil {
		return Discriminator{}, formatErrorf("reading discriminator array: %v", err)
	}
	out := Discriminator{isArray: true, values: make([]any, 0, len(values))}
	for _, ev := range values {
		x, err := discriminatorValueFromBSON(ev)
		if err != nil {
			return Discriminator{}, err
		}
		out.values = append(out.values, x)
	}
	return out, nil
}

// DiscriminatorConvention decides which element carries the discriminator,
// what is written there, and how it is mapped back to a type.
type DiscriminatorConvention interface {
	ElementName() string
	// GetActualType inspects doc without consuming any reader and returns
	// the concrete type to deserialize when nominal is expected.
	GetActualType(d *Domain, nominal reflect.Type, doc bsoncore.Document) (reflect.Type, error)
	// GetDiscriminator returns the discriminator written for actual when
	// nominal is the declared type.
	GetDiscriminator(d *Domain, nominal, actual reflect.Type) (Discriminator, error)
}

// lookupActualTypeInDocument reads elementName from doc and resolves it. A
// document without the element is of the nominal type.
func lookupActualTypeInDocument(d *Domain, elementName string, nominal reflect.Type, doc bsoncore.Document) (reflect.Type, error) {
	if err := d.EnsureKnownTypesAreRegistered(nominal); err != nil {
		return nil, err
	}
	v, err := doc.LookupErr(elementName)
	if errors.Is(err, bsoncore.ErrElementNotFound) {
		return nominal, nil
	}
	if err != nil {
		return nil, formatErrorf("reading discriminator element %q: %v", elementName, err)
	}
	disc, err := discriminatorFromBSON(v)
	if err != nil {
		return nil, err
	}
	return d.LookupActualType(nominal, disc)
}

// ScalarDiscriminatorConvention always writes the discriminator of the
// actual class as a single value.
type ScalarDiscriminatorConvention struct {
	elementName string
}

// NewScalarDiscriminatorConvention writes to elementName.
func NewScalarDiscriminatorConvention(elementName string) *ScalarDiscriminatorConvention {
	return &ScalarDiscriminatorConvention{elementName: elementName}
}

// ElementName returns the element the discriminator is stored in.
func (c *ScalarDiscriminatorConvention) ElementName() string { return c.elementName }

func (c *ScalarDiscriminatorConvention) GetActualType(d *Domain, nominal reflect.Type, doc bsoncore.Document) (reflect.Type, error) {
	return lookupActualTypeInDocument(d, c.elementName, nominal, doc)
}

func (c *ScalarDiscriminatorConvention) GetDiscriminator(d *Domain, _, actual reflect.Type) (Discriminator, error) {
	if actual.Kind() != reflect.Struct {
		return ScalarDiscriminator(typeName(actual)), nil
	}
	cm, err := d.LookupClassMap(actual)
	if err != nil {
		return Discriminator{}, err
	}
	return ScalarDiscriminator(cm.Discriminator()), nil
}

// HierarchicalDiscriminatorConvention writes a scalar discriminator, except
// for classes below a root class, which get the array of discriminators from
// the root down to the actual class.
type HierarchicalDiscriminatorConvention struct {
	elementName string
}

// NewHierarchicalDiscriminatorConvention writes to elementName.
func NewHierarchicalDiscriminatorConvention(elementName string) *HierarchicalDiscriminatorConvention {
	return &HierarchicalDiscriminatorConvention{elementName: elementName}
}

// ElementName returns the element the discriminator is stored in.
func (c *HierarchicalDiscriminatorConvention) ElementName() string { return c.elementName }

func (c *HierarchicalDiscriminatorConvention) GetActualType(d *Domain, nominal reflect.Type, doc bsoncore.Document) (reflect.Type, error) {
	return lookupActualTypeInDocument(d, c.elementName, nominal, doc)
}

func (c *HierarchicalDiscriminatorConvention) GetDiscriminator(d *Domain, _, actual reflect.Type) (Discriminator, error) {
	if actual.Kind() != reflect.Struct {
		return ScalarDiscriminator(typeName(actual)), nil
	}
	cm, err := d.LookupClassMap(actual)
	if err != nil {
		return Discriminator{}, err
	}
	if !cm.HasRootClass() || cm.IsRootClass() {
		return ScalarDiscriminator(cm.Discriminator()), nil
	}
	var values []any
	for m := cm; m != nil; m = m.BaseClassMap() {
		values = append(values, m.Discriminator())
		if m.IsRootClass() {
			break
		}
	}
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
	return ArrayDiscriminator(values...), nil
}

// ObjectDiscriminatorConvention is registered for the any type and inherited
// by every class hierarchy that does not register its own convention. It
// behaves like HierarchicalDiscriminatorConvention.
type ObjectDiscriminatorConvention struct {
	HierarchicalDiscriminatorConvention
}

// NewObjectDiscriminatorConvention writes to elementName.
func NewObjectDiscriminatorConvention(elementName string) *ObjectDiscriminatorConvention {
	return &ObjectDiscriminatorConvention{HierarchicalDiscriminatorConvention{elementName: elementName}}
}
