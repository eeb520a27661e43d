package bsonmap

import (
	"reflect"
	"slices"
	"strconv"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// DictionaryRepresentation selects how dictionary entries are laid out.
type DictionaryRepresentation int

const (
	// DictionaryDocument writes one element per entry; keys must be strings.
	DictionaryDocument DictionaryRepresentation = iota
	// DictionaryArrayOfArrays writes [[key, value], ...].
	DictionaryArrayOfArrays
	// DictionaryArrayOfDocuments writes [{k: key, v: value}, ...].
	DictionaryArrayOfDocuments
)

func (r DictionaryRepresentation) String() string {
	switch r {
	case DictionaryDocument:
		return "Document"
	case DictionaryArrayOfArrays:
		return "ArrayOfArrays"
	case DictionaryArrayOfDocuments:
		return "ArrayOfDocuments"
	}
	return "DictionaryRepresentation(" + strconv.Itoa(int(r)) + ")"
}

const (
	keyElementName   = "k"
	valueElementName = "v"
)

func defaultDictionaryRepresentation(key reflect.Type) DictionaryRepresentation {
	if key.Kind() == reflect.String {
		return DictionaryDocument
	}
	return DictionaryArrayOfArrays
}

// iterate calls fn with the values an iterator function yields, stopping at
// the first error.
func iterate(seq reflect.Value, fn func(args []reflect.Value) error) error {
	var err error
	yield := reflect.MakeFunc(seq.Type().In(0), func(args []reflect.Value) []reflect.Value {
		err = fn(args)
		return []reflect.Value{reflect.ValueOf(err == nil)}
	})
	seq.Call([]reflect.Value{yield})
	return err
}

// methodValue binds the method name to v, going through a copy of v when
// only its address has the method.
func methodValue(v reflect.Value, name string) reflect.Value {
	if m := v.MethodByName(name); m.IsValid() {
		return m
	}
	if v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p.MethodByName(name)
	}
	return reflect.Value{}
}

// callAdapted calls m after adapting each argument to its parameter type.
func callAdapted(m reflect.Value, args ...reflect.Value) error {
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.New(m.Type().In(i)).Elem()
		if err := assignValue(in[i], a); err != nil {
			return err
		}
	}
	m.Call(in)
	return nil
}

// newInstance allocates the implementation of a collection type.
func newInstance(impl reflect.Type) reflect.Value {
	if impl.Kind() == reflect.Pointer {
		return reflect.New(impl.Elem())
	}
	return reflect.New(impl)
}

// instanceResult turns a freshly built instance into a value of type t.
func instanceResult(t reflect.Type, p reflect.Value) reflect.Value {
	if t.Kind() == reflect.Interface {
		out := reflect.New(t).Elem()
		out.Set(p)
		return out
	}
	return p.Elem()
}

// DictionarySerializer serves maps and dictionary-shaped types.
type DictionarySerializer struct {
	t         reflect.Type
	impl      reflect.Type
	keyType   reflect.Type
	valueType reflect.Type
	rep       DictionaryRepresentation
	keys      *lazySerializer
	values    *lazySerializer
}

// NewDictionarySerializer serves the dictionary type t with an explicit
// representation.
func NewDictionarySerializer(d *Domain, t reflect.Type, rep DictionaryRepresentation) (*DictionarySerializer, error) {
	shape, ok := inferCollectionShape(t)
	if !ok || (shape.kind != genericDictionaryKind && shape.kind != dictionaryKind) {
		return nil, configurationErrorf("%s is not a dictionary type", t)
	}
	return newDictionarySerializer(d, t, shape, rep)
}

func newDictionarySerializer(d *Domain, t reflect.Type, shape collectionShape, rep DictionaryRepresentation) (*DictionarySerializer, error) {
	if rep == DictionaryDocument && shape.key.Kind() != reflect.String && shape.key != anyType {
		return nil, configurationErrorf("the document representation requires string keys, but %s has keys of type %s", t, shape.key)
	}
	return &DictionarySerializer{
		t:         t,
		impl:      shape.impl,
		keyType:   shape.key,
		valueType: shape.elem,
		rep:       rep,
		keys:      newLazySerializer(d, shape.key),
		values:    newLazySerializer(d, shape.elem),
	}, nil
}

func (s *DictionarySerializer) ValueType() reflect.Type { return s.t }

// Representation returns the layout used when writing.
func (s *DictionarySerializer) Representation() DictionaryRepresentation { return s.rep }

type dictionaryEntry struct {
	key, value reflect.Value
}

// entries lists v's entries; map keys are sorted.
func (s *DictionarySerializer) entries(v reflect.Value) ([]dictionaryEntry, error) {
	var out []dictionaryEntry
	if v.Kind() == reflect.Map {
		keys := v.MapKeys()
		sortValues(keys)
		for _, k := range keys {
			out = append(out, dictionaryEntry{key: k, value: v.MapIndex(k)})
		}
		return out, nil
	}
	all := methodValue(v, "All")
	if !all.IsValid() {
		return nil, configurationErrorf("%s has no All method", v.Type())
	}
	err := iterate(all.Call(nil)[0], func(args []reflect.Value) error {
		out = append(out, dictionaryEntry{key: args[0], value: args[1]})
		return nil
	})
	return out, err
}

func (s *DictionarySerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if isNilValue(v) {
		return ctx.Writer().WriteNull()
	}
	entries, err := s.entries(v)
	if err != nil {
		return err
	}
	ks, err := s.keys.get()
	if err != nil {
		return err
	}
	vs, err := s.values.get()
	if err != nil {
		return err
	}
	keyArgs := SerializationArgs{NominalType: s.keyType}
	valueArgs := SerializationArgs{NominalType: s.valueType}

	if s.rep == DictionaryDocument {
		dw, err := ctx.Writer().WriteDocument()
		if err != nil {
			return err
		}
		for _, e := range entries {
			k := unwrapInterface(e.key)
			if !k.IsValid() || k.Kind() != reflect.String {
				return formatErrorf("when using the document representation, keys of %s must be strings", s.t)
			}
			vw, err := dw.WriteDocumentElement(k.String())
			if err != nil {
				return err
			}
			if err := vs.Serialize(ctx.withWriter(vw), valueArgs, e.value); err != nil {
				return errors.Wrapf(err, "serializing entry %s", k.String())
			}
		}
		return dw.WriteDocumentEnd()
	}

	aw, err := ctx.Writer().WriteArray()
	if err != nil {
		return err
	}
	for _, e := range entries {
		evw, err := aw.WriteArrayElement()
		if err != nil {
			return err
		}
		if s.rep == DictionaryArrayOfArrays {
			pair, err := evw.WriteArray()
			if err != nil {
				return err
			}
			kw, err := pair.WriteArrayElement()
			if err != nil {
				return err
			}
			if err := ks.Serialize(ctx.withWriter(kw), keyArgs, e.key); err != nil {
				return err
			}
			vw, err := pair.WriteArrayElement()
			if err != nil {
				return err
			}
			if err := vs.Serialize(ctx.withWriter(vw), valueArgs, e.value); err != nil {
				return err
			}
			if err := pair.WriteArrayEnd(); err != nil {
				return err
			}
			continue
		}
		pair, err := evw.WriteDocument()
		if err != nil {
			return err
		}
		kw, err := pair.WriteDocumentElement(keyElementName)
		if err != nil {
			return err
		}
		if err := ks.Serialize(ctx.withWriter(kw), keyArgs, e.key); err != nil {
			return err
		}
		vw, err := pair.WriteDocumentElement(valueElementName)
		if err != nil {
			return err
		}
		if err := vs.Serialize(ctx.withWriter(vw), valueArgs, e.value); err != nil {
			return err
		}
		if err := pair.WriteDocumentEnd(); err != nil {
			return err
		}
	}
	return aw.WriteArrayEnd()
}

// dictionaryBuilder collects decoded entries into a new dictionary.
type dictionaryBuilder struct {
	s   *DictionarySerializer
	m   reflect.Value
	p   reflect.Value
	set reflect.Value
}

func (s *DictionarySerializer) newBuilder() *dictionaryBuilder {
	b := &dictionaryBuilder{s: s}
	if s.t.Kind() == reflect.Map {
		b.m = reflect.MakeMap(s.t)
		return b
	}
	b.p = newInstance(s.impl)
	b.set = b.p.MethodByName("Set")
	return b
}

func (b *dictionaryBuilder) put(k, v reflect.Value) error {
	if b.m.IsValid() {
		key := reflect.New(b.s.keyType).Elem()
		if err := assignValue(key, k); err != nil {
			return err
		}
		value := reflect.New(b.s.valueType).Elem()
		if err := assignValue(value, v); err != nil {
			return err
		}
		b.m.SetMapIndex(key, value)
		return nil
	}
	return callAdapted(b.set, k, v)
}

func (b *dictionaryBuilder) result() reflect.Value {
	if b.m.IsValid() {
		return b.m
	}
	return instanceResult(b.s.t, b.p)
}

// Deserialize accepts every representation regardless of the configured one.
func (s *DictionarySerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	if vr.Type() == bsontype.Null {
		return reflect.Zero(s.t), vr.ReadNull()
	}
	ks, err := s.keys.get()
	if err != nil {
		return reflect.Value{}, err
	}
	vs, err := s.values.get()
	if err != nil {
		return reflect.Value{}, err
	}
	b := s.newBuilder()
	keyArgs := DeserializationArgs{NominalType: s.keyType}
	valueArgs := DeserializationArgs{NominalType: s.valueType}

	switch t := currentType(vr); t {
	case bsontype.EmbeddedDocument:
		dr, err := vr.ReadDocument()
		if err != nil {
			return reflect.Value{}, err
		}
		for {
			name, evr, err := dr.ReadElement()
			if errors.Is(err, bsonrw.ErrEOD) {
				break
			}
			if err != nil {
				return reflect.Value{}, err
			}
			key := reflect.ValueOf(name)
			if s.keyType.Kind() == reflect.String {
				key = key.Convert(s.keyType)
			}
			v, err := vs.Deserialize(ctx.withReader(evr), valueArgs)
			if err != nil {
				return reflect.Value{}, errors.Wrapf(err, "deserializing entry %s", name)
			}
			if err := b.put(key, v); err != nil {
				return reflect.Value{}, err
			}
		}
	case bsontype.Array:
		ar, err := vr.ReadArray()
		if err != nil {
			return reflect.Value{}, err
		}
		for {
			evr, err := ar.ReadValue()
			if errors.Is(err, bsonrw.ErrEOA) {
				break
			}
			if err != nil {
				return reflect.Value{}, err
			}
			k, v, err := s.readEntry(ctx.withReader(evr), ks, vs, keyArgs, valueArgs)
			if err != nil {
				return reflect.Value{}, err
			}
			if err := b.put(k, v); err != nil {
				return reflect.Value{}, err
			}
		}
	default:
		return reflect.Value{}, formatErrorf("cannot deserialize %s from BSON type %s", s.t, t)
	}
	return b.result(), nil
}

// readEntry reads one [key, value] array or {k, v} document.
func (s *DictionarySerializer) readEntry(ctx *DeserializationContext, ks, vs Serializer, keyArgs, valueArgs DeserializationArgs) (reflect.Value, reflect.Value, error) {
	var k, v reflect.Value
	vr := ctx.Reader()
	switch t := vr.Type(); t {
	case bsontype.Array:
		ar, err := vr.ReadArray()
		if err != nil {
			return k, v, err
		}
		kvr, err := ar.ReadValue()
		if err != nil {
			return k, v, formatErrorf("dictionary entry of %s is missing its key: %v", s.t, err)
		}
		if k, err = ks.Deserialize(ctx.withReader(kvr), keyArgs); err != nil {
			return k, v, err
		}
		vvr, err := ar.ReadValue()
		if err != nil {
			return k, v, formatErrorf("dictionary entry of %s is missing its value: %v", s.t, err)
		}
		if v, err = vs.Deserialize(ctx.withReader(vvr), valueArgs); err != nil {
			return k, v, err
		}
		if _, err := ar.ReadValue(); !errors.Is(err, bsonrw.ErrEOA) {
			return k, v, formatErrorf("dictionary entry of %s has more than two values", s.t)
		}
	case bsontype.EmbeddedDocument:
		dr, err := vr.ReadDocument()
		if err != nil {
			return k, v, err
		}
		for {
			name, evr, err := dr.ReadElement()
			if errors.Is(err, bsonrw.ErrEOD) {
				break
			}
			if err != nil {
				return k, v, err
			}
			switch name {
			case keyElementName:
				k, err = ks.Deserialize(ctx.withReader(evr), keyArgs)
			case valueElementName:
				v, err = vs.Deserialize(ctx.withReader(evr), valueArgs)
			default:
				err = formatErrorf("unexpected element '%s' in dictionary entry of %s", name, s.t)
			}
			if err != nil {
				return k, v, err
			}
		}
		if !k.IsValid() {
			return k, v, formatErrorf("dictionary entry of %s is missing its key", s.t)
		}
	default:
		return k, v, formatErrorf("expected an array or document for a dictionary entry of %s, but found %s", s.t, t)
	}
	return k, v, nil
}

// SetSerializer serves sets as BSON arrays.
type SetSerializer struct {
	t        reflect.Type
	impl     reflect.Type
	elemType reflect.Type
	elem     *lazySerializer
}

func newSetSerializer(d *Domain, t reflect.Type, shape collectionShape) *SetSerializer {
	return &SetSerializer{t: t, impl: shape.impl, elemType: shape.elem, elem: newLazySerializer(d, shape.elem)}
}

func (s *SetSerializer) ValueType() reflect.Type { return s.t }

func (s *SetSerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if isNilValue(v) {
		return ctx.Writer().WriteNull()
	}
	var items []reflect.Value
	if v.Kind() == reflect.Map {
		items = v.MapKeys()
		sortValues(items)
	} else if err := iterate(methodValue(v, "Values").Call(nil)[0], func(args []reflect.Value) error {
		items = append(items, args[0])
		return nil
	}); err != nil {
		return err
	}
	return writeArray(ctx, s.elem, s.elemType, items)
}

func (s *SetSerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	if vr.Type() == bsontype.Null {
		return reflect.Zero(s.t), vr.ReadNull()
	}
	items, err := readArray(ctx, s.elem, s.elemType, s.t)
	if err != nil {
		return reflect.Value{}, err
	}
	if s.t.Kind() == reflect.Map {
		m := reflect.MakeMapWithSize(s.t, len(items))
		for _, it := range items {
			key := reflect.New(s.t.Key()).Elem()
			if err := assignValue(key, it); err != nil {
				return reflect.Value{}, err
			}
			m.SetMapIndex(key, reflect.Zero(s.t.Elem()))
		}
		return m, nil
	}
	p := newInstance(s.impl)
	add := p.MethodByName("Add")
	for _, it := range items {
		if err := callAdapted(add, it); err != nil {
			return reflect.Value{}, err
		}
	}
	return instanceResult(s.t, p), nil
}

// EnumerableSerializer serves slices and sequence-shaped types as BSON
// arrays. Types other than slices are rebuilt through their add method.
type EnumerableSerializer struct {
	t        reflect.Type
	impl     reflect.Type
	elemType reflect.Type
	elem     *lazySerializer
	add      string
	// reverse re-adds the read items back to front.
	reverse bool
}

func newEnumerableSerializer(d *Domain, t reflect.Type, shape collectionShape, add string, reverse bool) *EnumerableSerializer {
	return &EnumerableSerializer{
		t:        t,
		impl:     shape.impl,
		elemType: shape.elem,
		elem:     newLazySerializer(d, shape.elem),
		add:      add,
		reverse:  reverse,
	}
}

func (s *EnumerableSerializer) ValueType() reflect.Type { return s.t }

func (s *EnumerableSerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if isNilValue(v) {
		return ctx.Writer().WriteNull()
	}
	var items []reflect.Value
	if v.Kind() == reflect.Slice {
		items = make([]reflect.Value, v.Len())
		for i := range items {
			items[i] = v.Index(i)
		}
	} else {
		values := methodValue(v, "Values")
		if !values.IsValid() {
			return configurationErrorf("%s has no Values method", v.Type())
		}
		if err := iterate(values.Call(nil)[0], func(args []reflect.Value) error {
			items = append(items, args[0])
			return nil
		}); err != nil {
			return err
		}
	}
	return writeArray(ctx, s.elem, s.elemType, items)
}

func (s *EnumerableSerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	if vr.Type() == bsontype.Null {
		return reflect.Zero(s.t), vr.ReadNull()
	}
	items, err := readArray(ctx, s.elem, s.elemType, s.t)
	if err != nil {
		return reflect.Value{}, err
	}
	if s.t.Kind() == reflect.Slice {
		out := reflect.MakeSlice(s.t, len(items), len(items))
		for i, it := range items {
			if err := assignValue(out.Index(i), it); err != nil {
				return reflect.Value{}, err
			}
		}
		return out, nil
	}
	if s.reverse {
		slices.Reverse(items)
	}
	p := newInstance(s.impl)
	add := p.MethodByName(s.add)
	if !add.IsValid() {
		return reflect.Value{}, configurationErrorf("%s has no %s method", p.Type(), s.add)
	}
	for _, it := range items {
		if err := callAdapted(add, it); err != nil {
			return reflect.Value{}, err
		}
	}
	return instanceResult(s.t, p), nil
}

// ReadOnlyCollectionSerializer serves ReadOnlyCollection and structs
// embedding it.
type ReadOnlyCollectionSerializer struct {
	t        reflect.Type
	elemType reflect.Type
	elem     *lazySerializer
}

func newReadOnlyCollectionSerializer(d *Domain, t reflect.Type, shape collectionShape) *ReadOnlyCollectionSerializer {
	return &ReadOnlyCollectionSerializer{t: t, elemType: shape.elem, elem: newLazySerializer(d, shape.elem)}
}

func (s *ReadOnlyCollectionSerializer) ValueType() reflect.Type { return s.t }

func (s *ReadOnlyCollectionSerializer) Serialize(ctx *SerializationContext, _ SerializationArgs, v reflect.Value) error {
	v = unwrapInterface(v)
	if !v.IsValid() {
		return ctx.Writer().WriteNull()
	}
	p := reflect.New(s.t)
	p.Elem().Set(v)
	slice := p.Interface().(readOnlyCollection).itemsValue()
	items := make([]reflect.Value, slice.Len())
	for i := range items {
		items[i] = slice.Index(i)
	}
	return writeArray(ctx, s.elem, s.elemType, items)
}

func (s *ReadOnlyCollectionSerializer) Deserialize(ctx *DeserializationContext, _ DeserializationArgs) (reflect.Value, error) {
	vr := ctx.Reader()
	if vr.Type() == bsontype.Null {
		return reflect.Zero(s.t), vr.ReadNull()
	}
	items, err := readArray(ctx, s.elem, s.elemType, s.t)
	if err != nil {
		return reflect.Value{}, err
	}
	slice := reflect.MakeSlice(reflect.SliceOf(s.elemType), len(items), len(items))
	for i, it := range items {
		if err := assignValue(slice.Index(i), it); err != nil {
			return reflect.Value{}, err
		}
	}
	p := reflect.New(s.t)
	p.Interface().(readOnlyCollection).setItems(slice)
	return p.Elem(), nil
}

func writeArray(ctx *SerializationContext, elem *lazySerializer, elemType reflect.Type, items []reflect.Value) error {
	es, err := elem.get()
	if err != nil {
		return err
	}
	aw, err := ctx.Writer().WriteArray()
	if err != nil {
		return err
	}
	args := SerializationArgs{NominalType: elemType}
	for i, it := range items {
		vw, err := aw.WriteArrayElement()
		if err != nil {
			return err
		}
		if err := es.Serialize(ctx.withWriter(vw), args, it); err != nil {
			return errors.Wrapf(err, "serializing item %d", i)
		}
	}
	return aw.WriteArrayEnd()
}

func readArray(ctx *DeserializationContext, elem *lazySerializer, elemType, collection reflect.Type) ([]reflect.Value, error) {
	vr := ctx.Reader()
	if t := currentType(vr); t != bsontype.Array {
		return nil, formatErrorf("cannot deserialize %s from BSON type %s", collection, t)
	}
	es, err := elem.get()
	if err != nil {
		return nil, err
	}
	ar, err := vr.ReadArray()
	if err != nil {
		return nil, err
	}
	args := DeserializationArgs{NominalType: elemType}
	var items []reflect.Value
	for i := 0; ; i++ {
		evr, err := ar.ReadValue()
		if errors.Is(err, bsonrw.ErrEOA) {
			break
		}
		if err != nil {
			return nil, err
		}
		v, err := es.Deserialize(ctx.withReader(evr), args)
		if err != nil {
			return nil, errors.Wrapf(err, "deserializing item %d", i)
		}
		items = append(items, v)
	}
	return items, nil
}
