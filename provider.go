package bsonmap

import (
	"reflect"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SerializationProvider creates serializers on demand. GetSerializer returns
// (nil, nil) when the provider does not handle t.
type SerializationProvider interface {
	GetSerializer(d *Domain, t reflect.Type) (Serializer, error)
}

// SerializationProviderFunc adapts a function to SerializationProvider.
type SerializationProviderFunc func(d *Domain, t reflect.Type) (Serializer, error)

func (f SerializationProviderFunc) GetSerializer(d *Domain, t reflect.Type) (Serializer, error) {
	return f(d, t)
}

// GenericDefinition identifies a generic type independent of its type
// arguments.
type GenericDefinition struct {
	PkgPath string
	Name    string
}

func (g GenericDefinition) String() string {
	if g.PkgPath == "" {
		return g.Name
	}
	return g.PkgPath + "." + g.Name
}

// GenericDefinitionOf returns the definition t instantiates, if t is an
// instantiated generic type.
func GenericDefinitionOf(t reflect.Type) (GenericDefinition, bool) {
	name := t.Name()
	i := strings.IndexByte(name, '[')
	if i <= 0 {
		return GenericDefinition{}, false
	}
	return GenericDefinition{PkgPath: t.PkgPath(), Name: name[:i]}, true
}

// GenericDefinitionFor returns the definition of T, which must be some
// instantiation of it: GenericDefinitionFor[Queue[int]]() names Queue.
func GenericDefinitionFor[T any]() GenericDefinition {
	def, _ := GenericDefinitionOf(reflect.TypeFor[T]())
	return def
}

// typeArgumentsOf asks an instantiated generic type for its type arguments.
func typeArgumentsOf(t reflect.Type) ([]reflect.Type, bool) {
	if p, ok := reflect.New(t).Interface().(TypeArgumentsProvider); ok {
		return p.TypeArguments(), true
	}
	return nil, false
}

// GenericSerializerFactory builds a serializer for one instantiation of a
// generic definition.
type GenericSerializerFactory func(d *Domain, t reflect.Type, typeArgs []reflect.Type) (Serializer, error)

// TypeMappingProvider maps exact types and generic definitions to serializer
// factories registered at runtime.
type TypeMappingProvider struct {
	mu       sync.RWMutex
	exact    map[reflect.Type]func(d *Domain, t reflect.Type) (Serializer, error)
	generics map[GenericDefinition]GenericSerializerFactory
}

// NewTypeMappingProvider returns a provider with no mappings.
func NewTypeMappingProvider() *TypeMappingProvider {
	return &TypeMappingProvider{
		exact:    make(map[reflect.Type]func(d *Domain, t reflect.Type) (Serializer, error)),
		generics: make(map[GenericDefinition]GenericSerializerFactory),
	}
}

// RegisterMapping maps t to a serializer factory.
func (p *TypeMappingProvider) RegisterMapping(t reflect.Type, factory func(d *Domain, t reflect.Type) (Serializer, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.exact[t]; ok {
		return configurationErrorf("there is already a serializer mapping registered for type %s", t)
	}
	p.exact[t] = factory
	return nil
}

// RegisterGenericSerializerDefinition maps every instantiation of def to
// factory.
func (p *TypeMappingProvider) RegisterGenericSerializerDefinition(def GenericDefinition, factory GenericSerializerFactory) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.generics[def]; ok {
		return configurationErrorf("there is already a serializer mapping registered for generic type %s", def)
	}
	p.generics[def] = factory
	return nil
}

func (p *TypeMappingProvider) GetSerializer(d *Domain, t reflect.Type) (Serializer, error) {
	p.mu.RLock()
	factory, ok := p.exact[t]
	var generic GenericSerializerFactory
	if !ok {
		if def, isGeneric := GenericDefinitionOf(t); isGeneric {
			generic = p.generics[def]
		}
	}
	p.mu.RUnlock()

	if factory != nil {
		return factory(d, t)
	}
	if generic == nil {
		return nil, nil
	}
	args, ok := typeArgumentsOf(t)
	if !ok {
		return nil, resolutionErrorf("generic type %s does not report its type arguments", t)
	}
	return generic(d, t, args)
}

// lazySerializer resolves a serializer on first use so recursive types do
// not recurse during construction.
type lazySerializer struct {
	d    *Domain
	t    reflect.Type
	once sync.Once
	s    Serializer
	err  error
}

func newLazySerializer(d *Domain, t reflect.Type) *lazySerializer {
	return &lazySerializer{d: d, t: t}
}

func (l *lazySerializer) get() (Serializer, error) {
	l.once.Do(func() {
		l.s, l.err = l.d.LookupSerializer(l.t)
	})
	return l.s, l.err
}

// objectModelProvider serves the driver's own object model: dynamic
// documents and arrays, the any type and the primitive wrapper types.
type objectModelProvider struct{}

var driverCodecTypes = map[reflect.Type]bool{
	reflect.TypeFor[primitive.Binary]():        true,
	reflect.TypeFor[primitive.Regex]():         true,
	reflect.TypeFor[primitive.Timestamp]():     true,
	reflect.TypeFor[primitive.DateTime]():      true,
	reflect.TypeFor[primitive.JavaScript]():    true,
	reflect.TypeFor[primitive.Symbol]():        true,
	reflect.TypeFor[primitive.CodeWithScope](): true,
	reflect.TypeFor[primitive.DBPointer]():     true,
	reflect.TypeFor[primitive.MinKey]():        true,
	reflect.TypeFor[primitive.MaxKey]():        true,
	reflect.TypeFor[primitive.Undefined]():     true,
	reflect.TypeFor[primitive.Null]():          true,
	reflect.TypeFor[bson.Raw]():                true,
	reflect.TypeFor[bson.RawValue]():           true,
}

func (objectModelProvider) GetSerializer(d *Domain, t reflect.Type) (Serializer, error) {
	switch t {
	case anyType:
		return d.object, nil
	case dynamicDocumentType:
		return &DynamicDocumentSerializer{}, nil
	case dynamicArrayType:
		return &DynamicArraySerializer{}, nil
	case dynamicMapType:
		return &DynamicMapSerializer{}, nil
	}
	if driverCodecTypes[t] {
		return &driverCodecSerializer{t: t}, nil
	}
	return nil, nil
}

// attributedProvider serves types that declare their own serializer, and
// types implementing the driver's value marshaler pair.
type attributedProvider struct{}

var (
	valueMarshalerType   = reflect.TypeFor[bsoncodec.ValueMarshaler]()
	valueUnmarshalerType = reflect.TypeFor[bsoncodec.ValueUnmarshaler]()
)

func (attributedProvider) GetSerializer(d *Domain, t reflect.Type) (Serializer, error) {
	if t.Kind() == reflect.Interface || t.Kind() == reflect.Pointer {
		return nil, nil
	}
	if decl, ok := reflect.New(t).Interface().(SerializerDeclarer); ok {
		s := decl.BsonSerializer()
		if s != nil && s.ValueType() == t {
			return s, nil
		}
		if s != nil {
			d.log.WithFields(logrus.Fields{
				"type":     t.String(),
				"declared": s.ValueType().String(),
			}).Debug("ignoring declared serializer for another type")
		}
	}
	if reflect.PointerTo(t).Implements(valueMarshalerType) && reflect.PointerTo(t).Implements(valueUnmarshalerType) {
		return &valueMarshalerSerializer{t: t}, nil
	}
	return nil, nil
}

// discriminatedInterfaceProvider serves interface types not claimed by an
// earlier provider.
type discriminatedInterfaceProvider struct{}

func (discriminatedInterfaceProvider) GetSerializer(d *Domain, t reflect.Type) (Serializer, error) {
	if t.Kind() != reflect.Interface || t == anyType {
		return nil, nil
	}
	s, err := NewDiscriminatedInterfaceSerializer(t)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// classMapProvider serves every struct through its class map.
type classMapProvider struct{}

func (classMapProvider) GetSerializer(d *Domain, t reflect.Type) (Serializer, error) {
	if t.Kind() != reflect.Struct {
		return nil, nil
	}
	cm, err := d.LookupClassMap(t)
	if err != nil {
		return nil, err
	}
	return NewClassMapSerializer(cm), nil
}
