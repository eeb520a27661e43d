package bsonmap

import (
	"io"
	"reflect"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// Domain is an isolated serialization configuration: its own serializer
// registry, class maps, discriminator tables, conventions and id
// generators. A Domain is safe for concurrent use.
type Domain struct {
	name      string
	log       logrus.FieldLogger
	metricSet *metrics.Set

	lookupHits     *metrics.Counter
	lookupMisses   *metrics.Counter
	created        *metrics.Counter
	installRaces   *metrics.Counter
	classMapFrozen *metrics.Counter

	// mu guards every table below. Nothing that may call back into the
	// domain runs while it is held.
	mu                 sync.RWMutex
	defaults           Defaults
	classMaps          map[reflect.Type]*ClassMap
	typesByName        map[string]reflect.Type
	idGenerators       map[reflect.Type]IDGenerator
	conventions        map[reflect.Type]DiscriminatorConvention
	discriminators     map[any]mapset.Set[reflect.Type]
	discriminatedTypes mapset.Set[reflect.Type]
	declaredKnownTypes map[reflect.Type][]reflect.Type

	knownTypes *xsync.MapOf[reflect.Type, *knownTypesState]

	registry     *SerializerRegistry
	typeMappings *TypeMappingProvider
	object       *ObjectSerializer
}

var defaultDomain = sync.OnceValue(func() *Domain {
	return NewDomain(WithName("default"))
})

// DefaultDomain returns the process-wide domain used by the package level
// helpers.
func DefaultDomain() *Domain {
	return defaultDomain()
}

// NewDomain creates a domain with the built-in providers and conventions.
func NewDomain(opts ...Option) *Domain {
	d := &Domain{
		name:               "bsonmap",
		classMaps:          make(map[reflect.Type]*ClassMap),
		typesByName:        make(map[string]reflect.Type),
		idGenerators:       make(map[reflect.Type]IDGenerator),
		conventions:        make(map[reflect.Type]DiscriminatorConvention),
		discriminators:     make(map[any]mapset.Set[reflect.Type]),
		discriminatedTypes: mapset.NewThreadUnsafeSet[reflect.Type](),
		declaredKnownTypes: make(map[reflect.Type][]reflect.Type),
		knownTypes:         xsync.NewMapOf[reflect.Type, *knownTypesState](),
	}
	d.log = logrus.StandardLogger().WithField("component", "bsonmap")
	d.object = &ObjectSerializer{}
	d.defaults = Defaults{
		DynamicArraySerializer:    &DynamicArraySerializer{},
		DynamicDocumentSerializer: &DynamicDocumentSerializer{},
		DiscriminatorElementName:  DefaultDiscriminatorElementName,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.WithField("domain", d.name)
	d.conventions[anyType] = NewObjectDiscriminatorConvention(d.defaults.DiscriminatorElementName)
	if d.metricSet == nil {
		d.metricSet = metrics.NewSet()
	}
	d.lookupHits = d.metricSet.GetOrCreateCounter(`bsonmap_serializer_lookups_total{result="hit"}`)
	d.lookupMisses = d.metricSet.GetOrCreateCounter(`bsonmap_serializer_lookups_total{result="miss"}`)
	d.created = d.metricSet.GetOrCreateCounter(`bsonmap_serializers_created_total`)
	d.installRaces = d.metricSet.GetOrCreateCounter(`bsonmap_install_races_total`)
	d.classMapFrozen = d.metricSet.GetOrCreateCounter(`bsonmap_class_maps_frozen_total`)

	d.typeMappings = NewTypeMappingProvider()
	d.registry = newSerializerRegistry(d)
	d.registry.providers = []SerializationProvider{
		objectModelProvider{},
		d.typeMappings,
		attributedProvider{},
		primitiveProvider{},
		collectionsProvider{},
		discriminatedInterfaceProvider{},
		classMapProvider{},
	}
	for _, t := range builtinNamedTypes {
		d.typesByName[typeName(t)] = t
	}
	return d
}

// Name returns the name given with WithName. Log entries carry it as domain.
func (d *Domain) Name() string { return d.name }

// Logger returns the logger resolution events are written to.
func (d *Domain) Logger() logrus.FieldLogger { return d.log }

// Registry returns the serializer registry of the domain.
func (d *Domain) Registry() *SerializerRegistry { return d.registry }

// TypeMappings returns the provider that maps generic type definitions to
// serializer factories.
func (d *Domain) TypeMappings() *TypeMappingProvider { return d.typeMappings }

// Defaults returns a copy of the current defaults.
func (d *Domain) Defaults() Defaults {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.defaults
}

// UpdateDefaults changes the defaults. Contexts built afterwards see the
// change; existing contexts do not.
func (d *Domain) UpdateDefaults(update func(*Defaults)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	update(&d.defaults)
}

// WriteMetrics writes the domain counters in Prometheus text format.
func (d *Domain) WriteMetrics(w io.Writer) {
	d.metricSet.WritePrometheus(w)
}

// LookupSerializer returns the serializer for t, creating and caching it on
// first use.
func (d *Domain) LookupSerializer(t reflect.Type) (Serializer, error) {
	return d.registry.GetSerializer(t)
}

// LookupSerializerFor returns the serializer for T.
func LookupSerializerFor[T any](d *Domain) (Serializer, error) {
	return d.LookupSerializer(reflect.TypeFor[T]())
}

// RegisterSerializer binds s to t. It fails if t already has a different
// serializer.
func (d *Domain) RegisterSerializer(t reflect.Type, s Serializer) error {
	return d.registry.RegisterSerializer(t, s)
}

// TryRegisterSerializer binds s to t unless t already has a serializer.
func (d *Domain) TryRegisterSerializer(t reflect.Type, s Serializer) (bool, error) {
	return d.registry.TryRegisterSerializer(t, s)
}

// RegisterSerializationProvider adds p ahead of every provider registered
// before it.
func (d *Domain) RegisterSerializationProvider(p SerializationProvider) {
	d.registry.RegisterSerializationProvider(p)
}

// Serialize writes value through the serializer of nominal.
func (d *Domain) Serialize(w bsonrw.ValueWriter, nominal reflect.Type, value any, configure func(*SerializationContextBuilder), args SerializationArgs) error {
	var v reflect.Value
	if value == nil {
		switch nominal.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
			v = reflect.Zero(nominal)
		default:
			return configurationErrorf("cannot serialize nil as %s", nominal)
		}
	} else {
		v = reflect.ValueOf(value)
		if !isAssignableTo(v.Type(), nominal) && !(v.Kind() == reflect.Pointer && isAssignableTo(v.Type().Elem(), nominal)) {
			return configurationErrorf("a value of type %s is not assignable to nominal type %s", v.Type(), nominal)
		}
		if v.Kind() == reflect.Pointer && nominal.Kind() != reflect.Pointer && nominal.Kind() != reflect.Interface {
			if v.IsNil() {
				return configurationErrorf("cannot serialize a nil %s as %s", v.Type(), nominal)
			}
			v = v.Elem()
		}
	}
	return d.serializeValue(w, nominal, v, configure, args)
}

func (d *Domain) serializeValue(w bsonrw.ValueWriter, nominal reflect.Type, v reflect.Value, configure func(*SerializationContextBuilder), args SerializationArgs) error {
	if args.NominalType == nil {
		args.NominalType = nominal
	} else if args.NominalType != nominal {
		return configurationErrorf("nominal type %s does not match args nominal type %s", nominal, args.NominalType)
	}
	s, err := d.LookupSerializer(nominal)
	if err != nil {
		return err
	}
	ctx := NewSerializationContext(d, w, configure)
	return s.Serialize(ctx, args, v)
}

// Deserialize reads one value through the serializer of nominal. The result
// may be of a type derived from nominal.
func (d *Domain) Deserialize(r bsonrw.ValueReader, nominal reflect.Type, configure func(*DeserializationContextBuilder)) (any, error) {
	v, err := d.deserializeValue(r, nominal, configure)
	if err != nil {
		return nil, err
	}
	if !v.IsValid() || isNilValue(v) {
		return nil, nil
	}
	return v.Interface(), nil
}

func (d *Domain) deserializeValue(r bsonrw.ValueReader, nominal reflect.Type, configure func(*DeserializationContextBuilder)) (reflect.Value, error) {
	s, err := d.LookupSerializer(nominal)
	if err != nil {
		return reflect.Value{}, err
	}
	ctx := NewDeserializationContext(d, r, configure)
	return s.Deserialize(ctx, DeserializationArgs{NominalType: nominal})
}

// SerializeValue writes value with T as the nominal type.
func SerializeValue[T any](d *Domain, w bsonrw.ValueWriter, value T, configure func(*SerializationContextBuilder)) error {
	t := reflect.TypeFor[T]()
	return d.serializeValue(w, t, reflect.ValueOf(&value).Elem(), configure, SerializationArgs{})
}

// DeserializeValue reads a T. When the document names a derived type the
// result must still be assignable to T.
func DeserializeValue[T any](d *Domain, r bsonrw.ValueReader, configure func(*DeserializationContextBuilder)) (T, error) {
	var out T
	t := reflect.TypeFor[T]()
	v, err := d.deserializeValue(r, t, configure)
	if err != nil {
		return out, err
	}
	if err := assignValue(reflect.ValueOf(&out).Elem(), v); err != nil {
		return out, errors.Wrapf(err, "deserializing %s", t)
	}
	return out, nil
}
