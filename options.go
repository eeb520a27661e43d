package bsonmap

import (
	"reflect"

	"github.com/VictoriaMetrics/metrics"
	"github.com/sirupsen/logrus"
)

// Defaults are the domain-wide settings new contexts and id lookups fall
// back to.
type Defaults struct {
	// DynamicArraySerializer reads BSON arrays under an any-typed member.
	DynamicArraySerializer Serializer
	// DynamicDocumentSerializer reads undiscriminated documents under an
	// any-typed member.
	DynamicDocumentSerializer Serializer
	// AllowDuplicateElementNames keeps repeated names in dynamic documents.
	AllowDuplicateElementNames bool
	// IsDynamicType marks types written without a type wrapper under any.
	IsDynamicType func(reflect.Type) bool
	// UseNullIDChecker installs a checker that rejects nil ids on reference
	// typed id members without a generator.
	UseNullIDChecker bool
	// DiscriminatorElementName is the element the default convention writes
	// discriminators to.
	DiscriminatorElementName string
	// UseZeroIDChecker installs a checker that rejects zero ids on value
	// typed id members without a generator.
	UseZeroIDChecker bool
}

// Option configures a Domain.
type Option func(*Domain)

// WithName names the domain in logs.
func WithName(name string) Option {
	return func(d *Domain) {
		d.name = name
	}
}

// WithLogger sets the logger. Resolution events are logged at debug level.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Domain) {
		d.log = l.WithField("component", "bsonmap")
	}
}

// WithMetricsSet records counters into set instead of a private one.
func WithMetricsSet(set *metrics.Set) Option {
	return func(d *Domain) {
		d.metricSet = set
	}
}

// WithDefaults replaces the initial defaults. Nil dynamic serializers keep
// the built-in ones.
func WithDefaults(defaults Defaults) Option {
	return func(d *Domain) {
		if defaults.DynamicArraySerializer == nil {
			defaults.DynamicArraySerializer = d.defaults.DynamicArraySerializer
		}
		if defaults.DynamicDocumentSerializer == nil {
			defaults.DynamicDocumentSerializer = d.defaults.DynamicDocumentSerializer
		}
		if defaults.DiscriminatorElementName == "" {
			defaults.DiscriminatorElementName = d.defaults.DiscriminatorElementName
		}
		d.defaults = defaults
	}
}

// WithKnownTypes registers concrete types that may stand in for nominal.
func WithKnownTypes(nominal reflect.Type, known ...reflect.Type) Option {
	return func(d *Domain) {
		d.declaredKnownTypes[nominal] = append(d.declaredKnownTypes[nominal], known...)
	}
}
