package bsonmap

import (
	"reflect"
	"slices"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

// SerializerRegistry caches one serializer per type and creates missing ones
// by asking its providers, most recently registered first.
type SerializerRegistry struct {
	domain *Domain
	cache  *xsync.MapOf[reflect.Type, Serializer]

	mu        sync.RWMutex
	providers []SerializationProvider
}

func newSerializerRegistry(d *Domain) *SerializerRegistry {
	return &SerializerRegistry{
		domain: d,
		cache:  xsync.NewMapOf[reflect.Type, Serializer](),
	}
}

// GetSerializer returns the cached serializer for t or creates one. When two
// callers race on the first lookup both get whichever serializer was
// installed first.
func (r *SerializerRegistry) GetSerializer(t reflect.Type) (Serializer, error) {
	if t == nil {
		return nil, configurationErrorf("type must not be nil")
	}
	if s, ok := r.cache.Load(t); ok {
		r.domain.lookupHits.Inc()
		return s, nil
	}
	r.domain.lookupMisses.Inc()
	if err := checkSerializableType(t); err != nil {
		return nil, err
	}
	s, err := r.createSerializer(t)
	if err != nil {
		return nil, err
	}
	r.domain.created.Inc()
	installed, loaded := r.cache.LoadOrStore(t, s)
	if loaded {
		r.domain.installRaces.Inc()
		return installed, nil
	}
	r.domain.log.WithFields(logrus.Fields{
		"type":       t.String(),
		"serializer": reflect.TypeOf(installed).String(),
	}).Debug("serializer created")
	return installed, nil
}

// RegisterSerializer binds s to t. Registering the same instance again is a
// no-op; any other existing binding is an error.
func (r *SerializerRegistry) RegisterSerializer(t reflect.Type, s Serializer) error {
	if err := r.checkRegistration(t, s); err != nil {
		return err
	}
	installed, loaded := r.cache.LoadOrStore(t, s)
	if loaded && !sameSerializer(installed, s) {
		return configurationErrorf("there is already a serializer registered for type %s", t)
	}
	return nil
}

// TryRegisterSerializer binds s to t and reports whether it did. An existing
// binding, even to s itself, leaves the registry unchanged.
func (r *SerializerRegistry) TryRegisterSerializer(t reflect.Type, s Serializer) (bool, error) {
	if err := r.checkRegistration(t, s); err != nil {
		return false, err
	}
	_, loaded := r.cache.LoadOrStore(t, s)
	return !loaded, nil
}

// RegisterSerializationProvider puts p ahead of all existing providers.
func (r *SerializerRegistry) RegisterSerializationProvider(p SerializationProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = slices.Insert(r.providers, 0, p)
}

func (r *SerializerRegistry) checkRegistration(t reflect.Type, s Serializer) error {
	if t == nil {
		return configurationErrorf("type must not be nil")
	}
	if s == nil {
		return configurationErrorf("serializer for %s must not be nil", t)
	}
	if err := checkSerializableType(t); err != nil {
		return err
	}
	if st := s.ValueType(); st != t {
		return configurationErrorf("serializer value type %s does not match registered type %s", st, t)
	}
	return nil
}

func (r *SerializerRegistry) createSerializer(t reflect.Type) (Serializer, error) {
	r.mu.RLock()
	providers := r.providers
	r.mu.RUnlock()

	for _, p := range providers {
		s, err := p.GetSerializer(r.domain, t)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
	}
	return nil, resolutionErrorf("no serializer found for type %s", t)
}

// checkSerializableType rejects types no serializer can ever exist for.
func checkSerializableType(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Uintptr, reflect.Complex64, reflect.Complex128:
		return configurationErrorf("values of type %s cannot be serialized", t)
	}
	return nil
}

// sameSerializer compares serializers by identity without panicking on
// uncomparable dynamic types.
func sameSerializer(a, b Serializer) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	if va.Kind() == reflect.Pointer {
		return va.Pointer() == vb.Pointer()
	}
	return va.Comparable() && vb.Comparable() && va.Equal(vb)
}
