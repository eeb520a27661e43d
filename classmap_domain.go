package bsonmap

import (
	"reflect"
	"slices"

	"github.com/sirupsen/logrus"
)

// LookupClassMap returns the frozen class map of t, auto-mapping and
// registering one on first use. Concurrent first lookups all observe the
// same class map.
func (d *Domain) LookupClassMap(t reflect.Type) (*ClassMap, error) {
	d.mu.RLock()
	cm, ok := d.classMaps[t]
	d.mu.RUnlock()
	if ok {
		return cm, nil
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, configurationErrorf("class maps can only be created for struct types, not %v", t)
	}

	base, err := d.lookupBaseClassMap(t)
	if err != nil {
		return nil, err
	}
	candidate, err := NewAutoMappedClassMap(t)
	if err != nil {
		return nil, err
	}
	installed, _, err := d.installClassMap(candidate, base)
	if err != nil {
		return nil, err
	}
	if installed != candidate {
		d.installRaces.Inc()
		return installed, nil
	}
	d.log.WithField("type", t.String()).Debug("class map auto-mapped")
	if err := d.registerTypes(installed.knownTypes); err != nil {
		return nil, err
	}
	return installed, nil
}

// RegisterClassMap freezes and registers cm. It fails if t already has a
// class map.
func (d *Domain) RegisterClassMap(cm *ClassMap) error {
	ok, err := d.TryRegisterClassMap(cm)
	if err != nil {
		return err
	}
	if !ok {
		return configurationErrorf("there is already a class map registered for type %s", cm.classType)
	}
	return nil
}

// TryRegisterClassMap freezes and registers cm unless its type already has a
// class map, and reports whether it did.
func (d *Domain) TryRegisterClassMap(cm *ClassMap) (bool, error) {
	if cm == nil {
		return false, configurationErrorf("class map must not be nil")
	}
	if d.IsClassMapRegistered(cm.classType) {
		return false, nil
	}
	base, err := d.lookupBaseClassMap(cm.classType)
	if err != nil {
		return false, err
	}
	installed, isNew, err := d.installClassMap(cm, base)
	if err != nil || !isNew || installed != cm {
		return false, err
	}
	d.log.WithField("type", cm.classType.String()).Debug("class map registered")
	return true, d.registerTypes(cm.knownTypes)
}

// RegisterClassMapFor auto-maps T, applies configure and registers the
// result.
func RegisterClassMapFor[T any](d *Domain, configure func(*ClassMap) error) error {
	cm, err := newConfiguredClassMap[T](configure)
	if err != nil {
		return err
	}
	return d.RegisterClassMap(cm)
}

// TryRegisterClassMapFor is RegisterClassMapFor that reports false instead
// of failing when T is already mapped. configure only runs when T is not.
func TryRegisterClassMapFor[T any](d *Domain, configure func(*ClassMap) error) (bool, error) {
	if d.IsClassMapRegistered(reflect.TypeFor[T]()) {
		return false, nil
	}
	cm, err := newConfiguredClassMap[T](configure)
	if err != nil {
		return false, err
	}
	return d.TryRegisterClassMap(cm)
}

func newConfiguredClassMap[T any](configure func(*ClassMap) error) (*ClassMap, error) {
	cm, err := NewAutoMappedClassMap(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	if configure != nil {
		if err := configure(cm); err != nil {
			return nil, err
		}
	}
	return cm, nil
}

// IsClassMapRegistered reports whether t has a class map.
func (d *Domain) IsClassMapRegistered(t reflect.Type) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.classMaps[t]
	return ok
}

// ClassMaps returns every registered class map ordered by type name.
func (d *Domain) ClassMaps() []*ClassMap {
	d.mu.RLock()
	out := make([]*ClassMap, 0, len(d.classMaps))
	for _, cm := range d.classMaps {
		out = append(out, cm)
	}
	d.mu.RUnlock()
	slices.SortFunc(out, func(a, b *ClassMap) int { return compareTypes(a.classType, b.classType) })
	return out
}

func (d *Domain) lookupBaseClassMap(t reflect.Type) (*ClassMap, error) {
	bt, _, ok := baseTypeOf(t)
	if !ok {
		return nil, nil
	}
	return d.LookupClassMap(bt)
}

// installClassMap freezes cm and installs it unless another class map for
// the same type got there first, in which case that one is returned.
func (d *Domain) installClassMap(cm *ClassMap, base *ClassMap) (*ClassMap, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.classMaps[cm.classType]; ok {
		return existing, false, nil
	}
	if err := cm.freeze(d, base); err != nil {
		return nil, false, err
	}
	d.classMaps[cm.classType] = cm
	d.registerDiscriminatorLocked(cm.classType, cm.discriminator)
	d.classMapFrozen.Inc()
	d.log.WithFields(logrus.Fields{
		"type":          cm.classType.String(),
		"discriminator": cm.discriminator,
		"members":       len(cm.allMembers),
	}).Debug("class map frozen")
	return cm, true, nil
}
