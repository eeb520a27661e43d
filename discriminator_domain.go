package bsonmap

import (
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
)

// knownTypesState memoizes EnsureKnownTypesAreRegistered per nominal type.
// done is only set once registration has fully completed.
type knownTypesState struct {
	mu   sync.Mutex
	done atomic.Bool
}

// RegisterDiscriminatorConvention binds c to t and, through inheritance, to
// every type derived from t that has no convention of its own yet.
func (d *Domain) RegisterDiscriminatorConvention(t reflect.Type, c DiscriminatorConvention) error {
	if t == nil || c == nil {
		return configurationErrorf("type and convention must not be nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.conventions[t]; ok {
		return configurationErrorf("there is already a discriminator convention registered for type %s", t)
	}
	d.conventions[t] = c
	return nil
}

// LookupDiscriminatorConvention returns the convention for t: its own, the
// nearest one on its base chain, or the convention of any. Whatever is found
// is remembered for t and the intermediate types.
func (d *Domain) LookupDiscriminatorConvention(t reflect.Type) DiscriminatorConvention {
	d.mu.RLock()
	c, ok := d.conventions[t]
	d.mu.RUnlock()
	if ok {
		return c
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conventions[t]; ok {
		return c
	}
	if t.Kind() == reflect.Interface {
		c = d.conventions[anyType]
		d.conventions[t] = c
		return c
	}
	chain := baseChain(t)
	found := -1
	for i, bt := range chain {
		if bc, ok := d.conventions[bt]; ok {
			c, found = bc, i
			break
		}
	}
	if found < 0 {
		c, found = d.conventions[anyType], len(chain)
	}
	for _, bt := range chain[:found] {
		d.conventions[bt] = c
	}
	return c
}

// RegisterDiscriminator records that value identifies t. Registering the
// same pair twice is harmless.
func (d *Domain) RegisterDiscriminator(t reflect.Type, value any) error {
	if t == nil {
		return configurationErrorf("type must not be nil")
	}
	if t.Kind() == reflect.Interface {
		return configurationErrorf("discriminators can only be registered for concrete types, not for interface %s", t)
	}
	v, err := checkDiscriminatorValue(value)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registerDiscriminatorLocked(t, v)
	return nil
}

func (d *Domain) registerDiscriminatorLocked(t reflect.Type, value any) {
	set, ok := d.discriminators[value]
	if !ok {
		set = mapset.NewThreadUnsafeSet[reflect.Type]()
		d.discriminators[value] = set
	}
	if !set.Add(t) {
		return
	}
	chain := baseChain(t)
	for _, bt := range chain[1:] {
		d.discriminatedTypes.Add(bt)
	}
	d.typesByName[typeName(t)] = t
	d.log.WithFields(logrus.Fields{
		"type":          t.String(),
		"discriminator": value,
	}).Debug("discriminator registered")
}

// IsTypeDiscriminated reports whether documents read as t may carry a
// discriminator naming another type.
func (d *Domain) IsTypeDiscriminated(t reflect.Type) bool {
	if t.Kind() == reflect.Interface {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.discriminatedTypes.Contains(t)
}

// LookupActualType maps a discriminator to the concrete type it names among
// the types assignable to nominal. Array discriminators are walked from the
// root down, each step narrowing the nominal type. Leading values naming
// bases of nominal are skipped. When nominal is any and nothing is
// registered under the value, the value is tried as a type name.
func (d *Domain) LookupActualType(nominal reflect.Type, disc Discriminator) (reflect.Type, error) {
	if disc.IsZero() {
		return nominal, nil
	}
	if err := d.EnsureKnownTypesAreRegistered(nominal); err != nil {
		return nil, err
	}
	if !disc.IsArray() {
		return d.lookupScalarActualType(nominal, disc.Last())
	}
	values := disc.Values()
	for len(values) > 1 && d.namesBaseOf(nominal, values[0]) {
		values = values[1:]
	}
	actual := nominal
	for _, v := range values {
		next, err := d.lookupScalarActualType(actual, v)
		if err != nil {
			return nil, err
		}
		actual = next
	}
	return actual, nil
}

// namesBaseOf reports whether value identifies a struct that t extends,
// t itself excluded.
func (d *Domain) namesBaseOf(t reflect.Type, value any) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	set, ok := d.discriminators[value]
	if !ok {
		return false
	}
	for _, bt := range baseChain(t)[1:] {
		if set.Contains(bt) {
			return true
		}
	}
	return false
}

func (d *Domain) lookupScalarActualType(nominal reflect.Type, value any) (reflect.Type, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var actual reflect.Type
	if set, ok := d.discriminators[value]; ok {
		candidates := set.ToSlice()
		slices.SortFunc(candidates, compareTypes)
		for _, t := range candidates {
			if !isAssignableTo(t, nominal) {
				continue
			}
			if actual != nil {
				return nil, newError(ErrAmbiguousDiscriminator, "ambiguous discriminator '%v' for nominal type %s: matches %s and %s", value, nominal, actual, t)
			}
			actual = t
		}
	}
	if actual != nil {
		return actual, nil
	}
	if nominal == anyType {
		if name, ok := value.(string); ok {
			if t, ok := d.typesByName[name]; ok {
				return t, nil
			}
		}
	}
	return nil, newError(ErrUnknownDiscriminator, "unknown discriminator value '%v' for nominal type %s", value, nominal)
}

// GetDiscriminatorsForTypeAndSubTypes returns the discriminator values of t
// and every registered type derived from it, sorted.
func (d *Domain) GetDiscriminatorsForTypeAndSubTypes(t reflect.Type) ([]any, error) {
	if err := d.EnsureKnownTypesAreRegistered(t); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []any
	for value, set := range d.discriminators {
		var match reflect.Type
		for _, ct := range set.ToSlice() {
			if !isAssignableTo(ct, t) {
				continue
			}
			if match != nil {
				return nil, newError(ErrAmbiguousDiscriminator, "discriminator '%v' is used by both %s and %s", value, match, ct)
			}
			match = ct
		}
		if match != nil {
			out = append(out, value)
		}
	}
	slices.SortFunc(out, func(a, b any) int {
		return compareValues(reflect.ValueOf(a), reflect.ValueOf(b))
	})
	return out, nil
}

// RegisterKnownTypes declares concrete types that may stand in for nominal
// and maps their classes right away.
func (d *Domain) RegisterKnownTypes(nominal reflect.Type, known ...reflect.Type) error {
	d.mu.Lock()
	d.declaredKnownTypes[nominal] = append(d.declaredKnownTypes[nominal], known...)
	d.mu.Unlock()
	return d.registerTypes(known)
}

// EnsureKnownTypesAreRegistered maps the known types of nominal once. A
// failed attempt is retried on the next call.
func (d *Domain) EnsureKnownTypesAreRegistered(nominal reflect.Type) error {
	st, ok := d.knownTypes.Load(nominal)
	if !ok {
		st, _ = d.knownTypes.LoadOrStore(nominal, &knownTypesState{})
	}
	if st.done.Load() {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done.Load() {
		return nil
	}
	if nominal.Kind() == reflect.Struct {
		if _, err := d.LookupClassMap(nominal); err != nil {
			return err
		}
	}
	if err := d.registerTypes(d.knownTypesOf(nominal)); err != nil {
		return err
	}
	st.done.Store(true)
	return nil
}

// knownTypesOf collects the types declared by nominal itself, by its class
// map and those registered for it on the domain.
func (d *Domain) knownTypesOf(nominal reflect.Type) []reflect.Type {
	var out []reflect.Type
	d.mu.RLock()
	cm, mapped := d.classMaps[nominal]
	if mapped {
		out = append(out, cm.knownTypes...)
	}
	out = append(out, d.declaredKnownTypes[nominal]...)
	d.mu.RUnlock()
	if !mapped && nominal.Kind() != reflect.Interface {
		if kd, ok := reflect.New(nominal).Interface().(KnownTypesDeclarer); ok {
			out = append(out, kd.BsonKnownTypes()...)
		}
	}
	return out
}

// registerTypes maps the class of every struct in types and records the
// names of the rest for type-name discriminators.
func (d *Domain) registerTypes(types []reflect.Type) error {
	for _, kt := range types {
		for kt.Kind() == reflect.Pointer {
			kt = kt.Elem()
		}
		if kt.Kind() == reflect.Struct {
			if _, err := d.LookupClassMap(kt); err != nil {
				return err
			}
			continue
		}
		d.mu.Lock()
		d.typesByName[typeName(kt)] = kt
		d.mu.Unlock()
	}
	return nil
}

// typeByName returns the type recorded under name.
func (d *Domain) typeByName(name string) (reflect.Type, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.typesByName[name]
	return t, ok
}

// recordTypeName makes t resolvable by typeName(t).
func (d *Domain) recordTypeName(t reflect.Type) {
	name := typeName(t)
	d.mu.RLock()
	_, ok := d.typesByName[name]
	d.mu.RUnlock()
	if ok {
		return
	}
	d.mu.Lock()
	d.typesByName[name] = t
	d.mu.Unlock()
}

func compareTypes(a, b reflect.Type) int {
	return compareValues(reflect.ValueOf(typeName(a)), reflect.ValueOf(typeName(b)))
}
