package bsonmap

import (
	"reflect"
	"slices"
	"strings"
	"sync/atomic"
)

// Class is a marker type. A blank field of this type carries class level
// options in its bson tag:
//
//	type Cat struct {
//		Animal
//		_ bsonmap.Class `bson:"discriminator=cat,required"`
//	}
//
// Recognized options are discriminator=NAME, root, required and
// ignoreExtraElements.
type Class struct{}

// boundMember is a member map together with its field path from the class
// the member list belongs to, which differs from the declaring class for
// inherited members.
type boundMember struct {
	mm    *MemberMap
	index []int
}

// ClassMap describes how a struct type is mapped to documents. A class map
// is configured, then frozen when it is registered with a domain; frozen
// class maps are immutable and shared.
type ClassMap struct {
	classType reflect.Type
	domain    *Domain
	frozen    atomic.Bool

	baseClassMap *ClassMap
	baseIndex    int

	discriminator           any
	discriminatorIsRequired bool
	isRootClass             bool
	hasRootClass            bool
	ignoreExtraElements     bool
	creator                 func() any

	declaredMemberMaps []*MemberMap
	idMemberMap        *MemberMap
	extraElementsMap   *MemberMap
	knownTypes         []reflect.Type

	allMembers   []boundMember
	elementIndex map[string]int
	idIndex      int
	extraIndex   int
}

// NewClassMap returns an empty, unfrozen class map for struct type t.
func NewClassMap(t reflect.Type) (*ClassMap, error) {
	if t == nil || t.Kind() != reflect.Struct {
		return nil, configurationErrorf("class maps can only be created for struct types, not %v", t)
	}
	_, baseIndex, _ := baseTypeOf(t)
	return &ClassMap{classType: t, baseIndex: baseIndex, idIndex: -1, extraIndex: -1}, nil
}

// NewAutoMappedClassMap returns a class map for t with every exported field
// and the class options mapped.
func NewAutoMappedClassMap(t reflect.Type) (*ClassMap, error) {
	cm, err := NewClassMap(t)
	if err != nil {
		return nil, err
	}
	if err := cm.AutoMap(); err != nil {
		return nil, err
	}
	return cm, nil
}

// ClassType returns the struct type the class map describes.
func (cm *ClassMap) ClassType() reflect.Type { return cm.classType }

// IsFrozen reports whether the class map is frozen and read only.
func (cm *ClassMap) IsFrozen() bool { return cm.frozen.Load() }

// BaseClassMap returns the class map of the embedded base struct, once frozen.
func (cm *ClassMap) BaseClassMap() *ClassMap { return cm.baseClassMap }

// Discriminator returns the discriminator value, which defaults to the type
// name once the class map is frozen.
func (cm *ClassMap) Discriminator() any { return cm.discriminator }

// DiscriminatorIsRequired reports whether the discriminator is written even
// when the actual type equals the nominal type.
func (cm *ClassMap) DiscriminatorIsRequired() bool { return cm.discriminatorIsRequired }

// IsRootClass reports whether the class starts a hierarchy with array
// discriminators.
func (cm *ClassMap) IsRootClass() bool { return cm.isRootClass }

// HasRootClass reports whether the class or one of its bases is a root class.
func (cm *ClassMap) HasRootClass() bool { return cm.hasRootClass }

// IgnoreExtraElements reports whether unmapped elements are skipped on read.
func (cm *ClassMap) IgnoreExtraElements() bool { return cm.ignoreExtraElements }

// IDMemberMap returns the member written as _id, or nil.
func (cm *ClassMap) IDMemberMap() *MemberMap { return cm.idMemberMap }

// ExtraElementsMemberMap returns the member collecting unmapped elements, or nil.
func (cm *ClassMap) ExtraElementsMemberMap() *MemberMap { return cm.extraElementsMap }

// DeclaredMemberMaps returns the members declared by this class, bases excluded.
func (cm *ClassMap) DeclaredMemberMaps() []*MemberMap { return slices.Clone(cm.declaredMemberMaps) }

// KnownTypes returns the types added with AddKnownType or BsonKnownTypes.
func (cm *ClassMap) KnownTypes() []reflect.Type { return slices.Clone(cm.knownTypes) }

// AllMemberMaps returns the inherited and declared member maps in
// serialization order. It is empty until the class map is frozen.
func (cm *ClassMap) AllMemberMaps() []*MemberMap {
	out := make([]*MemberMap, len(cm.allMembers))
	for i, bm := range cm.allMembers {
		out[i] = bm.mm
	}
	return out
}

// GetMemberMap returns the declared member map of field name.
func (cm *ClassMap) GetMemberMap(name string) *MemberMap {
	for _, mm := range cm.declaredMemberMaps {
		if mm.field.Name == name {
			return mm
		}
	}
	return nil
}

// GetMemberMapForElement returns the member map, declared or inherited, that
// reads element name. Only valid once frozen.
func (cm *ClassMap) GetMemberMapForElement(name string) *MemberMap {
	if i, ok := cm.elementIndex[name]; ok {
		return cm.allMembers[i].mm
	}
	return nil
}

func (cm *ClassMap) checkFrozen() error {
	if cm.IsFrozen() {
		return frozenErrorf("class map for %s is frozen", cm.classType)
	}
	return nil
}

// SetDiscriminator sets the value written to identify this class. nil
// restores the default, the type's name.
func (cm *ClassMap) SetDiscriminator(v any) error {
	if err := cm.checkFrozen(); err != nil {
		return err
	}
	if v == nil {
		cm.discriminator = nil
		return nil
	}
	value, err := checkDiscriminatorValue(v)
	if err != nil {
		return err
	}
	cm.discriminator = value
	return nil
}

// SetDiscriminatorIsRequired makes the discriminator always written.
func (cm *ClassMap) SetDiscriminatorIsRequired(required bool) error {
	if err := cm.checkFrozen(); err != nil {
		return err
	}
	cm.discriminatorIsRequired = required
	return nil
}

// SetIsRootClass marks the class as the root of a hierarchy.
func (cm *ClassMap) SetIsRootClass(root bool) error {
	if err := cm.checkFrozen(); err != nil {
		return err
	}
	cm.isRootClass = root
	return nil
}

// SetIgnoreExtraElements controls whether unmapped elements are an error.
func (cm *ClassMap) SetIgnoreExtraElements(ignore bool) error {
	if err := cm.checkFrozen(); err != nil {
		return err
	}
	cm.ignoreExtraElements = ignore
	return nil
}

// SetCreator sets the function used to allocate instances during
// deserialization. It must return a T or a *T.
func (cm *ClassMap) SetCreator(creator func() any) error {
	if err := cm.checkFrozen(); err != nil {
		return err
	}
	cm.creator = creator
	return nil
}

// AddKnownType declares a type that may stand in for this class.
func (cm *ClassMap) AddKnownType(t reflect.Type) error {
	if err := cm.checkFrozen(); err != nil {
		return err
	}
	cm.knownTypes = append(cm.knownTypes, t)
	return nil
}

func (cm *ClassMap) field(name string) (reflect.StructField, error) {
	for i := 0; i < cm.classType.NumField(); i++ {
		f := cm.classType.Field(i)
		if f.Name != name {
			continue
		}
		if !f.IsExported() {
			return f, configurationErrorf("field %s of %s is not exported", name, cm.classType)
		}
		if i == cm.baseIndex {
			return f, configurationErrorf("field %s of %s is its base class", name, cm.classType)
		}
		return f, nil
	}
	return reflect.StructField{}, configurationErrorf("class %s does not declare a field named %s", cm.classType, name)
}

// MapMember maps the declared field name, or returns its existing map.
func (cm *ClassMap) MapMember(name string) (*MemberMap, error) {
	if err := cm.checkFrozen(); err != nil {
		return nil, err
	}
	if mm := cm.GetMemberMap(name); mm != nil {
		return mm, nil
	}
	f, err := cm.field(name)
	if err != nil {
		return nil, err
	}
	mm := newMemberMap(cm, f)
	cm.declaredMemberMaps = append(cm.declaredMemberMaps, mm)
	return mm, nil
}

// UnmapMember removes the map of field name.
func (cm *ClassMap) UnmapMember(name string) error {
	if err := cm.checkFrozen(); err != nil {
		return err
	}
	i := slices.IndexFunc(cm.declaredMemberMaps, func(mm *MemberMap) bool { return mm.field.Name == name })
	if i < 0 {
		return nil
	}
	mm := cm.declaredMemberMaps[i]
	cm.declaredMemberMaps = slices.Delete(cm.declaredMemberMaps, i, i+1)
	if cm.idMemberMap == mm {
		cm.idMemberMap = nil
	}
	if cm.extraElementsMap == mm {
		cm.extraElementsMap = nil
	}
	return nil
}

// MapIDMember maps field name as the document id, stored in _id.
func (cm *ClassMap) MapIDMember(name string) (*MemberMap, error) {
	mm, err := cm.MapMember(name)
	if err != nil {
		return nil, err
	}
	mm.elementName = "_id"
	mm.order = -1
	cm.idMemberMap = mm
	return mm, nil
}

// MapExtraElementsMember maps field name, a map[string]any, as the holder of
// elements no other member reads.
func (cm *ClassMap) MapExtraElementsMember(name string) (*MemberMap, error) {
	mm, err := cm.MapMember(name)
	if err != nil {
		return nil, err
	}
	ft := mm.field.Type
	if ft.Kind() != reflect.Map || ft.Key().Kind() != reflect.String || ft.Elem() != anyType {
		return nil, configurationErrorf("extra elements member %s of %s must be a map[string]any, not %s", name, cm.classType, ft)
	}
	cm.extraElementsMap = mm
	return mm, nil
}

// AutoMap maps the class options of the Class marker field, every exported
// field that is not the base struct, and the known types the class declares.
func (cm *ClassMap) AutoMap() error {
	if err := cm.checkFrozen(); err != nil {
		return err
	}
	t := cm.classType
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type == classMarkerTyp {
			if err := cm.applyClassTag(f.Tag.Get("bson")); err != nil {
				return err
			}
			continue
		}
		if i == cm.baseIndex || !f.IsExported() {
			continue
		}
		tag, err := parseMemberTag(f.Tag.Get("bson"))
		if err != nil {
			return err
		}
		if tag.skip {
			continue
		}
		var mm *MemberMap
		switch {
		case tag.id:
			mm, err = cm.MapIDMember(f.Name)
		case tag.extra:
			mm, err = cm.MapExtraElementsMember(f.Name)
		default:
			mm, err = cm.MapMember(f.Name)
		}
		if err != nil {
			return err
		}
		if tag.id {
			tag.name = "_id"
			if !tag.hasOrder {
				tag.order, tag.hasOrder = -1, true
			}
		}
		tag.apply(mm)
	}
	if cm.idMemberMap == nil {
		for _, name := range []string{"ID", "Id"} {
			if mm := cm.GetMemberMap(name); mm != nil && mm.elementName == name {
				mm.elementName, mm.order = "_id", -1
				cm.idMemberMap = mm
				break
			}
		}
	}
	if kd, ok := reflect.New(t).Interface().(KnownTypesDeclarer); ok {
		for _, kt := range kd.BsonKnownTypes() {
			if kt != t {
				cm.knownTypes = append(cm.knownTypes, kt)
			}
		}
	}
	return nil
}

func (cm *ClassMap) applyClassTag(tag string) error {
	if tag == "" {
		return nil
	}
	for _, opt := range strings.Split(tag, ",") {
		key, value, _ := strings.Cut(strings.TrimSpace(opt), "=")
		switch key {
		case "":
		case "discriminator":
			if value == "" {
				return configurationErrorf("empty discriminator in class tag of %s", cm.classType)
			}
			cm.discriminator = value
		case "root":
			cm.isRootClass = true
		case "required":
			cm.discriminatorIsRequired = true
		case "ignoreExtraElements":
			cm.ignoreExtraElements = true
		default:
			return configurationErrorf("unknown class option %q on %s", key, cm.classType)
		}
	}
	return nil
}

// freeze completes the class map against its frozen base. It runs with the
// domain lock held and must not call back into the domain.
func (cm *ClassMap) freeze(d *Domain, base *ClassMap) error {
	if cm.IsFrozen() {
		return nil
	}
	if cm.discriminator == nil {
		cm.discriminator = cm.classType.Name()
	}

	var all []boundMember
	idMember, extraMember := cm.idMemberMap, cm.extraElementsMap
	if base != nil {
		if base.idMemberMap != nil {
			if idMember != nil {
				return configurationErrorf("class %s cannot map an id member because its base class %s already has one", cm.classType, base.classType)
			}
			idMember = base.idMemberMap
		}
		if base.extraElementsMap != nil {
			if extraMember != nil {
				return configurationErrorf("class %s cannot map an extra elements member because its base class %s already has one", cm.classType, base.classType)
			}
			extraMember = base.extraElementsMap
		}
		for _, bm := range base.allMembers {
			all = append(all, boundMember{mm: bm.mm, index: append([]int{cm.baseIndex}, bm.index...)})
		}
	}
	declared := slices.Clone(cm.declaredMemberMaps)
	slices.SortStableFunc(declared, func(a, b *MemberMap) int {
		switch {
		case a.order < b.order:
			return -1
		case a.order > b.order:
			return 1
		}
		return 0
	})
	for _, mm := range declared {
		all = append(all, boundMember{mm: mm, index: mm.field.Index})
	}

	index := make(map[string]int, len(all))
	idIndex, extraIndex := -1, -1
	for i, bm := range all {
		if bm.mm == extraMember {
			extraIndex = i
			continue
		}
		if prev, ok := index[bm.mm.elementName]; ok {
			other := all[prev].mm
			return configurationErrorf("the field '%s' of type '%s' cannot use element name '%s' because it is already being used by field '%s' of type '%s'",
				bm.mm.field.Name, bm.mm.classMap.classType, bm.mm.elementName, other.field.Name, other.classMap.classType)
		}
		index[bm.mm.elementName] = i
		if bm.mm == idMember {
			idIndex = i
		}
	}

	cm.domain = d
	cm.baseClassMap = base
	if base != nil {
		cm.discriminatorIsRequired = cm.discriminatorIsRequired || base.discriminatorIsRequired
		cm.hasRootClass = cm.isRootClass || base.hasRootClass
	} else {
		cm.hasRootClass = cm.isRootClass
	}
	cm.idMemberMap, cm.extraElementsMap = idMember, extraMember
	cm.allMembers, cm.elementIndex = all, index
	cm.idIndex, cm.extraIndex = idIndex, extraIndex
	cm.frozen.Store(true)
	return nil
}

// CreateInstance returns a new addressable instance of the class.
func (cm *ClassMap) CreateInstance() (reflect.Value, error) {
	out := reflect.New(cm.classType).Elem()
	if cm.creator == nil {
		return out, nil
	}
	v := unwrapInterface(reflect.ValueOf(cm.creator()))
	if v.IsValid() && v.Kind() == reflect.Pointer && v.Type().Elem() == cm.classType {
		if v.IsNil() {
			return out, nil
		}
		v = v.Elem()
	}
	if !v.IsValid() || v.Type() != cm.classType {
		return reflect.Value{}, configurationErrorf("creator of class %s returned %v", cm.classType, v)
	}
	out.Set(v)
	return out, nil
}
