package bsonmap

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// MemberMap describes how one struct field maps to a document element.
type MemberMap struct {
	classMap *ClassMap
	field    reflect.StructField

	elementName     string
	order           int
	ignoreIfDefault bool
	ignoreIfNull    bool
	isRequired      bool
	defaultValue    reflect.Value
	serializer      Serializer
	idGenerator     IDGenerator

	resolveOnce sync.Once
	resolved    Serializer
	resolveErr  error
}

func newMemberMap(cm *ClassMap, f reflect.StructField) *MemberMap {
	return &MemberMap{
		classMap:    cm,
		field:       f,
		elementName: f.Name,
		order:       int(^uint(0) >> 1),
	}
}

// ClassMap returns the class map that declares the member.
func (m *MemberMap) ClassMap() *ClassMap { return m.classMap }

// MemberName returns the Go field name.
func (m *MemberMap) MemberName() string { return m.field.Name }

// MemberType returns the Go field type.
func (m *MemberMap) MemberType() reflect.Type { return m.field.Type }

// ElementName returns the name the member is written under.
func (m *MemberMap) ElementName() string { return m.elementName }

// Order returns the member's position hint. Lower orders are written first.
func (m *MemberMap) Order() int { return m.order }

// IgnoreIfDefault reports whether default values are omitted.
func (m *MemberMap) IgnoreIfDefault() bool { return m.ignoreIfDefault }

// IgnoreIfNull reports whether nil values are omitted.
func (m *MemberMap) IgnoreIfNull() bool { return m.ignoreIfNull }

// IsRequired reports whether a document missing the member is an error.
func (m *MemberMap) IsRequired() bool { return m.isRequired }

// IDGenerator returns the generator set for this member, or nil.
func (m *MemberMap) IDGenerator() IDGenerator { return m.idGenerator }

// DefaultValue returns the value assigned when the element is missing.
func (m *MemberMap) DefaultValue() (any, bool) {
	if !m.defaultValue.IsValid() {
		return nil, false
	}
	return m.defaultValue.Interface(), true
}

func (m *MemberMap) checkFrozen() error {
	if m.classMap.IsFrozen() {
		return frozenErrorf("member map %s of class %s is frozen", m.field.Name, m.classMap.classType)
	}
	return nil
}

// SetElementName renames the element. The name must not be empty.
func (m *MemberMap) SetElementName(name string) error {
	if err := m.checkFrozen(); err != nil {
		return err
	}
	if name == "" {
		return configurationErrorf("element name of member %s must not be empty", m.field.Name)
	}
	m.elementName = name
	return nil
}

// SetOrder sets the position hint.
func (m *MemberMap) SetOrder(order int) error {
	if err := m.checkFrozen(); err != nil {
		return err
	}
	m.order = order
	return nil
}

// SetIgnoreIfDefault omits the member when it holds its default value.
func (m *MemberMap) SetIgnoreIfDefault(ignore bool) error {
	if err := m.checkFrozen(); err != nil {
		return err
	}
	m.ignoreIfDefault = ignore
	return nil
}

// SetIgnoreIfNull omits the member when it is nil.
func (m *MemberMap) SetIgnoreIfNull(ignore bool) error {
	if err := m.checkFrozen(); err != nil {
		return err
	}
	m.ignoreIfNull = ignore
	return nil
}

// SetIsRequired makes the member mandatory on read.
func (m *MemberMap) SetIsRequired(required bool) error {
	if err := m.checkFrozen(); err != nil {
		return err
	}
	m.isRequired = required
	return nil
}

// SetDefaultValue sets the value assigned when the element is missing.
func (m *MemberMap) SetDefaultValue(v any) error {
	if err := m.checkFrozen(); err != nil {
		return err
	}
	dv := reflect.New(m.field.Type).Elem()
	if err := assignValue(dv, reflect.ValueOf(v)); err != nil {
		return configurationErrorf("default value %v is not assignable to member %s of type %s", v, m.field.Name, m.field.Type)
	}
	m.defaultValue = dv
	return nil
}

// SetSerializer overrides the serializer the member type would resolve to.
func (m *MemberMap) SetSerializer(s Serializer) error {
	if err := m.checkFrozen(); err != nil {
		return err
	}
	if s != nil && s.ValueType() != m.field.Type {
		return configurationErrorf("serializer for %s cannot be used for member %s of type %s", s.ValueType(), m.field.Name, m.field.Type)
	}
	m.serializer = s
	return nil
}

// SetIDGenerator sets the generator EnsureDocumentID uses for this member.
func (m *MemberMap) SetIDGenerator(g IDGenerator) error {
	if err := m.checkFrozen(); err != nil {
		return err
	}
	m.idGenerator = g
	return nil
}

// GetSerializer returns the explicit serializer or the one registered for
// the member type.
func (m *MemberMap) GetSerializer() (Serializer, error) {
	if m.serializer != nil {
		return m.serializer, nil
	}
	m.resolveOnce.Do(func() {
		m.resolved, m.resolveErr = m.classMap.domain.LookupSerializer(m.field.Type)
	})
	return m.resolved, m.resolveErr
}

// ShouldSerialize reports whether v is written at all.
func (m *MemberMap) ShouldSerialize(v reflect.Value) bool {
	if m.ignoreIfNull && isNilValue(v) {
		return false
	}
	if m.ignoreIfDefault && (!v.IsValid() || v.IsZero()) {
		return false
	}
	return true
}

// memberTag is a parsed bson struct tag.
type memberTag struct {
	name      string
	skip      bool
	omitEmpty bool
	omitNull  bool
	required  bool
	id        bool
	extra     bool
	order     int
	hasOrder  bool
}

func parseMemberTag(tag string) (memberTag, error) {
	var mt memberTag
	if tag == "-" {
		mt.skip = true
		return mt, nil
	}
	parts := strings.Split(tag, ",")
	mt.name = parts[0]
	for _, opt := range parts[1:] {
		key, value, _ := strings.Cut(opt, "=")
		switch key {
		case "omitempty":
			mt.omitEmpty = true
		case "omitnull":
			mt.omitNull = true
		case "required":
			mt.required = true
		case "id":
			mt.id = true
		case "extra":
			mt.extra = true
		case "order":
			n, err := strconv.Atoi(value)
			if err != nil {
				return mt, configurationErrorf("invalid order %q in bson tag %q", value, tag)
			}
			mt.order, mt.hasOrder = n, true
		}
	}
	if mt.name == "_id" {
		mt.id = true
	}
	return mt, nil
}

func (mt memberTag) apply(m *MemberMap) {
	if mt.name != "" {
		m.elementName = mt.name
	}
	if mt.hasOrder {
		m.order = mt.order
	}
	m.ignoreIfDefault = mt.omitEmpty
	m.ignoreIfNull = mt.omitNull
	m.isRequired = mt.required
}
