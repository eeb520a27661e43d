package bsonmap

import (
	"reflect"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDGenerator creates document ids and recognizes ids that still need one.
type IDGenerator interface {
	GenerateID(container, document any) (any, error)
	IsEmpty(id any) bool
}

// ObjectIDGenerator generates new ObjectIDs.
type ObjectIDGenerator struct{}

func (ObjectIDGenerator) GenerateID(_, _ any) (any, error) { return primitive.NewObjectID(), nil }

func (ObjectIDGenerator) IsEmpty(id any) bool {
	oid, ok := id.(primitive.ObjectID)
	return id == nil || (ok && oid.IsZero())
}

// UUIDGenerator generates random version 4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) GenerateID(_, _ any) (any, error) { return uuid.New(), nil }

func (UUIDGenerator) IsEmpty(id any) bool {
	u, ok := id.(uuid.UUID)
	return id == nil || (ok && u == uuid.Nil)
}

// NullIDChecker never generates; it rejects documents whose id is nil.
type NullIDChecker struct{}

func (NullIDChecker) GenerateID(_, document any) (any, error) {
	return nil, configurationErrorf("the id of a %T document must not be nil", document)
}

func (NullIDChecker) IsEmpty(id any) bool { return isNilValue(reflect.ValueOf(id)) }

// ZeroIDChecker never generates; it rejects documents whose id is the zero
// value of its type.
type ZeroIDChecker struct{}

func (ZeroIDChecker) GenerateID(_, document any) (any, error) {
	return nil, configurationErrorf("the id of a %T document must not be the zero value", document)
}

func (ZeroIDChecker) IsEmpty(id any) bool {
	v := reflect.ValueOf(id)
	return !v.IsValid() || v.IsZero()
}

// RegisterIDGenerator binds g to id members of type t that have no generator
// of their own.
func (d *Domain) RegisterIDGenerator(t reflect.Type, g IDGenerator) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.idGenerators[t]; ok && existing != nil {
		return configurationErrorf("there is already an id generator registered for type %s", t)
	}
	d.idGenerators[t] = g
	return nil
}

// LookupIDGenerator returns the generator for id type t, which may be nil.
// The answer, nil included, is remembered.
func (d *Domain) LookupIDGenerator(t reflect.Type) IDGenerator {
	d.mu.RLock()
	g, ok := d.idGenerators[t]
	d.mu.RUnlock()
	if ok {
		return g
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok := d.idGenerators[t]; ok {
		return g
	}
	switch {
	case t == objectIDType:
		g = ObjectIDGenerator{}
	case t == uuidType:
		g = UUIDGenerator{}
	case isNullable(t) && d.defaults.UseNullIDChecker:
		g = NullIDChecker{}
	case !isNullable(t) && d.defaults.UseZeroIDChecker:
		g = ZeroIDChecker{}
	}
	d.idGenerators[t] = g
	return g
}

func isNullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	}
	return false
}

// EnsureDocumentID assigns a generated id to doc, a pointer to a struct,
// when its id member is empty. It returns the id and whether it was
// generated.
func (d *Domain) EnsureDocumentID(doc any) (any, bool, error) {
	v := reflect.ValueOf(doc)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, false, configurationErrorf("document must be a non-nil pointer to a struct, not %T", doc)
	}
	cm, err := d.LookupClassMap(v.Elem().Type())
	if err != nil {
		return nil, false, err
	}
	if cm.idIndex < 0 {
		return nil, false, configurationErrorf("class %s has no id member", cm.classType)
	}
	bm := cm.allMembers[cm.idIndex]
	field, _ := fieldByIndex(v.Elem(), bm.index, true)
	current := field.Interface()

	g := bm.mm.IDGenerator()
	if g == nil {
		g = d.LookupIDGenerator(bm.mm.MemberType())
	}
	if g == nil || !g.IsEmpty(current) {
		return current, false, nil
	}
	id, err := g.GenerateID(nil, doc)
	if err != nil {
		return nil, false, err
	}
	if err := assignValue(field, reflect.ValueOf(id)); err != nil {
		return nil, false, err
	}
	return id, true, nil
}
