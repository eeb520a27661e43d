package bsonmap_test

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/MichaelAJay/go-bsonmap"
)

type Clash struct {
	A string `bson:"x"`
	B string `bson:"x"`
}

type Kitten struct {
	Cat
	Nick string `bson:"name"`
}

type Flexible struct {
	Name  string         `bson:"name"`
	Extra map[string]any `bson:",extra"`
}

type Strict struct {
	Name string `bson:"name,required"`
}

type Lenient struct {
	_    bsonmap.Class `bson:"ignoreExtraElements"`
	Name string        `bson:"name"`
}

type Invoice struct {
	Total int                `bson:"total"`
	Note  string             `bson:"note,omitempty"`
	ID    primitive.ObjectID `bson:"_id"`
}

type Profile struct {
	Nickname string `bson:"nick"`
	Age      int    `bson:"age"`
}

func elementNames(cm *bsonmap.ClassMap) []string {
	var out []string
	for _, mm := range cm.AllMemberMaps() {
		out = append(out, mm.ElementName())
	}
	return out
}

func TestAutoMapInheritsBaseMembers(t *testing.T) {
	d := bsonmap.NewDomain()
	cm, err := d.LookupClassMap(lionType)
	if err != nil {
		t.Fatalf("LookupClassMap failed: %v", err)
	}
	if diff := cmp.Diff([]string{"_id", "name", "lives", "pride"}, elementNames(cm)); diff != "" {
		t.Errorf("member order mismatch (-want +got):\n%s", diff)
	}
	if cm.BaseClassMap() == nil || cm.BaseClassMap().ClassType() != catType {
		t.Fatalf("base class map = %v, want Cat", cm.BaseClassMap())
	}
	if cm.IDMemberMap() == nil || cm.IDMemberMap().MemberName() != "ID" {
		t.Errorf("id member not inherited from Animal")
	}
	if got := cm.Discriminator(); got != "Lion" {
		t.Errorf("Discriminator() = %v, want Lion", got)
	}
	if !d.IsClassMapRegistered(animalType) {
		t.Error("base class Animal was not mapped")
	}
	if mm := cm.GetMemberMapForElement("lives"); mm == nil || mm.MemberName() != "Lives" {
		t.Errorf("GetMemberMapForElement(lives) = %v", mm)
	}
}

func TestTryRegisterClassMap(t *testing.T) {
	d := bsonmap.NewDomain()
	ok, err := bsonmap.TryRegisterClassMapFor[Profile](d, func(cm *bsonmap.ClassMap) error {
		return cm.SetDiscriminator("profile")
	})
	if err != nil || !ok {
		t.Fatalf("first TryRegisterClassMapFor = (%v, %v), want (true, nil)", ok, err)
	}

	called := false
	ok, err = bsonmap.TryRegisterClassMapFor[Profile](d, func(cm *bsonmap.ClassMap) error {
		called = true
		return nil
	})
	if err != nil || ok {
		t.Errorf("second TryRegisterClassMapFor = (%v, %v), want (false, nil)", ok, err)
	}
	if called {
		t.Error("configure ran for an already mapped type")
	}

	err = bsonmap.RegisterClassMapFor[Profile](d, nil)
	if !errors.Is(err, bsonmap.ErrConfiguration) {
		t.Errorf("RegisterClassMapFor on a mapped type: got %v, want ErrConfiguration", err)
	}

	cm, err := d.LookupClassMap(reflect.TypeFor[Profile]())
	if err != nil {
		t.Fatalf("LookupClassMap failed: %v", err)
	}
	if cm.Discriminator() != "profile" {
		t.Errorf("Discriminator() = %v, want profile", cm.Discriminator())
	}
}

func TestFrozenClassMapRejectsChanges(t *testing.T) {
	d := bsonmap.NewDomain()
	cm, err := d.LookupClassMap(catType)
	if err != nil {
		t.Fatalf("LookupClassMap failed: %v", err)
	}
	mm := cm.GetMemberMap("Lives")
	if mm == nil {
		t.Fatal("no member map for Lives")
	}

	mutations := map[string]func() error{
		"SetDiscriminator":       func() error { return cm.SetDiscriminator("x") },
		"SetIsRootClass":         func() error { return cm.SetIsRootClass(true) },
		"SetIgnoreExtraElements": func() error { return cm.SetIgnoreExtraElements(true) },
		"AutoMap":                func() error { return cm.AutoMap() },
		"UnmapMember":            func() error { return cm.UnmapMember("Lives") },
		"AddKnownType":           func() error { return cm.AddKnownType(lionType) },
		"MemberMap.SetElementName": func() error {
			return mm.SetElementName("l")
		},
		"MemberMap.SetIsRequired": func() error { return mm.SetIsRequired(true) },
	}
	for name, mutate := range mutations {
		if err := mutate(); !errors.Is(err, bsonmap.ErrFrozen) {
			t.Errorf("%s: got %v, want ErrFrozen", name, err)
		}
	}
	if _, err := cm.MapMember("Lives"); !errors.Is(err, bsonmap.ErrFrozen) {
		t.Errorf("MapMember: got %v, want ErrFrozen", err)
	}
}

func TestElementNameCollisions(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
	}{
		{"declared twice", reflect.TypeFor[Clash]()},
		{"shadows inherited member", reflect.TypeFor[Kitten]()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := bsonmap.NewDomain()
			if _, err := d.LookupClassMap(tt.typ); !errors.Is(err, bsonmap.ErrConfiguration) {
				t.Errorf("got %v, want ErrConfiguration", err)
			}
			if d.IsClassMapRegistered(tt.typ) {
				t.Error("invalid class map was registered")
			}
		})
	}
}

func TestClassMapsOnlyForStructs(t *testing.T) {
	if _, err := bsonmap.NewClassMap(reflect.TypeFor[int]()); !errors.Is(err, bsonmap.ErrConfiguration) {
		t.Errorf("NewClassMap(int): got %v, want ErrConfiguration", err)
	}
	d := bsonmap.NewDomain()
	if _, err := d.LookupClassMap(shapeType); !errors.Is(err, bsonmap.ErrConfiguration) {
		t.Errorf("LookupClassMap(Shape): got %v, want ErrConfiguration", err)
	}
}

func TestMarshalWritesIDFirst(t *testing.T) {
	d := bsonmap.NewDomain()
	in := Invoice{Total: 12, ID: primitive.NewObjectID()}
	data, err := d.Marshal(&in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	elems, err := bson.Raw(data).Elements()
	if err != nil {
		t.Fatalf("Elements: %v", err)
	}
	var keys []string
	for _, e := range elems {
		keys = append(keys, e.Key())
	}
	if diff := cmp.Diff([]string{"_id", "total"}, keys); diff != "" {
		t.Errorf("element order mismatch (-want +got):\n%s", diff)
	}

	var out Invoice
	if err := d.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestExtraElements(t *testing.T) {
	d := bsonmap.NewDomain()
	data := mustMarshalDoc(t, bson.D{
		{Key: "name", Value: "box"},
		{Key: "color", Value: "red"},
		{Key: "size", Value: int32(3)},
	})
	out, err := bsonmap.UnmarshalAs[Flexible](d, data)
	if err != nil {
		t.Fatalf("UnmarshalAs failed: %v", err)
	}
	want := Flexible{Name: "box", Extra: map[string]any{"color": "red", "size": int32(3)}}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	again, err := d.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Errorf("re-serialized %s, want %s", bson.Raw(again), bson.Raw(data))
	}
}

func TestDeserializationStrictness(t *testing.T) {
	d := bsonmap.NewDomain()

	if _, err := bsonmap.UnmarshalAs[Strict](d, mustMarshalDoc(t, bson.D{})); !errors.Is(err, bsonmap.ErrFormat) {
		t.Errorf("missing required element: got %v, want ErrFormat", err)
	}

	unknown := mustMarshalDoc(t, bson.D{{Key: "name", Value: "a"}, {Key: "other", Value: 1}})
	if _, err := bsonmap.UnmarshalAs[Profile](d, unknown); !errors.Is(err, bsonmap.ErrFormat) {
		t.Errorf("unknown element: got %v, want ErrFormat", err)
	}
	out, err := bsonmap.UnmarshalAs[Lenient](d, unknown)
	if err != nil {
		t.Fatalf("ignoreExtraElements class failed: %v", err)
	}
	if out.Name != "a" {
		t.Errorf("Name = %q, want a", out.Name)
	}

	notDoc := mustMarshalDoc(t, bson.D{{Key: "p", Value: "text"}})
	type wrapper struct {
		P Profile `bson:"p"`
	}
	if _, err := bsonmap.UnmarshalAs[wrapper](d, notDoc); !errors.Is(err, bsonmap.ErrFormat) {
		t.Errorf("string where a document is expected: got %v, want ErrFormat", err)
	}
}

func TestMemberDefaultsAndSerializerOverride(t *testing.T) {
	d := bsonmap.NewDomain()
	err := bsonmap.RegisterClassMapFor[Profile](d, func(cm *bsonmap.ClassMap) error {
		mm, err := cm.MapMember("Nickname")
		if err != nil {
			return err
		}
		if err := mm.SetDefaultValue("anonymous"); err != nil {
			return err
		}
		age := cm.GetMemberMap("Age")
		if err := age.SetIgnoreIfDefault(true); err != nil {
			return err
		}
		return age.SetSerializer(&codeSerializer{})
	})
	if !errors.Is(err, bsonmap.ErrConfiguration) {
		t.Fatalf("serializer for another type: got %v, want ErrConfiguration", err)
	}

	err = bsonmap.RegisterClassMapFor[Profile](d, func(cm *bsonmap.ClassMap) error {
		if err := cm.GetMemberMap("Nickname").SetDefaultValue("anonymous"); err != nil {
			return err
		}
		return cm.GetMemberMap("Age").SetIgnoreIfDefault(true)
	})
	if err != nil {
		t.Fatalf("RegisterClassMapFor failed: %v", err)
	}

	data, err := d.Marshal(Profile{Nickname: "zed"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if _, err := bson.Raw(data).LookupErr("age"); err == nil {
		t.Error("zero age was written despite ignore-if-default")
	}

	out, err := bsonmap.UnmarshalAs[Profile](d, mustMarshalDoc(t, bson.D{{Key: "age", Value: int64(7)}}))
	if err != nil {
		t.Fatalf("UnmarshalAs failed: %v", err)
	}
	if diff := cmp.Diff(Profile{Nickname: "anonymous", Age: 7}, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestClassMapCreator(t *testing.T) {
	d := bsonmap.NewDomain()
	err := bsonmap.RegisterClassMapFor[Profile](d, func(cm *bsonmap.ClassMap) error {
		return cm.SetCreator(func() any { return &Profile{Nickname: "preset"} })
	})
	if err != nil {
		t.Fatalf("RegisterClassMapFor failed: %v", err)
	}
	out, err := bsonmap.UnmarshalAs[Profile](d, mustMarshalDoc(t, bson.D{{Key: "age", Value: int32(3)}}))
	if err != nil {
		t.Fatalf("UnmarshalAs failed: %v", err)
	}
	if out.Nickname != "preset" || out.Age != 3 {
		t.Errorf("got %+v, want the creator's instance with age 3", out)
	}
}
