package bsonmap_test

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"runtime"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"github.com/MichaelAJay/go-bsonmap"
)

func TestScalarDiscriminatorWithoutRootClass(t *testing.T) {
	d := bsonmap.NewDomain()
	lion := Lion{Cat: Cat{Animal: Animal{Name: "leo"}, Lives: 9}, Pride: "north"}

	raw := serializeAs(t, d, animalType, lion)
	if diff := cmp.Diff("Lion", discriminatorOf(t, raw)); diff != "" {
		t.Errorf("discriminator mismatch (-want +got):\n%s", diff)
	}

	got, err := deserializeAs(d, animalType, raw)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if diff := cmp.Diff(any(lion), got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestNoDiscriminatorForExactNominalType(t *testing.T) {
	d := bsonmap.NewDomain()
	raw := serializeAs(t, d, catType, Cat{Lives: 3})
	if got := discriminatorOf(t, raw); got != nil {
		t.Errorf("discriminator %v written for the nominal type itself", got)
	}
}

func TestHierarchicalDiscriminatorBelowRootClass(t *testing.T) {
	d := bsonmap.NewDomain()
	car := SportsCar{Car: Car{Vehicle: Vehicle{Wheels: 4}, Doors: 2}, TopSpeed: 300}

	raw := serializeAs(t, d, vehicleType, car)
	if diff := cmp.Diff([]string{"Car", "SportsCar"}, discriminatorOf(t, raw)); diff != "" {
		t.Errorf("discriminator mismatch (-want +got):\n%s", diff)
	}

	// A root class always writes its discriminator, even as its own
	// nominal type.
	rootRaw := serializeAs(t, d, reflect.TypeFor[Car](), Car{Doors: 5})
	if diff := cmp.Diff("Car", discriminatorOf(t, rootRaw)); diff != "" {
		t.Errorf("root discriminator mismatch (-want +got):\n%s", diff)
	}

	got, err := deserializeAs(d, vehicleType, raw)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	sc, ok := got.(SportsCar)
	if !ok {
		t.Fatalf("got %T, want SportsCar", got)
	}
	if sc.TopSpeed != 300 || sc.Doors != 2 || sc.Wheels != 4 {
		t.Errorf("got %+v", sc)
	}
}

func TestLookupActualType(t *testing.T) {
	d := bsonmap.NewDomain()
	if err := d.RegisterKnownTypes(animalType, catType, lionType, reflect.TypeFor[Dog]()); err != nil {
		t.Fatalf("RegisterKnownTypes failed: %v", err)
	}
	if err := d.RegisterKnownTypes(vehicleType, reflect.TypeFor[SportsCar]()); err != nil {
		t.Fatalf("RegisterKnownTypes failed: %v", err)
	}

	tests := []struct {
		name    string
		nominal reflect.Type
		disc    bsonmap.Discriminator
		want    reflect.Type
		wantErr error
	}{
		{"zero discriminator", catType, bsonmap.Discriminator{}, catType, nil},
		{"scalar", animalType, bsonmap.ScalarDiscriminator("Lion"), lionType, nil},
		{"scalar on intermediate nominal", catType, bsonmap.ScalarDiscriminator("Lion"), lionType, nil},
		{"not derived from nominal", catType, bsonmap.ScalarDiscriminator("Dog"), nil, bsonmap.ErrUnknownDiscriminator},
		{"unknown", animalType, bsonmap.ScalarDiscriminator("Zebra"), nil, bsonmap.ErrUnknownDiscriminator},
		{"array", vehicleType, bsonmap.ArrayDiscriminator("Car", "SportsCar"), reflect.TypeFor[SportsCar](), nil},
		{"array with unknown step", vehicleType, bsonmap.ArrayDiscriminator("Car", "Truck"), nil, bsonmap.ErrUnknownDiscriminator},
		{"any nominal", anyType, bsonmap.ScalarDiscriminator("Dog"), reflect.TypeFor[Dog](), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.LookupActualType(tt.nominal, tt.disc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got (%v, %v), want %v", got, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LookupActualType failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAmbiguousDiscriminator(t *testing.T) {
	d := bsonmap.NewDomain()
	if _, err := d.LookupClassMap(catType); err != nil {
		t.Fatalf("LookupClassMap failed: %v", err)
	}
	err := bsonmap.RegisterClassMapFor[Dog](d, func(cm *bsonmap.ClassMap) error {
		return cm.SetDiscriminator("Cat")
	})
	if err != nil {
		t.Fatalf("RegisterClassMapFor failed: %v", err)
	}

	data := mustMarshalDoc(t, bson.D{{Key: "_t", Value: "Cat"}, {Key: "name", Value: "x"}})
	if _, err := deserializeAs(d, animalType, data); !errors.Is(err, bsonmap.ErrAmbiguousDiscriminator) {
		t.Errorf("nominal Animal: got %v, want ErrAmbiguousDiscriminator", err)
	}
	// Only Cat is derived from Cat, so the narrower nominal type resolves.
	if _, err := d.LookupActualType(catType, bsonmap.ScalarDiscriminator("Cat")); err != nil {
		t.Errorf("nominal Cat: %v", err)
	}
	if _, err := d.GetDiscriminatorsForTypeAndSubTypes(animalType); !errors.Is(err, bsonmap.ErrAmbiguousDiscriminator) {
		t.Errorf("GetDiscriminatorsForTypeAndSubTypes: got %v, want ErrAmbiguousDiscriminator", err)
	}
}

func TestUnknownDiscriminatorInDocument(t *testing.T) {
	d := bsonmap.NewDomain()
	if err := d.RegisterKnownTypes(animalType, catType); err != nil {
		t.Fatalf("RegisterKnownTypes failed: %v", err)
	}
	data := mustMarshalDoc(t, bson.D{{Key: "_t", Value: "Zebra"}, {Key: "name", Value: "z"}})
	if _, err := deserializeAs(d, animalType, data); !errors.Is(err, bsonmap.ErrUnknownDiscriminator) {
		t.Errorf("got %v, want ErrUnknownDiscriminator", err)
	}
}

func TestGetDiscriminatorsForTypeAndSubTypes(t *testing.T) {
	d := bsonmap.NewDomain()
	if _, err := d.LookupClassMap(lionType); err != nil {
		t.Fatalf("LookupClassMap failed: %v", err)
	}
	got, err := d.GetDiscriminatorsForTypeAndSubTypes(animalType)
	if err != nil {
		t.Fatalf("GetDiscriminatorsForTypeAndSubTypes failed: %v", err)
	}
	if diff := cmp.Diff([]any{"Animal", "Cat", "Lion"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	got, err = d.GetDiscriminatorsForTypeAndSubTypes(catType)
	if err != nil {
		t.Fatalf("GetDiscriminatorsForTypeAndSubTypes failed: %v", err)
	}
	if diff := cmp.Diff([]any{"Cat", "Lion"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestIsTypeDiscriminated(t *testing.T) {
	d := bsonmap.NewDomain()
	if d.IsTypeDiscriminated(animalType) {
		t.Error("Animal is discriminated before any subclass is known")
	}
	if !d.IsTypeDiscriminated(shapeType) {
		t.Error("interfaces are always discriminated")
	}
	if _, err := d.LookupClassMap(catType); err != nil {
		t.Fatalf("LookupClassMap failed: %v", err)
	}
	if !d.IsTypeDiscriminated(animalType) {
		t.Error("Animal is not discriminated once Cat is mapped")
	}
	if d.IsTypeDiscriminated(catType) {
		t.Error("Cat has no mapped subclasses")
	}
}

func TestRegisterDiscriminatorConvention(t *testing.T) {
	d := bsonmap.NewDomain()
	conv := bsonmap.NewScalarDiscriminatorConvention("kind")
	if err := d.RegisterDiscriminatorConvention(animalType, conv); err != nil {
		t.Fatalf("RegisterDiscriminatorConvention failed: %v", err)
	}
	if err := d.RegisterDiscriminatorConvention(animalType, conv); !errors.Is(err, bsonmap.ErrConfiguration) {
		t.Errorf("second registration: got %v, want ErrConfiguration", err)
	}
	if got := d.LookupDiscriminatorConvention(lionType); got != bsonmap.DiscriminatorConvention(conv) {
		t.Errorf("Lion inherits convention %v, want the Animal convention", got)
	}
	if got := d.LookupDiscriminatorConvention(vehicleType); got.ElementName() != bsonmap.DefaultDiscriminatorElementName {
		t.Errorf("unrelated hierarchy uses element %q", got.ElementName())
	}

	raw := serializeAs(t, d, animalType, Lion{Pride: "p"})
	if got := raw.Lookup("kind").StringValue(); got != "Lion" {
		t.Errorf("kind = %q, want Lion", got)
	}
	if _, err := raw.LookupErr("_t"); err == nil {
		t.Error("default discriminator element written alongside the custom one")
	}
}

func TestDiscriminatorElementNameDefault(t *testing.T) {
	d := bsonmap.NewDomain(bsonmap.WithDefaults(bsonmap.Defaults{DiscriminatorElementName: "__type"}))
	raw := serializeAs(t, d, animalType, Cat{Lives: 1})
	if got := raw.Lookup("__type").StringValue(); got != "Cat" {
		t.Errorf("__type = %q, want Cat", got)
	}
}

func TestRegisterDiscriminatorRejectsInterfaces(t *testing.T) {
	d := bsonmap.NewDomain()
	if err := d.RegisterDiscriminator(shapeType, "shape"); !errors.Is(err, bsonmap.ErrConfiguration) {
		t.Errorf("got %v, want ErrConfiguration", err)
	}
	if err := d.RegisterDiscriminator(reflect.TypeFor[Square](), "sq"); err != nil {
		t.Fatalf("RegisterDiscriminator failed: %v", err)
	}
	if err := d.RegisterDiscriminator(reflect.TypeFor[Square](), "sq"); err != nil {
		t.Errorf("registering the same pair again failed: %v", err)
	}
	got, err := d.LookupActualType(shapeType, bsonmap.ScalarDiscriminator("sq"))
	if err != nil || got != reflect.TypeFor[Square]() {
		t.Errorf("LookupActualType = (%v, %v), want Square", got, err)
	}
}

func TestInterfaceMembersRoundTrip(t *testing.T) {
	d := bsonmap.NewDomain()
	in := Drawing{Title: "mixed", Shapes: []Shape{Square{Side: 2}, &Circle{Radius: 1}, nil}}
	data, err := d.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// A fresh domain only knows the shapes it is told about.
	fresh := bsonmap.NewDomain(bsonmap.WithKnownTypes(shapeType, reflect.TypeFor[Square](), reflect.TypeFor[Circle]()))
	out, err := bsonmap.UnmarshalAs[Drawing](fresh, data)
	if err != nil {
		t.Fatalf("UnmarshalAs failed: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	if _, err := bsonmap.UnmarshalAs[Drawing](bsonmap.NewDomain(), data); !errors.Is(err, bsonmap.ErrUnknownDiscriminator) {
		t.Errorf("domain without known shapes: got %v, want ErrUnknownDiscriminator", err)
	}
}

func TestInterfaceWithoutDiscriminator(t *testing.T) {
	d := bsonmap.NewDomain()
	data := mustMarshalDoc(t, bson.D{{Key: "shape", Value: bson.D{{Key: "side", Value: 1.0}}}})
	type canvas struct {
		Shape Shape `bson:"shape"`
	}
	if _, err := bsonmap.UnmarshalAs[canvas](d, data); !errors.Is(err, bsonmap.ErrFormat) {
		t.Errorf("got %v, want ErrFormat", err)
	}
}

func TestSiblingHierarchies(t *testing.T) {
	d := bsonmap.NewDomain()
	for _, typ := range []reflect.Type{budType, twigType, reflect.TypeFor[PearLeaf](), reflect.TypeFor[PlumLeaf]()} {
		if _, err := d.LookupClassMap(typ); err != nil {
			t.Fatalf("LookupClassMap(%s) failed: %v", typ, err)
		}
	}

	tests := []struct {
		name    string
		nominal reflect.Type
		disc    bsonmap.Discriminator
		want    reflect.Type
		wantErr error
	}{
		{"scalar leaf from top", nodeType, bsonmap.ScalarDiscriminator("Bud"), budType, nil},
		{"scalar leaf from middle", branchType, bsonmap.ScalarDiscriminator("Bud"), budType, nil},
		{"scalar leaf outside nominal", trunkType, bsonmap.ScalarDiscriminator("Bud"), nil, bsonmap.ErrUnknownDiscriminator},
		{"array from above root", nodeType, bsonmap.ArrayDiscriminator("Trunk", "Limb"), limbType, nil},
		{"array from root", trunkType, bsonmap.ArrayDiscriminator("Trunk", "Limb", "Twig"), twigType, nil},
		{"array naming nominal", limbType, bsonmap.ArrayDiscriminator("Trunk", "Limb"), limbType, nil},
		{"array below nominal", limbType, bsonmap.ArrayDiscriminator("Trunk", "Limb", "Twig"), twigType, nil},
		{"array above nominal", twigType, bsonmap.ArrayDiscriminator("Trunk", "Limb"), nil, bsonmap.ErrUnknownDiscriminator},
		{"array into other branch", branchType, bsonmap.ArrayDiscriminator("Trunk", "Limb"), nil, bsonmap.ErrUnknownDiscriminator},
		{"shared leaf under pear", reflect.TypeFor[Pear](), bsonmap.ArrayDiscriminator("Pear", "Leaf"), reflect.TypeFor[PearLeaf](), nil},
		{"shared leaf under plum", reflect.TypeFor[Plum](), bsonmap.ArrayDiscriminator("Plum", "Leaf"), reflect.TypeFor[PlumLeaf](), nil},
		{"shared leaf from any", anyType, bsonmap.ArrayDiscriminator("Plum", "Leaf"), reflect.TypeFor[PlumLeaf](), nil},
		{"shared leaf as scalar under plum", reflect.TypeFor[Plum](), bsonmap.ScalarDiscriminator("Leaf"), reflect.TypeFor[PlumLeaf](), nil},
		{"shared leaf as scalar from any", anyType, bsonmap.ScalarDiscriminator("Leaf"), nil, bsonmap.ErrAmbiguousDiscriminator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.LookupActualType(tt.nominal, tt.disc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got (%v, %v), want %v", got, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LookupActualType failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIntermediateNominalBelowRootClass(t *testing.T) {
	d := bsonmap.NewDomain()
	if _, err := d.LookupClassMap(twigType); err != nil {
		t.Fatalf("LookupClassMap failed: %v", err)
	}

	limb := Limb{Trunk: Trunk{Node: Node{Label: "l"}, Girth: 3}, Length: 7}
	data, err := d.Marshal(limb)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if diff := cmp.Diff([]string{"Trunk", "Limb"}, discriminatorOf(t, data)); diff != "" {
		t.Errorf("discriminator mismatch (-want +got):\n%s", diff)
	}
	out, err := bsonmap.UnmarshalAs[Limb](d, data)
	if err != nil {
		t.Fatalf("UnmarshalAs failed: %v", err)
	}
	if diff := cmp.Diff(limb, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	twig := Twig{Limb: limb, Leaves: 12}
	raw := serializeAs(t, d, limbType, twig)
	if diff := cmp.Diff([]string{"Trunk", "Limb", "Twig"}, discriminatorOf(t, raw)); diff != "" {
		t.Errorf("discriminator mismatch (-want +got):\n%s", diff)
	}
	got, err := deserializeAs(d, limbType, raw)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if diff := cmp.Diff(any(twig), got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestClassMapKnownTypesVisibleWithClassMap(t *testing.T) {
	d := bsonmap.NewDomain()
	limbValue, twigValue := "Limb", "Twig"

	const readers = 16
	finished := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		defer close(finished)
		return bsonmap.RegisterClassMapFor[Trunk](d, func(cm *bsonmap.ClassMap) error {
			if err := cm.AddKnownType(limbType); err != nil {
				return err
			}
			return cm.AddKnownType(twigType)
		})
	})
	for range readers {
		g.Go(func() error {
			for !d.IsClassMapRegistered(trunkType) {
				select {
				case <-finished:
					if !d.IsClassMapRegistered(trunkType) {
						return nil
					}
				default:
					runtime.Gosched()
				}
			}
			values, err := d.GetDiscriminatorsForTypeAndSubTypes(trunkType)
			if err != nil {
				return err
			}
			if !slices.Contains(values, any(limbValue)) || !slices.Contains(values, any(twigValue)) {
				return fmt.Errorf("discriminators %v lack the known types of Trunk", values)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestDiscriminatorValueTypes(t *testing.T) {
	t.Run("unsigned values", func(t *testing.T) {
		d := bsonmap.NewDomain()
		err := bsonmap.RegisterClassMapFor[Dog](d, func(cm *bsonmap.ClassMap) error {
			return cm.SetDiscriminator(uint(7))
		})
		if err != nil {
			t.Fatalf("RegisterClassMapFor failed: %v", err)
		}
		dog := Dog{Animal: Animal{Name: "rex"}, Breed: "lab"}
		raw := serializeAs(t, d, animalType, dog)
		if v, ok := raw.Lookup(bsonmap.DefaultDiscriminatorElementName).Int64OK(); !ok || v != 7 {
			t.Errorf("discriminator written as %s, want int64 7", raw.Lookup(bsonmap.DefaultDiscriminatorElementName))
		}
		got, err := deserializeAs(d, animalType, raw)
		if err != nil {
			t.Fatalf("Deserialize failed: %v", err)
		}
		if diff := cmp.Diff(any(dog), got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
		if _, err := d.LookupActualType(animalType, bsonmap.ScalarDiscriminator(uint64(7))); err != nil {
			t.Errorf("uint64 lookup: %v", err)
		}
	})

	rejected := []struct {
		name  string
		value any
	}{
		{"uint64 beyond int64", uint64(math.MaxUint64)},
		{"struct", struct{ A int }{1}},
		{"slice", []string{"a"}},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			d := bsonmap.NewDomain()
			if err := d.RegisterDiscriminator(catType, tt.value); !errors.Is(err, bsonmap.ErrConfiguration) {
				t.Errorf("RegisterDiscriminator: got %v, want ErrConfiguration", err)
			}
			cm, err := bsonmap.NewAutoMappedClassMap(catType)
			if err != nil {
				t.Fatalf("NewAutoMappedClassMap failed: %v", err)
			}
			if err := cm.SetDiscriminator(tt.value); !errors.Is(err, bsonmap.ErrConfiguration) {
				t.Errorf("SetDiscriminator: got %v, want ErrConfiguration", err)
			}
		})
	}
}
