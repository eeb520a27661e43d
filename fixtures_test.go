package bsonmap_test

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/MichaelAJay/go-bsonmap"
)

// Animal -> Cat -> Lion has no root class, so discriminators are scalar.
type Animal struct {
	ID   primitive.ObjectID `bson:"_id"`
	Name string             `bson:"name"`
}

type Cat struct {
	Animal
	Lives int `bson:"lives"`
}

type Lion struct {
	Cat
	Pride string `bson:"pride,omitempty"`
}

type Dog struct {
	Animal
	Breed string `bson:"breed"`
}

// Vehicle -> Car (root) -> SportsCar gets array discriminators below Car.
type Vehicle struct {
	Wheels int `bson:"wheels"`
}

type Car struct {
	Vehicle
	_     bsonmap.Class `bson:"root"`
	Doors int           `bson:"doors"`
}

type SportsCar struct {
	Car
	TopSpeed int `bson:"topSpeed"`
}

// Node -> Branch -> Bud stays scalar while its sibling Node -> Trunk (root)
// -> Limb -> Twig gets array discriminators below Trunk.
type Node struct {
	Label string `bson:"label"`
}

type Branch struct {
	Node
	Forks int `bson:"forks"`
}

type Bud struct {
	Branch
	Open bool `bson:"open"`
}

type Trunk struct {
	Node
	_     bsonmap.Class `bson:"root"`
	Girth int           `bson:"girth"`
}

type Limb struct {
	Trunk
	Length int `bson:"length"`
}

type Twig struct {
	Limb
	Leaves int `bson:"leaves"`
}

// Pear and Plum are unrelated roots whose leaves share the short name Leaf.
type Pear struct {
	_    bsonmap.Class `bson:"root"`
	Kind string        `bson:"kind"`
}

type PearLeaf struct {
	Pear
	_    bsonmap.Class `bson:"discriminator=Leaf"`
	Vein int           `bson:"vein"`
}

type Plum struct {
	_    bsonmap.Class `bson:"root"`
	Kind string        `bson:"kind"`
}

type PlumLeaf struct {
	Plum
	_     bsonmap.Class `bson:"discriminator=Leaf"`
	Bloom bool          `bson:"bloom"`
}

type Shape interface {
	Area() float64
}

type Square struct {
	Side float64 `bson:"side"`
}

func (s Square) Area() float64 { return s.Side * s.Side }

type Circle struct {
	Radius float64 `bson:"radius"`
}

func (c *Circle) Area() float64 { return 3 * c.Radius * c.Radius }

type Drawing struct {
	Title  string  `bson:"title"`
	Shapes []Shape `bson:"shapes"`
}

type Holder struct {
	Value any `bson:"value"`
}

type Code string

type codeSerializer struct {
	tag string
}

func (s *codeSerializer) ValueType() reflect.Type { return reflect.TypeFor[Code]() }

func (s *codeSerializer) Serialize(ctx *bsonmap.SerializationContext, _ bsonmap.SerializationArgs, v reflect.Value) error {
	return ctx.Writer().WriteString(strings.ToUpper(v.String()))
}

func (s *codeSerializer) Deserialize(ctx *bsonmap.DeserializationContext, _ bsonmap.DeserializationArgs) (reflect.Value, error) {
	str, err := ctx.Reader().ReadString()
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(Code(strings.ToLower(str))), nil
}

type Ticket struct {
	Code Code `bson:"code"`
}

var (
	animalType  = reflect.TypeFor[Animal]()
	catType     = reflect.TypeFor[Cat]()
	lionType    = reflect.TypeFor[Lion]()
	vehicleType = reflect.TypeFor[Vehicle]()
	shapeType   = reflect.TypeFor[Shape]()
	anyType     = reflect.TypeFor[any]()
	nodeType    = reflect.TypeFor[Node]()
	branchType  = reflect.TypeFor[Branch]()
	budType     = reflect.TypeFor[Bud]()
	trunkType   = reflect.TypeFor[Trunk]()
	limbType    = reflect.TypeFor[Limb]()
	twigType    = reflect.TypeFor[Twig]()
)

// serializeAs writes v through the serializer of nominal.
func serializeAs(t *testing.T, d *bsonmap.Domain, nominal reflect.Type, v any) bson.Raw {
	t.Helper()
	var buf bytes.Buffer
	vw, err := bsonrw.NewBSONValueWriter(&buf)
	if err != nil {
		t.Fatalf("NewBSONValueWriter: %v", err)
	}
	if err := d.Serialize(vw, nominal, v, nil, bsonmap.SerializationArgs{}); err != nil {
		t.Fatalf("Serialize(%s, %T) failed: %v", nominal, v, err)
	}
	return bson.Raw(buf.Bytes())
}

// deserializeAs reads data through the serializer of nominal.
func deserializeAs(d *bsonmap.Domain, nominal reflect.Type, data []byte) (any, error) {
	return d.Deserialize(bsonrw.NewBSONDocumentReader(data), nominal, nil)
}

// mustMarshalDoc encodes doc with the driver, bypassing any domain.
func mustMarshalDoc(t *testing.T, doc bson.D) []byte {
	t.Helper()
	data, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("bson.Marshal: %v", err)
	}
	return data
}

// discriminatorOf returns the _t element rendered as a string or []string.
func discriminatorOf(t *testing.T, raw bson.Raw) any {
	t.Helper()
	v, err := raw.LookupErr(bsonmap.DefaultDiscriminatorElementName)
	if err != nil {
		return nil
	}
	if s, ok := v.StringValueOK(); ok {
		return s
	}
	arr, ok := v.ArrayOK()
	if !ok {
		t.Fatalf("discriminator has BSON type %s", v.Type)
	}
	values, err := arr.Values()
	if err != nil {
		t.Fatalf("reading discriminator array: %v", err)
	}
	out := make([]string, len(values))
	for i, x := range values {
		out[i] = x.StringValue()
	}
	return out
}
