// Package bsonmap maps Go values to and from BSON.
//
// A Domain owns everything resolution needs: the serializer registry and its
// providers, class maps describing how structs become documents, the
// discriminator tables used to recover concrete types, and id generators.
// Domains are safe for concurrent use; DefaultDomain returns a process-wide
// one.
//
// Structs are mapped through class maps. A struct whose first field is an
// embedded struct derives from it, and a discriminator (element "_t" by
// default) is written whenever the nominal type differs from the value's
// type:
//
//	type Animal struct {
//		_    bsonmap.Class `bson:"root"`
//		Name string        `bson:"name"`
//	}
//
//	type Cat struct {
//		Animal
//		Lives int `bson:"lives"`
//	}
//
//	cat := Cat{Animal: Animal{Name: "tom"}, Lives: 9}
//	err := d.Serialize(vw, reflect.TypeFor[Animal](), cat, nil, bsonmap.SerializationArgs{})
//	// {"_t": ["Animal", "Cat"], "name": "tom", "lives": 9}
//
// Values of interface type, including any, are written with enough type
// information to be read back: a discriminator for class-mapped structs and
// a {_t, _v} wrapper for everything else that does not read back as itself.
package bsonmap
