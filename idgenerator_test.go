package bsonmap_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/MichaelAJay/go-bsonmap"
)

func TestEnsureDocumentIDObjectID(t *testing.T) {
	d := bsonmap.NewDomain()
	cat := &Cat{Animal: Animal{Name: "Tom"}}

	id, generated, err := d.EnsureDocumentID(cat)
	if err != nil {
		t.Fatalf("EnsureDocumentID failed: %v", err)
	}
	if !generated {
		t.Fatal("no id was generated for an empty ObjectID")
	}
	oid, ok := id.(primitive.ObjectID)
	if !ok || oid.IsZero() {
		t.Fatalf("generated id = %#v, want a non-zero ObjectID", id)
	}
	if cat.ID != oid {
		t.Errorf("document id = %s, want %s", cat.ID.Hex(), oid.Hex())
	}

	again, generated, err := d.EnsureDocumentID(cat)
	if err != nil {
		t.Fatalf("second EnsureDocumentID failed: %v", err)
	}
	if generated || again != oid {
		t.Errorf("second call = (%v, %v), want the existing id", again, generated)
	}
}

type Session struct {
	ID    uuid.UUID `bson:"_id"`
	Owner string    `bson:"owner"`
}

func TestEnsureDocumentIDUUID(t *testing.T) {
	d := bsonmap.NewDomain()
	s := &Session{Owner: "ana"}
	id, generated, err := d.EnsureDocumentID(s)
	if err != nil {
		t.Fatalf("EnsureDocumentID failed: %v", err)
	}
	if !generated || s.ID == uuid.Nil || id != s.ID {
		t.Errorf("got (%v, %v), document id %s", id, generated, s.ID)
	}
}

type Counter struct {
	ID    int `bson:"_id"`
	Count int `bson:"count"`
}

func TestIDCheckers(t *testing.T) {
	tests := []struct {
		name    string
		opts    []bsonmap.Option
		doc     *Counter
		wantErr bool
	}{
		{"no checker leaves zero ids alone", nil, &Counter{}, false},
		{"zero checker rejects zero ids", []bsonmap.Option{bsonmap.WithDefaults(bsonmap.Defaults{UseZeroIDChecker: true})}, &Counter{}, true},
		{"zero checker accepts set ids", []bsonmap.Option{bsonmap.WithDefaults(bsonmap.Defaults{UseZeroIDChecker: true})}, &Counter{ID: 4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := bsonmap.NewDomain(tt.opts...)
			_, generated, err := d.EnsureDocumentID(tt.doc)
			if tt.wantErr {
				if !errors.Is(err, bsonmap.ErrConfiguration) {
					t.Errorf("got %v, want ErrConfiguration", err)
				}
				return
			}
			if err != nil || generated {
				t.Errorf("got (%v, %v), want (false, nil)", generated, err)
			}
		})
	}
}

type sequence struct{ next int }

func (s *sequence) GenerateID(_, _ any) (any, error) {
	s.next++
	return s.next, nil
}

func (s *sequence) IsEmpty(id any) bool { return id == 0 }

func TestIDGenerators(t *testing.T) {
	d := bsonmap.NewDomain()
	intType := reflect.TypeFor[int]()
	seq := &sequence{next: 100}
	if err := d.RegisterIDGenerator(intType, seq); err != nil {
		t.Fatalf("RegisterIDGenerator failed: %v", err)
	}
	if err := d.RegisterIDGenerator(intType, &sequence{}); !errors.Is(err, bsonmap.ErrConfiguration) {
		t.Errorf("second registration: got %v, want ErrConfiguration", err)
	}
	if d.LookupIDGenerator(intType) != bsonmap.IDGenerator(seq) {
		t.Error("LookupIDGenerator did not return the registered generator")
	}

	c := &Counter{}
	if _, _, err := d.EnsureDocumentID(c); err != nil {
		t.Fatalf("EnsureDocumentID failed: %v", err)
	}
	if c.ID != 101 {
		t.Errorf("ID = %d, want 101", c.ID)
	}

	// A member generator takes precedence over the type's.
	type Ledger struct {
		ID int `bson:"_id"`
	}
	own := &sequence{next: 7}
	err := bsonmap.RegisterClassMapFor[Ledger](d, func(cm *bsonmap.ClassMap) error {
		return cm.IDMemberMap().SetIDGenerator(own)
	})
	if err != nil {
		t.Fatalf("RegisterClassMapFor failed: %v", err)
	}
	l := &Ledger{}
	if _, _, err := d.EnsureDocumentID(l); err != nil {
		t.Fatalf("EnsureDocumentID failed: %v", err)
	}
	if l.ID != 8 {
		t.Errorf("ID = %d, want 8", l.ID)
	}
}

func TestEnsureDocumentIDRejectsNonDocuments(t *testing.T) {
	d := bsonmap.NewDomain()
	type noID struct {
		Name string `bson:"name"`
	}
	for _, doc := range []any{nil, Cat{}, (*Cat)(nil), &noID{}} {
		if _, _, err := d.EnsureDocumentID(doc); !errors.Is(err, bsonmap.ErrConfiguration) {
			t.Errorf("EnsureDocumentID(%#v): got %v, want ErrConfiguration", doc, err)
		}
	}
}
