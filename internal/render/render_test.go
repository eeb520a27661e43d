package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestJSONKeepsElementOrder(t *testing.T) {
	doc := primitive.D{
		{Key: "z", Value: int32(1)},
		{Key: "a", Value: primitive.A{"x", primitive.D{{Key: "b", Value: true}}}},
		{Key: "html", Value: "<b>"},
	}

	data, err := NewJSONRenderer(false).Render(doc)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := `{"z":1,"a":["x",{"b":true}],"html":"<b>"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestNormalizeScalars(t *testing.T) {
	oid := primitive.NewObjectID()
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"object id", oid, oid.Hex()},
		{"bytes", []byte{0xde, 0xad}, "dead"},
		{"datetime", primitive.NewDateTimeFromTime(when), when},
		{"map sorted", primitive.M{"b": 1, "a": 2}, Document{{Key: "a", Value: 2}, {Key: "b", Value: 1}}},
		{"nil", nil, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, Normalize(tc.in)); diff != "" {
				t.Errorf("Normalize mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMsgpackRendersDocumentsAsMaps(t *testing.T) {
	var buf bytes.Buffer
	doc := primitive.D{{Key: "name", Value: "ada"}, {Key: "n", Value: int64(3)}}
	if err := NewMsgpackRenderer().RenderTo(&buf, doc); err != nil {
		t.Fatalf("RenderTo failed: %v", err)
	}

	var got map[string]any
	if err := msgpack.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	want := map[string]any{"name": "ada", "n": int64(3)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("msgpack mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry(t *testing.T) {
	if _, err := DefaultRegistry.New(JSON); err != nil {
		t.Errorf("json renderer missing: %v", err)
	}
	if _, err := DefaultRegistry.New(Msgpack); err != nil {
		t.Errorf("msgpack renderer missing: %v", err)
	}
	if _, err := DefaultRegistry.New(Format("cbor")); err == nil {
		t.Error("expected an error for an unregistered format")
	}
}

func TestTypeOf(t *testing.T) {
	tests := map[any]Type{
		"s":                   TypeString,
		int32(1):              TypeInt,
		2.5:                   TypeFloat,
		true:                  TypeBool,
		primitive.ObjectID{}:  TypeObjectID,
		primitive.MinKey{}:    TypeOther,
		primitive.Timestamp{}: TypeOther,
	}
	for in, want := range tests {
		if got := TypeOf(in); got != want {
			t.Errorf("TypeOf(%#v) = %s, want %s", in, got, want)
		}
	}
	if got := TypeOf(nil); got != TypeNil {
		t.Errorf("TypeOf(nil) = %s, want %s", got, TypeNil)
	}
	if got := TypeOf(primitive.D{}); got != TypeDocument {
		t.Errorf("TypeOf(D) = %s, want %s", got, TypeDocument)
	}
}
