package vector_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"pgregory.net/rapid"

	"github.com/MichaelAJay/go-bsonmap/vector"
)

func TestEncodeLayout(t *testing.T) {
	data, err := vector.Encode([]float32{1, -2.5}, vector.Float32, 0)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []byte{0x27, 0x00, 0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x20, 0xc0}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("float32 layout mismatch (-want +got):\n%s", diff)
	}

	data, err = vector.Encode([]int8{-1, 2}, vector.Int8, 0)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if diff := cmp.Diff([]byte{0x03, 0x00, 0xff, 0x02}, data); diff != "" {
		t.Errorf("int8 layout mismatch (-want +got):\n%s", diff)
	}

	data, err = vector.Encode([]byte{0xf0}, vector.PackedBit, 4)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if diff := cmp.Diff([]byte{0x10, 0x04, 0xf0}, data); diff != "" {
		t.Errorf("packed bit layout mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyVectorIsHeaderOnly(t *testing.T) {
	cases := []struct {
		name   string
		encode func() ([]byte, error)
		tag    byte
	}{
		{"float32", func() ([]byte, error) { return vector.Encode([]float32{}, vector.Float32, 0) }, 0x27},
		{"int8", func() ([]byte, error) { return vector.Encode([]int8{}, vector.Int8, 0) }, 0x03},
		{"packed bit", func() ([]byte, error) { return vector.Encode([]byte{}, vector.PackedBit, 0) }, 0x10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if diff := cmp.Diff([]byte{tc.tag, 0x00}, data); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			_, padding, dt, err := vector.Decode[uint8](data)
			if tc.tag == 0x27 {
				_, padding, dt, err = vector.Decode[float32](data)
			}
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if padding != 0 || byte(dt) != tc.tag {
				t.Errorf("got padding %d type %s", padding, dt)
			}
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"too short", []byte{0x03}, vector.ErrMalformedVector},
		{"padding without data", []byte{0x10, 0x03}, vector.ErrMalformedVector},
		{"padding out of range", []byte{0x10, 0x08, 0xff}, vector.ErrMalformedVector},
		{"padding on int8", []byte{0x03, 0x01, 0x01}, vector.ErrMalformedVector},
		{"float32 payload not multiple of 4", []byte{0x27, 0x00, 1, 2, 3, 4, 5, 6, 7}, vector.ErrMalformedVector},
		{"unknown tag", []byte{0x42, 0x00}, vector.ErrMalformedVector},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, err := vector.ReadHeader(tc.data)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestElementTypeMustMatchTag(t *testing.T) {
	int8Data := []byte{0x03, 0x00, 0x01}
	if _, _, _, err := vector.Decode[int8](int8Data); err != nil {
		t.Errorf("int8 items should decode Int8 data: %v", err)
	}
	if _, _, _, err := vector.Decode[uint8](int8Data); err != nil {
		t.Errorf("uint8 items should decode Int8 data: %v", err)
	}
	if _, _, _, err := vector.Decode[float32](int8Data); !errors.Is(err, vector.ErrTypeMismatch) {
		t.Errorf("expected type mismatch for float32 items, got %v", err)
	}
	if _, _, _, err := vector.Decode[int8]([]byte{0x10, 0x00, 0x01}); !errors.Is(err, vector.ErrTypeMismatch) {
		t.Errorf("expected type mismatch for int8 packed bits, got %v", err)
	}
	if _, err := vector.Encode([]float32{1}, vector.Int8, 0); !errors.Is(err, vector.ErrTypeMismatch) {
		t.Errorf("expected type mismatch encoding float32 as Int8, got %v", err)
	}
}

func TestDecodeCopiesPayload(t *testing.T) {
	data := []byte{0x03, 0x00, 0x07}
	items, _, _, err := vector.Decode[int8](data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	data[2] = 0x09
	if items[0] != 7 {
		t.Errorf("decoded items alias the input buffer")
	}
}

func TestBinaryConversion(t *testing.T) {
	v, err := vector.NewPackedBit([]byte{0xaa, 0x80}, 7)
	if err != nil {
		t.Fatalf("NewPackedBit failed: %v", err)
	}
	if v.Len() != 9 {
		t.Errorf("expected 9 bits, got %d", v.Len())
	}
	b, err := vector.ToBinary(v)
	if err != nil {
		t.Fatalf("ToBinary failed: %v", err)
	}
	if b.Subtype != vector.BinarySubtype {
		t.Errorf("expected subtype 9, got %d", b.Subtype)
	}
	got, err := vector.FromBinary[byte](b)
	if err != nil {
		t.Fatalf("FromBinary failed: %v", err)
	}
	if diff := cmp.Diff(v, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if _, err := vector.FromBinary[byte](primitive.Binary{Subtype: 0, Data: b.Data}); !errors.Is(err, vector.ErrMalformedVector) {
		t.Errorf("expected subtype error, got %v", err)
	}
}

func TestFloat32RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		items := rapid.SliceOf(rapid.Float32()).Draw(t, "items")
		data, err := vector.Encode(items, vector.Float32, 0)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if len(data) != vector.HeaderSize+4*len(items) {
			t.Fatalf("unexpected length %d for %d items", len(data), len(items))
		}
		got, _, _, err := vector.Decode[float32](data)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if len(got) != len(items) {
			t.Fatalf("expected %d items, got %d", len(items), len(got))
		}
		for i := range items {
			if math.Float32bits(got[i]) != math.Float32bits(items[i]) {
				t.Fatalf("item %d: expected %v, got %v", i, items[i], got[i])
			}
		}
	})
}

func TestPackedBitRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		items := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "items")
		padding := rapid.Uint8Range(0, 7).Draw(t, "padding")
		v, err := vector.NewPackedBit(items, padding)
		if err != nil {
			t.Fatalf("NewPackedBit failed: %v", err)
		}
		data, err := v.Bytes()
		if err != nil {
			t.Fatalf("Bytes failed: %v", err)
		}
		got, err := vector.FromBytes[byte](data)
		if err != nil {
			t.Fatalf("FromBytes failed: %v", err)
		}
		if got.Padding != padding || string(got.Items) != string(items) {
			t.Fatalf("round trip mismatch: %+v vs %+v", got, v)
		}
	})
}
