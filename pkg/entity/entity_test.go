package entity

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Faultbox/tilebake/pkg/encoding"
	"github.com/Faultbox/tilebake/pkg/tiled"
)

// le builds a little-endian byte sequence from fixed-size values and raw
// byte slices.
func le(values ...any) []byte {
	var buf bytes.Buffer
	for _, v := range values {
		if b, ok := v.([]byte); ok {
			buf.Write(b)
			continue
		}
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			panic(err)
		}
	}
	return buf.Bytes()
}

// serializeExit mirrors the game's Exit payload.
func serializeExit(w *PayloadWriter, obj *tiled.Object) error {
	to, err := PropString(obj, "to")
	if err != nil {
		return err
	}
	w.Version(1)
	w.F32(float32(obj.Width))
	w.F32(float32(obj.Height))
	return w.String(to)
}

func objectMap(objects ...tiled.Object) *tiled.Map {
	return &tiled.Map{
		Path: "level.json",
		Layers: []tiled.Layer{
			{Name: "ground", Width: 1, Height: 1, Data: []uint32{0}},
			{Name: "entities", Kind: tiled.ObjectLayer, Objects: objects},
		},
	}
}

func exitObject(id int) tiled.Object {
	return tiled.Object{
		ID: id, Type: "Exit", X: 8, Y: 16, Width: 32, Height: 16, Rotation: 90,
		Properties: []tiled.Property{{Name: "to", Type: "string", Value: "town"}},
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(nil)
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}

	reg.Register("Exit", SerializerFunc(serializeExit), StaticTypeCode(5), false)
	reg.Register("Door", SerializerFunc(serializeExit), StaticTypeCode(9), true)

	got, ok := reg.Resolve("Exit")
	if !ok {
		t.Fatal("expected Exit to resolve")
	}
	if code := got.TypeCode(nil); code != 5 {
		t.Errorf("expected code 5, got %d", code)
	}

	// Re-registering replaces the entry.
	reg.Register("Exit", SerializerFunc(serializeExit), StaticTypeCode(12), true)
	got, _ = reg.Resolve("Exit")
	if code := got.TypeCode(nil); code != 12 || !got.Flag {
		t.Errorf("expected replaced registration, got code %d flag %v", code, got.Flag)
	}
	if reg.Len() != 2 {
		t.Errorf("expected 2 registrations, got %d", reg.Len())
	}

	if _, ok := reg.Resolve("Missing"); ok {
		t.Error("expected unknown type not to resolve")
	}
	if names := reg.Names(); !reflect.DeepEqual(names, []string{"Door", "Exit"}) {
		t.Errorf("Names() = %v", names)
	}
}

func TestPayloadWriter(t *testing.T) {
	w := NewPayloadWriter(encoding.MustLookup("windows-1252"))
	w.U32(7)
	w.I32(-1)
	w.F32(1.5)
	w.Bool(true)
	if err := w.String("é"); err != nil {
		t.Fatalf("String failed: %v", err)
	}

	want := le(uint32(7), int32(-1), float32(1.5), uint32(1), uint32(1), []byte{0xE9})
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("payload = % X\nwant      % X", w.Bytes(), want)
	}

	w.Reset()
	if w.Len() != 0 {
		t.Errorf("expected empty payload after Reset, got %d bytes", w.Len())
	}
}

func TestRecordWriter_Exit(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("Exit", SerializerFunc(serializeExit), StaticTypeCode(5), false)

	var buf bytes.Buffer
	stats, err := NewRecordWriter(reg, Options{}, nil).Write(&buf, []*tiled.Map{objectMap(exitObject(1))})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	want := le(uint32(5), uint32(1), float32(32), float32(16), uint32(4), []byte("town"))
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("stream = % X\nwant     % X", buf.Bytes(), want)
	}
	if stats.Records != 1 || stats.PerType["Exit"] != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRecordWriter_Unregistered(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("Exit", SerializerFunc(serializeExit), StaticTypeCode(5), false)
	m := objectMap(tiled.Object{ID: 1, Type: "Tree"}, exitObject(2))

	t.Run("skip by default", func(t *testing.T) {
		var buf bytes.Buffer
		stats, err := NewRecordWriter(reg, Options{}, nil).Write(&buf, []*tiled.Map{m})
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if stats.Unregistered != 1 || stats.Records != 1 {
			t.Errorf("unexpected stats %+v", stats)
		}
		if binary.LittleEndian.Uint32(buf.Bytes()) != 5 {
			t.Error("expected stream to start with the Exit record")
		}
	})

	t.Run("fail", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := NewRecordWriter(reg, Options{OnUnregistered: PolicyFail}, nil).Write(&buf, []*tiled.Map{m})
		var uerr *UnregisteredTypeError
		if !errors.As(err, &uerr) {
			t.Fatalf("expected UnregisteredTypeError, got %v", err)
		}
		if uerr.Type != "Tree" || uerr.ObjectID != 1 || uerr.Layer != "entities" || uerr.Map != "level.json" {
			t.Errorf("unexpected error fields %+v", uerr)
		}
		if buf.Len() != 0 {
			t.Errorf("expected nothing written on failure, got %d bytes", buf.Len())
		}
	})
}

func TestRecordWriter_MissingProperty(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("Exit", SerializerFunc(serializeExit), StaticTypeCode(5), false)

	// The serializer writes its fields before it notices the missing property.
	reg.Register("Late", SerializerFunc(func(w *PayloadWriter, obj *tiled.Object) error {
		w.Version(1)
		w.F32(float32(obj.Width))
		_, err := PropString(obj, "label")
		return err
	}), StaticTypeCode(8), false)

	m := objectMap(tiled.Object{ID: 1, Type: "Late", Width: 3}, exitObject(2))

	t.Run("fail by default", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := NewRecordWriter(reg, Options{}, nil).Write(&buf, []*tiled.Map{m})
		var mp *MissingPropertyError
		if !errors.As(err, &mp) {
			t.Fatalf("expected MissingPropertyError, got %v", err)
		}
		if mp.Property != "label" || mp.ObjectID != 1 {
			t.Errorf("unexpected error fields %+v", mp)
		}
	})

	t.Run("skip keeps the stream intact", func(t *testing.T) {
		var buf bytes.Buffer
		stats, err := NewRecordWriter(reg, Options{OnMissingProperty: PolicySkip}, nil).Write(&buf, []*tiled.Map{m})
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		want := le(uint32(5), uint32(1), float32(32), float32(16), uint32(4), []byte("town"))
		if !bytes.Equal(buf.Bytes(), want) {
			t.Errorf("stream = % X\nwant     % X", buf.Bytes(), want)
		}
		if stats.MissingProperty != 1 {
			t.Errorf("expected 1 skipped object, got %d", stats.MissingProperty)
		}
	})
}

func TestRecordWriter_Framing(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("Exit", SerializerFunc(serializeExit), StaticTypeCode(5), true)

	opts := Options{Header: true, LengthPrefix: true, Transform: true}
	var buf bytes.Buffer
	if _, err := NewRecordWriter(reg, opts, nil).Write(&buf, []*tiled.Map{objectMap(exitObject(1))}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	transform := le(int32(1), float32(8), float32(16), float32(1), float32(1), float32(math.Pi/2), uint32(1))
	payload := le(uint32(1), float32(32), float32(16), uint32(4), []byte("town"))
	want := le(uint32(ObjectsFileVersion), uint32(1), uint32(5),
		uint32(len(transform)+len(payload)), transform, payload)

	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("stream = % X\nwant     % X", buf.Bytes(), want)
	}
}

func TestRecordWriter_MultipleMaps(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("Exit", SerializerFunc(serializeExit), StaticTypeCode(5), false)

	a := objectMap(exitObject(1))
	b := objectMap(exitObject(2), exitObject(3))
	var buf bytes.Buffer
	stats, err := NewRecordWriter(reg, Options{Header: true}, nil).Write(&buf, []*tiled.Map{a, b})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if stats.Records != 3 {
		t.Errorf("expected 3 records, got %d", stats.Records)
	}
	if n := binary.LittleEndian.Uint32(buf.Bytes()[4:]); n != 3 {
		t.Errorf("header count = %d, want 3", n)
	}

	var total Stats
	total.Add(stats)
	total.Add(stats)
	if total.Records != 6 || total.PerType["Exit"] != 6 {
		t.Errorf("unexpected merged stats %+v", total)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("", PolicyFail); err != nil || p != PolicyFail {
		t.Errorf("ParsePolicy(\"\") = %v, %v", p, err)
	}
	if p, err := ParsePolicy("skip", PolicyFail); err != nil || p != PolicySkip {
		t.Errorf("ParsePolicy(skip) = %v, %v", p, err)
	}
	if _, err := ParsePolicy("ignore", PolicySkip); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("expected ErrUnknownPolicy, got %v", err)
	}
}

func TestProps(t *testing.T) {
	obj := &tiled.Object{ID: 3, Type: "Thing", Properties: []tiled.Property{
		{Name: "label", Type: "string", Value: "hi"},
		{Name: "count", Type: "int", Value: float64(4)},
		{Name: "ratio", Type: "float", Value: 0.25},
		{Name: "on", Type: "bool", Value: true},
	}}

	if s, err := PropString(obj, "label"); err != nil || s != "hi" {
		t.Errorf("PropString = %q, %v", s, err)
	}
	if n, err := PropInt(obj, "count"); err != nil || n != 4 {
		t.Errorf("PropInt = %d, %v", n, err)
	}
	if f, err := PropFloat(obj, "ratio"); err != nil || f != 0.25 {
		t.Errorf("PropFloat = %v, %v", f, err)
	}
	if b, err := PropBool(obj, "on"); err != nil || !b {
		t.Errorf("PropBool = %v, %v", b, err)
	}

	if _, err := PropInt(obj, "ratio"); !errors.Is(err, ErrPropertyType) {
		t.Errorf("expected ErrPropertyType for fractional int, got %v", err)
	}
	if _, err := PropString(obj, "count"); !errors.Is(err, ErrPropertyType) {
		t.Errorf("expected ErrPropertyType, got %v", err)
	}
	var mp *MissingPropertyError
	if _, err := PropFloat(obj, "nope"); !errors.As(err, &mp) {
		t.Errorf("expected MissingPropertyError, got %v", err)
	}
}

func TestEngineTypes(t *testing.T) {
	reg := NewRegistry(nil)
	RegisterEngineTypes(reg)

	tests := []struct {
		obj  tiled.Object
		want []byte
	}{
		{
			tiled.Object{Type: "StaticColliderRect", Width: 10, Height: 4},
			le(TypeStaticColliderRect, uint32(1), float32(10), float32(4)),
		},
		{
			tiled.Object{Type: "StaticColliderCircle", Width: 6, Height: 8},
			le(TypeStaticColliderCircle, uint32(1), float32(4)),
		},
		{
			tiled.Object{Type: "StaticColliderPoly", Polygon: []tiled.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 3}}},
			le(TypeStaticColliderPoly, uint32(1), uint32(3),
				float32(0), float32(0), float32(4), float32(0), float32(0), float32(3)),
		},
		{
			tiled.Object{Type: "StaticColliderEllipse", Ellipse: true, Width: 5, Height: 2},
			le(TypeStaticColliderEllipse, uint32(1), float32(5), float32(2)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.obj.Type, func(t *testing.T) {
			var buf bytes.Buffer
			if _, err := NewRecordWriter(reg, Options{}, nil).Write(&buf, []*tiled.Map{objectMap(tt.obj)}); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if !bytes.Equal(buf.Bytes(), tt.want) {
				t.Errorf("record = % X\nwant     % X", buf.Bytes(), tt.want)
			}
		})
	}

	if FirstGameType != 4 {
		t.Errorf("FirstGameType = %d, want 4", FirstGameType)
	}
}

func TestEngineTypes_EmptyPolygon(t *testing.T) {
	reg := NewRegistry(nil)
	RegisterEngineTypes(reg)

	var buf bytes.Buffer
	_, err := NewRecordWriter(reg, Options{}, nil).Write(&buf,
		[]*tiled.Map{objectMap(tiled.Object{ID: 4, Type: "StaticColliderPoly"})})
	var mp *MissingPropertyError
	if !errors.As(err, &mp) || mp.Property != "polygon" {
		t.Errorf("expected missing polygon, got %v", err)
	}
}

const signDefs = `
types:
  - name: Sign
    code: 7
    flag: true
    fields:
      - from: width
        as: f32
      - from: id
        as: u32
      - property: text
        as: string
      - property: lit
        as: bool
        default: false
  - name: Marker
    code: 8
    version: 3
`

func TestDefinitions(t *testing.T) {
	defs, err := ParseDefinitions([]byte(signDefs))
	if err != nil {
		t.Fatalf("ParseDefinitions failed: %v", err)
	}
	if len(defs.Types) != 2 {
		t.Fatalf("expected 2 types, got %d", len(defs.Types))
	}

	reg := NewRegistry(nil)
	defs.Register(reg)
	sign, ok := reg.Resolve("Sign")
	if !ok || !sign.Flag {
		t.Fatalf("expected Sign registered with flag, got %+v %v", sign, ok)
	}

	m := objectMap(
		tiled.Object{ID: 9, Type: "Sign", Width: 12, Properties: []tiled.Property{
			{Name: "text", Type: "string", Value: "Inn"},
		}},
		tiled.Object{ID: 10, Type: "Marker"},
	)
	var buf bytes.Buffer
	if _, err := NewRecordWriter(reg, Options{}, nil).Write(&buf, []*tiled.Map{m}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	want := le(
		uint32(7), uint32(1), float32(12), uint32(9), uint32(3), []byte("Inn"), uint32(0),
		uint32(8), uint32(3),
	)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("stream = % X\nwant     % X", buf.Bytes(), want)
	}
}

func TestDefinitions_MissingProperty(t *testing.T) {
	defs, err := ParseDefinitions([]byte(signDefs))
	if err != nil {
		t.Fatalf("ParseDefinitions failed: %v", err)
	}
	reg := NewRegistry(nil)
	defs.Register(reg)

	var buf bytes.Buffer
	_, err = NewRecordWriter(reg, Options{}, nil).Write(&buf,
		[]*tiled.Map{objectMap(tiled.Object{ID: 1, Type: "Sign"})})
	var mp *MissingPropertyError
	if !errors.As(err, &mp) || mp.Property != "text" {
		t.Errorf("expected missing text property, got %v", err)
	}
}

func TestParseDefinitions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "types: ["},
		{"no name", "types:\n  - code: 1\n"},
		{"duplicate", "types:\n  - name: A\n  - name: A\n"},
		{"no source", "types:\n  - name: A\n    fields:\n      - as: f32\n"},
		{"both sources", "types:\n  - name: A\n    fields:\n      - from: x\n        property: y\n        as: f32\n"},
		{"bad attribute", "types:\n  - name: A\n    fields:\n      - from: depth\n        as: f32\n"},
		{"bad kind", "types:\n  - name: A\n    fields:\n      - from: x\n        as: f64\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDefinitions([]byte(tt.doc)); !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("expected ErrInvalidDefinition, got %v", err)
			}
		})
	}
}

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	if err := os.WriteFile(path, []byte(signDefs), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("LoadDefinitions failed: %v", err)
	}
	if defs.Types[1].Version == nil || *defs.Types[1].Version != 3 {
		t.Errorf("expected Marker version 3")
	}

	if _, err := LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
