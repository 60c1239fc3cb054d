package entity

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Faultbox/tilebake/pkg/tiled"
)

// ErrInvalidDefinition is returned for malformed type definition documents.
var ErrInvalidDefinition = errors.New("invalid entity type definition")

// Definitions is a YAML document declaring entity types without Go code:
//
//	types:
//	  - name: Sign
//	    code: 7
//	    fields:
//	      - from: width
//	        as: f32
//	      - property: text
//	        as: string
//	        default: ""
type Definitions struct {
	Types []TypeDefinition `yaml:"types"`
}

// TypeDefinition declares one entity type. The payload is the version tag
// followed by every field in order.
type TypeDefinition struct {
	Name    string            `yaml:"name"`
	Code    uint32            `yaml:"code"`
	Flag    bool              `yaml:"flag"`
	Version *uint32           `yaml:"version"`
	Fields  []FieldDefinition `yaml:"fields"`
}

// FieldDefinition is one payload field. Exactly one of From and Property
// is set. From names a built-in object attribute: x, y, width, height,
// rotation, name or id.
type FieldDefinition struct {
	From     string `yaml:"from"`
	Property string `yaml:"property"`
	As       string `yaml:"as"`
	Default  any    `yaml:"default"`
}

var fieldKinds = map[string]bool{"f32": true, "u32": true, "i32": true, "bool": true, "string": true}

var objectAttrs = map[string]bool{
	"x": true, "y": true, "width": true, "height": true, "rotation": true, "name": true, "id": true,
}

// LoadDefinitions reads a definitions file from disk.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions: %w", err)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// ParseDefinitions parses and validates a definitions document.
func ParseDefinitions(data []byte) (*Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	seen := make(map[string]bool, len(defs.Types))
	for i := range defs.Types {
		td := &defs.Types[i]
		if td.Name == "" {
			return nil, fmt.Errorf("%w: type %d has no name", ErrInvalidDefinition, i)
		}
		if seen[td.Name] {
			return nil, fmt.Errorf("%w: type %q declared twice", ErrInvalidDefinition, td.Name)
		}
		seen[td.Name] = true
		for j, f := range td.Fields {
			if err := f.validate(); err != nil {
				return nil, fmt.Errorf("%w: type %q field %d: %v", ErrInvalidDefinition, td.Name, j, err)
			}
		}
	}
	return &defs, nil
}

func (f FieldDefinition) validate() error {
	switch {
	case f.From == "" && f.Property == "":
		return errors.New("needs either from or property")
	case f.From != "" && f.Property != "":
		return errors.New("has both from and property")
	case f.From != "" && !objectAttrs[f.From]:
		return fmt.Errorf("unknown object attribute %q", f.From)
	case !fieldKinds[f.As]:
		return fmt.Errorf("unknown field type %q", f.As)
	}
	return nil
}

// Register adds every declared type to reg, replacing registrations with
// the same name.
func (d *Definitions) Register(reg *Registry) {
	for _, td := range d.Types {
		reg.Register(td.Name, td, StaticTypeCode(td.Code), td.Flag)
	}
}

// Serialize writes the payload described by the definition.
func (td TypeDefinition) Serialize(w *PayloadWriter, obj *tiled.Object) error {
	version := uint32(1)
	if td.Version != nil {
		version = *td.Version
	}
	w.Version(version)

	for _, f := range td.Fields {
		v, err := f.value(obj)
		if err != nil {
			return err
		}
		if err := writeField(w, f.As, v); err != nil {
			return fmt.Errorf("field %s%s: %w", f.From, f.Property, err)
		}
	}
	return nil
}

func (f FieldDefinition) value(obj *tiled.Object) (any, error) {
	switch f.From {
	case "x":
		return obj.X, nil
	case "y":
		return obj.Y, nil
	case "width":
		return obj.Width, nil
	case "height":
		return obj.Height, nil
	case "rotation":
		return obj.Rotation, nil
	case "name":
		return obj.Name, nil
	case "id":
		return float64(obj.ID), nil
	}

	p, ok := obj.Property(f.Property)
	if ok {
		return p.Value, nil
	}
	if f.Default != nil {
		return f.Default, nil
	}
	return nil, missing(obj, f.Property)
}

func writeField(w *PayloadWriter, kind string, v any) error {
	switch kind {
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %T is not a string", ErrPropertyType, v)
		}
		return w.String(s)
	case "bool":
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: %T is not a bool", ErrPropertyType, v)
		}
		w.Bool(b)
		return nil
	}

	n, ok := number(v)
	if !ok {
		return fmt.Errorf("%w: %T is not a number", ErrPropertyType, v)
	}
	switch kind {
	case "f32":
		w.F32(float32(n))
	case "u32":
		if n < 0 || n > math.MaxUint32 || n != math.Trunc(n) {
			return fmt.Errorf("%w: %v does not fit u32", ErrPropertyType, n)
		}
		w.U32(uint32(n))
	case "i32":
		if n < math.MinInt32 || n > math.MaxInt32 || n != math.Trunc(n) {
			return fmt.Errorf("%w: %v does not fit i32", ErrPropertyType, n)
		}
		w.I32(int32(n))
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
