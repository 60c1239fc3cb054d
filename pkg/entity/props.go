package entity

import (
	"errors"
	"fmt"
	"math"

	"github.com/Faultbox/tilebake/pkg/tiled"
)

// ErrPropertyType is returned when a custom property has the wrong type.
var ErrPropertyType = errors.New("custom property has wrong type")

// MissingPropertyError reports a required custom property that a placement
// does not carry.
type MissingPropertyError struct {
	ObjectID int
	Object   string
	Type     string
	Property string
}

func (e *MissingPropertyError) Error() string {
	return fmt.Sprintf("object %d (%q, type %s) is missing property %q",
		e.ObjectID, e.Object, e.Type, e.Property)
}

func missing(obj *tiled.Object, name string) error {
	return &MissingPropertyError{ObjectID: obj.ID, Object: obj.Name, Type: obj.Type, Property: name}
}

func wrongType(obj *tiled.Object, p tiled.Property, want string) error {
	return fmt.Errorf("%w: object %d property %q is %T, want %s", ErrPropertyType, obj.ID, p.Name, p.Value, want)
}

// PropString returns a string custom property.
func PropString(obj *tiled.Object, name string) (string, error) {
	p, ok := obj.Property(name)
	if !ok {
		return "", missing(obj, name)
	}
	s, ok := p.Value.(string)
	if !ok {
		return "", wrongType(obj, p, "string")
	}
	return s, nil
}

// PropFloat returns a numeric custom property.
func PropFloat(obj *tiled.Object, name string) (float64, error) {
	p, ok := obj.Property(name)
	if !ok {
		return 0, missing(obj, name)
	}
	switch v := p.Value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, wrongType(obj, p, "number")
}

// PropInt returns an integral custom property.
func PropInt(obj *tiled.Object, name string) (int64, error) {
	f, err := PropFloat(obj, name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		p, _ := obj.Property(name)
		return 0, wrongType(obj, p, "integer")
	}
	return int64(f), nil
}

// PropBool returns a boolean custom property.
func PropBool(obj *tiled.Object, name string) (bool, error) {
	p, ok := obj.Property(name)
	if !ok {
		return false, missing(obj, name)
	}
	b, ok := p.Value.(bool)
	if !ok {
		return false, wrongType(obj, p, "bool")
	}
	return b, nil
}
