// Package gameobjects registers the game's own entity types on top of the
// engine types.
package gameobjects

import (
	"github.com/Faultbox/tilebake/pkg/entity"
	"github.com/Faultbox/tilebake/pkg/tiled"
)

// Game entity type codes.
const (
	TypePlayerStart uint32 = entity.FirstGameType + iota
	TypeExit
	TypeWoodedArea
)

const payloadVersion uint32 = 1

// Register adds the game types to reg.
func Register(reg *entity.Registry) {
	reg.Register("WoodedArea", entity.SerializerFunc(serializeWoodedArea), entity.StaticTypeCode(TypeWoodedArea), false)
	reg.Register("PlayerStart", entity.SerializerFunc(serializePlayerStart), entity.StaticTypeCode(TypePlayerStart), false)
	reg.Register("Exit", entity.SerializerFunc(serializeExit), entity.StaticTypeCode(TypeExit), false)
}

// serializeWoodedArea writes the tree mix and density followed by the area
// size.
func serializeWoodedArea(w *entity.PayloadWriter, obj *tiled.Object) error {
	var mix [3]float64
	for i, name := range []string{"ConiferousPercentage", "DeciduousPercentage", "PerMeterDensity"} {
		v, err := entity.PropFloat(obj, name)
		if err != nil {
			return err
		}
		mix[i] = v
	}

	w.Version(payloadVersion)
	for _, v := range mix {
		w.F32(float32(v))
	}
	w.F32(float32(obj.Width))
	w.F32(float32(obj.Height))
	return nil
}

// serializePlayerStart writes the location the player arrives from and the
// name of this location.
func serializePlayerStart(w *entity.PayloadWriter, obj *tiled.Object) error {
	from, err := entity.PropString(obj, "from")
	if err != nil {
		return err
	}
	here, err := entity.PropString(obj, "thisLocation")
	if err != nil {
		return err
	}

	w.Version(payloadVersion)
	if err := w.String(from); err != nil {
		return err
	}
	return w.String(here)
}

func serializeExit(w *entity.PayloadWriter, obj *tiled.Object) error {
	to, err := entity.PropString(obj, "to")
	if err != nil {
		return err
	}

	w.Version(payloadVersion)
	w.F32(float32(obj.Width))
	w.F32(float32(obj.Height))
	return w.String(to)
}
