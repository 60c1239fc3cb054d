package entity

import (
	"github.com/Faultbox/tilebake/pkg/tiled"
)

// Engine entity type codes. The engine registers its built-in types first,
// so game types start after the last of these.
const (
	TypeStaticColliderRect uint32 = iota
	TypeStaticColliderCircle
	TypeStaticColliderPoly
	TypeStaticColliderEllipse

	// FirstGameType is the lowest code available to game types.
	FirstGameType
)

const colliderVersion uint32 = 1

// RegisterEngineTypes registers the static collider types every game gets.
// Colliders are kept in the quadtree.
func RegisterEngineTypes(reg *Registry) {
	reg.Register("StaticColliderRect", SerializerFunc(serializeRect), StaticTypeCode(TypeStaticColliderRect), true)
	reg.Register("StaticColliderCircle", SerializerFunc(serializeCircle), StaticTypeCode(TypeStaticColliderCircle), true)
	reg.Register("StaticColliderPoly", SerializerFunc(serializePoly), StaticTypeCode(TypeStaticColliderPoly), true)
	reg.Register("StaticColliderEllipse", SerializerFunc(serializeEllipse), StaticTypeCode(TypeStaticColliderEllipse), true)
}

func serializeRect(w *PayloadWriter, obj *tiled.Object) error {
	w.Version(colliderVersion)
	w.F32(float32(obj.Width))
	w.F32(float32(obj.Height))
	return nil
}

// serializeCircle uses the larger of width and height as the diameter.
func serializeCircle(w *PayloadWriter, obj *tiled.Object) error {
	w.Version(colliderVersion)
	w.F32(float32(max(obj.Width, obj.Height) / 2))
	return nil
}

func serializeEllipse(w *PayloadWriter, obj *tiled.Object) error {
	w.Version(colliderVersion)
	w.F32(float32(obj.Width))
	w.F32(float32(obj.Height))
	return nil
}

// serializePoly writes the vertex count and the vertices relative to the
// object origin. Polylines are accepted as open polygons.
func serializePoly(w *PayloadWriter, obj *tiled.Object) error {
	points := obj.Polygon
	if len(points) == 0 {
		points = obj.Polyline
	}
	if len(points) == 0 {
		return missing(obj, "polygon")
	}
	w.Version(colliderVersion)
	w.U32(uint32(len(points)))
	for _, p := range points {
		w.F32(float32(p.X))
		w.F32(float32(p.Y))
	}
	return nil
}
