// Package tiled provides loaders for maps and tile-sets exported by the Tiled
// map editor. JSON (.tmj/.json/.tsj) and XML (.tmx/.tsx) documents are both
// converted into the same read-only model.
package tiled

import (
	"errors"
	"path/filepath"
	"strings"
)

// Global tile id flag bits. Tiled stores flips and rotations in the top
// four bits of every gid.
const (
	FlagFlipHorizontal uint32 = 0x80000000
	FlagFlipVertical   uint32 = 0x40000000
	FlagFlipDiagonal   uint32 = 0x20000000
	FlagRotateHex120   uint32 = 0x10000000

	// GIDMask strips all flag bits from a raw global tile id.
	GIDMask uint32 = 0x0FFFFFFF
)

// Loader errors.
var (
	ErrInvalidMap        = errors.New("invalid map document")
	ErrInvalidTileSet    = errors.New("invalid tile-set document")
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrInfiniteMap       = errors.New("infinite (chunked) maps are not supported")
)

// LayerKind identifies what a layer carries.
type LayerKind int

// Layer kinds.
const (
	TileLayer LayerKind = iota
	ObjectLayer
	ImageLayer
)

// String returns the Tiled name of the layer kind.
func (k LayerKind) String() string {
	switch k {
	case TileLayer:
		return "tilelayer"
	case ObjectLayer:
		return "objectgroup"
	case ImageLayer:
		return "imagelayer"
	default:
		return "unknown"
	}
}

// Map is a parsed map document. It is never mutated after loading.
type Map struct {
	Path       string
	Width      int
	Height     int
	TileWidth  int
	TileHeight int
	TileSets   []TileSetRef
	Layers     []Layer
}

// BaseName returns the map file name without directory and extension.
func (m *Map) BaseName() string {
	base := filepath.Base(m.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// TileLayerCount returns the number of layers that carry tile data.
func (m *Map) TileLayerCount() int {
	n := 0
	for i := range m.Layers {
		if m.Layers[i].HasTiles() {
			n++
		}
	}
	return n
}

// TileSetRef references a tile-set from a map.
type TileSetRef struct {
	// Source identifies the physical tile-set. Refs from different maps with
	// the same Source are the same tile-set, whatever their FirstGID.
	Source string
	// FirstGID is the lowest global tile id owned by this tile-set.
	FirstGID uint32
	// Embedded holds the metadata of tile-sets stored inside the map
	// document itself, or already resolved by the loader.
	Embedded *TileSet
}

// Layer is a single map layer.
type Layer struct {
	Name    string
	Kind    LayerKind
	Width   int
	Height  int
	X       int
	Y       int
	Data    []uint32 // raw global ids, row-major; nil if the layer has no tiles
	Objects []Object
}

// HasTiles reports whether the layer carries tile data.
func (l *Layer) HasTiles() bool {
	return l.Data != nil
}

// Point is a vertex of a polygon or polyline, relative to its object.
type Point struct {
	X, Y float64
}

// Object is a free-form placement from an object layer.
type Object struct {
	ID         int
	Name       string
	Type       string
	X          float64
	Y          float64
	Width      float64
	Height     float64
	Rotation   float64 // degrees, clockwise
	Ellipse    bool
	Point      bool
	Polygon    []Point
	Polyline   []Point
	Properties []Property
}

// Property is a custom property attached to an object.
// Value is a string, float64 or bool depending on Type.
type Property struct {
	Name  string
	Type  string
	Value any
}

// Property returns the custom property with the given name.
func (o *Object) Property(name string) (Property, bool) {
	for _, p := range o.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// TileSet is the metadata of one tile-set image.
type TileSet struct {
	Name        string
	Image       string
	ImageWidth  int
	ImageHeight int
	TileWidth   int
	TileHeight  int
	Margin      int
	Spacing     int
	Columns     int
	TileCount   int
}

// Validate checks that the tile-set can be sliced into tiles.
func (ts *TileSet) Validate() error {
	switch {
	case ts.Image == "":
		return errorf(ErrInvalidTileSet, "tile-set %q has no image", ts.Name)
	case ts.TileWidth <= 0 || ts.TileHeight <= 0:
		return errorf(ErrInvalidTileSet, "tile-set %q has tile size %dx%d", ts.Name, ts.TileWidth, ts.TileHeight)
	case ts.Columns <= 0:
		return errorf(ErrInvalidTileSet, "tile-set %q has %d columns", ts.Name, ts.Columns)
	case ts.Margin < 0 || ts.Spacing < 0:
		return errorf(ErrInvalidTileSet, "tile-set %q has negative margin or spacing", ts.Name)
	}
	return nil
}

// embeddedSource builds the identity used for tile-sets stored inside a map.
func embeddedSource(mapPath, name string) string {
	return filepath.ToSlash(mapPath) + "#" + name
}

// cleanSource normalises a tile-set source as written in a map document.
func cleanSource(source string) string {
	return filepath.ToSlash(filepath.Clean(filepath.FromSlash(source)))
}
