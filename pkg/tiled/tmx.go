package tiled

import (
	"fmt"
	"io/fs"
	"strconv"

	gotiled "github.com/lafriks/go-tiled"
)

// LoadTMXFile loads a Tiled XML map from the OS file system.
func LoadTMXFile(path string) (*Map, error) {
	tm, err := gotiled.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load TMX %s: %v", ErrInvalidMap, path, err)
	}
	return fromTMX(tm, path)
}

// LoadTMX loads a Tiled XML map from fsys. External tile-sets are resolved
// inside the same file system.
func LoadTMX(fsys fs.FS, path string) (*Map, error) {
	tm, err := gotiled.LoadFile(path, gotiled.WithFileSystem(fsys))
	if err != nil {
		return nil, fmt.Errorf("%w: load TMX %s: %v", ErrInvalidMap, path, err)
	}
	return fromTMX(tm, path)
}

// fromTMX converts a go-tiled map. go-tiled keeps tile layers and object
// groups in separate lists, so tile layers come first in the result. The
// tile-set metadata is always resolved by go-tiled and carried inline.
// go-tiled does not decode <point/>, so TMX objects never set Point.
func fromTMX(tm *gotiled.Map, path string) (*Map, error) {
	m := &Map{
		Path:       path,
		Width:      tm.Width,
		Height:     tm.Height,
		TileWidth:  tm.TileWidth,
		TileHeight: tm.TileHeight,
		TileSets:   make([]TileSetRef, 0, len(tm.Tilesets)),
	}

	seen := make(map[uint32]bool, len(tm.Tilesets))
	for _, ts := range tm.Tilesets {
		if seen[ts.FirstGID] {
			return nil, errorf(ErrInvalidMap, "duplicate tile-set firstgid %d", ts.FirstGID)
		}
		seen[ts.FirstGID] = true

		meta := &TileSet{
			Name:       ts.Name,
			TileWidth:  ts.TileWidth,
			TileHeight: ts.TileHeight,
			Margin:     ts.Margin,
			Spacing:    ts.Spacing,
			Columns:    ts.Columns,
			TileCount:  ts.TileCount,
		}
		if ts.Image != nil {
			meta.Image = ts.Image.Source
			meta.ImageWidth = ts.Image.Width
			meta.ImageHeight = ts.Image.Height
		}

		ref := TileSetRef{FirstGID: ts.FirstGID, Embedded: meta}
		if ts.Source != "" {
			ref.Source = cleanSource(ts.Source)
		} else {
			ref.Source = embeddedSource(path, ts.Name)
		}
		m.TileSets = append(m.TileSets, ref)
	}

	// Tile layers first, then object layers, each flattened depth-first
	// through groups.
	appendTMXTileLayers(m, tm, tm.Layers, tm.Groups)
	appendTMXObjectLayers(m, tm, tm.ObjectGroups, tm.Groups)

	return m, nil
}

// appendTMXTileLayers converts tile layers. go-tiled layers carry no size of
// their own; cells are indexed by the map width.
func appendTMXTileLayers(m *Map, tm *gotiled.Map, layers []*gotiled.Layer, groups []*gotiled.Group) {
	for _, layer := range layers {
		data := make([]uint32, tm.Width*tm.Height)
		for i, tile := range layer.Tiles {
			if i >= len(data) {
				break
			}
			if tile == nil || tile.IsNil() || tile.Tileset == nil {
				continue
			}
			data[i] = tile.Tileset.FirstGID + tile.ID
		}
		m.Layers = append(m.Layers, Layer{
			Name:   layer.Name,
			Kind:   TileLayer,
			Width:  tm.Width,
			Height: tm.Height,
			Data:   data,
		})
	}
	for _, g := range groups {
		appendTMXTileLayers(m, tm, g.Layers, g.Groups)
	}
}

func appendTMXObjectLayers(m *Map, tm *gotiled.Map, objectGroups []*gotiled.ObjectGroup, groups []*gotiled.Group) {
	for _, og := range objectGroups {
		objects := make([]Object, 0, len(og.Objects))
		for _, o := range og.Objects {
			objects = append(objects, fromTMXObject(o))
		}
		m.Layers = append(m.Layers, Layer{
			Name:    og.Name,
			Kind:    ObjectLayer,
			Width:   tm.Width,
			Height:  tm.Height,
			Objects: objects,
		})
	}
	for _, g := range groups {
		appendTMXObjectLayers(m, tm, g.ObjectGroups, g.Groups)
	}
}

func fromTMXObject(o *gotiled.Object) Object {
	typ := o.Type
	if typ == "" {
		typ = o.Class
	}
	obj := Object{
		ID:       int(o.ID),
		Name:     o.Name,
		Type:     typ,
		X:        o.X,
		Y:        o.Y,
		Width:    o.Width,
		Height:   o.Height,
		Rotation: o.Rotation,
		Ellipse:  len(o.Ellipses) > 0,
	}
	for _, poly := range o.Polygons {
		if poly.Points == nil {
			continue
		}
		for _, pt := range *poly.Points {
			obj.Polygon = append(obj.Polygon, Point{X: pt.X, Y: pt.Y})
		}
	}
	for _, line := range o.PolyLines {
		if line.Points == nil {
			continue
		}
		for _, pt := range *line.Points {
			obj.Polyline = append(obj.Polyline, Point{X: pt.X, Y: pt.Y})
		}
	}
	for _, p := range o.Properties {
		obj.Properties = append(obj.Properties, Property{
			Name:  p.Name,
			Type:  p.Type,
			Value: typedValue(p.Type, p.Value),
		})
	}
	return obj
}

// typedValue converts an XML attribute value to the same Go types the JSON
// decoder produces.
func typedValue(typ, value string) any {
	switch typ {
	case "int", "float", "object":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	case "bool":
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}
