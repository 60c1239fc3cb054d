// Package formats reads and writes the engine's binary tile-map files and
// the run-length tile stream they embed.
package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Faultbox/tilebake/pkg/atlas"
	"github.com/Faultbox/tilebake/pkg/tiled"
)

// TileMapVersion is the only tile-map file version written and accepted.
const TileMapVersion uint32 = 1

// Tile-map format errors.
var (
	ErrUnsupportedTileMapVersion = errors.New("unsupported tile-map version")
	ErrTruncatedTileMapData      = errors.New("truncated tile-map data")
	ErrInvalidLayer              = errors.New("invalid tile layer")
)

// Encoding selects how layer tiles are stored. It is not recorded in the
// file; reader and writer must agree on it for the whole build.
type Encoding int

// Tile stream encodings.
const (
	EncodingUncompressed Encoding = iota
	EncodingRLE
)

// String returns the encoding name.
func (e Encoding) String() string {
	switch e {
	case EncodingUncompressed:
		return "uncompressed"
	case EncodingRLE:
		return "rle"
	default:
		return fmt.Sprintf("Unknown(%d)", int(e))
	}
}

// TileMap is the runtime form of one map: every tile layer with its cells
// already remapped to atlas indices.
type TileMap struct {
	Version uint32
	Layers  []TileMapLayer
}

// TileMapLayer is one layer of a TileMap.
type TileMapLayer struct {
	Width  uint32
	Height uint32
	X      uint32
	Y      uint32
	Tiles  []uint16 // atlas indices, row-major, 0 = empty
}

// BuildTileMap remaps every tile layer of m through a. Layers without tile
// data are dropped.
func BuildTileMap(m *tiled.Map, a *atlas.Atlas) (*TileMap, error) {
	remap := NewRemapper(m, a)
	tm := &TileMap{Version: TileMapVersion}

	for i := range m.Layers {
		layer := &m.Layers[i]
		if !layer.HasTiles() {
			continue
		}
		if layer.Width < 0 || layer.Height < 0 || layer.X < 0 || layer.Y < 0 {
			return nil, fmt.Errorf("%w: layer %q has size %dx%d at (%d,%d)",
				ErrInvalidLayer, layer.Name, layer.Width, layer.Height, layer.X, layer.Y)
		}
		if len(layer.Data) != layer.Width*layer.Height {
			return nil, fmt.Errorf("%w: layer %q has %d cells, expected %d",
				ErrInvalidLayer, layer.Name, len(layer.Data), layer.Width*layer.Height)
		}

		tiles, err := remap.RemapLayer(layer.Data)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", layer.Name, err)
		}
		tm.Layers = append(tm.Layers, TileMapLayer{
			Width:  uint32(layer.Width),
			Height: uint32(layer.Height),
			X:      uint32(layer.X),
			Y:      uint32(layer.Y),
			Tiles:  tiles,
		})
	}

	return tm, nil
}

// WriteTileMap writes tm in the binary tile-map layout:
//
//	u32 version, u32 layerCount,
//	per layer: u32 width, u32 height, u32 x, u32 y, tile stream
func WriteTileMap(w io.Writer, tm *TileMap, enc Encoding) error {
	header := []uint32{TileMapVersion, uint32(len(tm.Layers))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, layer := range tm.Layers {
		fields := []uint32{layer.Width, layer.Height, layer.X, layer.Y}
		if err := binary.Write(w, binary.LittleEndian, fields); err != nil {
			return fmt.Errorf("writing layer %d: %w", i, err)
		}
		if err := encodeStream(w, layer.Tiles, enc); err != nil {
			return fmt.Errorf("writing layer %d tiles: %w", i, err)
		}
	}
	return nil
}

// ParseTileMap parses a tile-map file written with the given encoding.
func ParseTileMap(data []byte, enc Encoding) (*TileMap, error) {
	if len(data) < 8 {
		return nil, ErrTruncatedTileMapData
	}

	r := bytes.NewReader(data)
	var version, layerCount uint32
	binary.Read(r, binary.LittleEndian, &version)
	binary.Read(r, binary.LittleEndian, &layerCount)

	if version != TileMapVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedTileMapVersion, version)
	}

	tm := &TileMap{Version: version}
	for i := uint32(0); i < layerCount; i++ {
		var fields [4]uint32
		if err := binary.Read(r, binary.LittleEndian, &fields); err != nil {
			return nil, fmt.Errorf("%w: reading layer %d header", ErrTruncatedTileMapData, i)
		}
		layer := TileMapLayer{Width: fields[0], Height: fields[1], X: fields[2], Y: fields[3]}

		// Bound the cell count by what the remaining bytes can hold before
		// it is used as a size.
		cells := uint64(layer.Width) * uint64(layer.Height)
		if cells > maxCells(r.Len(), enc) {
			return nil, fmt.Errorf("%w: layer %d needs %d tiles", ErrTruncatedTileMapData, i, cells)
		}
		count := int(cells)
		tiles, err := decodeStream(r, count, enc)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if len(tiles) != count {
			return nil, fmt.Errorf("%w: layer %d decoded %d tiles, expected %d",
				ErrInvalidLayer, i, len(tiles), count)
		}
		layer.Tiles = tiles
		tm.Layers = append(tm.Layers, layer)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %d layers", r.Len(), layerCount)
	}
	return tm, nil
}

// maxCells returns the most tiles n bytes of a stream can describe.
func maxCells(n int, enc Encoding) uint64 {
	if enc == EncodingRLE {
		// Every run is 4 bytes and the sentinel carries no tiles.
		if n < 8 {
			return 0
		}
		return uint64(n/4-1) * maxRunLength
	}
	return uint64(n / 2)
}

// ParseTileMapFile parses a tile-map file from disk.
func ParseTileMapFile(path string, enc Encoding) (*TileMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseTileMap(data, enc)
}
