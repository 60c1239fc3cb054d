package tiled

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

type jsonMap struct {
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	TileWidth  int              `json:"tilewidth"`
	TileHeight int              `json:"tileheight"`
	Infinite   bool             `json:"infinite"`
	TileSets   []jsonTileSetRef `json:"tilesets"`
	Layers     []jsonLayer      `json:"layers"`
}

type jsonTileSetRef struct {
	FirstGID uint32 `json:"firstgid"`
	Source   string `json:"source"`
	jsonTileSet
}

type jsonTileSet struct {
	Name        string `json:"name"`
	Image       string `json:"image"`
	ImageWidth  int    `json:"imagewidth"`
	ImageHeight int    `json:"imageheight"`
	TileWidth   int    `json:"tilewidth"`
	TileHeight  int    `json:"tileheight"`
	Margin      int    `json:"margin"`
	Spacing     int    `json:"spacing"`
	Columns     int    `json:"columns"`
	TileCount   int    `json:"tilecount"`
}

func (j jsonTileSet) toTileSet() *TileSet {
	return &TileSet{
		Name:        j.Name,
		Image:       j.Image,
		ImageWidth:  j.ImageWidth,
		ImageHeight: j.ImageHeight,
		TileWidth:   j.TileWidth,
		TileHeight:  j.TileHeight,
		Margin:      j.Margin,
		Spacing:     j.Spacing,
		Columns:     j.Columns,
		TileCount:   j.TileCount,
	}
}

type jsonLayer struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	X           int             `json:"x"`
	Y           int             `json:"y"`
	Data        json.RawMessage `json:"data"`
	Encoding    string          `json:"encoding"`
	Compression string          `json:"compression"`
	Chunks      json.RawMessage `json:"chunks"`
	Objects     []jsonObject    `json:"objects"`
	Layers      []jsonLayer     `json:"layers"`
}

type jsonObject struct {
	ID         int            `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Class      string         `json:"class"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Width      float64        `json:"width"`
	Height     float64        `json:"height"`
	Rotation   float64        `json:"rotation"`
	Ellipse    bool           `json:"ellipse"`
	Point      bool           `json:"point"`
	Polygon    []Point        `json:"polygon"`
	Polyline   []Point        `json:"polyline"`
	Properties []jsonProperty `json:"properties"`
}

type jsonProperty struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// LoadMapFile loads a map document from disk. The format is picked from the
// file extension: .tmx is read as XML, anything else as JSON.
func LoadMapFile(path string) (*Map, error) {
	if strings.EqualFold(filepath.Ext(path), ".tmx") {
		return LoadTMXFile(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map: %w", err)
	}
	return ParseMapJSON(data, path)
}

// ParseMapJSON parses a Tiled JSON map document. path is recorded on the
// returned map and used to name tile-sets embedded in the document.
func ParseMapJSON(data []byte, path string) (*Map, error) {
	if err := validateMapDocument(data); err != nil {
		return nil, err
	}

	var doc jsonMap
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errorf(ErrInvalidMap, "decoding: %v", err)
	}
	if doc.Infinite {
		return nil, ErrInfiniteMap
	}

	m := &Map{
		Path:       path,
		Width:      doc.Width,
		Height:     doc.Height,
		TileWidth:  doc.TileWidth,
		TileHeight: doc.TileHeight,
		TileSets:   make([]TileSetRef, 0, len(doc.TileSets)),
	}

	seen := make(map[uint32]bool, len(doc.TileSets))
	for _, ts := range doc.TileSets {
		if seen[ts.FirstGID] {
			return nil, errorf(ErrInvalidMap, "duplicate tile-set firstgid %d", ts.FirstGID)
		}
		seen[ts.FirstGID] = true

		ref := TileSetRef{FirstGID: ts.FirstGID}
		if ts.Source != "" {
			ref.Source = cleanSource(ts.Source)
		} else {
			ref.Source = embeddedSource(path, ts.Name)
			ref.Embedded = ts.toTileSet()
		}
		m.TileSets = append(m.TileSets, ref)
	}

	if err := appendLayers(m, doc.Layers); err != nil {
		return nil, err
	}
	return m, nil
}

// appendLayers converts layers in document order, flattening groups
// depth-first.
func appendLayers(m *Map, layers []jsonLayer) error {
	for i := range layers {
		jl := &layers[i]
		switch jl.Type {
		case "group":
			if err := appendLayers(m, jl.Layers); err != nil {
				return err
			}
		case "tilelayer":
			if len(jl.Chunks) > 0 && string(jl.Chunks) != "null" {
				return fmt.Errorf("layer %q: %w", jl.Name, ErrInfiniteMap)
			}
			data, err := decodeLayerData(jl)
			if err != nil {
				return fmt.Errorf("layer %q: %w", jl.Name, err)
			}
			if len(data) != jl.Width*jl.Height {
				return errorf(ErrInvalidMap, "layer %q has %d cells, expected %dx%d",
					jl.Name, len(data), jl.Width, jl.Height)
			}
			m.Layers = append(m.Layers, Layer{
				Name:   jl.Name,
				Kind:   TileLayer,
				Width:  jl.Width,
				Height: jl.Height,
				X:      jl.X,
				Y:      jl.Y,
				Data:   data,
			})
		case "objectgroup":
			objects := make([]Object, 0, len(jl.Objects))
			for _, jo := range jl.Objects {
				objects = append(objects, jo.toObject())
			}
			m.Layers = append(m.Layers, Layer{
				Name:    jl.Name,
				Kind:    ObjectLayer,
				Width:   jl.Width,
				Height:  jl.Height,
				X:       jl.X,
				Y:       jl.Y,
				Objects: objects,
			})
		case "imagelayer":
			m.Layers = append(m.Layers, Layer{Name: jl.Name, Kind: ImageLayer, X: jl.X, Y: jl.Y})
		default:
			return errorf(ErrInvalidMap, "layer %q has unknown type %q", jl.Name, jl.Type)
		}
	}
	return nil
}

func (jo jsonObject) toObject() Object {
	typ := jo.Type
	if typ == "" {
		typ = jo.Class
	}
	props := make([]Property, 0, len(jo.Properties))
	for _, p := range jo.Properties {
		props = append(props, Property{Name: p.Name, Type: p.Type, Value: p.Value})
	}
	return Object{
		ID:         jo.ID,
		Name:       jo.Name,
		Type:       typ,
		X:          jo.X,
		Y:          jo.Y,
		Width:      jo.Width,
		Height:     jo.Height,
		Rotation:   jo.Rotation,
		Ellipse:    jo.Ellipse,
		Point:      jo.Point,
		Polygon:    jo.Polygon,
		Polyline:   jo.Polyline,
		Properties: props,
	}
}

// decodeLayerData reads tile data stored either as a JSON array or as a
// base64 string, optionally compressed.
func decodeLayerData(jl *jsonLayer) ([]uint32, error) {
	raw := bytes.TrimSpace(jl.Data)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errorf(ErrInvalidMap, "tile layer has no data")
	}

	if raw[0] == '[' {
		var data []uint32
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, errorf(ErrInvalidMap, "decoding tile array: %v", err)
		}
		return data, nil
	}

	if jl.Encoding != "base64" {
		return nil, fmt.Errorf("%w: layer encoding %q", ErrUnsupportedFormat, jl.Encoding)
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, errorf(ErrInvalidMap, "decoding base64 data: %v", err)
	}
	packed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, errorf(ErrInvalidMap, "decoding base64 data: %v", err)
	}
	unpacked, err := decompress(jl.Compression, packed)
	if err != nil {
		return nil, err
	}
	if len(unpacked)%4 != 0 {
		return nil, errorf(ErrInvalidMap, "tile data length %d is not a multiple of 4", len(unpacked))
	}

	data := make([]uint32, len(unpacked)/4)
	for i := range data {
		data[i] = binary.LittleEndian.Uint32(unpacked[i*4:])
	}
	return data, nil
}

func decompress(method string, packed []byte) ([]byte, error) {
	switch method {
	case "":
		return packed, nil
	case "zlib":
		r, err := zlib.NewReader(bytes.NewReader(packed))
		if err != nil {
			return nil, errorf(ErrInvalidMap, "zlib: %v", err)
		}
		defer r.Close()
		return readAllCompressed(r, method)
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(packed))
		if err != nil {
			return nil, errorf(ErrInvalidMap, "gzip: %v", err)
		}
		defer r.Close()
		return readAllCompressed(r, method)
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(packed, nil)
		if err != nil {
			return nil, errorf(ErrInvalidMap, "zstd: %v", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: layer compression %q", ErrUnsupportedFormat, method)
	}
}

func readAllCompressed(r io.Reader, method string) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errorf(ErrInvalidMap, "%s: %v", method, err)
	}
	return out, nil
}

func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
