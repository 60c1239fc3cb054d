package tiled

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// tsxTileSet mirrors the attributes of a standalone .tsx document that the
// compiler needs.
type tsxTileSet struct {
	XMLName    xml.Name `xml:"tileset"`
	Name       string   `xml:"name,attr"`
	TileWidth  int      `xml:"tilewidth,attr"`
	TileHeight int      `xml:"tileheight,attr"`
	Spacing    int      `xml:"spacing,attr"`
	Margin     int      `xml:"margin,attr"`
	TileCount  int      `xml:"tilecount,attr"`
	Columns    int      `xml:"columns,attr"`
	Image      struct {
		Source string `xml:"source,attr"`
		Width  int    `xml:"width,attr"`
		Height int    `xml:"height,attr"`
	} `xml:"image"`
}

// ParseTileSet parses tile-set metadata. name is the source path of the
// document; its extension selects TSX (XML) or JSON.
func ParseTileSet(data []byte, name string) (*TileSet, error) {
	var ts *TileSet
	if strings.EqualFold(filepath.Ext(name), ".tsx") {
		var doc tsxTileSet
		if err := xml.Unmarshal(data, &doc); err != nil {
			return nil, errorf(ErrInvalidTileSet, "%s: %v", name, err)
		}
		ts = &TileSet{
			Name:        doc.Name,
			Image:       doc.Image.Source,
			ImageWidth:  doc.Image.Width,
			ImageHeight: doc.Image.Height,
			TileWidth:   doc.TileWidth,
			TileHeight:  doc.TileHeight,
			Margin:      doc.Margin,
			Spacing:     doc.Spacing,
			Columns:     doc.Columns,
			TileCount:   doc.TileCount,
		}
	} else {
		var doc jsonTileSet
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errorf(ErrInvalidTileSet, "%s: %v", name, err)
		}
		ts = doc.toTileSet()
	}

	if err := ts.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return ts, nil
}

// LoadTileSetFile reads and parses a tile-set document from disk.
func LoadTileSetFile(path string) (*TileSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tile-set: %w", err)
	}
	return ParseTileSet(data, path)
}
