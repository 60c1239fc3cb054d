package atlas

import (
	"errors"
	"fmt"
	"math"

	"github.com/Faultbox/tilebake/pkg/tiled"
)

// Atlas errors.
var (
	// ErrConsistency marks lookups that can only fail if the atlas was built
	// from a different set of maps than the one being written.
	ErrConsistency   = errors.New("atlas consistency violation")
	ErrAtlasOverflow = errors.New("atlas exceeds 65535 sprites")
)

// MaxSprites is the largest atlas index a 16-bit tile stream can carry.
const MaxSprites = math.MaxUint16

// LookupError is returned by IndexOf for a pair that was never registered.
type LookupError struct {
	Source string
	Index  uint32
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("no atlas entry for tile %d of tile-set %q", e.Index, e.Source)
}

// Unwrap lets errors.Is match ErrConsistency.
func (e *LookupError) Unwrap() error {
	return ErrConsistency
}

// TileSetLoader provides metadata for external tile-sets.
type TileSetLoader interface {
	TileSet(source string) (*tiled.TileSet, error)
}

// Sprite is one tile rectangle inside a tile-set image.
type Sprite struct {
	Source string // tile-set source the sprite was cut from
	Image  string
	Top    int
	Left   int
	Width  int
	Height int
	Name   string
}

// Sheet records the metadata of a tile-set that contributed sprites.
type Sheet struct {
	Source  string
	TileSet *tiled.TileSet
}

// Atlas owns the ordered sprite list. The atlas index of a sprite is its
// 1-based position in Sprites.
type Atlas struct {
	sprites []Sprite
	sheets  []Sheet
	lut     map[string]map[uint32]uint16
}

// Build creates the atlas from collected tile usage. Sources are visited in
// discovery order and indices in ascending order, so identical inputs
// always give identical atlases.
func Build(used *UsedIndices, loader TileSetLoader) (*Atlas, error) {
	a := &Atlas{lut: make(map[string]map[uint32]uint16)}

	for _, source := range used.Sources() {
		indices := used.Indices(source)
		if len(indices) == 0 {
			continue
		}

		ts, ok := used.Embedded(source)
		if !ok {
			if loader == nil {
				return nil, fmt.Errorf("no loader for external tile-set %q", source)
			}
			var err error
			ts, err = loader.TileSet(source)
			if err != nil {
				return nil, fmt.Errorf("loading tile-set %q: %w", source, err)
			}
		}
		if err := ts.Validate(); err != nil {
			return nil, fmt.Errorf("tile-set %q: %w", source, err)
		}

		if len(a.sprites)+len(indices) > MaxSprites {
			return nil, fmt.Errorf("%w: tile-set %q brings the total to %d",
				ErrAtlasOverflow, source, len(a.sprites)+len(indices))
		}

		lut := make(map[uint32]uint16, len(indices))
		for _, idx := range indices {
			left, top := tileRect(ts, idx)
			a.sprites = append(a.sprites, Sprite{
				Source: source,
				Image:  ts.Image,
				Top:    top,
				Left:   left,
				Width:  ts.TileWidth,
				Height: ts.TileHeight,
				Name:   ts.Name,
			})
			lut[idx] = uint16(len(a.sprites))
		}
		a.lut[source] = lut
		a.sheets = append(a.sheets, Sheet{Source: source, TileSet: ts})
	}

	return a, nil
}

// tileRect returns the pixel position of the 1-based tile index inside its
// tile-set image.
func tileRect(ts *tiled.TileSet, index uint32) (left, top int) {
	i := int(index) - 1
	left = ts.Margin + (i%ts.Columns)*ts.TileWidth + ts.Spacing
	top = ts.Margin + (i/ts.Columns)*ts.TileHeight + ts.Spacing
	return left, top
}

// IndexOf returns the atlas index of a normalized tile index of source.
func (a *Atlas) IndexOf(source string, index uint32) (uint16, error) {
	if lut, ok := a.lut[source]; ok {
		if ai, ok := lut[index]; ok {
			return ai, nil
		}
	}
	return 0, &LookupError{Source: source, Index: index}
}

// Sprites returns the sprites in atlas order.
func (a *Atlas) Sprites() []Sprite {
	return a.sprites
}

// Sheets returns the tile-sets that contributed sprites, in atlas order.
func (a *Atlas) Sheets() []Sheet {
	return a.sheets
}

// Len returns the number of sprites.
func (a *Atlas) Len() int {
	return len(a.sprites)
}
