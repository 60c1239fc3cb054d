package formats

import (
	"fmt"

	"github.com/Faultbox/tilebake/pkg/atlas"
	"github.com/Faultbox/tilebake/pkg/tiled"
)

// Remapper converts raw global tile ids of one map into atlas indices.
type Remapper struct {
	resolver *atlas.Resolver
	atlas    *atlas.Atlas
}

// NewRemapper creates a remapper for the tile-sets of m.
func NewRemapper(m *tiled.Map, a *atlas.Atlas) *Remapper {
	return &Remapper{
		resolver: atlas.NewResolver(m.TileSets),
		atlas:    a,
	}
}

// Remap returns the atlas index of raw, or 0 if no tile-set owns it.
// A lookup miss means the atlas was built from other maps and is returned
// as an *atlas.LookupError.
func (r *Remapper) Remap(raw uint32) (uint16, error) {
	ref, idx, ok := r.resolver.Owner(raw)
	if !ok {
		return 0, nil
	}
	return r.atlas.IndexOf(ref.Source, idx)
}

// RemapLayer remaps every cell of a tile layer.
func (r *Remapper) RemapLayer(data []uint32) ([]uint16, error) {
	out := make([]uint16, len(data))
	for i, raw := range data {
		v, err := r.Remap(raw)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
