// Package atlas collects the tiles used by a set of maps and assigns each
// of them a slot in a single deduplicated sprite atlas.
package atlas

import (
	"slices"
	"sort"

	"github.com/Faultbox/tilebake/pkg/tiled"
)

// Resolver finds the tile-set owning a global tile id within one map.
type Resolver struct {
	refs []tiled.TileSetRef // sorted by FirstGID, descending
}

// NewResolver builds a resolver for the tile-set refs of one map.
func NewResolver(refs []tiled.TileSetRef) *Resolver {
	sorted := slices.Clone(refs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FirstGID > sorted[j].FirstGID
	})
	return &Resolver{refs: sorted}
}

// Refs returns the tile-set refs in descending FirstGID order.
func (r *Resolver) Refs() []tiled.TileSetRef {
	return r.refs
}

// Owner returns the tile-set owning raw and the 1-based index of the tile
// inside it. Flag bits are ignored. ok is false for empty cells (gid 0) and
// for ids below the lowest FirstGID.
func (r *Resolver) Owner(raw uint32) (ref tiled.TileSetRef, normalized uint32, ok bool) {
	gid := raw & tiled.GIDMask
	if gid == 0 {
		return tiled.TileSetRef{}, 0, false
	}
	for _, ts := range r.refs {
		if ts.FirstGID <= gid {
			return ts, gid - ts.FirstGID + 1, true
		}
	}
	return tiled.TileSetRef{}, 0, false
}

// UsedIndices maps tile-set sources to the normalized indices used by any
// tile layer. Sources keep the order in which they were first discovered.
type UsedIndices struct {
	order    []string
	sets     map[string]map[uint32]struct{}
	embedded map[string]*tiled.TileSet
}

func newUsedIndices() *UsedIndices {
	return &UsedIndices{
		sets:     make(map[string]map[uint32]struct{}),
		embedded: make(map[string]*tiled.TileSet),
	}
}

func (u *UsedIndices) addSource(ref tiled.TileSetRef) {
	if _, ok := u.sets[ref.Source]; ok {
		return
	}
	u.order = append(u.order, ref.Source)
	u.sets[ref.Source] = make(map[uint32]struct{})
	if ref.Embedded != nil {
		u.embedded[ref.Source] = ref.Embedded
	}
}

// Sources returns every tile-set source in discovery order, including
// sources with no used tiles.
func (u *UsedIndices) Sources() []string {
	return u.order
}

// Indices returns the used normalized indices of source in ascending order.
func (u *UsedIndices) Indices(source string) []uint32 {
	set := u.sets[source]
	out := make([]uint32, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// Embedded returns metadata carried inline by a map for source, if any.
func (u *UsedIndices) Embedded(source string) (*tiled.TileSet, bool) {
	ts, ok := u.embedded[source]
	return ts, ok
}

// Total returns the number of distinct (source, index) pairs.
func (u *UsedIndices) Total() int {
	n := 0
	for _, set := range u.sets {
		n += len(set)
	}
	return n
}

// CollectUsedIndices walks every tile layer of every map and records which
// tiles of which tile-set are referenced. Sets are merged by source, so the
// same tile-set used from several maps at different FirstGIDs is counted once.
func CollectUsedIndices(maps []*tiled.Map) *UsedIndices {
	used := newUsedIndices()
	for _, m := range maps {
		resolver := NewResolver(m.TileSets)
		for _, ref := range resolver.Refs() {
			used.addSource(ref)
		}
		for i := range m.Layers {
			layer := &m.Layers[i]
			if !layer.HasTiles() {
				continue
			}
			for _, raw := range layer.Data {
				ref, idx, ok := resolver.Owner(raw)
				if !ok {
					continue
				}
				used.sets[ref.Source][idx] = struct{}{}
			}
		}
	}
	return used
}
