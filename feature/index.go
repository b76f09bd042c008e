package feature

import (
	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// epsilon gives zero-extent bounds a non-zero size in the tree
const epsilon = 0.0001

type indexed struct {
	feature Feature
	bound   orb.Bound
}

func rect(b orb.Bound) rtreego.Rect {
	w := b.Max[0] - b.Min[0]
	h := b.Max[1] - b.Min[1]
	if w < epsilon {
		w = epsilon
	}
	if h < epsilon {
		h = epsilon
	}
	r, _ := rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, []float64{w, h})
	return r
}

func (f *indexed) Bounds() rtreego.Rect {
	return rect(f.bound)
}

// Index R-tree 空间索引
type Index struct {
	rtree   *rtreego.Rtree
	size    int
	unbound []Feature
}

// NewIndex indexes every feature that has a bound. The others are kept
// aside and never returned by a spatial query.
func NewIndex(features []Feature) *Index {
	idx := &Index{rtree: rtreego.NewTree(2, 25, 50)}
	for _, f := range features {
		b, ok := f.Bound()
		if !ok {
			idx.unbound = append(idx.unbound, f)
			continue
		}
		idx.rtree.Insert(&indexed{feature: f, bound: b})
		idx.size++
	}
	return idx
}

// Len 已索引要素数
func (idx *Index) Len() int { return idx.size }

// Unbound 无范围的要素
func (idx *Index) Unbound() []Feature { return idx.unbound }

// Search returns the features whose bound intersects b.
func (idx *Index) Search(b orb.Bound) []Feature {
	if idx.size == 0 {
		return nil
	}
	spatials := idx.rtree.SearchIntersect(rect(b))
	result := make([]Feature, 0, len(spatials))
	for _, s := range spatials {
		f := s.(*indexed)
		if overlaps(f.bound, b) {
			result = append(result, f.feature)
		}
	}
	return result
}

// InTile 与瓦片相交的要素
func (idx *Index) InTile(t maptile.Tile) []Feature {
	return idx.Search(t.Bound())
}

// overlaps is closed on every edge, so points on a tile border match both
// neighbours.
func overlaps(a, b orb.Bound) bool {
	return a.Min[0] <= b.Max[0] && a.Max[0] >= b.Min[0] &&
		a.Min[1] <= b.Max[1] && a.Max[1] >= b.Min[1]
}
