// Package feature describes the displayable features drawn over tile
// layers. Only the geometric kind and an optional bound are consumed.
package feature

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Geometry 要素几何类型
type Geometry int

const (
	Null Geometry = iota
	Point
	Line
	Area
)

func (g Geometry) String() string {
	switch g {
	case Point:
		return "point"
	case Line:
		return "line"
	case Area:
		return "area"
	default:
		return "none"
	}
}

// Feature is a displayable feature. ok is false when it has no bound.
type Feature interface {
	Geometry() Geometry
	Bound() (b orb.Bound, ok bool)
}

// GeoJSON 由 geojson 要素适配
type GeoJSON struct {
	*geojson.Feature
}

var _ Feature = GeoJSON{}

// KindOf 几何类型映射
func KindOf(g orb.Geometry) Geometry {
	switch g := g.(type) {
	case orb.Point, orb.MultiPoint:
		return Point
	case orb.LineString, orb.MultiLineString:
		return Line
	case orb.Ring, orb.Polygon, orb.MultiPolygon, orb.Bound:
		return Area
	case orb.Collection:
		// a collection takes the kind of its first member
		for _, m := range g {
			if k := KindOf(m); k != Null {
				return k
			}
		}
	}
	return Null
}

func (f GeoJSON) Geometry() Geometry {
	if f.Feature == nil {
		return Null
	}
	return KindOf(f.Feature.Geometry)
}

func (f GeoJSON) Bound() (orb.Bound, bool) {
	if f.Feature == nil || f.Feature.Geometry == nil || KindOf(f.Feature.Geometry) == Null {
		return orb.Bound{}, false
	}
	return f.Feature.Geometry.Bound(), true
}

// FromGeoJSON 适配要素集
func FromGeoJSON(fc *geojson.FeatureCollection) []Feature {
	if fc == nil {
		return nil
	}
	features := make([]Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		features = append(features, GeoJSON{f})
	}
	return features
}

// Load reads a GeoJSON FeatureCollection file.
func Load(path string) ([]Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read file: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("unable to unmarshal feature: %w", err)
	}
	return FromGeoJSON(fc), nil
}

// geometryOf is the feature's own geometry, or its bound polygon when it
// only exposes one.
func geometryOf(f Feature) orb.Geometry {
	if g, ok := f.(GeoJSON); ok && g.Feature != nil && g.Feature.Geometry != nil {
		return g.Feature.Geometry
	}
	if b, ok := f.Bound(); ok {
		return b.ToPolygon()
	}
	return nil
}

// Collection 用于计算瓦片覆盖范围, 无几何的要素跳过
func Collection(features []Feature) orb.Collection {
	var collection orb.Collection
	for _, f := range features {
		if g := geometryOf(f); g != nil {
			collection = append(collection, g)
		}
	}
	return collection
}

// ToGeoJSON encodes features as a FeatureCollection. Features that are not
// GeoJSON backed are written as their bound polygon, or its center for
// points, with a "geometry" property.
func ToGeoJSON(features []Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		if g, ok := f.(GeoJSON); ok && g.Feature != nil {
			fc.Append(g.Feature)
			continue
		}
		b, ok := f.Bound()
		if !ok {
			continue
		}
		var g orb.Geometry = b.ToPolygon()
		if f.Geometry() == Point {
			g = b.Center()
		}
		gf := geojson.NewFeature(g)
		gf.Properties["geometry"] = f.Geometry().String()
		fc.Append(gf)
	}
	return fc
}
