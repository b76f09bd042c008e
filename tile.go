package main

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"mbtiler/pyramid"
)

// TileSize 默认瓦片大小
const TileSize = pyramid.TileSize

// ZoomMin 最小级别
const ZoomMin = 0

// ZoomMax 最大级别
const ZoomMax = 20

// Tile 自定义瓦片存储
type Tile struct {
	T maptile.Tile
	C []byte
}

// Layer 级别&瓦片数
type Layer struct {
	Zoom       int
	Count      int64
	Collection orb.Collection
}

// clampZoom 限制级别范围
func clampZoom(z int) int {
	if z < ZoomMin {
		return ZoomMin
	}
	if z > ZoomMax {
		return ZoomMax
	}
	return z
}
