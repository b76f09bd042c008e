package mbtiles

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Ext 瓦片库文件后缀
const Ext = ".mbtiles"

// DateLayout metadata 表中 date 的读写格式
const DateLayout = time.RFC3339

// WorldBounds 缺省范围
var WorldBounds = orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}

// Format 瓦片编码
type Format string

// Constants representing Format types
const (
	PNG  Format = "png"
	JPG  Format = "jpg"
	WEBP Format = "webp"
	PBF  Format = "pbf"
)

// ParseFormat 解析格式, 无法识别时回退到 png
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpg", "jpeg":
		return JPG
	case "webp", "wepb":
		return WEBP
	case "pbf", "mvt":
		return PBF
	default:
		return PNG
	}
}

// ContentType returns the HTTP media type of tiles in this format.
func (f Format) ContentType() string {
	switch f {
	case JPG:
		return "image/jpeg"
	case WEBP:
		return "image/webp"
	case PBF:
		return "application/vnd.mapbox-vector-tile"
	default:
		return "image/png"
	}
}

// LayerType 图层角色
type LayerType string

// Constants representing LayerType values
const (
	Baselayer LayerType = "baselayer"
	Overlay   LayerType = "overlay"
)

// ParseLayerType 解析图层角色, 无法识别时回退到 baselayer
func ParseLayerType(s string) LayerType {
	if LayerType(strings.ToLower(strings.TrimSpace(s))) == Overlay {
		return Overlay
	}
	return Baselayer
}

// Metadata metadata 表中的已知字段
type Metadata struct {
	Name   string
	Format Format
	Type   LayerType
	Bounds orb.Bound
	Date   time.Time
}

// DefaultMetadata 缺省元数据
func DefaultMetadata(name string) Metadata {
	return Metadata{
		Name:   name,
		Format: PNG,
		Type:   Baselayer,
		Bounds: WorldBounds,
		Date:   time.Now(),
	}
}

// set applies one metadata row; unknown names are ignored.
func (m *Metadata) set(name, value string) {
	switch name {
	case "name":
		m.Name = value
	case "format":
		m.Format = ParseFormat(value)
	case "type":
		m.Type = ParseLayerType(value)
	case "bounds":
		m.Bounds = ParseBounds(value)
	case "date":
		if d, err := time.Parse(DateLayout, strings.TrimSpace(value)); err == nil {
			m.Date = d
		}
	}
}

func (m Metadata) rows() [][2]string {
	return [][2]string{
		{"name", m.Name},
		{"format", string(m.Format)},
		{"type", string(m.Type)},
		{"bounds", FormatBounds(m.Bounds)},
		{"date", m.Date.Format(DateLayout)},
	}
}

// ParseBounds 解析 "west,south,east,north", 格式错误时返回全球范围
func ParseBounds(s string) orb.Bound {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return WorldBounds
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return WorldBounds
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return WorldBounds
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
}

// FormatBounds 序列化为 "west,south,east,north"
func FormatBounds(b orb.Bound) string {
	vals := []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// FlipY converts between top-origin slippy rows and bottom-origin stored rows.
func FlipY(z maptile.Zoom, y uint32) uint32 {
	return (uint32(1) << uint32(z)) - 1 - y
}

// FileName 补全 .mbtiles 后缀
func FileName(name string) string {
	if strings.HasSuffix(name, Ext) {
		return name
	}
	return name + Ext
}

// PathFor 瓦片库在目录中的路径
func PathFor(dir, name string) string {
	return filepath.Join(dir, FileName(name))
}

func tileString(t maptile.Tile) string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}
