package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/paulmach/orb"

	"mbtiler/mbtiles"
	"mbtiler/overlay"
	"mbtiler/pyramid"
)

// TileMap 输出瓦片地图
type TileMap struct {
	ID          string
	Name        string
	Description string
	Min         int
	Max         int
	Format      mbtiles.Format
	Scale       float64
}

// Metadata 输出瓦片库元数据
func (m *TileMap) Metadata(bound orb.Bound, typ mbtiles.LayerType) mbtiles.Metadata {
	md := mbtiles.DefaultMetadata(m.Name)
	md.Format = m.Format
	md.Type = typ
	if hasExtent(bound) {
		md.Bounds = bound
	}
	return md
}

// hasExtent reports whether b was set; the zero bound counts as absent.
func hasExtent(b orb.Bound) bool {
	return b != (orb.Bound{}) && !b.IsEmpty()
}

// newBackup builds the fallback source for baselayers: another overlay by
// name, or an online tile map by url template. Neither configured is nil.
func newBackup(overlays *overlay.Registry) (pyramid.Source, error) {
	switch {
	case conf.Backup.Name != "":
		o, err := overlays.Open(conf.Backup.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("backup overlay %s: %w", conf.Backup.Name, err)
		}
		return o, nil
	case conf.Backup.URL != "":
		return &pyramid.TileMap{
			Name:   "backup",
			Format: string(mbtiles.ParseFormat(conf.Backup.Format)),
			URL:    conf.Backup.URL,
			Client: &http.Client{Timeout: 30 * time.Second},
			Log:    log.WithField("source", "backup"),
		}, nil
	default:
		return nil, nil
	}
}
