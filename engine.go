package main

import (
	"mbtiler/mbtiles"
	"mbtiler/overlay"
)

var (
	stores   *mbtiles.Registry
	overlays *overlay.Registry
	source   *overlay.Overlay
)

// InitEngine 打开瓦片库登记表与源图层
func InitEngine() {
	stores = mbtiles.NewRegistry(log.WithField("d", "mbtiles"))
	SafeExitInst.Register(func() {
		stores.Close()
		log.Infof("瓦片库连接已关闭")
	})
	overlays = overlay.NewRegistry(conf.Source.Directory, conf.Source.TileSize, stores, log)

	if conf.Source.Name == "" {
		if mode == ModeFill {
			log.Fatalf("source.name is required in %s mode", ModeFill)
		}
		return
	}
	backup, err := newBackup(overlays)
	if err != nil {
		log.Fatalf("init backup source error, details: %s", err)
	}
	source, err = overlays.Open(conf.Source.Name, backup)
	if err != nil {
		log.Fatalf("open source %s error, details: %s", conf.Source.Name, err)
	}
	md := source.Store().Metadata()
	log.Infof("source %s: %s %s, zoom %d-%d", source.CacheName(), md.Type, md.Format,
		source.Store().MinZoom(), source.Store().MaxZoom())
}
