package main

import (
	"context"
	"time"

	"mbtiler/feature"
	"mbtiler/server"
)

// InitServer 启动瓦片服务, 阻塞至服务停止
func InitServer() {
	var features []feature.Feature
	for _, lrs := range conf.Lrs {
		features = append(features, loadFeatures(lrs.Geojson)...)
	}
	index := feature.NewIndex(features)
	log.Infof("indexed %d features, %d without bound", index.Len(), len(index.Unbound()))

	srv, err := server.New(server.Config{
		Address:   conf.Server.Address,
		CacheSize: conf.Server.CacheSize,
	}, overlays, index, log)
	if err != nil {
		log.Fatalf("init server error, details: %s", err)
	}
	SafeExitInst.Register(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warnf("server shutdown error, details: %s", err)
		}
	})

	if err := srv.Run(); err != nil {
		log.Errorf("server error, details: %s", err)
	}
	SafeExitInst.Shutdown()
}
