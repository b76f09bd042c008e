package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"mbtiler/mbtiles"
	"mbtiler/overlay"
	"mbtiler/raster"
)

func InitTask() {
	start := time.Now()

	tm := TileMap{
		Name:   conf.Tm.Name,
		Min:    clampZoom(conf.Tm.Min),
		Max:    clampZoom(conf.Tm.Max),
		Format: source.Store().Format(),
		Scale:  conf.Tm.Scale,
	}
	if conf.Tm.Format != "" {
		tm.Format = mbtiles.ParseFormat(conf.Tm.Format)
	}
	var layers []Layer
	for _, lrs := range conf.Lrs {
		c := loadCollection(lrs.Geojson)
		for z := clampZoom(lrs.Min); z <= clampZoom(lrs.Max); z++ {
			layers = append(layers, Layer{
				Zoom:       z,
				Collection: c,
			})
		}
	}

	task := NewTask(layers, tm, source)
	if task == nil {
		log.Warnf("no layers configured, nothing to do")
		SafeExitInst.Shutdown()
		return
	}
	// 注册安全退出
	SafeExitInst.Register(task.AbortFun)

	if err := task.SetupFile(); err != nil {
		log.Fatalf("setup output error, details: %s", err)
	}
	// 开始生成
	task.Download()
	SafeExitInst.Shutdown()

	secs := time.Since(start).Seconds()
	log.Printf("\n%.3fs finished, %d tiles saved, %d missing ...", secs, task.Current, task.Missing)
}

// Task 填充任务
type Task struct {
	ID          string
	Name        string
	Description string
	File        string
	Min         int
	Max         int
	Layers      []Layer
	TileMap     TileMap
	Total       int64
	Current     int64
	Missing     int64
	Output      string
	source      *overlay.Overlay
	cache       mbtiles.TileCache
	store       *mbtiles.Store
	workerCount int
	timeDelay   int
	bufSize     int
	tileWG      sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	abort       chan struct{}
	abortOnce   sync.Once
	finished    chan struct{}
	workers     chan struct{}
}

// NewTask 创建填充任务
func NewTask(layers []Layer, m TileMap, src *overlay.Overlay) *Task {
	if len(layers) == 0 || src == nil {
		return nil
	}
	id, _ := shortid.Generate()

	task := Task{
		ID:      id,
		Name:    m.Name,
		Layers:  layers,
		Min:     m.Min,
		Max:     m.Max,
		TileMap: m,
		Output:  conf.Output.Format,
		source:  src,
	}
	task.TileMap.ID = id
	if task.TileMap.Format == mbtiles.WEBP {
		log.Warnf("webp tiles cannot be encoded, task %s writes png", id)
		task.TileMap.Format = mbtiles.PNG
	}
	if task.TileMap.Scale <= 0 {
		task.TileMap.Scale = 1
	}

	for i := 0; i < len(layers); i++ {
		layers[i].Count = tilecover.CollectionCount(layers[i].Collection, maptile.Zoom(layers[i].Zoom))
		log.Printf("zoom: %d, tiles: %d \n", layers[i].Zoom, layers[i].Count)
		task.Total += layers[i].Count
	}

	task.workerCount = conf.Task.Workers
	if task.workerCount < 1 {
		task.workerCount = 1
	}
	task.timeDelay = conf.Task.Timedelay
	task.bufSize = conf.Task.BufSize

	task.ctx, task.cancel = context.WithCancel(context.Background())
	task.abort = make(chan struct{})
	task.finished = make(chan struct{})
	task.workers = make(chan struct{}, task.workerCount)

	return &task
}

// Bound 范围, 没有任何几何时 ok 为 false
func (task *Task) Bound() (bound orb.Bound, ok bool) {
	first := true
	for _, layer := range task.Layers {
		for _, g := range layer.Collection {
			if first {
				bound, first = g.Bound(), false
				continue
			}
			bound = bound.Union(g.Bound())
		}
	}
	return bound, !first
}

// Center 中心点
func (task *Task) Center() orb.Point {
	bound, _ := task.Bound()
	return bound.Center()
}

// SetupFile prepares the output: an mbtiles cache named after the tile map,
// or a z/x/y directory tree.
func (task *Task) SetupFile() error {
	outdir := conf.Output.Directory
	if err := os.MkdirAll(outdir, os.ModePerm); err != nil {
		return err
	}
	if task.Output == OutputFile {
		if task.File == "" {
			task.File = outdir
		}
		return nil
	}

	path := mbtiles.PathFor(outdir, task.Name)
	bound, _ := task.Bound()
	md := task.TileMap.Metadata(bound, task.source.Store().Type())
	if _, err := stores.Create(path, md); err != nil && !errors.Is(err, mbtiles.ErrAlreadyExists) {
		return err
	}
	cache, err := mbtiles.OpenCache(stores, outdir, task.Name)
	if err != nil {
		return err
	}
	task.cache = cache
	task.store = cache.Store()
	task.File = path
	return nil
}

// 结束任务
func (task *Task) AbortFun() {
	task.abortOnce.Do(func() {
		close(task.abort)
		task.cancel()
	})
	select {
	case <-task.finished:
	case <-time.After(30 * time.Second):
		log.Warnf("Task %s did not stop in time", task.ID)
	}
}

func (task *Task) aborted() bool {
	select {
	case <-task.abort:
		return true
	default:
		return false
	}
}

// Download 开启填充任务
func (task *Task) Download() {
	defer close(task.finished)
	log.Infof("Task %s: %d tiles around %v into %s", task.ID, task.Total, task.Center(), task.File)
	for _, layer := range task.Layers {
		if task.aborted() {
			return
		}
		task.downloadLayer(layer)
	}
	task.recordMetadata()
}

// recordMetadata 记录输出库的级别范围与边界
func (task *Task) recordMetadata() {
	if task.store == nil {
		return
	}
	rows := [][2]string{
		{"minzoom", strconv.Itoa(task.store.MinZoom())},
		{"maxzoom", strconv.Itoa(task.store.MaxZoom())},
	}
	if b, ok := task.Bound(); ok && hasExtent(b) {
		rows = append(rows, [2]string{"bounds", mbtiles.FormatBounds(b)})
	}
	for _, row := range rows {
		if err := task.store.SetMetadata(context.Background(), row[0], row[1]); err != nil {
			log.Warnf("record %s error, details: %s", row[0], err)
		}
	}
}

// isDone 断点记录或输出库中已有该瓦片
func (task *Task) isDone(tile maptile.Tile) bool {
	if BreakPointInst != nil && BreakPointInst.IsSuccessed(tile) {
		return true
	}
	return task.cache != nil && task.cache.IsTileInCache(task.ctx, tile)
}

// tileFetcher 瓦片加载器
func (task *Task) tileFetcher(mt maptile.Tile) {
	start := time.Now()
	//workers完成并清退
	defer func() {
		task.tileWG.Done()
		<-task.workers
	}()

	body, err := task.source.LoadTile(task.ctx, mt, task.TileMap.Scale)
	if err != nil {
		atomic.AddInt64(&task.Missing, 1)
		if !mbtiles.IsMiss(err) && task.ctx.Err() == nil {
			log.Warnf("resolve tile %v error, details: %s ~", mt, err)
		}
		return
	}
	td := Tile{
		T: mt,
		C: body,
	}

	switch task.TileMap.Format {
	case mbtiles.PNG, mbtiles.JPG:
		// 派生瓦片统一为 png, 按输出格式转码
		if td.C, err = raster.Transcode(body, string(task.TileMap.Format)); err != nil {
			atomic.AddInt64(&task.Missing, 1)
			log.Warnf("transcode tile %v error, details: %s ~", mt, err)
			return
		}
	}

	if task.TileMap.Format == mbtiles.PBF && !isGzip(body) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			log.Errorf("gzip tile %v error ~ %s", mt, err)
			return
		}
		if err := zw.Close(); err != nil {
			log.Errorf("gzip tile %v error ~ %s", mt, err)
			return
		}
		td.C = buf.Bytes()
	}

	if err := task.saveTile(td); err != nil {
		return
	}
	atomic.AddInt64(&task.Current, 1)
	if BreakPointInst != nil {
		BreakPointInst.SetSuccessed(mt)
	}

	cost := time.Since(start).Milliseconds()
	log.Debugf("tile(z:%d, x:%d, y:%d), %dms , %.2f kb ...", mt.Z, mt.X, mt.Y, cost, float32(len(body))/1024.0)
}

func isGzip(data []byte) bool {
	return len(data) > 1 && data[0] == 0x1f && data[1] == 0x8b
}

// saveTile 保存瓦片
func (task *Task) saveTile(tile Tile) error {
	var err error
	if task.cache != nil {
		err = task.cache.AddTile(task.ctx, tile.T, tile.C)
	} else {
		err = saveToFiles(tile, task)
	}
	if err != nil {
		log.Errorf("save %v tile error ~ %s", tile.T, err)
	}
	return err
}

// downloadLayer 填充指定层级
func (task *Task) downloadLayer(layer Layer) {
	log.Infof("Task %s layer zoom %d starting", task.ID, layer.Zoom)
	bar := pb.New64(layer.Count).Prefix(fmt.Sprintf("Zoom %d : ", layer.Zoom)).Postfix("\n")
	bar.SetRefreshRate(time.Second)
	bar.Start()

	var tilelist = make(chan maptile.Tile, task.bufSize)

	go tilecover.CollectionChannel(layer.Collection, maptile.Zoom(layer.Zoom), tilelist)

loop:
	for tile := range tilelist {
		if task.isDone(tile) {
			log.Debugf("tile %v already done, skip", tile)
			bar.Increment()
			continue
		}
		select {
		case task.workers <- struct{}{}:
			bar.Increment()
			//设置请求发送间隔时间
			time.Sleep(time.Duration(task.timeDelay) * time.Millisecond)
			task.tileWG.Add(1)
			go task.tileFetcher(tile)
		case <-task.abort:
			log.Infof("Task %s got canceled.", task.Name)
			// 释放覆盖计算协程
			go func() {
				for range tilelist {
				}
			}()
			break loop
		}
	}
	//等待该层结束
	task.tileWG.Wait()
	bar.FinishPrint(fmt.Sprintf("Task %s Zoom %d finished ~", task.ID, layer.Zoom))
}
