package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb/maptile"
)

var BreakPointInst *BreakPoint

func InitBreakPoint() {
	dir := filepath.Clean(conf.BreakPoint.SaveFilePath)
	os.MkdirAll(dir, os.ModePerm)
	filePath := filepath.Join(dir, fmt.Sprintf("%s.log", conf.Tm.Name))
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		log.Errorf("open break point file %s error, details: %s", filePath, err)
		panic("break point file open is error")
	}

	BreakPointInst = NewBreakPoint(file, conf.Task.Workers)
	log.Infof("断点记录 %s, 已完成 %d 个瓦片", filePath, BreakPointInst.Len())

	SafeExitInst.Register(BreakPointInst.BreakPointSafeFun)

	// 开始断点任务
	go BreakPointInst.Start()
}

// 读取断点记录
func getBackPoint(r io.Reader) map[string]struct{} {
	res := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			res[line] = struct{}{}
		}
	}
	return res
}

// BreakPoint records finished tiles so an interrupted fill resumes where
// it stopped.
type BreakPoint struct {
	file       io.WriteCloser
	saveChan   chan maptile.Tile
	successMap map[string]struct{}
	done       chan struct{}

	mu      sync.Mutex
	isClose bool
}

// NewBreakPoint loads the finished keys from rw. buf is the record queue
// size.
func NewBreakPoint(rw io.ReadWriteCloser, buf int) *BreakPoint {
	if buf < 1 {
		buf = 1
	}
	return &BreakPoint{
		file:       rw,
		saveChan:   make(chan maptile.Tile, buf),
		successMap: getBackPoint(rw),
		done:       make(chan struct{}),
	}
}

func breakPointKey(tile maptile.Tile) string {
	return fmt.Sprintf("%d-%d-%d", tile.X, tile.Y, tile.Z)
}

// Len 已记录数量
func (b *BreakPoint) Len() int { return len(b.successMap) }

func (b *BreakPoint) IsSuccessed(tile maptile.Tile) bool {
	_, ok := b.successMap[breakPointKey(tile)]
	return ok
}

func (b *BreakPoint) SetSuccessed(tile maptile.Tile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClose {
		return
	}
	b.saveChan <- tile
}

func (b *BreakPoint) Start() {
	defer close(b.done)
	for tile := range b.saveChan {
		if _, err := io.WriteString(b.file, breakPointKey(tile)+"\n"); err != nil {
			log.Warnf("write break point %v error, details: %s", tile, err)
		}
	}
}

// BreakPointSafeFun drains pending records and closes the file.
func (b *BreakPoint) BreakPointSafeFun() {
	b.mu.Lock()
	if b.isClose {
		b.mu.Unlock()
		return
	}
	b.isClose = true
	close(b.saveChan)
	b.mu.Unlock()

	<-b.done
	b.file.Close()
	log.Infof("断点记录任务已安全退出")
}
