package mbtiles

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// TileCache 通用瓦片缓存能力
type TileCache interface {
	GetTile(ctx context.Context, t maptile.Tile) ([]byte, error)
	AddTile(ctx context.Context, t maptile.Tile, data []byte) error
	CacheName() string
	IsTileInCache(ctx context.Context, t maptile.Tile) bool
	RemoveTile(ctx context.Context, t maptile.Tile) error
}

// Cache adapts a writable Store to TileCache, without resampling.
type Cache struct {
	store *Store
	name  string
}

var _ TileCache = (*Cache)(nil)

// OpenCache opens <dir>/<name>.mbtiles read-write, creating it as a png
// baselayer covering the world when missing.
func OpenCache(reg *Registry, dir, name string) (*Cache, error) {
	name = FileName(name)
	path := PathFor(dir, name)

	var (
		s   *Store
		err error
	)
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		s, err = reg.Create(path, DefaultMetadata(strings.TrimSuffix(name, Ext)))
		if errors.Is(err, ErrAlreadyExists) {
			s, err = reg.Store(path, false)
		}
	} else {
		s, err = reg.Store(path, false)
	}
	if err != nil {
		return nil, err
	}
	return &Cache{store: s, name: name}, nil
}

// NewCache wraps an already resolved store.
func NewCache(s *Store, name string) *Cache {
	return &Cache{store: s, name: FileName(name)}
}

func (c *Cache) GetTile(ctx context.Context, t maptile.Tile) ([]byte, error) {
	return c.store.LoadTile(ctx, t)
}

// AddTile upserts, so re-adding a key replaces its payload.
func (c *Cache) AddTile(ctx context.Context, t maptile.Tile, data []byte) error {
	return c.store.PutTile(ctx, t, data)
}

func (c *Cache) CacheName() string { return c.name }

func (c *Cache) IsTileInCache(ctx context.Context, t maptile.Tile) bool {
	return c.store.TileExists(ctx, t)
}

func (c *Cache) RemoveTile(ctx context.Context, t maptile.Tile) error {
	return c.store.RemoveTile(ctx, t)
}

// Store 底层瓦片库
func (c *Cache) Store() *Store { return c.store }
