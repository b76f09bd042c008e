package overlay

import (
	"context"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"

	"mbtiler/mbtiles"
	"mbtiler/pyramid"
)

// Overlay 对外瓦片图层: 主瓦片库加重采样, 底图可带备用源
type Overlay struct {
	name  string
	store *mbtiles.Store
	chain pyramid.Chain
	log   logrus.FieldLogger
}

var _ pyramid.Source = (*Overlay)(nil)

// New builds the fallback chain for store. The backup is only consulted
// for baselayer stores.
func New(name string, store *mbtiles.Store, backup pyramid.Source, side int, log logrus.FieldLogger) *Overlay {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("overlay", name)
	chain := pyramid.Chain{pyramid.NewResampler(store, side, log)}
	if backup != nil && store.Type() == mbtiles.Baselayer {
		chain = append(chain, backup)
	}
	return &Overlay{
		name:  name,
		store: store,
		chain: chain,
		log:   log,
	}
}

// LoadTile resolves one tile through the chain. It is safe for concurrent
// use; ctx is only checked between tiers, a running composite is never
// interrupted.
func (o *Overlay) LoadTile(ctx context.Context, t maptile.Tile, scale float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := o.chain.Tile(ctx, pyramid.Request{Tile: t, Scale: scale})
	if err != nil {
		o.log.Debugf("tile %d/%d/%d unavailable: %s", t.Z, t.X, t.Y, err)
		return nil, err
	}
	return data, nil
}

// Tile lets an overlay serve as another overlay's backup.
func (o *Overlay) Tile(ctx context.Context, req pyramid.Request) ([]byte, error) {
	return o.LoadTile(ctx, req.Tile, req.Scale)
}

// TileExists reports a stored tile only, never a derived one.
func (o *Overlay) TileExists(ctx context.Context, t maptile.Tile) bool {
	return o.store.TileExists(ctx, t)
}

// CacheName 图层名
func (o *Overlay) CacheName() string { return o.name }

// Store 主瓦片库
func (o *Overlay) Store() *mbtiles.Store { return o.store }

// Chain returns the sources in the order they are tried.
func (o *Overlay) Chain() pyramid.Chain {
	return append(pyramid.Chain(nil), o.chain...)
}
