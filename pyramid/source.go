package pyramid

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb/maptile"

	"mbtiler/mbtiles"
)

// Request 瓦片请求
type Request struct {
	Tile  maptile.Tile
	Scale float64
}

func (r Request) String() string {
	return fmt.Sprintf("%d/%d/%d", r.Tile.Z, r.Tile.X, r.Tile.Y)
}

// Source 瓦片来源
type Source interface {
	Tile(ctx context.Context, req Request) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, req Request) ([]byte, error)

func (f SourceFunc) Tile(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// Chain tries its sources in order and returns the first tile found.
//
// Failures of every source but the last are absorbed. When all fail, the
// last source's error is returned unchanged, so a backup keeps its own
// error while a lone primary reports ErrTileNotFound.
type Chain []Source

func (c Chain) Tile(ctx context.Context, req Request) ([]byte, error) {
	err := fmt.Errorf("%w: %s: no source", mbtiles.ErrTileNotFound, req)
	for _, src := range c {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		data, srcErr := src.Tile(ctx, req)
		if srcErr == nil {
			return data, nil
		}
		err = srcErr
	}
	return nil, err
}

// normalize folds any failure of a resampling tier into ErrTileNotFound.
func normalize(req Request, err error) error {
	if err == nil || errors.Is(err, mbtiles.ErrTileNotFound) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", mbtiles.ErrTileNotFound, req, err)
}
