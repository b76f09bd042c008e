package pyramid

import (
	"context"
	"fmt"
	"image"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mbtiler/mbtiles"
	"mbtiler/raster"
)

// TileSize 默认瓦片大小
const TileSize = 256

// donorFetchLimit caps concurrent donor reads of one downsample.
const donorFetchLimit = 8

// TileLoader is the part of a tile store the resampler reads from.
type TileLoader interface {
	LoadTile(ctx context.Context, t maptile.Tile) ([]byte, error)
	ZoomLevels() []int
}

// Resampler serves any zoom of a store by reading a present level
// directly or deriving the tile from a neighbouring level.
type Resampler struct {
	store TileLoader
	side  int
	log   logrus.FieldLogger
}

// NewResampler side <= 0 uses TileSize.
func NewResampler(store TileLoader, side int, log logrus.FieldLogger) *Resampler {
	if side <= 0 {
		side = TileSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resampler{store: store, side: side, log: log}
}

// Side 输出瓦片边长
func (r *Resampler) Side() int { return r.side }

// Tile runs the plan for req and returns the first step that succeeds.
// Every failure is reported as ErrTileNotFound.
func (r *Resampler) Tile(ctx context.Context, req Request) ([]byte, error) {
	steps := Plan(int(req.Tile.Z), r.store.ZoomLevels())
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: %s: no usable zoom level", mbtiles.ErrTileNotFound, req)
	}
	var err error
	for _, step := range steps {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var data []byte
		data, err = r.run(ctx, req.Tile, step)
		if err == nil {
			return data, nil
		}
		r.log.Debugf("tile %s via %s failed: %s", req, step, err)
	}
	return nil, normalize(req, err)
}

func (r *Resampler) run(ctx context.Context, t maptile.Tile, step Step) ([]byte, error) {
	switch step.Kind {
	case Direct:
		return r.store.LoadTile(ctx, t)
	case Downsample:
		return r.downsample(ctx, t, step.Donor)
	case Upsample:
		return r.upsample(ctx, t, step.Donor)
	default:
		return nil, fmt.Errorf("unknown step %s", step)
	}
}

// downsample composes the factor×factor block of finer tiles covering t.
// A single missing donor fails the whole attempt.
func (r *Resampler) downsample(ctx context.Context, t maptile.Tile, donor int) ([]byte, error) {
	gap := donor - int(t.Z)
	if gap <= 0 || gap > MaxDownsampleGap {
		return nil, fmt.Errorf("downsample gap %d out of range", gap)
	}
	factor := 1 << gap
	baseX := t.X << uint(gap)
	baseY := t.Y << uint(gap)

	tiles := make([]image.Image, factor*factor)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(donorFetchLimit)
	for iy := 0; iy < factor; iy++ {
		for ix := 0; ix < factor; ix++ {
			d := maptile.New(baseX+uint32(ix), baseY+uint32(iy), maptile.Zoom(donor))
			idx := iy*factor + ix
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				data, err := r.store.LoadTile(gctx, d)
				if err != nil {
					return err
				}
				img, err := raster.Decode(data)
				if err != nil {
					return fmt.Errorf("%w: donor %d/%d/%d: %v", mbtiles.ErrInvalidTileFormat, d.Z, d.X, d.Y, err)
				}
				tiles[idx] = img
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out, err := raster.Downsample(tiles, factor, r.side)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mbtiles.ErrInvalidTileFormat, err)
	}
	return raster.EncodePNG(out)
}

// upsample crops the part of one coarser tile that t covers and enlarges it.
func (r *Resampler) upsample(ctx context.Context, t maptile.Tile, donor int) ([]byte, error) {
	overzoom := int(t.Z) - donor
	if overzoom <= 0 || overzoom >= 32 {
		return nil, fmt.Errorf("upsample overzoom %d out of range", overzoom)
	}
	factor := 1 << overzoom
	if r.side/factor < 1 {
		return nil, fmt.Errorf("%w: overzoom %d exceeds tile resolution", mbtiles.ErrTileNotFound, overzoom)
	}
	parent := maptile.New(t.X>>uint(overzoom), t.Y>>uint(overzoom), maptile.Zoom(donor))
	data, err := r.store.LoadTile(ctx, parent)
	if err != nil {
		return nil, err
	}
	img, err := raster.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: donor %d/%d/%d: %v", mbtiles.ErrInvalidTileFormat, parent.Z, parent.X, parent.Y, err)
	}
	ix := int(t.X) % factor
	iy := int(t.Y) % factor
	out, err := raster.Upsample(img, factor, ix, iy, r.side)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mbtiles.ErrInvalidTileFormat, err)
	}
	return raster.EncodePNG(out)
}
