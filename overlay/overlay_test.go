package overlay

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"mbtiler/mbtiles"
	"mbtiler/pyramid"
	"mbtiler/raster"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

func uniformPNG(t *testing.T, side int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	data, err := raster.EncodePNG(img)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// newChart writes <dir>/<name>.mbtiles holding the zoom-5 block under
// zoom-2 tile (1,1).
func newChart(t *testing.T, dir, name string, typ mbtiles.LayerType, c color.RGBA) {
	t.Helper()
	md := mbtiles.DefaultMetadata(name)
	md.Type = typ
	path := mbtiles.PathFor(dir, name)
	if err := mbtiles.Create(path, md); err != nil {
		t.Fatal(err)
	}
	s, err := mbtiles.Open(path, false, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Release()
	data := uniformPNG(t, pyramid.TileSize, c)
	ctx := context.Background()
	for y := uint32(8); y < 16; y++ {
		for x := uint32(8); x < 16; x++ {
			if err := s.InsertTile(ctx, maptile.New(x, y, 5), data); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func newRegistry(t *testing.T, dir string) *Registry {
	t.Helper()
	stores := mbtiles.NewRegistry(quietLogger())
	t.Cleanup(stores.Close)
	return NewRegistry(dir, pyramid.TileSize, stores, quietLogger())
}

func assertColor(t *testing.T, data []byte, c color.RGBA) {
	t.Helper()
	img, err := raster.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	b := img.Bounds()
	if b.Dx() != pyramid.TileSize || b.Dy() != pyramid.TileSize {
		t.Fatalf("tile size %v", b)
	}
	got := color.RGBAModel.Convert(img.At(b.Dx()/2, b.Dy()/2)).(color.RGBA)
	near := func(a, b uint8) bool { return a-b <= 1 || b-a <= 1 }
	if !near(got.R, c.R) || !near(got.G, c.G) || !near(got.B, c.B) || !near(got.A, c.A) {
		t.Fatalf("center pixel %v, want %v", got, c)
	}
}

func TestOverlay_Zoom5Scenario(t *testing.T) {
	dir := t.TempDir()
	red := color.RGBA{R: 255, A: 255}
	newChart(t, dir, "chart", mbtiles.Baselayer, red)
	reg := newRegistry(t, dir)

	o, err := reg.Open("chart", nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	data, err := o.LoadTile(ctx, maptile.New(40, 40, 7), 1)
	if err != nil {
		t.Fatalf("z7: %v", err)
	}
	assertColor(t, data, red)

	data, err = o.LoadTile(ctx, maptile.New(1, 1, 2), 1)
	if err != nil {
		t.Fatalf("z2: %v", err)
	}
	assertColor(t, data, red)

	if _, err := o.LoadTile(ctx, maptile.New(0, 0, 0), 1); !errors.Is(err, mbtiles.ErrTileNotFound) {
		t.Fatalf("z0: want ErrTileNotFound, got %v", err)
	}

	direct := maptile.New(9, 12, 5)
	data, err = o.LoadTile(ctx, direct, 1)
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := o.Store().LoadTile(ctx, direct)
	if string(data) != string(stored) {
		t.Error("direct hit must return the stored bytes")
	}
	if !o.TileExists(ctx, direct) || o.TileExists(ctx, maptile.New(40, 40, 7)) {
		t.Error("TileExists should only report stored tiles")
	}
	if o.CacheName() != "chart" {
		t.Errorf("cache name %q", o.CacheName())
	}
}

func TestOverlay_BackupOnlyForBaselayer(t *testing.T) {
	dir := t.TempDir()
	newChart(t, dir, "base", mbtiles.Baselayer, color.RGBA{B: 255, A: 255})
	newChart(t, dir, "marks", mbtiles.Overlay, color.RGBA{G: 255, A: 255})
	reg := newRegistry(t, dir)

	var calls int
	backup := pyramid.SourceFunc(func(ctx context.Context, req pyramid.Request) ([]byte, error) {
		calls++
		return []byte("world"), nil
	})

	base, err := reg.Open("base", backup)
	if err != nil {
		t.Fatal(err)
	}
	if len(base.Chain()) != 2 {
		t.Fatalf("baselayer chain has %d sources", len(base.Chain()))
	}
	data, err := base.LoadTile(context.Background(), maptile.New(0, 0, 0), 1)
	if err != nil || string(data) != "world" || calls != 1 {
		t.Fatalf("backup not used: %q %v calls=%d", data, err, calls)
	}

	marks, err := reg.Open("marks.mbtiles", backup)
	if err != nil {
		t.Fatal(err)
	}
	if len(marks.Chain()) != 1 {
		t.Fatalf("overlay chain has %d sources", len(marks.Chain()))
	}
	if _, err := marks.LoadTile(context.Background(), maptile.New(0, 0, 0), 1); !errors.Is(err, mbtiles.ErrTileNotFound) {
		t.Errorf("overlay role: want ErrTileNotFound, got %v", err)
	}
	if calls != 1 {
		t.Error("backup consulted for an overlay-role store")
	}
}

func TestOverlay_BackupErrorSurfaces(t *testing.T) {
	dir := t.TempDir()
	newChart(t, dir, "base", mbtiles.Baselayer, color.RGBA{A: 255})
	reg := newRegistry(t, dir)
	offline := errors.New("basemap offline")
	o, err := reg.Open("base", pyramid.SourceFunc(func(ctx context.Context, req pyramid.Request) ([]byte, error) {
		return nil, offline
	}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.LoadTile(context.Background(), maptile.New(0, 0, 0), 1); err != offline {
		t.Errorf("want backup error, got %v", err)
	}
}

func TestOverlay_AsBackup(t *testing.T) {
	dir := t.TempDir()
	yellow := color.RGBA{R: 255, G: 255, A: 255}
	newChart(t, dir, "harbour", mbtiles.Baselayer, color.RGBA{B: 255, A: 255})
	reg := newRegistry(t, dir)

	worldPath := mbtiles.PathFor(dir, "world")
	if err := mbtiles.Create(worldPath, mbtiles.DefaultMetadata("world")); err != nil {
		t.Fatal(err)
	}
	ws, err := reg.stores.Store(worldPath, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.InsertTile(context.Background(), maptile.New(0, 0, 0), uniformPNG(t, pyramid.TileSize, yellow)); err != nil {
		t.Fatal(err)
	}

	world, err := reg.Open("world", nil)
	if err != nil {
		t.Fatal(err)
	}
	harbour, err := reg.Open("harbour", world)
	if err != nil {
		t.Fatal(err)
	}
	data, err := harbour.LoadTile(context.Background(), maptile.New(0, 0, 1), 1)
	if err != nil {
		t.Fatal(err)
	}
	assertColor(t, data, yellow)
}

func TestRegistry_OneOverlayPerName(t *testing.T) {
	dir := t.TempDir()
	newChart(t, dir, "chart", mbtiles.Baselayer, color.RGBA{A: 255})
	reg := newRegistry(t, dir)

	var wg sync.WaitGroup
	got := make([]*Overlay, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := reg.Open("chart", nil)
			if err != nil {
				t.Error(err)
				return
			}
			got[i] = o
		}(i)
	}
	wg.Wait()
	for _, o := range got {
		if o != got[0] {
			t.Fatal("two overlays for one name")
		}
	}
	if o, ok := reg.Get("chart.mbtiles"); !ok || o != got[0] {
		t.Error("Get by file name")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "chart" {
		t.Errorf("names %v", names)
	}
	if _, err := reg.Open("missing", nil); !errors.Is(err, mbtiles.ErrStoreOpen) {
		t.Errorf("missing chart: %v", err)
	}
	if reg.Dir() != dir || filepath.Base(got[0].Store().Path()) != "chart.mbtiles" {
		t.Error("store path")
	}
}

func TestOverlay_ConcurrentRequests(t *testing.T) {
	dir := t.TempDir()
	red := color.RGBA{R: 255, A: 255}
	newChart(t, dir, "chart", mbtiles.Baselayer, red)
	reg := newRegistry(t, dir)
	o, err := reg.Open("chart", nil)
	if err != nil {
		t.Fatal(err)
	}

	tiles := []maptile.Tile{
		maptile.New(40, 40, 7), maptile.New(40, 40, 7),
		maptile.New(2, 2, 3), maptile.New(10, 11, 5),
		maptile.New(20, 21, 6), maptile.New(1, 1, 2),
	}
	var wg sync.WaitGroup
	for _, tile := range tiles {
		wg.Add(1)
		go func(tile maptile.Tile) {
			defer wg.Done()
			if _, err := o.LoadTile(context.Background(), tile, 1); err != nil {
				t.Errorf("%v: %v", tile, err)
			}
		}(tile)
	}
	wg.Wait()
}

func TestOverlay_CancelledRequest(t *testing.T) {
	dir := t.TempDir()
	newChart(t, dir, "chart", mbtiles.Baselayer, color.RGBA{A: 255})
	reg := newRegistry(t, dir)
	o, err := reg.Open("chart", nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.LoadTile(ctx, maptile.New(10, 10, 5), 1); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func errorEntries(hook *logtest.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level <= logrus.ErrorLevel {
			out = append(out, e)
		}
	}
	return out
}

func TestOverlay_MissingDonorLogsNoErrors(t *testing.T) {
	dir := t.TempDir()
	newChart(t, dir, "chart", mbtiles.Baselayer, color.RGBA{G: 255, A: 255})
	s, err := mbtiles.Open(mbtiles.PathFor(dir, "chart"), false, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveTile(context.Background(), maptile.New(12, 12, 5)); err != nil {
		t.Fatal(err)
	}
	s.Release()

	logger, hook := logtest.NewNullLogger()
	stores := mbtiles.NewRegistry(logger)
	t.Cleanup(stores.Close)
	reg := NewRegistry(dir, pyramid.TileSize, stores, logger)
	o, err := reg.Open("chart", nil)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.LoadTile(context.Background(), maptile.New(1, 1, 2), 1); !mbtiles.IsMiss(err) {
				t.Errorf("want a miss, got %v", err)
			}
		}()
	}
	wg.Wait()
	if entries := errorEntries(hook); len(entries) != 0 {
		t.Errorf("a missing donor logged %d errors, first: %s", len(entries), entries[0].Message)
	}
}

func TestOverlay_StoreFailureIsMiss(t *testing.T) {
	dir := t.TempDir()
	newChart(t, dir, "chart", mbtiles.Baselayer, color.RGBA{B: 255, A: 255})
	logger, hook := logtest.NewNullLogger()
	stores := mbtiles.NewRegistry(logger)
	t.Cleanup(stores.Close)
	reg := NewRegistry(dir, pyramid.TileSize, stores, logger)
	o, err := reg.Open("chart", nil)
	if err != nil {
		t.Fatal(err)
	}

	o.Store().Release()
	if err := os.Remove(mbtiles.PathFor(dir, "chart")); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := o.LoadTile(ctx, maptile.New(10, 10, 5), 1); !mbtiles.IsMiss(err) {
		t.Errorf("want a miss, got %v", err)
	}
	if o.TileExists(ctx, maptile.New(10, 10, 5)) {
		t.Error("tile of a vanished store reported present")
	}
	if len(errorEntries(hook)) == 0 {
		t.Error("reopen failure not logged")
	}
}
