package mbtiles

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/paulmach/orb/maptile"
)

func TestRegistry_OneStorePerFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one.mbtiles")
	if err := Create(path, DefaultMetadata("one")); err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(testLogger())
	defer reg.Close()

	var wg sync.WaitGroup
	got := make([]*Store, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := reg.Store(path, true)
			if err != nil {
				t.Error(err)
				return
			}
			got[i] = s
		}(i)
	}
	wg.Wait()
	for _, s := range got[1:] {
		if s != got[0] {
			t.Fatal("registry returned two stores for one file")
		}
	}

	relative, err := filepath.Rel(".", path)
	if err == nil {
		s, err := reg.Store(relative, true)
		if err != nil {
			t.Fatal(err)
		}
		if s != got[0] {
			t.Error("relative path resolved to a different store")
		}
	}
	if reg.Len() != 1 {
		t.Errorf("registry holds %d stores", reg.Len())
	}
}

func TestRegistry_PromoteInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promote.mbtiles")
	if err := Create(path, DefaultMetadata("promote")); err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(testLogger())
	defer reg.Close()

	ro, err := reg.Store(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if !ro.ReadOnly() {
		t.Fatal("expected read-only store")
	}
	ctx := context.Background()
	if err := ro.InsertTile(ctx, maptile.New(0, 0, 0), []byte("x")); !errors.Is(err, ErrStoreIO) {
		t.Fatalf("write on read-only store: %v", err)
	}

	rw, err := reg.Store(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if rw != ro {
		t.Fatal("promotion must keep the same store")
	}
	if rw.ReadOnly() {
		t.Fatal("store not promoted")
	}
	if err := rw.InsertTile(ctx, maptile.New(0, 0, 0), []byte("x")); err != nil {
		t.Fatal(err)
	}

	again, err := reg.Store(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if again != rw || again.ReadOnly() {
		t.Error("read-only lookup should return the writable store unchanged")
	}
}

func TestRegistry_Create(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "new.mbtiles")
	reg := NewRegistry(testLogger())
	defer reg.Close()

	s, err := reg.Create(path, DefaultMetadata("new"))
	if err != nil {
		t.Fatal(err)
	}
	if s.ReadOnly() {
		t.Error("created store should be writable")
	}
	if _, err := reg.Create(path, DefaultMetadata("new")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second create: want ErrAlreadyExists, got %v", err)
	}
}

func TestOpenCache(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(testLogger())
	defer reg.Close()

	c, err := OpenCache(reg, dir, "charts")
	if err != nil {
		t.Fatal(err)
	}
	if c.CacheName() != "charts.mbtiles" {
		t.Errorf("cache name = %q", c.CacheName())
	}
	md := c.Store().Metadata()
	if md.Format != PNG || md.Type != Baselayer || md.Bounds != WorldBounds {
		t.Errorf("default metadata = %+v", md)
	}

	ctx := context.Background()
	tile := maptile.New(4, 6, 3)
	if c.IsTileInCache(ctx, tile) {
		t.Fatal("empty cache reports a tile")
	}
	if err := c.AddTile(ctx, tile, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := c.AddTile(ctx, tile, []byte("b")); err != nil {
		t.Fatal(err)
	}
	got, err := c.GetTile(ctx, tile)
	if err != nil || string(got) != "b" {
		t.Fatalf("get = %q, %v", got, err)
	}
	if err := c.RemoveTile(ctx, tile); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetTile(ctx, tile); !errors.Is(err, ErrTileNotFound) {
		t.Errorf("after remove: %v", err)
	}

	again, err := OpenCache(reg, dir, "charts.mbtiles")
	if err != nil {
		t.Fatal(err)
	}
	if again.Store() != c.Store() {
		t.Error("reopening the cache should reuse the registered store")
	}
}
