package mbtiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
)

const busyTimeout = 5000

const schema = `
CREATE TABLE metadata (name TEXT, value TEXT);
CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB);
CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row);
`

// handle is one sql.DB with the number of operations currently using it.
// A retired handle is closed by the last operation that releases it.
type handle struct {
	db      *sql.DB
	refs    int
	retired bool
}

// Store 单个 .mbtiles 文件
//
// The connection is opened lazily for every operation after the initial
// metadata load and may be released when idle, so an idle store does not
// hold a lock on its file.
type Store struct {
	path string
	log  logrus.FieldLogger

	mu       sync.Mutex
	h        *handle
	readOnly bool
	meta     Metadata
	levels   []int
}

// dsn builds a sqlite URI; the path is escaped so '?', '#' and '%' in
// file or directory names stay part of the path.
func dsn(path, mode string) string {
	p := (&url.URL{Path: filepath.ToSlash(path)}).EscapedPath()
	return fmt.Sprintf("file:%s?mode=%s&_busy_timeout=%d", p, mode, busyTimeout)
}

func openDB(path string, readOnly bool) (*sql.DB, error) {
	mode := "rw"
	if readOnly {
		mode = "ro"
	}
	db, err := sql.Open("sqlite3", dsn(path, mode))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open 打开已有瓦片库并加载元数据
func Open(path string, readOnly bool, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{
		path:     path,
		readOnly: readOnly,
		log:      log.WithField("store", filepath.Base(path)),
		meta:     DefaultMetadata(""),
	}
	db, err := openDB(path, readOnly)
	if err != nil {
		s.log.Errorf("open %s error, details: %s", path, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreOpen, path, err)
	}
	defer db.Close()

	if err := s.load(context.Background(), db); err != nil {
		s.log.Errorf("load %s metadata error, details: %s", path, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreOpen, path, err)
	}
	s.log.Debugf("opened %s, zoom levels %v", path, s.levels)
	return s, nil
}

func (s *Store) load(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return err
	}
	meta := DefaultMetadata("")
	for rows.Next() {
		var name, value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			rows.Close()
			return err
		}
		meta.set(name.String, value.String)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	zrows, err := db.QueryContext(ctx, "SELECT DISTINCT zoom_level FROM tiles ORDER BY zoom_level")
	if err != nil {
		return err
	}
	defer zrows.Close()
	var levels []int
	for zrows.Next() {
		var z int
		if err := zrows.Scan(&z); err != nil {
			return err
		}
		levels = append(levels, z)
	}
	if err := zrows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.meta = meta
	s.levels = levels
	s.mu.Unlock()
	return nil
}

// Create 新建瓦片库文件, 目标已存在时返回 ErrAlreadyExists 且不修改原文件
func Create(path string, md Metadata) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreIO, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreIO, err)
	}
	f.Close()

	if err := initSchema(path, md); err != nil {
		os.Remove(path)
		return fmt.Errorf("%w: %s: %v", ErrStoreIO, path, err)
	}
	return nil
}

func initSchema(path string, md Metadata) error {
	db, err := sql.Open("sqlite3", dsn(path, "rwc"))
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(schema); err != nil {
		tx.Rollback()
		return err
	}
	if md.Date.IsZero() {
		md.Date = time.Now()
	}
	for _, row := range md.rows() {
		if _, err := tx.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", row[0], row[1]); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// acquire returns the live handle, reopening it when it was released.
func (s *Store) acquire() (*handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h == nil {
		db, err := openDB(s.path, s.readOnly)
		if err != nil {
			return nil, err
		}
		s.h = &handle{db: db}
	}
	s.h.refs++
	return s.h, nil
}

func (s *Store) done(h *handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.refs--
	if h.retired && h.refs == 0 {
		h.db.Close()
	}
}

// retireLocked detaches the current handle; it closes now or after its last user.
func (s *Store) retireLocked() {
	if s.h == nil {
		return
	}
	h := s.h
	s.h = nil
	h.retired = true
	if h.refs == 0 {
		h.db.Close()
	}
}

// Release 释放连接, 下一次操作时重新打开
func (s *Store) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retireLocked()
}

// reopen swaps the connection for one in the requested mode.
func (s *Store) reopen(readOnly bool) error {
	db, err := openDB(s.path, readOnly)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStoreOpen, s.path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retireLocked()
	s.h = &handle{db: db}
	s.readOnly = readOnly
	return nil
}

// do runs fn on a live handle. A cancelled caller gets its context error
// back unlogged; other failures are logged and wrapped as ErrStoreIO.
func (s *Store) do(ctx context.Context, op string, t maptile.Tile, fn func(db *sql.DB) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h, err := s.acquire()
	if err != nil {
		s.log.Errorf("reopen %s for %s %s error, details: %s", s.path, op, tileString(t), err)
		return fmt.Errorf("%w: reopen %s: %v", ErrStoreIO, s.path, err)
	}
	defer s.done(h)
	err = fn(h.db)
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	s.log.Errorf("%s %s error, details: %s", op, tileString(t), err)
	return fmt.Errorf("%w: %s %s: %v", ErrStoreIO, op, tileString(t), err)
}

func (s *Store) writable(op string, t maptile.Tile) error {
	s.mu.Lock()
	ro := s.readOnly
	s.mu.Unlock()
	if ro {
		return fmt.Errorf("%w: %s %s: store is read-only", ErrStoreIO, op, tileString(t))
	}
	return nil
}

// LoadTile 读取瓦片, 不存在时返回 ErrTileNotFound
func (s *Store) LoadTile(ctx context.Context, t maptile.Tile) ([]byte, error) {
	var data []byte
	err := s.do(ctx, "load", t, func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			"SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
			t.Z, t.X, FlipY(t.Z, t.Y)).Scan(&data)
	})
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(data) == 0) {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, tileString(t))
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// TileExists 判断瓦片是否存在且非空
func (s *Store) TileExists(ctx context.Context, t maptile.Tile) bool {
	var exists bool
	err := s.do(ctx, "exists", t, func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ? AND length(tile_data) > 0)",
			t.Z, t.X, FlipY(t.Z, t.Y)).Scan(&exists)
	})
	return err == nil && exists
}

// InsertTile 插入瓦片, 与已有瓦片冲突时忽略
func (s *Store) InsertTile(ctx context.Context, t maptile.Tile, data []byte) error {
	if err := s.writable("insert", t); err != nil {
		return err
	}
	var duplicate bool
	err := s.do(ctx, "insert", t, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)",
			t.Z, t.X, FlipY(t.Z, t.Y), data)
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			duplicate = true
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if duplicate {
		s.log.Debugf("tile %s already stored, insert ignored", tileString(t))
		return nil
	}
	s.addLevel(int(t.Z))
	return nil
}

// PutTile 插入或覆盖瓦片
func (s *Store) PutTile(ctx context.Context, t maptile.Tile, data []byte) error {
	if err := s.writable("put", t); err != nil {
		return err
	}
	err := s.do(ctx, "put", t, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)",
			t.Z, t.X, FlipY(t.Z, t.Y), data)
		return err
	})
	if err != nil {
		return err
	}
	s.addLevel(int(t.Z))
	return nil
}

// UpdateTile 更新已有瓦片, 不存在时不做任何事
func (s *Store) UpdateTile(ctx context.Context, t maptile.Tile, data []byte) error {
	if err := s.writable("update", t); err != nil {
		return err
	}
	return s.do(ctx, "update", t, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"UPDATE tiles SET tile_data = ? WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
			data, t.Z, t.X, FlipY(t.Z, t.Y))
		return err
	})
}

// RemoveTile 删除瓦片, 不存在时不做任何事
func (s *Store) RemoveTile(ctx context.Context, t maptile.Tile) error {
	if err := s.writable("remove", t); err != nil {
		return err
	}
	var remaining bool
	err := s.do(ctx, "remove", t, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"DELETE FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
			t.Z, t.X, FlipY(t.Z, t.Y))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			remaining = true
			return nil
		}
		return db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM tiles WHERE zoom_level = ?)", t.Z).Scan(&remaining)
	})
	if err != nil {
		return err
	}
	if !remaining {
		s.dropLevel(int(t.Z))
	}
	return nil
}

// SetMetadata 写入一条元数据
func (s *Store) SetMetadata(ctx context.Context, name, value string) error {
	if err := s.writable("metadata", maptile.Tile{}); err != nil {
		return err
	}
	err := s.do(ctx, "metadata", maptile.Tile{}, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, "UPDATE metadata SET value = ? WHERE name = ?", value, name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = db.ExecContext(ctx, "INSERT INTO metadata (name, value) VALUES (?, ?)", name, value)
		return err
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.meta.set(name, value)
	s.mu.Unlock()
	return nil
}

func (s *Store) addLevel(z int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.SearchInts(s.levels, z)
	if i < len(s.levels) && s.levels[i] == z {
		return
	}
	s.levels = append(s.levels, 0)
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = z
}

func (s *Store) dropLevel(z int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.SearchInts(s.levels, z)
	if i < len(s.levels) && s.levels[i] == z {
		s.levels = append(s.levels[:i], s.levels[i+1:]...)
	}
}

// Path 文件路径
func (s *Store) Path() string { return s.path }

// ReadOnly 是否只读
func (s *Store) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}

// Metadata 元数据副本
func (s *Store) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

func (s *Store) Name() string      { return s.Metadata().Name }
func (s *Store) Format() Format    { return s.Metadata().Format }
func (s *Store) Type() LayerType   { return s.Metadata().Type }
func (s *Store) Bounds() orb.Bound { return s.Metadata().Bounds }
func (s *Store) Date() time.Time   { return s.Metadata().Date }

// ZoomLevels returns a sorted copy of the zoom levels that contain tiles.
func (s *Store) ZoomLevels() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.levels...)
}

// MinZoom is 0 for an empty store.
func (s *Store) MinZoom() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.levels) == 0 {
		return 0
	}
	return s.levels[0]
}

// MaxZoom is 0 for an empty store.
func (s *Store) MaxZoom() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.levels) == 0 {
		return 0
	}
	return s.levels[len(s.levels)-1]
}

// HasZoom 该级别是否有瓦片
func (s *Store) HasZoom(z int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.SearchInts(s.levels, z)
	return i < len(s.levels) && s.levels[i] == z
}
