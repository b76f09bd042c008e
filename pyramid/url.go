package pyramid

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"

	"mbtiler/mbtiles"
)

// TileMap 在线瓦片地图, 作为备用瓦片源
type TileMap struct {
	Name   string
	Format string
	URL    string
	Client *http.Client
	Log    logrus.FieldLogger
}

// GetTileURL 获取瓦片URL
//
// Supported placeholders: {z} {x} {y}, {-y} for the bottom-origin row and
// {r} which becomes "@2x" for scale >= 2.
func (m *TileMap) GetTileURL(t maptile.Tile, scale float64) string {
	retina := ""
	if scale >= 2 {
		retina = "@2x"
	}
	return strings.NewReplacer(
		"{x}", strconv.Itoa(int(t.X)),
		"{-y}", strconv.Itoa(int(mbtiles.FlipY(t.Z, t.Y))),
		"{y}", strconv.Itoa(int(t.Y)),
		"{z}", strconv.Itoa(int(t.Z)),
		"{r}", retina,
	).Replace(m.URL)
}

func (m *TileMap) client() *http.Client {
	if m.Client != nil {
		return m.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (m *TileMap) logger() logrus.FieldLogger {
	if m.Log != nil {
		return m.Log
	}
	return logrus.StandardLogger()
}

// Tile fetches the tile over HTTP.
func (m *TileMap) Tile(ctx context.Context, req Request) ([]byte, error) {
	start := time.Now()
	url := m.GetTileURL(req.Tile, req.Scale)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client().Do(hreq)
	if err != nil {
		m.logger().Debugf("fetch :%s error, details: %s ~", url, err)
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		m.logger().Debugf("fetch %v tile error, status code: %d ~", url, resp.StatusCode)
		return nil, fmt.Errorf("%w: %s: status %d", mbtiles.ErrTileNotFound, url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s: empty body", mbtiles.ErrTileNotFound, url)
	}
	m.logger().Debugf("tile(z:%d, x:%d, y:%d), %dms , %.2f kb, %s ...", req.Tile.Z, req.Tile.X, req.Tile.Y,
		time.Since(start).Milliseconds(), float32(len(body))/1024.0, url)
	return body, nil
}
