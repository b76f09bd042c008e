package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb/maptile"

	"mbtiler/feature"
	"mbtiler/mbtiles"
	"mbtiler/overlay"
)

const (
	namePattern = `[A-Za-z0-9_\-]+(?:\.mbtiles)?`
	// row, then an optional @2x and an optional extension: 12, 12@2x.png
	rowPattern = `[0-9]+(?:@2x)?(?:\.[a-z]+)?`

	maxZoom = 30
)

func pingPong(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// parseTile reads z/x/y from route vars. y may carry the @2x and
// extension suffixes; retina is true when @2x was given.
func parseTile(vars map[string]string) (t maptile.Tile, retina bool, err error) {
	y := vars["y"]
	if i := strings.IndexByte(y, '.'); i >= 0 {
		y = y[:i]
	}
	if strings.HasSuffix(y, "@2x") {
		retina = true
		y = strings.TrimSuffix(y, "@2x")
	}
	z, err := strconv.ParseUint(vars["z"], 10, 32)
	if err != nil || z > uint64(maxZoom) {
		return t, false, fmt.Errorf("invalid zoom %q", vars["z"])
	}
	x, errX := strconv.ParseUint(vars["x"], 10, 32)
	row, errY := strconv.ParseUint(y, 10, 32)
	if errX != nil || errY != nil {
		return t, false, fmt.Errorf("invalid tile %s/%s/%s", vars["z"], vars["x"], vars["y"])
	}
	n := uint64(1) << z
	if x >= n || row >= n {
		return t, false, fmt.Errorf("tile %d/%d/%d out of range", z, x, row)
	}
	return maptile.New(uint32(x), uint32(row), maptile.Zoom(z)), retina, nil
}

func parseScale(r *http.Request, retina bool) (float64, error) {
	scale := 1.0
	if retina {
		scale = 2
	}
	if v := r.URL.Query().Get("scale"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return 0, fmt.Errorf("invalid scale %q", v)
		}
		scale = f
	}
	return scale, nil
}

func (s *Server) overlay(name string) (*overlay.Overlay, error) {
	if o, ok := s.overlays.Get(name); ok {
		return o, nil
	}
	return s.overlays.Open(name, nil)
}

func cacheKey(name string, t maptile.Tile, scale float64) string {
	return fmt.Sprintf("%s/%d/%d/%d@%g", name, t.Z, t.X, t.Y, scale)
}

// contentType trusts the store format for vector tiles only; raster tiles
// may have been re-encoded by resampling.
func contentType(f mbtiles.Format, data []byte) string {
	if f == mbtiles.PBF {
		return f.ContentType()
	}
	return http.DetectContentType(data)
}

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, retina, err := parseTile(vars)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	scale, err := parseScale(r, retina)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.overlay(vars["name"])
	if err != nil {
		http.Error(w, "no tile layer "+vars["name"], http.StatusNotFound)
		return
	}

	if r.Method == http.MethodHead {
		if !o.TileExists(r.Context(), t) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", o.Store().Format().ContentType())
		w.WriteHeader(http.StatusOK)
		return
	}

	key := cacheKey(o.CacheName(), t, scale)
	if s.cache != nil {
		if data, ok := s.cache.Get(key); ok {
			s.writeTile(w, o.Store().Format(), data)
			return
		}
	}
	data, err := o.LoadTile(r.Context(), t, scale)
	switch {
	case err == nil:
	case mbtiles.IsMiss(err):
		http.Error(w, "tile not found", http.StatusNotFound)
		return
	case r.Context().Err() != nil:
		return
	default:
		s.log.Warnf("tile %s error, details: %s", key, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if s.cache != nil {
		s.cache.Add(key, data)
	}
	s.writeTile(w, o.Store().Format(), data)
}

func (s *Server) writeTile(w http.ResponseWriter, f mbtiles.Format, data []byte) {
	w.Header().Set("Content-Type", contentType(f, data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type tileJSON struct {
	Name       string     `json:"name"`
	Format     string     `json:"format"`
	Type       string     `json:"type"`
	Bounds     [4]float64 `json:"bounds"`
	MinZoom    int        `json:"minzoom"`
	MaxZoom    int        `json:"maxzoom"`
	ZoomLevels []int      `json:"zoomLevels"`
	Date       string     `json:"date"`
	Tiles      []string   `json:"tiles"`
}

func (s *Server) handleTileJSON(w http.ResponseWriter, r *http.Request) {
	o, err := s.overlay(mux.Vars(r)["name"])
	if err != nil {
		http.Error(w, "no tile layer "+mux.Vars(r)["name"], http.StatusNotFound)
		return
	}
	st := o.Store()
	md := st.Metadata()
	b := md.Bounds
	body := tileJSON{
		Name:       o.CacheName(),
		Format:     string(md.Format),
		Type:       string(md.Type),
		Bounds:     [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
		MinZoom:    st.MinZoom(),
		MaxZoom:    st.MaxZoom(),
		ZoomLevels: st.ZoomLevels(),
		Date:       md.Date.Format(mbtiles.DateLayout),
		Tiles:      []string{fmt.Sprintf("/tiles/%s/{z}/{x}/{y}.%s", o.CacheName(), md.Format)},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Errorf("encode tilejson error, details: %s", err)
	}
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	t, _, err := parseTile(mux.Vars(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := feature.ToGeoJSON(s.index.InTile(t)).MarshalJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(data)
}
