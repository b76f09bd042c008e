package overlay

import (
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"mbtiler/mbtiles"
	"mbtiler/pyramid"
)

// Registry keeps one Overlay per name. Names map to <dir>/<name>.mbtiles.
type Registry struct {
	dir    string
	side   int
	stores *mbtiles.Registry
	log    logrus.FieldLogger

	mu       sync.Mutex
	overlays map[string]*Overlay
}

// NewRegistry 创建图层登记表
func NewRegistry(dir string, side int, stores *mbtiles.Registry, log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		dir:      dir,
		side:     side,
		stores:   stores,
		log:      log,
		overlays: make(map[string]*Overlay),
	}
}

func key(name string) string {
	return strings.TrimSuffix(name, mbtiles.Ext)
}

// Open returns the overlay registered under name, opening its store read-only
// on first use. backup only applies when the overlay is created.
func (r *Registry) Open(name string, backup pyramid.Source) (*Overlay, error) {
	k := key(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.overlays[k]; ok {
		return o, nil
	}
	store, err := r.stores.Store(mbtiles.PathFor(r.dir, k), true)
	if err != nil {
		return nil, err
	}
	o := New(k, store, backup, r.side, r.log)
	r.overlays[k] = o
	r.log.Infof("overlay %s connected, zoom levels %v", k, store.ZoomLevels())
	return o, nil
}

// Get 查找已打开的图层
func (r *Registry) Get(name string) (*Overlay, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.overlays[key(name)]
	return o, ok
}

// Names 已打开图层名, 按字母排序
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.overlays))
	for name := range r.overlays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dir 瓦片库目录
func (r *Registry) Dir() string { return r.dir }
