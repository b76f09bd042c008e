package mbtiles

import (
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry 已打开瓦片库登记表, 每个文件最多一个 Store
type Registry struct {
	mu     sync.Mutex
	stores map[string]*Store
	log    logrus.FieldLogger
}

// NewRegistry 创建登记表
func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		stores: make(map[string]*Store),
		log:    log,
	}
}

func identity(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Store returns the store registered for path, opening it on first use.
// A writable request promotes an existing read-only store in place.
func (r *Registry) Store(path string, readOnly bool) (*Store, error) {
	key := identity(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[key]; ok {
		if readOnly || !s.ReadOnly() {
			return s, nil
		}
		if err := s.reopen(false); err != nil {
			r.log.Errorf("promote %s to read-write error, details: %s", key, err)
			return nil, err
		}
		r.log.Debugf("promoted %s to read-write", key)
		return s, nil
	}

	s, err := Open(key, readOnly, r.log)
	if err != nil {
		return nil, err
	}
	r.stores[key] = s
	return s, nil
}

// Create 新建瓦片库并以读写方式登记
func (r *Registry) Create(path string, md Metadata) (*Store, error) {
	if err := Create(identity(path), md); err != nil {
		return nil, err
	}
	r.log.Infof("created %s", path)
	return r.Store(path, false)
}

// Len 已登记数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// Close releases every connection. Stores stay registered and reopen on use.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stores {
		s.Release()
	}
}
