// Package server exposes named overlays over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"mbtiler/feature"
	"mbtiler/overlay"
)

// Config 服务配置
type Config struct {
	Address   string
	CacheSize int
}

// Server HTTP 瓦片服务
type Server struct {
	config   Config
	overlays *overlay.Registry
	index    *feature.Index
	cache    *lru.Cache[string, []byte]
	log      logrus.FieldLogger
	http     *http.Server
}

// New builds a server for overlays. index may be nil, in which case the
// feature routes answer with an empty collection. CacheSize <= 0 disables
// the response cache.
func New(config Config, overlays *overlay.Registry, index *feature.Index, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if index == nil {
		index = feature.NewIndex(nil)
	}
	s := &Server{
		config:   config,
		overlays: overlays,
		index:    index,
		log:      log.WithField("d", "web"),
	}
	if config.CacheSize > 0 {
		cache, err := lru.New[string, []byte](config.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("tile cache: %w", err)
		}
		s.cache = cache
	}
	s.http = &http.Server{
		Addr:              config.Address,
		Handler:           s.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// NewRouter 注册路由
func (s *Server) NewRouter() *mux.Router {
	router := mux.NewRouter().StrictSlash(false)
	router.Use(s.loggingMiddleware)
	router.Use(ghandlers.RecoveryHandler(ghandlers.RecoveryLogger(s.log), ghandlers.PrintRecoveryStack(true)))
	router.Use(ghandlers.CORS(
		ghandlers.AllowedOrigins([]string{"*"}),
		ghandlers.AllowedMethods([]string{http.MethodGet, http.MethodHead, http.MethodOptions}),
	))

	router.Path("/ping").HandlerFunc(pingPong)

	tiles := router.PathPrefix("/tiles").Subrouter()
	tiles.Path("/{name:" + namePattern + "}").HandlerFunc(s.handleTileJSON).Methods(http.MethodGet)
	tiles.Path("/{name:" + namePattern + "}/{z:[0-9]+}/{x:[0-9]+}/{y:" + rowPattern + "}").
		HandlerFunc(s.handleTile).Methods(http.MethodGet, http.MethodHead)

	router.Path("/features/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}").HandlerFunc(s.handleFeatures).Methods(http.MethodGet)

	return router
}

// Run listens on the configured address until Shutdown is called.
func (s *Server) Run() error {
	s.log.Infof("tile server listening on %s", s.config.Address)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 停止服务
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// logWriter feeds gorilla's access log lines into logrus.
type logWriter struct {
	log logrus.FieldLogger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return ghandlers.CombinedLoggingHandler(logWriter{s.log}, next)
}
