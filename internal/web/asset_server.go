package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/models"
)

// ErrAlreadyStarted is returned by Start on a running server.
var ErrAlreadyStarted = errors.New("asset server already started")

// AssetServer serves exported scenes and the viewer on its own listener.
// Its lifetime is explicit: nothing is served before Start or after Stop.
//
//	/scenes/<project>/<file>  ->  <data>/<project>/scene/<file>
//	/viewer                   ->  embedded viewer page
type AssetServer struct {
	dataDir string
	origins []string

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
	e   *echo.Echo
}

// NewAssetServer creates a server for scenes under dataDir. origins limits
// CORS; empty allows any origin.
func NewAssetServer(dataDir string, origins []string) *AssetServer {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &AssetServer{dataDir: dataDir, origins: origins}
}

// Handler builds the routes. It is exposed for tests.
func (s *AssetServer) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.origins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}))

	e.GET("/scenes/:project/:file", s.handleScene)
	e.HEAD("/scenes/:project/:file", s.handleScene)
	if HasEmbeddedFiles() {
		if err := registerViewer(e, "/viewer"); err != nil {
			e.Logger.Error(err)
		}
	}
	return e
}

func (s *AssetServer) handleScene(c echo.Context) error {
	project, file := c.Param("project"), c.Param("file")
	if project == "" || models.Slug(project) != project {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid project")
	}
	if file == "" || file != filepath.Base(file) || strings.HasPrefix(file, ".") {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid file")
	}

	path := filepath.Join(s.dataDir, project, "scene", file)
	if strings.EqualFold(filepath.Ext(file), ".glb") {
		c.Response().Header().Set(echo.HeaderContentType, "model/gltf-binary")
	}
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.File(path)
}

// Start listens on addr and serves in the background. Use port 0 to pick
// a free port; Addr reports the result.
func (s *AssetServer) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("asset server listen: %w", err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srv, s.ln = srv, ln

	log := ctxlog.FromContext(ctx)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("asset server stopped", "error", err)
		}
	}()
	log.Info("asset server started", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address, or "" when not running.
func (s *AssetServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down gracefully. Stopping a stopped server is a no-op.
func (s *AssetServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("asset server shutdown: %w", err)
	}
	return nil
}
