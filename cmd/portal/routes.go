package main

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ramarivera/portal/internal/common/config"
	"github.com/ramarivera/portal/internal/common/httpmw"
	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/metrics"
)

const serverName = "portal"

// newRouter builds the engine with middleware, health and metrics routes.
func newRouter(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.OtelTracing(serverName))
	router.Use(httpmw.RequestLogger(log, serverName))
	router.Use(httpmw.CORS())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serverName, "version": version})
	})
	if m != nil {
		metricsPath := cfg.Metrics.Path
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.GET(metricsPath, gin.WrapH(m.Handler()))
	}
	return router
}

// staticHandler serves the built UI from dir. Unknown paths outside /api
// fall back to index.html so client-side routes load.
func staticHandler(dir string) gin.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	return func(c *gin.Context) {
		reqPath := c.Request.URL.Path
		if strings.HasPrefix(reqPath, "/api/") || c.Request.Method != http.MethodGet {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		clean := path.Clean("/" + reqPath)
		if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(clean))); err != nil || info.IsDir() {
			c.File(filepath.Join(dir, "index.html"))
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}
