// Package viewer is the output surface of the player: a small web page
// that shows the rendered frames as an MJPEG stream and reports window
// events back over a WebSocket.
package viewer

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robertklofgren/andmon/player"
)

const shutdownTimeout = 5 * time.Second

//go:embed static/index.html
var indexHTML []byte

// Session receives window events and reports playback stats.
// *player.Session implements it.
type Session interface {
	Resize(width, height int)
	PointerUp()
	Stats() player.Snapshot
}

type Config struct {
	JPEGQuality int
}

type Server struct {
	cfg    Config
	log    *zap.Logger
	router *gin.Engine
	frames *broadcaster

	mu      sync.RWMutex
	session Session
	windows map[*window]struct{}
}

func New(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger.Named("viewer"),
		frames:  newBroadcaster(cfg.JPEGQuality),
		windows: make(map[*window]struct{}),
	}
	s.setRouter()
	return s
}

// Attach routes window events and stats requests to sess.
func (s *Server) Attach(sess Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

func (s *Server) attached() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Server) setRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	r.GET("/stream.mjpeg", s.handleStream)
	r.GET("/frame.jpg", s.handleFrame)
	r.GET("/ws", s.handleWindowWS)
	api := r.Group("/api")
	{
		api.GET("/stats", s.handleStats)
	}

	s.router = r
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// Serve answers requests on ln until ctx is done, then shuts the HTTP
// server down and closes the window sockets.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("viewer listening", zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		s.closeWindows()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("viewer: %w", err)
	case <-ctx.Done():
	}

	s.closeWindows()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("viewer: shutdown: %w", err)
	}
	return nil
}

// Present implements render.Surface.
func (s *Server) Present(img image.Image) error {
	return s.frames.publish(img)
}

func (s *Server) handleFrame(c *gin.Context) {
	frame, _ := s.frames.latest()
	if frame == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame rendered yet"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", frame)
}

func (s *Server) handleStats(c *gin.Context) {
	sess := s.attached()
	if sess == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusOK, sess.Stats())
}
