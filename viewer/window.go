package viewer

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	windowWriteWait  = 5 * time.Second
	maxWindowMessage = 4 << 10

	eventResize     = "resize"
	eventPointerUp  = "pointerup"
	eventFullscreen = "fullscreen"
)

// ErrNoWindow is returned when no page is connected to take a request.
var ErrNoWindow = errors.New("viewer: no window connected")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WindowEvent is sent by the viewer page.
type WindowEvent struct {
	Type   string `json:"type"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type fullscreenCommand struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

type window struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *window) send(v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(windowWriteWait))
	return w.conn.WriteJSON(v)
}

func (s *Server) handleWindowWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("window upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxWindowMessage)

	w := &window{conn: conn}
	s.mu.Lock()
	s.windows[w] = struct{}{}
	s.mu.Unlock()
	s.log.Info("window connected", zap.String("remote", conn.RemoteAddr().String()))

	s.listenWindow(w)

	s.mu.Lock()
	delete(s.windows, w)
	s.mu.Unlock()
	conn.Close()
	s.log.Info("window disconnected", zap.String("remote", conn.RemoteAddr().String()))
}

func (s *Server) listenWindow(w *window) {
	for {
		mType, msg, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("window read error", zap.Error(err))
			}
			return
		}
		if mType != websocket.TextMessage {
			s.log.Debug("ignoring window message", zap.Int("type", mType))
			continue
		}

		var ev WindowEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			s.log.Debug("malformed window event", zap.Error(err))
			continue
		}
		s.dispatchWindowEvent(ev)
	}
}

func (s *Server) dispatchWindowEvent(ev WindowEvent) {
	sess := s.attached()
	if sess == nil {
		return
	}
	switch ev.Type {
	case eventResize:
		sess.Resize(ev.Width, ev.Height)
	case eventPointerUp:
		sess.PointerUp()
	default:
		s.log.Debug("unknown window event", zap.String("type", ev.Type))
	}
}

// SetFullscreen implements render.Surface by asking every connected page
// to enter or leave full-screen.
func (s *Server) SetFullscreen(enabled bool) error {
	s.mu.RLock()
	windows := make([]*window, 0, len(s.windows))
	for w := range s.windows {
		windows = append(windows, w)
	}
	s.mu.RUnlock()

	if len(windows) == 0 {
		return ErrNoWindow
	}
	cmd := fullscreenCommand{Type: eventFullscreen, Enabled: enabled}
	var errs []error
	for _, w := range windows {
		if err := w.send(cmd); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(windows) {
		return errors.Join(errs...)
	}
	return nil
}

func (s *Server) closeWindows() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for w := range s.windows {
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "viewer stopping"),
			time.Now().Add(windowWriteWait))
		w.writeMu.Unlock()
		w.conn.Close()
	}
}
