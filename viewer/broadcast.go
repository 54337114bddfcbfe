package viewer

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const boundary = "frame"

// broadcaster holds the newest JPEG frame and hands it to stream
// subscribers. A slow subscriber only ever sees the newest frame.
type broadcaster struct {
	quality int

	mu    sync.Mutex
	frame []byte
	seq   uint64
	subs  map[chan []byte]struct{}
}

func newBroadcaster(quality int) *broadcaster {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &broadcaster{
		quality: quality,
		subs:    make(map[chan []byte]struct{}),
	}
}

func (b *broadcaster) publish(img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: b.quality}); err != nil {
		return fmt.Errorf("viewer: encode frame: %w", err)
	}
	data := buf.Bytes()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.frame = data
	b.seq++
	for ch := range b.subs {
		select {
		case ch <- data:
		default:
			// replace the frame the subscriber has not picked up yet
			select {
			case <-ch:
			default:
			}
			ch <- data
		}
	}
	return nil
}

func (b *broadcaster) latest() ([]byte, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame, b.seq
}

func (b *broadcaster) subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	b.mu.Lock()
	if b.frame != nil {
		ch <- b.frame
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

func (b *broadcaster) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (s *Server) handleStream(c *gin.Context) {
	frames, unsubscribe := s.frames.subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			if err := writePart(c.Writer, frame); err != nil {
				s.log.Debug("stream client gone", zap.Error(err))
				return
			}
			c.Writer.Flush()
		}
	}
}

func writePart(w gin.ResponseWriter, frame []byte) error {
	header := "--" + boundary + "\r\n" +
		"Content-Type: image/jpeg\r\n" +
		"Content-Length: " + strconv.Itoa(len(frame)) + "\r\n\r\n"
	if _, err := w.WriteString(header); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.WriteString("\r\n")
	return err
}
