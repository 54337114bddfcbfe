package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertklofgren/andmon/player"
)

type fakeSession struct {
	mu      sync.Mutex
	sizes   [][2]int
	pointer int
}

func (f *fakeSession) Resize(w, h int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, [2]int{w, h})
}

func (f *fakeSession) PointerUp() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pointer++
}

func (f *fakeSession) Stats() player.Snapshot {
	return player.Snapshot{Codec: "avc1.42001E", DecoderState: "decoding", ChunksReceived: 7}
}

func (f *fakeSession) snapshot() ([][2]int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]int(nil), f.sizes...), f.pointer
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{B: 255, A: 255})
	}
	return img
}

func (s *Server) windowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

func TestIndexPage(t *testing.T) {
	s := New(Config{}, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "/stream.mjpeg")
}

func TestFrameSnapshot(t *testing.T) {
	s := New(Config{JPEGQuality: 90}, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/frame.jpg", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.NoError(t, s.Present(testImage(32, 24)))

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/frame.jpg", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	img, err := jpeg.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
}

func TestStatsEndpoint(t *testing.T) {
	s := New(Config{}, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s.Attach(&fakeSession{})
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snap player.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "avc1.42001E", snap.Codec)
	assert.Equal(t, uint64(7), snap.ChunksReceived)
}

func TestBroadcasterKeepsOnlyNewest(t *testing.T) {
	b := newBroadcaster(0)
	assert.Equal(t, jpeg.DefaultQuality, b.quality)

	frames, unsubscribe := b.subscribe()
	for i := 1; i <= 3; i++ {
		require.NoError(t, b.publish(testImage(8*i, 8)))
	}

	latest, seq := b.latest()
	assert.Equal(t, uint64(3), seq)
	select {
	case got := <-frames:
		assert.Equal(t, latest, got)
	default:
		t.Fatal("subscriber got nothing")
	}
	select {
	case <-frames:
		t.Fatal("stale frame queued")
	default:
	}

	unsubscribe()
	assert.Equal(t, 0, b.subscribers())
}

func TestMJPEGStream(t *testing.T) {
	s := New(Config{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	require.NoError(t, s.Present(testImage(16, 16)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream.mjpeg", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	mr := multipart.NewReader(resp.Body, params["boundary"])

	readFrame := func() image.Image {
		part, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		img, err := jpeg.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		return img
	}

	assert.Equal(t, 16, readFrame().Bounds().Dx(), "current frame sent on connect")

	require.Eventually(t, func() bool { return s.frames.subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Present(testImage(48, 16)))
	assert.Equal(t, 48, readFrame().Bounds().Dx())

	cancel()
	require.Eventually(t, func() bool { return s.frames.subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWindowEvents(t *testing.T) {
	s := New(Config{}, nil)
	sess := &fakeSession{}
	s.Attach(sess)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	assert.ErrorIs(t, s.SetFullscreen(true), ErrNoWindow)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.windowCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(WindowEvent{Type: "resize", Width: 1024, Height: 600}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
	require.NoError(t, conn.WriteJSON(WindowEvent{Type: "scroll"}))
	require.NoError(t, conn.WriteJSON(WindowEvent{Type: "pointerup"}))

	require.Eventually(t, func() bool {
		_, n := sess.snapshot()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)
	sizes, _ := sess.snapshot()
	assert.Equal(t, [][2]int{{1024, 600}}, sizes)

	require.NoError(t, s.SetFullscreen(true))
	var cmd fullscreenCommand
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&cmd))
	assert.Equal(t, fullscreenCommand{Type: "fullscreen", Enabled: true}, cmd)

	conn.Close()
	require.Eventually(t, func() bool { return s.windowCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServeStopsOnCancel(t *testing.T) {
	s := New(Config{}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Serve did not return")
	}
}
