// Package render scales decoded frames to the output surface.
package render

import (
	"errors"
	"image"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

var ErrNoImage = errors.New("render: nil image")

// Surface is where scaled frames end up.
type Surface interface {
	Present(img image.Image) error
	SetFullscreen(enabled bool) error
}

// Renderer implements player.Renderer on top of a Surface. Frames are
// stretched to the surface size; until the first Resize the surface takes
// the size of the frame.
type Renderer struct {
	surface Surface
	log     *zap.Logger
	scaler  draw.Scaler

	mu         sync.Mutex
	width      int
	height     int
	fullscreen bool
}

func New(surface Surface, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		surface: surface,
		log:     logger.Named("render"),
		scaler:  draw.ApproxBiLinear,
	}
}

func (r *Renderer) Draw(img image.Image) error {
	if img == nil {
		return ErrNoImage
	}
	src := img.Bounds()
	if src.Empty() {
		return ErrNoImage
	}

	r.mu.Lock()
	w, h := r.width, r.height
	r.mu.Unlock()
	if w <= 0 || h <= 0 {
		w, h = src.Dx(), src.Dy()
	}

	// a fresh canvas per frame: the surface may still hold the previous one
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == src.Dx() && h == src.Dy() {
		draw.Draw(canvas, canvas.Bounds(), img, src.Min, draw.Src)
	} else {
		r.scaler.Scale(canvas, canvas.Bounds(), img, src, draw.Src, nil)
	}

	return r.surface.Present(canvas)
}

// Resize sets the surface size used for following frames. Non-positive
// sizes are ignored.
func (r *Renderer) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		r.log.Debug("ignoring resize", zap.Int("width", width), zap.Int("height", height))
		return
	}
	r.mu.Lock()
	r.width, r.height = width, height
	r.mu.Unlock()
	r.log.Debug("surface resized", zap.Int("width", width), zap.Int("height", height))
}

// ToggleFullscreen flips the surface between windowed and full-screen.
// A surface that refuses keeps its current mode.
func (r *Renderer) ToggleFullscreen() {
	r.mu.Lock()
	want := !r.fullscreen
	r.mu.Unlock()

	if err := r.surface.SetFullscreen(want); err != nil {
		r.log.Debug("fullscreen request failed", zap.Bool("enabled", want), zap.Error(err))
		return
	}
	r.mu.Lock()
	r.fullscreen = want
	r.mu.Unlock()
}

func (r *Renderer) Fullscreen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fullscreen
}

// Size is the current surface size, zero before the first Resize.
func (r *Renderer) Size() (width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}
