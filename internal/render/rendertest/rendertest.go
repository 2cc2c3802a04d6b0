// Package rendertest provides in-process renderers for tests.
package rendertest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"sync/atomic"

	"reflector/internal/render"
)

// Solid writes a single-colour PNG for every scene.
type Solid struct {
	Color color.Color
	calls atomic.Int64
}

func (s *Solid) Calls() int { return int(s.calls.Load()) }

func (s *Solid) Render(ctx context.Context, _ string, outPath string, width, height int) ([]byte, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := s.Color
	if c == nil {
		c = color.Black
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	if err := WritePNG(outPath, img); err != nil {
		return nil, err
	}
	return []byte("ok\n"), nil
}

// Failing always exits with a nonzero status.
type Failing struct {
	Output string
}

func (f Failing) Render(context.Context, string, string, int, int) ([]byte, error) {
	out := []byte(f.Output)
	return out, &render.Error{ExitCode: 1, Output: out, Err: errors.New("exit status 1")}
}

// Func adapts a function to render.Renderer.
type Func func(ctx context.Context, scenePath, outPath string, width, height int) ([]byte, error)

func (f Func) Render(ctx context.Context, scenePath, outPath string, width, height int) ([]byte, error) {
	return f(ctx, scenePath, outPath, width, height)
}

// Recorder remembers the scene files it was asked to render and delegates to
// Next.
type Recorder struct {
	Next render.Renderer

	mu     sync.Mutex
	scenes []string
}

func (r *Recorder) Render(ctx context.Context, scenePath, outPath string, width, height int) ([]byte, error) {
	r.mu.Lock()
	r.scenes = append(r.scenes, scenePath)
	r.mu.Unlock()
	return r.Next.Render(ctx, scenePath, outPath, width, height)
}

func (r *Recorder) Scenes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scenes...)
}

func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
