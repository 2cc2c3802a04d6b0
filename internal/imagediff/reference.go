package imagediff

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

// Reference is the target image, scaled once to the render resolution and
// read-only afterwards so evaluations can share it.
type Reference struct {
	path string
	img  *image.RGBA
}

// LoadReference decodes path and resizes it to width x height.
func LoadReference(path string, width, height int) (*Reference, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("reference size must be positive: %dx%d", width, height)
	}
	src, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load reference image: %w", err)
	}
	return NewReference(path, src, width, height), nil
}

// NewReference scales an already decoded image.
func NewReference(path string, src image.Image, width, height int) *Reference {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return &Reference{path: path, img: dst}
}

func (r *Reference) Path() string { return r.path }

func (r *Reference) Image() image.Image { return r.img }

func (r *Reference) Bounds() image.Rectangle { return r.img.Bounds() }

// Save writes the scaled reference as PNG.
func (r *Reference) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, r.img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Load decodes any registered raster format.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
