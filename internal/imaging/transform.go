// Package imaging turns contest banner graphics into small palettized bitmaps
// for low-memory display clients.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	// Decoders for the formats the listing serves.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/ericpauley/go-quantize/quantize"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// maxSourcePixels rejects decompression bombs before the full decode.
const maxSourcePixels = 40_000_000

// quantizer builds at most cap(p) colors by median cut. Bucket colors are
// pixel means, and the same image always yields the same palette.
var quantizer draw.Quantizer = quantize.MedianCutQuantizer{Aggregation: quantize.Mean}

// Options describes the deterministic transform applied to every graphic.
type Options struct {
	Width  int
	Height int
	// Crop is the source region to keep. An empty rectangle selects a centered
	// region with the output aspect ratio.
	Crop image.Rectangle
	// CaptionHeight reserves a blank band of this many rows at the bottom.
	CaptionHeight int
	// PaletteSize caps the number of colors in the output, at most 256.
	PaletteSize int
	// CaptionColor fills the reserved band. Zero value means white.
	CaptionColor color.Color
}

func (o Options) validate() error {
	switch {
	case o.Width <= 0 || o.Height <= 0:
		return errors.New("output size must be positive")
	case o.CaptionHeight < 0 || o.CaptionHeight >= o.Height:
		return errors.New("caption height must be in [0, height)")
	case o.PaletteSize < 2 || o.PaletteSize > 256:
		return errors.New("palette size must be between 2 and 256")
	}
	return nil
}

// Decode reads an encoded image after checking its declared dimensions.
func Decode(r io.ReadSeeker) (image.Image, string, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return nil, format, fmt.Errorf("unsupported %s dimensions %dx%d", format, cfg.Width, cfg.Height)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, format, fmt.Errorf("rewind: %w", err)
	}
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, format, fmt.Errorf("decode %s: %w", format, err)
	}
	return img, format, nil
}

// Transform crops, scales, reserves the caption band and quantizes src.
// The same input and options always produce the same output.
func Transform(src image.Image, opts Options) (*image.Paletted, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	region, err := cropRegion(src.Bounds(), opts)
	if err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	picture := image.Rect(0, 0, opts.Width, opts.Height-opts.CaptionHeight)
	draw.CatmullRom.Scale(canvas, picture, src, region, draw.Src, nil)

	fill := opts.CaptionColor
	if fill == nil {
		fill = color.White
	}
	band := image.Rect(0, picture.Max.Y, opts.Width, opts.Height)
	if !band.Empty() {
		draw.Draw(canvas, band, image.NewUniform(fill), image.Point{}, draw.Src)
	}

	palette := quantizer.Quantize(make(color.Palette, 0, opts.PaletteSize), canvas)
	out := image.NewPaletted(canvas.Bounds(), palette)
	draw.FloydSteinberg.Draw(out, out.Bounds(), canvas, image.Point{})

	// Dithering bleeds error into the band; repaint it with a single index.
	if !band.Empty() {
		idx := uint8(palette.Index(fill))
		for y := band.Min.Y; y < band.Max.Y; y++ {
			for x := band.Min.X; x < band.Max.X; x++ {
				out.SetColorIndex(x, y, idx)
			}
		}
	}
	return out, nil
}

// EncodeBMP writes img as an uncompressed BMP. Paletted images produce an 8-bit file.
func EncodeBMP(w io.Writer, img image.Image) error {
	if err := bmp.Encode(w, img); err != nil {
		return fmt.Errorf("encode bmp: %w", err)
	}
	return nil
}

// cropRegion clamps the configured crop to the source, or computes a centered
// region matching the aspect ratio of the picture area.
func cropRegion(bounds image.Rectangle, opts Options) (image.Rectangle, error) {
	if !opts.Crop.Empty() {
		region := opts.Crop.Add(bounds.Min).Intersect(bounds)
		if region.Empty() {
			return image.Rectangle{}, fmt.Errorf("crop %v lies outside source bounds %v", opts.Crop, bounds)
		}
		return region, nil
	}

	srcW, srcH := bounds.Dx(), bounds.Dy()
	dstW, dstH := opts.Width, opts.Height-opts.CaptionHeight
	if srcW == 0 || srcH == 0 {
		return image.Rectangle{}, errors.New("source image is empty")
	}
	w, h := srcW, srcH
	// Compare srcW/srcH with dstW/dstH without floating point.
	if srcW*dstH > dstW*srcH {
		w = srcH * dstW / dstH
	} else {
		h = srcW * dstH / dstW
	}
	w, h = max(w, 1), max(h, 1)
	x0 := bounds.Min.X + (srcW-w)/2
	y0 := bounds.Min.Y + (srcH-h)/2
	return image.Rect(x0, y0, x0+w, y0+h), nil
}
