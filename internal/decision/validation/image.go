package validation

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // register decoder
	"math"
)

const (
	// MaxPixels bounds the bitmap DecodeImage is willing to allocate.
	MaxPixels = 40_000_000
	// maxLaplacianSamples bounds the grid LaplacianVariance evaluates.
	maxLaplacianSamples = 1 << 20
)

// ErrImageTooLarge is returned for images above MaxPixels.
var ErrImageTooLarge = errors.New("image too large")

// Image is a decoded document image plus the facts the image rules need.
type Image struct {
	Width  int
	Height int
	Format string
	Size   int

	img      image.Image
	raw      []byte
	variance *float64
}

// DecodeImage decodes JPEG or PNG bytes. The header is read first so
// images above MaxPixels are refused before any pixel is allocated.
func DecodeImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrImageTooLarge)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	return &Image{
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
		Size:   len(data),
		img:    img,
		raw:    data,
	}, nil
}

// LongShort returns the image sides ordered long, short.
func (im *Image) LongShort() (int, int) {
	if im.Width >= im.Height {
		return im.Width, im.Height
	}
	return im.Height, im.Width
}

// AspectRatio is long side over short side.
func (im *Image) AspectRatio() float64 {
	long, short := im.LongShort()
	if short == 0 {
		return 0
	}
	return float64(long) / float64(short)
}

// LaplacianVariance measures sharpness: the variance of the 4-neighbour
// Laplacian over the grayscale image. Low values mean blur. Large images
// are sampled on a regular grid of at most maxLaplacianSamples points.
func (im *Image) LaplacianVariance() float64 {
	if im.variance != nil {
		return *im.variance
	}
	b := im.img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		v := 0.0
		im.variance = &v
		return v
	}

	stride := laplacianStride(w-2, h-2)
	gray := func(x, y int) float64 {
		return float64(color.GrayModel.Convert(im.img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y)
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y += stride {
		for x := 1; x < w-1; x += stride {
			lap := gray(x, y-1) + gray(x, y+1) + gray(x-1, y) + gray(x+1, y) - 4*gray(x, y)
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	v := math.Max(sumSq/float64(n)-mean*mean, 0)
	im.variance = &v
	return v
}

// laplacianStride is the smallest step keeping a w by h grid within
// maxLaplacianSamples points.
func laplacianStride(w, h int) int {
	stride := 1
	for (w+stride-1)/stride*((h+stride-1)/stride) > maxLaplacianSamples {
		stride++
	}
	return stride
}

// ReencodeDelta re-encodes the image as JPEG at quality and returns the
// relative size change against the original bytes.
func (im *Image) ReencodeDelta(quality int) (float64, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, im.img, &jpeg.Options{Quality: quality}); err != nil {
		return 0, fmt.Errorf("re-encode: %w", err)
	}
	return math.Abs(float64(buf.Len()-im.Size)) / float64(im.Size), nil
}
