// Package preprocess converts captured photos into the fixed-shape float
// tensor the embedding model expects: optional face crop, stretch-to-fill
// resize to a square, and per-channel normalization into [-1, 1].
package preprocess

import (
	"fmt"
	"image"
	"io"
	"os"

	// Register decoders for the supported capture formats.
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// Channels is the number of color channels in the output tensor.
const Channels = 3

// Box is a face bounding rectangle in source-image pixel coordinates.
type Box struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

func (b Box) rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// DegradedError reports an image that could not be decoded or cropped.
// It is recoverable: the caller should prompt for a re-capture.
type DegradedError struct {
	Stage string
	Err   error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("preprocess %s failed: %v", e.Stage, e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// Pipeline produces model-input tensors of a fixed target size.
type Pipeline struct {
	targetSize int
	lenient    bool
	logger     *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLenient restores the degrade-to-zero-tensor behavior: failures are
// logged and a zero-filled tensor of the correct shape is returned instead
// of an error, keeping the pipeline alive at the cost of a guaranteed
// verification miss.
func WithLenient() Option {
	return func(p *Pipeline) { p.lenient = true }
}

// New creates a Pipeline emitting targetSize*targetSize*3 tensors.
func New(targetSize int, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		targetSize: targetSize,
		logger:     logger.Named("preprocess"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TargetSize returns the square edge length of the output tensor.
func (p *Pipeline) TargetSize() int { return p.targetSize }

// TensorLen returns the length of every tensor the pipeline emits.
func (p *Pipeline) TensorLen() int { return p.targetSize * p.targetSize * Channels }

// ZeroTensor returns a zero-filled tensor of the given target size.
func ZeroTensor(targetSize int) []float32 {
	return make([]float32, targetSize*targetSize*Channels)
}

// FromFile decodes the image at path and produces a tensor. A nil box
// resizes the whole image; a non-nil box crops to the face rectangle
// first.
func (p *Pipeline) FromFile(path string, box *Box) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return p.degrade("open", err)
	}
	defer f.Close()
	return p.FromReader(f, box)
}

// FromReader decodes an encoded image from r and produces a tensor.
func (p *Pipeline) FromReader(r io.Reader, box *Box) ([]float32, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return p.degrade("decode", err)
	}

	src := img
	if box != nil {
		crop := box.rect().Intersect(img.Bounds())
		if crop.Empty() {
			return p.degrade("crop", fmt.Errorf("face box %v outside image bounds %v", box.rect(), img.Bounds()))
		}
		src = cropImage(img, crop)
	}

	tensor := p.resizeAndNormalize(src)
	p.logger.Debug("image preprocessed",
		zap.String("format", format),
		zap.Int("target_size", p.targetSize),
		zap.Bool("cropped", box != nil),
	)
	return tensor, nil
}

func (p *Pipeline) degrade(stage string, err error) ([]float32, error) {
	wrapped := &DegradedError{Stage: stage, Err: err}
	if !p.lenient {
		return nil, wrapped
	}
	p.logger.Warn("degraded to zero tensor", zap.String("stage", stage), zap.Error(err))
	return ZeroTensor(p.targetSize), nil
}

// resizeAndNormalize stretches src to the target square, then maps each
// channel from [0,255] to [-1,1] in row-major R,G,B interleaved order.
func (p *Pipeline) resizeAndNormalize(src image.Image) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, p.targetSize, p.targetSize))
	// Stretch-to-fill: the whole source maps onto the whole square, so
	// aspect ratio is intentionally not preserved.
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	tensor := make([]float32, p.TensorLen())
	i := 0
	for y := 0; y < p.targetSize; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+p.targetSize*4]
		for x := 0; x < p.targetSize; x++ {
			r := row[x*4]
			g := row[x*4+1]
			b := row[x*4+2]
			tensor[i] = float32(r)/255*2 - 1
			tensor[i+1] = float32(g)/255*2 - 1
			tensor[i+2] = float32(b)/255*2 - 1
			i += Channels
		}
	}
	return tensor
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func cropImage(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	// Uncommon decoder output without SubImage support: copy the region.
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	return dst
}
