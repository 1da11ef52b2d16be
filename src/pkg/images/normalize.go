package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	xwebp "golang.org/x/image/webp"
)

const (
	// DefaultMaxDimension caps the width and height read from an image header.
	DefaultMaxDimension = 2000
	// DefaultQuality is the WebP encoder quality used for every artifact.
	DefaultQuality float32 = 100
)

var (
	ErrOversized  = errors.New("oversized")
	ErrUnreadable = errors.New("unreadable")
	ErrDecode     = errors.New("decode-error")
	ErrEncode     = errors.New("encode-error")
)

// Orientation is the aspect class of a source image.
type Orientation int

const (
	OrientationHorizontal Orientation = iota + 1
	OrientationVertical
	OrientationSquare
)

func (o Orientation) String() string {
	switch o {
	case OrientationHorizontal:
		return "horizontal"
	case OrientationVertical:
		return "vertical"
	case OrientationSquare:
		return "square"
	default:
		return "invalid"
	}
}

// Preset returns the fixed output geometry for the orientation.
func (o Orientation) Preset() (width, height int) {
	switch o {
	case OrientationHorizontal:
		return 600, 314
	case OrientationVertical:
		return 600, 750
	case OrientationSquare:
		return 600, 600
	default:
		return 0, 0
	}
}

// Classify picks the orientation from the source geometry.
func Classify(width, height int) Orientation {
	switch {
	case width > height:
		return OrientationHorizontal
	case height > width:
		return OrientationVertical
	default:
		return OrientationSquare
	}
}

// NormalizedImage is an artifact ready to be persisted.
type NormalizedImage struct {
	Width       int
	Height      int
	Orientation Orientation
	Data        []byte
}

// Encoder writes the canonical output encoding of img to w.
type Encoder interface {
	Encode(w io.Writer, img image.Image) error
}

// WebPEncoder is the canonical encoder (lossy WebP at a fixed quality).
type WebPEncoder struct {
	Quality float32
}

func (e WebPEncoder) Encode(w io.Writer, img image.Image) error {
	return webp.Encode(w, img, &webp.Options{Quality: e.Quality})
}

type decoder struct {
	config func(io.Reader) (image.Config, error)
	decode func(io.Reader) (image.Image, error)
}

var decoders = map[Format]decoder{
	FormatJPEG: {config: jpeg.DecodeConfig, decode: jpeg.Decode},
	FormatPNG:  {config: png.DecodeConfig, decode: png.Decode},
	FormatWEBP: {config: xwebp.DecodeConfig, decode: xwebp.Decode},
}

// Normalizer turns an uploaded image into a fixed-geometry WebP artifact.
// It is safe for concurrent use.
type Normalizer struct {
	MaxDimension int
	Encoder      Encoder
}

func NewNormalizer(maxDimension int, quality float32) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Normalizer{
		MaxDimension: maxDimension,
		Encoder:      WebPEncoder{Quality: quality},
	}
}

// Normalize decodes data, resizes it to the preset of its orientation and
// re-encodes it. Every step is a hard gate: on error no image is returned.
func (n *Normalizer) Normalize(data []byte) (*NormalizedImage, error) {
	dec, ok := decoders[Detect(data)]
	if !ok {
		return nil, fmt.Errorf("%w: unrecognised container", ErrUnreadable)
	}

	// Header only; the pixel data is not touched until the geometry is accepted.
	cfg, cfgErr := dec.config(bytes.NewReader(data))
	if cfgErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, cfgErr)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid geometry %dx%d", ErrUnreadable, cfg.Width, cfg.Height)
	}
	if cfg.Width > n.maxDimension() || cfg.Height > n.maxDimension() {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d", ErrOversized, cfg.Width, cfg.Height, n.maxDimension())
	}

	src, decodeErr := dec.decode(bytes.NewReader(data))
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, decodeErr)
	}
	pixels := toNRGBA(src)

	bounds := pixels.Bounds()
	orientation := Classify(bounds.Dx(), bounds.Dy())
	width, height := orientation.Preset()

	resized := imaging.Resize(pixels, width, height, imaging.Linear)

	var out bytes.Buffer
	if encodeErr := n.encoder().Encode(&out, resized); encodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, encodeErr)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: encoder produced no data", ErrEncode)
	}

	return &NormalizedImage{
		Width:       width,
		Height:      height,
		Orientation: orientation,
		Data:        out.Bytes(),
	}, nil
}

func (n *Normalizer) maxDimension() int {
	if n.MaxDimension <= 0 {
		return DefaultMaxDimension
	}
	return n.MaxDimension
}

func (n *Normalizer) encoder() Encoder {
	if n.Encoder == nil {
		return WebPEncoder{Quality: DefaultQuality}
	}
	return n.Encoder
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	return imaging.Clone(img)
}
