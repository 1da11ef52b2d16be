package images

import "bytes"

// Format is the container format recognised from an upload's leading bytes.
type Format int

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatWEBP
)

// SniffThreshold is the number of leading bytes required before an upload's
// format is classified.
const SniffThreshold = 12

var (
	jpegSignature = []byte{0xFF, 0xD8, 0xFF}
	pngSignature  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	riffSignature = []byte("RIFF")
	webpSignature = []byte("WEBP")
)

const webpMarkerOffset = 8

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatWEBP:
		return "webp"
	default:
		return "unknown"
	}
}

// Detect classifies data by magic bytes. It never modifies data and returns
// FormatUnknown for nil or empty input. Each signature carries its own
// minimum length; the RIFF chunk size at bytes 4..8 is not validated.
func Detect(data []byte) Format {
	if len(data) == 0 {
		return FormatUnknown
	}
	if bytes.HasPrefix(data, jpegSignature) {
		return FormatJPEG
	}
	if bytes.HasPrefix(data, pngSignature) {
		return FormatPNG
	}
	if len(data) >= webpMarkerOffset+len(webpSignature) &&
		bytes.HasPrefix(data, riffSignature) &&
		bytes.Equal(data[webpMarkerOffset:webpMarkerOffset+len(webpSignature)], webpSignature) {
		return FormatWEBP
	}
	return FormatUnknown
}

// Sniff is Detect gated on SniffThreshold: any prefix shorter than the
// threshold is Unknown, however promising its first bytes look.
func Sniff(prefix []byte) Format {
	if len(prefix) < SniffThreshold {
		return FormatUnknown
	}
	return Detect(prefix)
}
