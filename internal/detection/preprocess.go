package detection

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	// Frame payloads arrive as browser captures; register the formats a
	// canvas.toDataURL can produce plus GIF for completeness.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// InputSize is the square model input resolution in pixels.
const InputSize = 300

// ErrImageDecode marks a frame payload that could not be turned into an
// image: bad base64, truncated bytes, or an unsupported format. Callers map
// it to a client error rather than a server fault.
var ErrImageDecode = errors.New("invalid image data")

// Preprocess turns a base64 frame payload, with or without a data-URI
// prefix, into the fixed-size RGBA input frame. Resampling uses Catmull-Rom
// to match what a browser canvas downscale produces closely enough for
// detection.
func Preprocess(imageData string) (*image.RGBA, error) {
	if idx := strings.IndexByte(imageData, ','); idx >= 0 && strings.HasPrefix(imageData, "data:") {
		imageData = imageData[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(imageData))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrImageDecode, err)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrImageDecode, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, InputSize, InputSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}
