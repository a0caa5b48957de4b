package detection

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestPreprocessResizesToInputSize(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bare base64", encodePNG(t, 64, 48)},
		{"data uri prefix", "data:image/png;base64," + encodePNG(t, 10, 10)},
		{"already input size", encodePNG(t, InputSize, InputSize)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			img, err := Preprocess(tc.input)
			if err != nil {
				t.Fatalf("preprocess: %v", err)
			}
			b := img.Bounds()
			if b.Dx() != InputSize || b.Dy() != InputSize {
				t.Fatalf("bounds=%v, want %dx%d", b, InputSize, InputSize)
			}
		})
	}
}

func TestPreprocessAcceptsJPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 32, 32))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	img, err := Preprocess(base64.StdEncoding.EncodeToString(buf.Bytes()))
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if img.Bounds().Dx() != InputSize {
		t.Fatalf("bounds=%v", img.Bounds())
	}
}

func TestPreprocessRejectsGarbage(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "invalid_base64_data!!!"},
		{"base64 but not an image", base64.StdEncoding.EncodeToString([]byte("hello world"))},
		{"empty", ""},
		{"data uri with garbage", "data:image/png;base64,%%%%"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Preprocess(tc.input)
			if !errors.Is(err, ErrImageDecode) {
				t.Fatalf("err=%v, want ErrImageDecode", err)
			}
		})
	}
}
