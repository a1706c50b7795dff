package preview

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"quotesync/internal/qsync"
)

type stubRaster struct {
	img image.Image
	err error
}

func (s stubRaster) FirstPage([]byte) (image.Image, error) { return s.img, s.err }

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		name          string
		w, h, longest int
		wantW, wantH  int
	}{
		{name: "landscape", w: 2000, h: 1000, longest: 256, wantW: 256, wantH: 128},
		{name: "portrait", w: 1000, h: 4000, longest: 1024, wantW: 256, wantH: 1024},
		{name: "square", w: 1024, h: 1024, longest: 256, wantW: 256, wantH: 256},
		{name: "never upscaled", w: 300, h: 150, longest: 1024, wantW: 300, wantH: 150},
		{name: "thin strip keeps one pixel", w: 5000, h: 1, longest: 256, wantW: 256, wantH: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitSize(tt.w, tt.h, tt.longest)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("FitSize(%d, %d, %d) = %dx%d, want %dx%d", tt.w, tt.h, tt.longest, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestRenderer_Normalize(t *testing.T) {
	page := image.NewRGBA(image.Rect(0, 0, 800, 600))
	pngData := encodePNG(t, 40, 20)

	tests := []struct {
		name     string
		raster   Rasterizer
		data     []byte
		mime     string
		ext      string
		want     Source
		wantSize image.Point
	}{
		{name: "pdf by mime", raster: stubRaster{img: page}, mime: "application/pdf", want: SourcePDF, wantSize: image.Pt(800, 600)},
		{name: "pdf by extension", raster: stubRaster{img: page}, mime: "application/octet-stream", ext: "pdf", want: SourcePDF, wantSize: image.Pt(800, 600)},
		{name: "pdf failure", raster: stubRaster{err: errors.New("damaged xref")}, mime: "application/pdf", want: SourcePlaceholder, wantSize: image.Pt(PlaceholderSize, PlaceholderSize)},
		{name: "png", data: pngData, mime: "image/png", want: SourceRaster, wantSize: image.Pt(40, 20)},
		{name: "png by extension", data: pngData, ext: "PNG", want: SourceRaster, wantSize: image.Pt(40, 20)},
		{name: "corrupt jpeg", data: []byte("nope"), mime: "image/jpeg", want: SourcePlaceholder, wantSize: image.Pt(PlaceholderSize, PlaceholderSize)},
		{name: "spreadsheet", data: []byte("a,b"), mime: "text/csv", want: SourcePlaceholder, wantSize: image.Pt(PlaceholderSize, PlaceholderSize)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRenderer(tt.raster, 0, qsync.NewNopLogger())
			img, src := r.Normalize(tt.data, tt.mime, tt.ext)
			if src != tt.want {
				t.Errorf("source = %q, want %q", src, tt.want)
			}
			if got := img.Bounds().Size(); got != tt.wantSize {
				t.Errorf("size = %v, want %v", got, tt.wantSize)
			}
		})
	}
}

func TestPlaceholder(t *testing.T) {
	img := Placeholder()
	if got := img.Bounds().Size(); got != image.Pt(PlaceholderSize, PlaceholderSize) {
		t.Fatalf("size = %v", got)
	}
	r, g, b, _ := img.At(512, 512).RGBA()
	if r != g || g != b || r == 0 || r == 0xffff {
		t.Errorf("center pixel = (%d, %d, %d), want neutral grey", r, g, b)
	}
}

func TestRenderer_EncodeAndResize(t *testing.T) {
	r := NewRenderer(stubRaster{}, 90, qsync.NewNopLogger())
	data, err := r.Encode(Resize(image.NewRGBA(image.Rect(0, 0, 2000, 500)), 256))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	w, h, ok := Dimensions(data)
	if !ok || w != 256 || h != 64 {
		t.Errorf("Dimensions() = %d, %d, %v, want 256x64", w, h, ok)
	}
	if _, _, ok := Dimensions([]byte("plain text")); ok {
		t.Error("Dimensions() ok for non-image data")
	}
}
