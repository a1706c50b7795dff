// Package preview renders raster previews of stored file versions.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"quotesync/internal/qsync"
)

// Preview output format.
const (
	MimeType  = "image/jpeg"
	Extension = "jpg"

	PlaceholderSize = 1024
	DefaultQuality  = 82
)

// placeholderGrey is the neutral fill of the placeholder image.
var placeholderGrey = color.Gray{Y: 0xC8}

// rasterTypes are the content types decoded directly.
var rasterTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

// Rasterizer renders the first page of a PDF document.
type Rasterizer interface {
	FirstPage(data []byte) (image.Image, error)
}

// FitzRasterizer rasterizes PDFs with MuPDF.
type FitzRasterizer struct {
	DPI float64
}

// FirstPage renders page 1 of the document at r.DPI (150 when unset).
func (r FitzRasterizer) FirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return nil, errors.New("pdf has no pages")
	}
	dpi := r.DPI
	if dpi <= 0 {
		dpi = 150
	}
	img, err := doc.ImageDPI(0, dpi)
	if err != nil {
		return nil, fmt.Errorf("rendering page 1: %w", err)
	}
	return img, nil
}

// Source describes how a preview image was obtained.
type Source string

const (
	SourcePDF         Source = "pdf"
	SourceRaster      Source = "raster"
	SourcePlaceholder Source = "placeholder"
)

// Renderer turns stored bytes into JPEG previews.
type Renderer struct {
	raster  Rasterizer
	quality int
	log     qsync.Logger
}

// NewRenderer creates a Renderer. A nil raster uses FitzRasterizer.
func NewRenderer(raster Rasterizer, quality int, log qsync.Logger) *Renderer {
	if raster == nil {
		raster = FitzRasterizer{}
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Renderer{raster: raster, quality: quality, log: log}
}

// Normalize converts data into an image. PDFs are rasterized, known raster
// formats decoded, and anything else (or anything that fails) becomes the
// placeholder.
func (r *Renderer) Normalize(data []byte, mimeType, ext string) (image.Image, Source) {
	kind := contentKind(mimeType, ext)
	switch {
	case kind == "application/pdf":
		img, err := r.raster.FirstPage(data)
		if err == nil {
			return img, SourcePDF
		}
		r.log.Warn("pdf rasterization failed, using placeholder", "error", err)
	case rasterTypes[kind]:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err == nil {
			return img, SourceRaster
		}
		r.log.Warn("image decode failed, using placeholder", "type", kind, "error", err)
	}
	return Placeholder(), SourcePlaceholder
}

// Encode renders img as JPEG at the configured quality.
func (r *Renderer) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func contentKind(mimeType, ext string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType != "" && mimeType != qsync.DefaultContentType {
		return mimeType
	}
	return qsync.DetectContentType("f." + strings.TrimPrefix(ext, "."))
}

// Placeholder returns the neutral grey square used for unrenderable sources.
func Placeholder() image.Image {
	img := image.NewGray(image.Rect(0, 0, PlaceholderSize, PlaceholderSize))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: placeholderGrey}, image.Point{}, draw.Src)
	return img
}

// FitSize scales (w, h) so the longest edge is at most longest. Images are
// never upscaled.
func FitSize(w, h, longest int) (int, int) {
	if w <= 0 || h <= 0 || longest <= 0 {
		return w, h
	}
	if w <= longest && h <= longest {
		return w, h
	}
	if w >= h {
		nh := max(1, (h*longest+w/2)/w)
		return longest, nh
	}
	nw := max(1, (w*longest+h/2)/h)
	return nw, longest
}

// Resize fits img within a longest×longest box with CatmullRom resampling.
func Resize(img image.Image, longest int) image.Image {
	b := img.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), longest)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// Dimensions returns the pixel size of a raster image without decoding it.
func Dimensions(data []byte) (int, int, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
