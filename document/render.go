package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io/fs"
	"os"

	"github.com/gen2brain/go-fitz"

	"github.com/wudi/pdfedit/observability"
)

// DefaultDPI is the resolution used for page previews.
const DefaultDPI = 150

// Pixmap is a PNG-encoded page rendering.
type Pixmap struct {
	PNG           []byte
	Width, Height int
}

// FitzRenderer rasterises pages with MuPDF.
type FitzRenderer struct {
	Tracer observability.Tracer
}

func (r FitzRenderer) tracer() observability.Tracer {
	if r.Tracer == nil {
		return observability.NopTracer()
	}
	return r.Tracer
}

func openFitz(path string) (*fitz.Document, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, processing("open", err)
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, processing("open", err)
	}
	return doc, nil
}

// PageCount opens the document at path and reports its number of pages.
func (r FitzRenderer) PageCount(ctx context.Context, path string) (int, error) {
	_, span := r.tracer().StartSpan(ctx, observability.SpanOpen)
	defer span.Finish()
	doc, err := openFitz(path)
	if err != nil {
		span.SetError(err)
		return 0, err
	}
	defer doc.Close()
	n := doc.NumPage()
	span.SetTag("pages", n)
	return n, nil
}

// RenderPNG renders the zero-based page at dpi and encodes it as PNG.
func (r FitzRenderer) RenderPNG(ctx context.Context, path string, page int, dpi float64) (Pixmap, error) {
	_, span := r.tracer().StartSpan(ctx, observability.SpanRender)
	defer span.Finish()
	span.SetTag("page", page)

	if dpi <= 0 {
		dpi = DefaultDPI
	}
	doc, err := openFitz(path)
	if err != nil {
		span.SetError(err)
		return Pixmap{}, err
	}
	defer doc.Close()

	if n := doc.NumPage(); page < 0 || page >= n {
		return Pixmap{}, pageRange(page, n)
	}
	img, err := doc.ImageDPI(page, dpi)
	if err != nil {
		span.SetError(err)
		return Pixmap{}, processing("render", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		span.SetError(err)
		return Pixmap{}, processing("encode png", err)
	}
	b := img.Bounds()
	return Pixmap{PNG: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}
