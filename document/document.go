package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/wudi/pdfedit/contentstream"
	"github.com/wudi/pdfedit/coords"
	"github.com/wudi/pdfedit/observability"
)

func init() {
	// Keep pdfcpu from creating a configuration directory in $HOME.
	model.ConfigPath = "disable"
}

const (
	fontResourcePrefix  = "FEdit"
	imageResourcePrefix = "ImEdit"
	standardFont        = "Helvetica"
)

// Size is a page size in points as seen by the viewer.
type Size struct {
	Width, Height float64
}

// TextStyle configures inserted text.
type TextStyle struct {
	Size  float64
	Color contentstream.Color
}

// Document is an open PDF whose pages can be measured and stamped with text
// and images. It is not safe for concurrent use.
type Document struct {
	path   string
	ctx    *model.Context
	tracer observability.Tracer

	pages   map[int]*pageState
	fontRef *types.IndirectRef
}

type pageState struct {
	dict     types.Dict
	res      types.Dict
	box      coords.Box
	rotate   int
	wrapped  bool
	contents types.Array
	fontName string
	imageSeq int
}

// Option configures a Document.
type Option func(*Document)

// WithTracer records spans for open and save.
func WithTracer(t observability.Tracer) Option {
	return func(d *Document) {
		if t != nil {
			d.tracer = t
		}
	}
}

// Open reads and validates the PDF at path.
func Open(ctx context.Context, path string, opts ...Option) (*Document, error) {
	d := &Document{path: path, tracer: observability.NopTracer(), pages: make(map[int]*pageState)}
	for _, opt := range opts {
		opt(d)
	}
	_, span := d.tracer.StartSpan(ctx, observability.SpanOpen)
	defer span.Finish()
	span.SetTag("path", path)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		span.SetError(err)
		return nil, processing("open", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		span.SetError(err)
		return nil, processing("open", err)
	}
	if err := pctx.EnsurePageCount(); err != nil {
		span.SetError(err)
		return nil, processing("open", err)
	}
	d.ctx = pctx
	span.SetTag("pages", pctx.PageCount)
	return d, nil
}

func (d *Document) PageCount() int {
	if d.ctx == nil {
		return 0
	}
	return d.ctx.PageCount
}

// PageSize returns the viewer-visible size of the zero-based page.
func (d *Document) PageSize(page int) (Size, error) {
	p, err := d.page(page)
	if err != nil {
		return Size{}, err
	}
	w, h := coords.ViewSize(p.box, p.rotate)
	return Size{Width: w, Height: h}, nil
}

// InsertText draws text in the standard Helvetica font with its baseline
// origin at the view-space point at.
func (d *Document) InsertText(page int, at coords.Point, text string, style TextStyle) error {
	p, err := d.page(page)
	if err != nil {
		return err
	}
	font, err := d.ensureFont(p)
	if err != nil {
		return processing("insert text", err)
	}
	tm := coords.TextMatrix(coords.ViewToUser(p.box, p.rotate), at)
	ops := contentstream.TextOps(font, style.Size, style.Color, tm, contentstream.EncodeWinAnsi(text))
	return processing("insert text", d.appendContent(p, ops))
}

// InsertImage embeds the encoded image data and paints it into the
// view-space rectangle r, scaled to fit and centred with its aspect ratio
// kept. JPEG data is embedded as is.
func (d *Document) InsertImage(page int, r coords.Rect, data []byte) error {
	p, err := d.page(page)
	if err != nil {
		return err
	}
	if r.Width() <= 0 || r.Height() <= 0 {
		return processing("insert image", fmt.Errorf("rect %v is empty", r))
	}
	ref, w, h, err := model.CreateImageResource(d.ctx.XRefTable, bytes.NewReader(data), false, false)
	if err != nil {
		return processing("insert image", fmt.Errorf("decode image: %w", err))
	}
	if w == 0 || h == 0 {
		return processing("insert image", errors.New("decode image: empty image"))
	}
	name, err := d.addXObject(p, *ref)
	if err != nil {
		return processing("insert image", err)
	}
	fit := coords.FitRect(r, float64(w), float64(h))
	cm := coords.ImageMatrix(coords.ViewToUser(p.box, p.rotate), fit)
	return processing("insert image", d.appendContent(p, contentstream.ImageOps(name, cm)))
}

// Save writes the document, including all insertions, to w.
func (d *Document) Save(ctx context.Context, w io.Writer) error {
	_, span := d.tracer.StartSpan(ctx, observability.SpanSave)
	defer span.Finish()
	if d.ctx == nil {
		return processing("save", errors.New("document is closed"))
	}
	if err := api.WriteContext(d.ctx, w); err != nil {
		span.SetError(err)
		return processing("save", err)
	}
	return nil
}

// Close releases the document. Further calls fail.
func (d *Document) Close() error {
	d.ctx = nil
	d.pages = nil
	return nil
}

func (d *Document) page(page int) (*pageState, error) {
	if d.ctx == nil {
		return nil, processing("load page", errors.New("document is closed"))
	}
	if page < 0 || page >= d.ctx.PageCount {
		return nil, pageRange(page, d.ctx.PageCount)
	}
	if p, ok := d.pages[page]; ok {
		return p, nil
	}
	dict, _, inh, err := d.ctx.PageDict(page+1, false)
	if err != nil {
		return nil, processing("load page", err)
	}
	if dict == nil || inh == nil {
		return nil, processing("load page", fmt.Errorf("page %d has no dictionary", page))
	}
	rect := inh.CropBox
	if rect == nil {
		rect = inh.MediaBox
	}
	if rect == nil {
		return nil, processing("load page", fmt.Errorf("page %d has no media box", page))
	}
	p := &pageState{
		dict:   dict,
		box:    coords.Box{LLX: rect.LL.X, LLY: rect.LL.Y, URX: rect.UR.X, URY: rect.UR.Y},
		rotate: inh.Rotate,
	}
	d.pages[page] = p
	return p, nil
}
