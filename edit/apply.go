package edit

import (
	"context"
	"fmt"
	"io"

	"github.com/wudi/pdfedit/coords"
	"github.com/wudi/pdfedit/document"
	"github.com/wudi/pdfedit/observability"
)

// Document is the subset of an open PDF the applicator needs.
type Document interface {
	PageSize(page int) (document.Size, error)
	InsertText(page int, at coords.Point, text string, style document.TextStyle) error
	InsertImage(page int, r coords.Rect, data []byte) error
}

// Result summarises an apply pass.
type Result struct {
	Applied int
	Skipped []Skipped
}

// Applicator maps edits into page space and hands them to the document.
type Applicator struct {
	Logger observability.Logger
	Tracer observability.Tracer
}

func (a *Applicator) logger() observability.Logger {
	if a == nil || a.Logger == nil {
		return observability.NopLogger{}
	}
	return a.Logger
}

func (a *Applicator) tracer() observability.Tracer {
	if a == nil || a.Tracer == nil {
		return observability.NopTracer()
	}
	return a.Tracer
}

// Apply filters edits and applies the valid ones in order. The first
// failure ends the pass; the document must then be discarded, not saved.
func (a *Applicator) Apply(ctx context.Context, doc Document, edits []Edit) (Result, error) {
	ctx, span := a.tracer().StartSpan(ctx, observability.SpanApply)
	defer span.Finish()

	valid, skipped := filter(edits)
	res := Result{Skipped: skipped}
	for _, s := range skipped {
		a.logger().Debug("edit skipped", observability.Int("index", s.Index), observability.String("reason", string(s.Reason)))
	}
	span.SetTag("edits", len(valid))
	span.SetTag("skipped", len(skipped))

	for _, e := range valid {
		if err := ctx.Err(); err != nil {
			span.SetError(err)
			return res, err
		}
		if err := a.applyOne(ctx, doc, e.Edit); err != nil {
			span.SetError(err)
			return res, fmt.Errorf("edit %d (%s, page %d): %w", e.Index, e.Type, *e.Page, err)
		}
		res.Applied++
	}
	if len(skipped) > 0 {
		a.logger().Info("skipped malformed edits", observability.Int("skipped", len(skipped)), observability.Int("applied", res.Applied))
	}
	return res, nil
}

func (a *Applicator) applyOne(ctx context.Context, doc Document, e Edit) error {
	page := *e.Page
	size, err := doc.PageSize(page)
	if err != nil {
		return err
	}
	p := coords.MapPoint(*e.X, *e.Y, size.Width, size.Height)

	switch e.Type {
	case TypeText:
		_, span := a.tracer().StartSpan(ctx, observability.SpanEditText)
		defer span.Finish()
		color, err := e.TextColor()
		if err != nil {
			return err
		}
		style := document.TextStyle{Size: e.FontSize(), Color: color}
		if err := doc.InsertText(page, coords.TextAnchor(p, style.Size), e.Text, style); err != nil {
			span.SetError(err)
			return err
		}
	case TypeImage:
		_, span := a.tracer().StartSpan(ctx, observability.SpanEditImage)
		defer span.Finish()
		data, err := DecodeImageData(e.ImageData)
		if err != nil {
			span.SetError(err)
			return err
		}
		pxW, pxH := e.PixelSize()
		w, h := coords.ImageExtent(pxW, pxH, *e.PageImageWidth, *e.PageImageHeight, size.Width, size.Height)
		if err := doc.InsertImage(page, coords.ImageRect(p, w, h), data); err != nil {
			span.SetError(err)
			return err
		}
	}
	a.logger().Debug("edit applied", observability.String("type", string(e.Type)), observability.Int("page", page))
	return nil
}

// File is an open document that can be edited and saved.
type File interface {
	Document
	Save(ctx context.Context, w io.Writer) error
	Close() error
}

// OpenFunc opens the document at path.
type OpenFunc func(ctx context.Context, path string) (File, error)

// WriteFunc persists a file at path by calling write with its destination.
// It must leave no file behind when write fails.
type WriteFunc func(path string, write func(io.Writer) error) error

// Service applies an edit batch to a file on disk and saves the result.
type Service struct {
	Open       OpenFunc
	Write      WriteFunc
	Applicator *Applicator
}

// ApplyFile opens src, applies edits and saves to dst. On any failure dst
// is not written.
func (s *Service) ApplyFile(ctx context.Context, src, dst string, edits []Edit) (Result, error) {
	doc, err := s.Open(ctx, src)
	if err != nil {
		return Result{}, err
	}
	defer doc.Close()

	res, err := s.Applicator.Apply(ctx, doc, edits)
	if err != nil {
		return res, err
	}
	if err := s.Write(dst, func(w io.Writer) error { return doc.Save(ctx, w) }); err != nil {
		return res, err
	}
	return res, nil
}
