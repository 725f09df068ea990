// Package edit describes text and image annotations placed on page previews
// and applies them to an open document.
package edit

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wudi/pdfedit/contentstream"
)

type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
)

const (
	DefaultFontSize    = 11
	DefaultImageWidth  = 100
	DefaultImageHeight = 100
)

// Edit is one annotation as sent by the browser. X and Y are fractions of
// the page preview. Pointer fields distinguish absent values from zero.
type Edit struct {
	Page *int     `json:"page"`
	Type Type     `json:"type"`
	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`

	Text  string   `json:"text,omitempty"`
	Size  *float64 `json:"size,omitempty"`
	Color string   `json:"color,omitempty"`

	ImageData       string   `json:"image_data,omitempty"`
	Width           *float64 `json:"width,omitempty"`
	Height          *float64 `json:"height,omitempty"`
	PageImageWidth  *float64 `json:"page_image_width,omitempty"`
	PageImageHeight *float64 `json:"page_image_height,omitempty"`
}

// FontSize returns the requested size or DefaultFontSize.
func (e Edit) FontSize() float64 {
	if e.Size == nil || *e.Size <= 0 {
		return DefaultFontSize
	}
	return *e.Size
}

// PixelSize returns the annotation's pixel extents, defaulting each to 100.
func (e Edit) PixelSize() (w, h float64) {
	w, h = DefaultImageWidth, DefaultImageHeight
	if e.Width != nil {
		w = *e.Width
	}
	if e.Height != nil {
		h = *e.Height
	}
	return w, h
}

// TextColor parses Color as #rrggbb; empty means black.
func (e Edit) TextColor() (contentstream.Color, error) {
	return ParseColor(e.Color)
}

func ParseColor(s string) (contentstream.Color, error) {
	if s == "" {
		return contentstream.Color{}, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return contentstream.Color{}, fmt.Errorf("color %q: want #rrggbb", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return contentstream.Color{}, fmt.Errorf("color %q: %w", s, err)
	}
	return contentstream.Color{
		R: float64(v>>16&0xff) / 255,
		G: float64(v>>8&0xff) / 255,
		B: float64(v&0xff) / 255,
	}, nil
}

// DecodeImageData decodes a base64 payload, dropping a data-URI prefix such
// as "data:image/png;base64," when present.
func DecodeImageData(s string) ([]byte, error) {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	s = strings.Join(strings.Fields(s), "")
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var ferr error
		if data, ferr = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); ferr != nil {
			return nil, fmt.Errorf("decode image data: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, errors.New("decode image data: empty payload")
	}
	return data, nil
}

// Reason explains why Filter dropped an edit.
type Reason string

const (
	ReasonMissingPosition Reason = "missing page, x or y"
	ReasonMissingImage    Reason = "missing image data or preview size"
	ReasonUnknownType     Reason = "unknown type"
	ReasonBadColor        Reason = "invalid color"
)

// Skipped records an edit that Filter dropped.
type Skipped struct {
	Index  int
	Reason Reason
}

// Filter separates applicable edits from malformed ones. Malformed edits are
// dropped silently; they never fail a batch. Order is preserved.
func Filter(edits []Edit) (valid []Edit, skipped []Skipped) {
	indexed, skipped := filter(edits)
	valid = make([]Edit, len(indexed))
	for i, v := range indexed {
		valid[i] = v.Edit
	}
	return valid, skipped
}

// indexedEdit is a valid edit with its position in the request.
type indexedEdit struct {
	Index int
	Edit
}

func filter(edits []Edit) (valid []indexedEdit, skipped []Skipped) {
	valid = make([]indexedEdit, 0, len(edits))
	for i, e := range edits {
		if reason, ok := check(e); !ok {
			skipped = append(skipped, Skipped{Index: i, Reason: reason})
			continue
		}
		valid = append(valid, indexedEdit{Index: i, Edit: e})
	}
	return valid, skipped
}

func check(e Edit) (Reason, bool) {
	if e.Page == nil || e.X == nil || e.Y == nil {
		return ReasonMissingPosition, false
	}
	switch e.Type {
	case TypeText:
		if _, err := e.TextColor(); err != nil {
			return ReasonBadColor, false
		}
	case TypeImage:
		if e.ImageData == "" || e.PageImageWidth == nil || e.PageImageHeight == nil ||
			*e.PageImageWidth == 0 || *e.PageImageHeight == 0 {
			return ReasonMissingImage, false
		}
	default:
		return ReasonUnknownType, false
	}
	return "", true
}
