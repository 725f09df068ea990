package coords

// BaselineOffsetRatio shifts text down by this fraction of the font size so
// the glyphs land where the user clicked rather than sitting above it.
const BaselineOffsetRatio = 0.3

// MapPoint scales a page-relative point (fractions of the preview) into view
// space points for a page of width w and height h.
func MapPoint(x, y, w, h float64) Point {
	return Point{X: x * w, Y: y * h}
}

// TextAnchor returns the baseline origin for text of the given size whose
// mapped position is p.
func TextAnchor(p Point, size float64) Point {
	return Point{X: p.X, Y: p.Y + BaselineOffsetRatio*size}
}

// ImageExtent converts an annotation's pixel extents into points, using the
// ratio between the preview the user saw and the real page.
func ImageExtent(pxW, pxH, previewW, previewH, w, h float64) (pointW, pointH float64) {
	return pxW / previewW * w, pxH / previewH * h
}

// ImageRect places an image of the given size with its left edge at p.X and
// its vertical centre at p.Y.
func ImageRect(p Point, pointW, pointH float64) Rect {
	return Rect{
		X0: p.X,
		Y0: p.Y - pointH/2,
		X1: p.X + pointW,
		Y1: p.Y + pointH/2,
	}
}

// FitRect returns the largest rectangle with the aspect ratio of a w×h image
// that fits inside r, centred in r. Degenerate sizes return r unchanged.
func FitRect(r Rect, w, h float64) Rect {
	rw, rh := r.Width(), r.Height()
	if w <= 0 || h <= 0 || rw <= 0 || rh <= 0 {
		return r
	}
	scale := min(rw/w, rh/h)
	fw, fh := w*scale, h*scale
	x0 := r.X0 + (rw-fw)/2
	y0 := r.Y0 + (rh-fh)/2
	return Rect{X0: x0, Y0: y0, X1: x0 + fw, Y1: y0 + fh}
}
