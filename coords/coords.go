package coords

// Matrix is a PDF affine transform [a b c d e f] using the row-vector
// convention: x' = a*x + c*y + e, y' = b*x + d*y + f.
type Matrix [6]float64

// Multiply returns m followed by o.
func (m Matrix) Multiply(o Matrix) Matrix {
	return Matrix{
		m[0]*o[0] + m[1]*o[2],
		m[0]*o[1] + m[1]*o[3],
		m[2]*o[0] + m[3]*o[2],
		m[2]*o[1] + m[3]*o[3],
		m[4]*o[0] + m[5]*o[2] + o[4],
		m[4]*o[1] + m[5]*o[3] + o[5],
	}
}

type Point struct{ X, Y float64 }

func (m Matrix) Transform(p Point) Point {
	return Point{X: m[0]*p.X + m[2]*p.Y + m[4], Y: m[1]*p.X + m[3]*p.Y + m[5]}
}

// TransformVector applies only the linear part of m.
func (m Matrix) TransformVector(p Point) Point {
	return Point{X: m[0]*p.X + m[2]*p.Y, Y: m[1]*p.X + m[3]*p.Y}
}

func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }
func Scale(sx, sy float64) Matrix     { return Matrix{sx, 0, 0, sy, 0, 0} }

// Rect is an axis-aligned rectangle. In view space Y grows downward, so
// Y0 is the top edge and Y1 the bottom edge.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// Box is a page boundary box in PDF user space (lower-left, upper-right).
type Box struct {
	LLX, LLY, URX, URY float64
}

func (b Box) Width() float64  { return b.URX - b.LLX }
func (b Box) Height() float64 { return b.URY - b.LLY }

// NormalizeRotation folds a /Rotate value into 0, 90, 180 or 270.
func NormalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return (deg / 90) * 90
}

// ViewSize returns the page dimensions as displayed, with width and height
// swapped for quarter-turn rotations.
func ViewSize(box Box, rotate int) (w, h float64) {
	switch NormalizeRotation(rotate) {
	case 90, 270:
		return box.Height(), box.Width()
	default:
		return box.Width(), box.Height()
	}
}

// ViewToUser maps view coordinates (origin at the top-left corner of the
// displayed page, Y down) into PDF user space for a page with the given box
// and /Rotate value. /Rotate turns the page clockwise when displayed.
func ViewToUser(box Box, rotate int) Matrix {
	var linear Matrix
	var origin Point
	switch NormalizeRotation(rotate) {
	case 90:
		linear, origin = Matrix{0, 1, 1, 0, 0, 0}, Point{X: box.LLX, Y: box.LLY}
	case 180:
		linear, origin = Scale(-1, 1), Point{X: box.URX, Y: box.LLY}
	case 270:
		linear, origin = Matrix{0, -1, -1, 0, 0, 0}, Point{X: box.URX, Y: box.URY}
	default:
		linear, origin = Scale(1, -1), Point{X: box.LLX, Y: box.URY}
	}
	return linear.Multiply(Translate(origin.X, origin.Y))
}

// TextMatrix returns the text matrix that draws upright text with its
// baseline origin at view point p.
func TextMatrix(view Matrix, p Point) Matrix {
	right := view.TransformVector(Point{X: 1})
	up := view.TransformVector(Point{Y: -1})
	o := view.Transform(p)
	return Matrix{right.X, right.Y, up.X, up.Y, o.X, o.Y}
}

// ImageMatrix returns the CTM that paints the unit image square into view
// rect r without rotating or mirroring it on screen.
func ImageMatrix(view Matrix, r Rect) Matrix {
	right := view.TransformVector(Point{X: r.Width()})
	up := view.TransformVector(Point{Y: -r.Height()})
	o := view.Transform(Point{X: r.X0, Y: r.Y1})
	return Matrix{right.X, right.Y, up.X, up.Y, o.X, o.Y}
}
