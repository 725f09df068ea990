package contentstream

import (
	"golang.org/x/text/encoding/charmap"

	"github.com/wudi/pdfedit/coords"
)

// Wrap brackets existing page content in q/Q so later additions start from
// the default graphics state.
func Wrap() (prefix, suffix []Operation) {
	return []Operation{{Operator: "q"}}, []Operation{{Operator: "Q"}}
}

// TextOps draws text with the given font resource and text matrix.
func TextOps(fontName string, size float64, color Color, tm coords.Matrix, text []byte) []Operation {
	return []Operation{
		{Operator: "q"},
		{Operator: "BT"},
		{Operator: "Tf", Operands: []Operand{NameOperand{Value: fontName}, NumberOperand{Value: size}}},
		{Operator: "rg", Operands: Numbers(color.R, color.G, color.B)},
		{Operator: "Tm", Operands: Numbers(tm[:]...)},
		{Operator: "Tj", Operands: []Operand{StringOperand{Value: text}}},
		{Operator: "ET"},
		{Operator: "Q"},
	}
}

// ImageOps paints the named image XObject through the CTM cm.
func ImageOps(name string, cm coords.Matrix) []Operation {
	return []Operation{
		{Operator: "q"},
		{Operator: "cm", Operands: Numbers(cm[:]...)},
		{Operator: "Do", Operands: []Operand{NameOperand{Value: name}}},
		{Operator: "Q"},
	}
}

// EncodeWinAnsi converts text to WinAnsiEncoding bytes for the standard 14
// fonts. Runes outside Windows-1252 become '?'.
func EncodeWinAnsi(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		if b, ok := charmap.Windows1252.EncodeRune(r); ok {
			out = append(out, b)
			continue
		}
		out = append(out, '?')
	}
	return out
}
