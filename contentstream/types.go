package contentstream

// Operation is a single content stream operator with its operands.
type Operation struct {
	Operator string
	Operands []Operand
}

// Operand is a number, name or string operand.
type Operand interface {
	operand()
}

type NumberOperand struct{ Value float64 }

func (NumberOperand) operand() {}

type NameOperand struct{ Value string }

func (NameOperand) operand() {}

// StringOperand holds already-encoded string bytes.
type StringOperand struct{ Value []byte }

func (StringOperand) operand() {}

// Color represents an RGB fill color with components in [0,1].
type Color struct {
	R, G, B float64
}

func Numbers(vals ...float64) []Operand {
	out := make([]Operand, len(vals))
	for i, v := range vals {
		out[i] = NumberOperand{Value: v}
	}
	return out
}
