package testpdf

import (
	"fmt"
	"strconv"

	"github.com/wudi/pdfedit/contentstream"
)

// ParseContent reads a content stream back into operations so tests can
// inspect what was written. It understands numbers, names and literal
// strings; any other token is an operator.
func ParseContent(stream []byte) ([]contentstream.Operation, error) {
	s := &scanner{src: stream}
	var ops []contentstream.Operation
	var stack []contentstream.Operand
	for {
		s.skipSpace()
		if s.eof() {
			break
		}
		operand, operator, err := s.next()
		if err != nil {
			return nil, err
		}
		if operand != nil {
			stack = append(stack, operand)
			continue
		}
		ops = append(ops, contentstream.Operation{Operator: operator, Operands: stack})
		stack = nil
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("dangling operands: %d", len(stack))
	}
	return ops, nil
}

type scanner struct {
	src []byte
	pos int
}

func (s *scanner) eof() bool { return s.pos >= len(s.src) }

func (s *scanner) skipSpace() {
	for !s.eof() {
		switch s.src[s.pos] {
		case ' ', '\n', '\r', '\t', '\f', 0:
			s.pos++
		default:
			return
		}
	}
}

func isDelim(c byte) bool {
	switch c {
	case ' ', '\n', '\r', '\t', '\f', 0, '(', ')', '[', ']', '/', '<', '>':
		return true
	}
	return false
}

func (s *scanner) word() string {
	start := s.pos
	for !s.eof() && !isDelim(s.src[s.pos]) {
		s.pos++
	}
	return string(s.src[start:s.pos])
}

func (s *scanner) next() (contentstream.Operand, string, error) {
	switch c := s.src[s.pos]; c {
	case '/':
		s.pos++
		return contentstream.NameOperand{Value: s.word()}, "", nil
	case '(':
		b, err := s.literal()
		if err != nil {
			return nil, "", err
		}
		return contentstream.StringOperand{Value: b}, "", nil
	case '[', ']', ')':
		return nil, "", fmt.Errorf("unexpected %q at offset %d", c, s.pos)
	default:
		w := s.word()
		if w == "" {
			return nil, "", fmt.Errorf("unexpected %q at offset %d", c, s.pos)
		}
		if n, err := strconv.ParseFloat(w, 64); err == nil {
			return contentstream.NumberOperand{Value: n}, "", nil
		}
		return nil, w, nil
	}
}

func (s *scanner) literal() ([]byte, error) {
	s.pos++ // (
	var out []byte
	depth := 1
	for !s.eof() {
		c := s.src[s.pos]
		s.pos++
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return out, nil
			}
		case '\\':
			if s.eof() {
				return nil, fmt.Errorf("unterminated escape")
			}
			e := s.src[s.pos]
			s.pos++
			switch e {
			case 'n':
				c = '\n'
			case 'r':
				c = '\r'
			case 't':
				c = '\t'
			case 'b':
				c = '\b'
			case 'f':
				c = '\f'
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && !s.eof() && s.src[s.pos] >= '0' && s.src[s.pos] <= '7'; i++ {
						v = v*8 + int(s.src[s.pos]-'0')
						s.pos++
					}
					c = byte(v)
				} else {
					c = e
				}
			}
		}
		out = append(out, c)
	}
	return nil, fmt.Errorf("unterminated string")
}
