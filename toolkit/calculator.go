package toolkit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	cortex "github.com/nevindra/cortex"
)

// Calculator returns a tool that evaluates arithmetic expressions with
// + - * / % ^, parentheses and unary minus. No names, no calls: the input
// is data, never code.
func Calculator() cortex.Tool {
	return cortex.Tool{
		Name:        "Calculator",
		Description: "Evaluate an arithmetic expression, e.g. '2 * (3 + 4) ^ 2'. Supports + - * / % ^ and parentheses.",
		Invoke: func(_ context.Context, input string) (string, error) {
			v, err := Eval(input)
			if err != nil {
				return "", err
			}
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		},
	}
}

// Eval evaluates an arithmetic expression via shunting-yard.
func Eval(expr string) (float64, error) {
	tokens, err := tokenizeExpr(expr)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, fmt.Errorf("empty expression")
	}
	rpn, err := toRPN(tokens)
	if err != nil {
		return 0, err
	}
	return evalRPN(rpn)
}

type exprToken struct {
	num   float64
	op    byte // 0 for numbers; 'u' is unary minus
	isNum bool
}

func tokenizeExpr(expr string) ([]exprToken, error) {
	var tokens []exprToken
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			v, err := strconv.ParseFloat(expr[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", expr[i:j])
			}
			tokens = append(tokens, exprToken{num: v, isNum: true})
			i = j
		case strings.IndexByte("+-*/%^()", c) >= 0:
			op := c
			// A minus at the start or after an operator or '(' is unary.
			if c == '-' && (len(tokens) == 0 || (!tokens[len(tokens)-1].isNum && tokens[len(tokens)-1].op != ')')) {
				op = 'u'
			}
			tokens = append(tokens, exprToken{op: op})
			i++
		case unicode.IsLetter(rune(c)):
			return nil, fmt.Errorf("unexpected name at %q: only numeric expressions are evaluated", expr[i:])
		default:
			return nil, fmt.Errorf("unexpected character %q", string(c))
		}
	}
	return tokens, nil
}

func precedence(op byte) int {
	switch op {
	case 'u':
		return 4
	case '^':
		return 3
	case '*', '/', '%':
		return 2
	case '+', '-':
		return 1
	}
	return 0
}

func rightAssoc(op byte) bool { return op == '^' || op == 'u' }

func toRPN(tokens []exprToken) ([]exprToken, error) {
	var out, stack []exprToken
	for _, t := range tokens {
		switch {
		case t.isNum:
			out = append(out, t)
		case t.op == '(':
			stack = append(stack, t)
		case t.op == ')':
			for {
				if len(stack) == 0 {
					return nil, fmt.Errorf("mismatched parentheses")
				}
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top.op == '(' {
					break
				}
				out = append(out, top)
			}
		default:
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if top.op == '(' {
					break
				}
				if precedence(top.op) > precedence(t.op) ||
					(precedence(top.op) == precedence(t.op) && !rightAssoc(t.op)) {
					out = append(out, top)
					stack = stack[:len(stack)-1]
					continue
				}
				break
			}
			stack = append(stack, t)
		}
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.op == '(' {
			return nil, fmt.Errorf("mismatched parentheses")
		}
		out = append(out, top)
	}
	return out, nil
}

func evalRPN(rpn []exprToken) (float64, error) {
	var stack []float64
	pop := func() (float64, bool) {
		if len(stack) == 0 {
			return 0, false
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, true
	}
	for _, t := range rpn {
		if t.isNum {
			stack = append(stack, t.num)
			continue
		}
		if t.op == 'u' {
			v, ok := pop()
			if !ok {
				return 0, fmt.Errorf("malformed expression")
			}
			stack = append(stack, -v)
			continue
		}
		b, ok1 := pop()
		a, ok2 := pop()
		if !ok1 || !ok2 {
			return 0, fmt.Errorf("malformed expression")
		}
		switch t.op {
		case '+':
			stack = append(stack, a+b)
		case '-':
			stack = append(stack, a-b)
		case '*':
			stack = append(stack, a*b)
		case '/':
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			stack = append(stack, a/b)
		case '%':
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			stack = append(stack, math.Mod(a, b))
		case '^':
			stack = append(stack, math.Pow(a, b))
		default:
			return 0, fmt.Errorf("unknown operator %q", string(t.op))
		}
	}
	if len(stack) != 1 {
		return 0, fmt.Errorf("malformed expression")
	}
	return stack[0], nil
}
