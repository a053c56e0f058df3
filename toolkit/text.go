package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	cortex "github.com/nevindra/cortex"
)

// StringOps returns a tool for simple string transforms. Input is
// "operation|text" where operation is one of upper, lower, reverse,
// length, words.
func StringOps() cortex.Tool {
	return cortex.Tool{
		Name:        "StringOps",
		Description: "String operations. Input 'operation|text' with operation one of: upper, lower, reverse, length, words.",
		Invoke: func(_ context.Context, input string) (string, error) {
			op, text, ok := strings.Cut(input, "|")
			if !ok {
				return "", fmt.Errorf("expected 'operation|text', got %q", input)
			}
			switch strings.TrimSpace(strings.ToLower(op)) {
			case "upper":
				return strings.ToUpper(text), nil
			case "lower":
				return strings.ToLower(text), nil
			case "reverse":
				runes := []rune(text)
				for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
					runes[i], runes[j] = runes[j], runes[i]
				}
				return string(runes), nil
			case "length":
				return strconv.Itoa(len([]rune(text))), nil
			case "words":
				return strconv.Itoa(len(strings.Fields(text))), nil
			default:
				return "", fmt.Errorf("unknown operation %q (upper, lower, reverse, length, words)", op)
			}
		},
	}
}

// JSONTool returns a tool that validates, pretty-prints or extracts from
// JSON documents. Input forms:
//
//	validate|<json>
//	pretty|<json>
//	get|<dotted.path>|<json>
func JSONTool() cortex.Tool {
	return cortex.Tool{
		Name:        "JSONTool",
		Description: "Work with JSON. Input 'validate|<json>', 'pretty|<json>', or 'get|<dotted.path>|<json>'.",
		Invoke: func(_ context.Context, input string) (string, error) {
			op, rest, ok := strings.Cut(input, "|")
			if !ok {
				return "", fmt.Errorf("expected 'operation|...', got %q", input)
			}
			switch strings.TrimSpace(strings.ToLower(op)) {
			case "validate":
				if !json.Valid([]byte(rest)) {
					return "invalid JSON", nil
				}
				return "valid JSON", nil
			case "pretty":
				var v any
				if err := json.Unmarshal([]byte(rest), &v); err != nil {
					return "", fmt.Errorf("parse JSON: %w", err)
				}
				out, err := json.MarshalIndent(v, "", "  ")
				if err != nil {
					return "", err
				}
				return string(out), nil
			case "get":
				path, doc, ok := strings.Cut(rest, "|")
				if !ok {
					return "", fmt.Errorf("expected 'get|path|json'")
				}
				return jsonPath(path, doc)
			default:
				return "", fmt.Errorf("unknown operation %q (validate, pretty, get)", op)
			}
		},
	}
}

// jsonPath walks a dotted path through maps and arrays ("items.0.name").
func jsonPath(path, doc string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return "", fmt.Errorf("parse JSON: %w", err)
	}
	for _, part := range strings.Split(strings.TrimSpace(path), ".") {
		switch cur := v.(type) {
		case map[string]any:
			next, ok := cur[part]
			if !ok {
				return "", fmt.Errorf("key %q not found", part)
			}
			v = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(cur) {
				return "", fmt.Errorf("index %q out of range (length %d)", part, len(cur))
			}
			v = cur[idx]
		default:
			return "", fmt.Errorf("cannot descend into %T with %q", cur, part)
		}
	}
	switch s := v.(type) {
	case string:
		return s, nil
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// DateTime returns a tool reporting the current date and time. Input is
// one of now (default), date, time, unix.
func DateTime() cortex.Tool {
	return dateTimeWithClock(time.Now)
}

func dateTimeWithClock(now func() time.Time) cortex.Tool {
	return cortex.Tool{
		Name:        "DateTime",
		Description: "Current date/time. Input one of: now (default), date, time, unix.",
		Invoke: func(_ context.Context, input string) (string, error) {
			t := now()
			switch strings.TrimSpace(strings.ToLower(input)) {
			case "", "now":
				return t.Format(time.RFC3339), nil
			case "date":
				return t.Format("2006-01-02"), nil
			case "time":
				return t.Format("15:04:05"), nil
			case "unix":
				return strconv.FormatInt(t.Unix(), 10), nil
			default:
				return "", fmt.Errorf("unknown format %q (now, date, time, unix)", input)
			}
		},
	}
}
