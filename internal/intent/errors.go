package intent

import "fmt"

// ParseError means the model output contained no usable JSON object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len([]rune(raw)) > 120 {
		raw = string([]rune(raw)[:120]) + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("intent: parse classifier output %q: %v", raw, e.Err)
	}
	return fmt.Sprintf("intent: no JSON object in classifier output %q", raw)
}

func (e *ParseError) Unwrap() error { return e.Err }
