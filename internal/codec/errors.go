package codec

import "fmt"

// ParseError carries the rejected line for diagnostics.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("codec: parse %q: %s", e.Line, e.Reason)
}

func parseErr(line, reason string) error {
	return &ParseError{Line: line, Reason: reason}
}
