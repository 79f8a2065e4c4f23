// Package lines splits a byte stream into bounded newline-terminated lines.
package lines

import "bytes"

// Splitter accumulates chunks and hands out complete lines. A line longer
// than the limit is dropped through its terminating newline.
type Splitter struct {
	max        int
	pending    []byte
	discarding bool
}

func NewSplitter(maxLine int) *Splitter {
	return &Splitter{max: maxLine}
}

// Feed appends p and calls emit for each complete, non-empty line with the
// line terminator removed. The slice passed to emit is only valid during the
// call. It returns how many oversized lines were dropped. Feed stops at the
// first emit error.
func (s *Splitter) Feed(p []byte, emit func(line []byte) error) (dropped int, err error) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			if s.discarding {
				return dropped, nil
			}
			s.pending = append(s.pending, p...)
			if s.max > 0 && len(s.pending) > s.max {
				s.pending = s.pending[:0]
				s.discarding = true
				dropped++
			}
			return dropped, nil
		}

		chunk := p[:i]
		p = p[i+1:]
		if s.discarding {
			s.discarding = false
			continue
		}

		line := chunk
		if len(s.pending) > 0 {
			s.pending = append(s.pending, chunk...)
			line = s.pending
		}
		if s.max > 0 && len(line) > s.max {
			s.pending = s.pending[:0]
			dropped++
			continue
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) > 0 {
			if err := emit(line); err != nil {
				s.pending = s.pending[:0]
				return dropped, err
			}
		}
		s.pending = s.pending[:0]
	}
	return dropped, nil
}

// Rest returns the unterminated tail, if any, and resets the splitter.
func (s *Splitter) Rest() []byte {
	var out []byte
	if len(s.pending) > 0 && !s.discarding {
		out = bytes.TrimSuffix(append([]byte(nil), s.pending...), []byte{'\r'})
	}
	s.pending = s.pending[:0]
	s.discarding = false
	return out
}
