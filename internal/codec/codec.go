// Package codec defines the single-line text form of a telemetry record.
//
//	<source_id>: <status>: x <X> y <Y> z <Z>\n
//
// Coordinates always carry two fractional digits on the wire.
package codec

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxSourceIDLen bounds the identifier, sized for a colon separated MAC.
	MaxSourceIDLen = 17
	// MaxLineBytes bounds an encoded line including its newline.
	MaxLineBytes = 1024
	// MaxCoord is the largest coordinate magnitude, in hundredths.
	MaxCoord Coord = 100_000_000_000
)

// Coord is a fixed-precision decimal stored as a count of hundredths.
type Coord int64

// CoordFromFloat rounds the shortest decimal form of f half away from zero
// to the nearest hundredth, so 1.005 becomes 1.01.
func CoordFromFloat(f float64) Coord {
	if c, err := parseDecimal(strconv.FormatFloat(f, 'f', -1, 64)); err == nil {
		return c
	}
	return Coord(math.Round(f * 100))
}

func (c Coord) Float64() float64 { return float64(c) / 100 }

func (c Coord) String() string {
	n, sign := int64(c), ""
	if n < 0 {
		n, sign = -n, "-"
	}
	return fmt.Sprintf("%s%d.%02d", sign, n/100, n%100)
}

// Record is one position/status sample from a producer.
type Record struct {
	SourceID string
	Status   byte
	X, Y, Z  Coord
}

// Validate reports why r has no wire form.
func (r Record) Validate() error {
	switch {
	case r.SourceID == "":
		return fmt.Errorf("codec: empty source id")
	case len(r.SourceID) > MaxSourceIDLen:
		return fmt.Errorf("codec: source id %q longer than %d bytes", r.SourceID, MaxSourceIDLen)
	case !utf8.ValidString(r.SourceID) || strings.ContainsFunc(r.SourceID, badIDRune):
		return fmt.Errorf("codec: source id %q contains whitespace or unprintable characters", r.SourceID)
	case strings.HasSuffix(r.SourceID, ":"):
		return fmt.Errorf("codec: source id %q ends with the field separator", r.SourceID)
	case !validStatus(r.Status):
		return fmt.Errorf("codec: invalid status symbol %q", r.Status)
	}
	for _, c := range [...]Coord{r.X, r.Y, r.Z} {
		if c > MaxCoord || c < -MaxCoord {
			return fmt.Errorf("codec: coordinate %s out of range", c)
		}
	}
	return nil
}

func badIDRune(r rune) bool { return unicode.IsSpace(r) || !unicode.IsPrint(r) }

// printable ASCII, no space and no separator
func validStatus(b byte) bool { return b > ' ' && b < 0x7f && b != ':' }

// Encode renders r as one newline-terminated line.
func Encode(r Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	line := fmt.Appendf(nil, "%s: %c: x %s y %s z %s\n", r.SourceID, r.Status, r.X, r.Y, r.Z)
	if len(line) > MaxLineBytes {
		return nil, fmt.Errorf("codec: encoded line is %d bytes (max %d)", len(line), MaxLineBytes)
	}
	return line, nil
}

// Decode parses one line. The trailing newline is optional. Every failure
// is a *ParseError.
func Decode(line []byte) (Record, error) {
	var r Record
	raw := string(line)
	text := strings.TrimRight(raw, "\r\n")
	if strings.ContainsAny(text, "\r\n") {
		return Record{}, parseErr(raw, "embedded newline")
	}
	if len(line) > MaxLineBytes {
		return Record{}, parseErr(raw, fmt.Sprintf("line longer than %d bytes", MaxLineBytes))
	}

	f := strings.Fields(text)
	if len(f) != 8 {
		return Record{}, parseErr(raw, fmt.Sprintf("want 8 fields, got %d", len(f)))
	}

	id, ok := strings.CutSuffix(f[0], ":")
	if !ok {
		return Record{}, parseErr(raw, "source id not terminated by ':'")
	}
	if id == "" || len(id) > MaxSourceIDLen || strings.HasSuffix(id, ":") {
		return Record{}, parseErr(raw, fmt.Sprintf("source id %q is not 1..%d bytes", id, MaxSourceIDLen))
	}
	r.SourceID = id

	if len(f[1]) != 2 || f[1][1] != ':' || !validStatus(f[1][0]) {
		return Record{}, parseErr(raw, fmt.Sprintf("status field %q is not one symbol followed by ':'", f[1]))
	}
	r.Status = f[1][0]

	for i, label := range [...]string{"x", "y", "z"} {
		pos := 2 + 2*i
		if f[pos] != label {
			return Record{}, parseErr(raw, fmt.Sprintf("want label %q, got %q", label, f[pos]))
		}
		c, err := parseCoord(f[pos+1])
		if err != nil {
			return Record{}, parseErr(raw, fmt.Sprintf("%s: %v", label, err))
		}
		switch i {
		case 0:
			r.X = c
		case 1:
			r.Y = c
		default:
			r.Z = c
		}
	}
	// Decode accepts exactly what Encode can produce.
	if err := r.Validate(); err != nil {
		return Record{}, parseErr(raw, strings.TrimPrefix(err.Error(), "codec: "))
	}
	return r, nil
}

func parseCoord(s string) (Coord, error) {
	c, err := parseDecimal(s)
	if err != nil {
		return 0, err
	}
	if c > MaxCoord || c < -MaxCoord {
		return 0, fmt.Errorf("%q out of range", s)
	}
	return c, nil
}

// parseDecimal reads [+-]digits[.digits] straight into hundredths. The
// third fractional digit decides rounding, half away from zero.
func parseDecimal(s string) (Coord, error) {
	neg := false
	d := s
	if d != "" && (d[0] == '+' || d[0] == '-') {
		neg = d[0] == '-'
		d = d[1:]
	}
	whole, frac, _ := strings.Cut(d, ".")
	if (whole == "" && frac == "") || !allDigits(whole) || !allDigits(frac) {
		return 0, fmt.Errorf("%q is not a decimal", s)
	}

	const limit = int64(MaxCoord)/100 + 1
	var n int64
	for i := 0; i < len(whole); i++ {
		n = n*10 + int64(whole[i]-'0')
		if n > limit {
			return 0, fmt.Errorf("%q out of range", s)
		}
	}
	n *= 100
	for i, scale := 0, int64(10); i < 2; i, scale = i+1, scale/10 {
		if i < len(frac) {
			n += int64(frac[i]-'0') * scale
		}
	}
	if len(frac) > 2 && frac[2] >= '5' {
		n++
	}
	if neg {
		n = -n
	}
	return Coord(n), nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// SourceKey returns the identifier prefix of a raw line without a full
// decode, or nil when the line has no "<id>:" head.
func SourceKey(line []byte) []byte {
	i := bytes.Index(line, []byte(": "))
	if i <= 0 || i > MaxSourceIDLen {
		return nil
	}
	return line[:i]
}
