package exifdir

import (
	"fmt"
	"time"
)

// DateLayout is the fixed EXIF date format, YYYY:MM:DD HH:MM:SS.
const DateLayout = "2006:01:02 15:04:05"

// dateTerminator follows the formatted date inside an ASCII field.
const dateTerminator = 0x00

// ParseError is returned when a capture time payload does not match DateLayout.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed date %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EncodeDate formats t as a local naive date followed by a single terminator byte.
func EncodeDate(t time.Time) []byte {
	bs := make([]byte, 0, len(DateLayout)+1)
	bs = append(bs, t.Local().Format(DateLayout)...)
	return append(bs, dateTerminator)
}

// DecodeDate strips exactly one trailing byte from an ASCII payload and parses the rest.
func DecodeDate(payload []byte) (time.Time, error) {
	if len(payload) == 0 {
		return time.Time{}, &ParseError{Err: fmt.Errorf("empty payload")}
	}
	return ParseDate(string(payload[:len(payload)-1]))
}

// ParseDate parses s with DateLayout in the local time zone.
func ParseDate(s string) (time.Time, error) {
	// time.Parse accepts single digit hours, the field is fixed width.
	if len(s) != len(DateLayout) {
		return time.Time{}, &ParseError{Value: s, Err: fmt.Errorf("want %d bytes, got %d", len(DateLayout), len(s))}
	}
	t, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, &ParseError{Value: s, Err: err}
	}
	return t, nil
}
