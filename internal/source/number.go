package source

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Number decodes JSON numbers, numeric strings and null alike.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(bytes.Trim(b, `"`)))
	raw = strings.ReplaceAll(raw, ",", "")
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("decode number %s: %w", b, err)
	}
	*n = Number(f)
	return nil
}

// Int64 truncates toward zero.
func (n Number) Int64() int64 {
	return int64(n)
}

// String formats without a trailing fraction for whole values.
func (n Number) String() string {
	return strconv.FormatFloat(float64(n), 'f', -1, 64)
}
