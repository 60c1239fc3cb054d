// Package encoding converts payload strings between UTF-8 and the charsets
// an engine build may expect.
package encoding

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultCharset is used when no charset is configured.
const DefaultCharset = "utf-8"

// Charset errors.
var (
	ErrUnknownCharset = errors.New("unknown charset")
	ErrUnencodable    = errors.New("string cannot be encoded")
)

var charsets = map[string]encoding.Encoding{
	"utf-8":        unicode.UTF8,
	"windows-1252": charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"euc-kr":       korean.EUCKR,
}

// aliases maps alternative spellings onto canonical names.
var aliases = map[string]string{
	"utf8":    "utf-8",
	"cp1252":  "windows-1252",
	"latin1":  "iso-8859-1",
	"latin-1": "iso-8859-1",
	"euckr":   "euc-kr",
	"cp949":   "euc-kr",
}

// Charset encodes strings into one target charset.
type Charset struct {
	name string
	enc  encoding.Encoding
}

// Lookup returns the charset with the given name. Names are case-insensitive
// and an empty name selects DefaultCharset.
func Lookup(name string) (*Charset, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultCharset
	}
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	enc, ok := charsets[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCharset, name)
	}
	return &Charset{name: key, enc: enc}, nil
}

// MustLookup is like Lookup but panics on unknown names.
func MustLookup(name string) *Charset {
	cs, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return cs
}

// Names returns the canonical names of all supported charsets.
func Names() []string {
	names := make([]string, 0, len(charsets))
	for name := range charsets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name returns the canonical charset name.
func (c *Charset) Name() string {
	return c.name
}

// Encode converts a UTF-8 string into the charset. Runes the charset cannot
// represent are an error, never silently replaced.
func (c *Charset) Encode(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: invalid UTF-8 input", ErrUnencodable)
	}
	if c.name == "utf-8" {
		return []byte(s), nil
	}
	out, _, err := transform.Bytes(c.enc.NewEncoder(), []byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w as %s: %q", ErrUnencodable, c.name, s)
	}
	return out, nil
}

// Decode converts bytes in the charset back to a UTF-8 string.
func (c *Charset) Decode(data []byte) (string, error) {
	if c.name == "utf-8" {
		return string(data), nil
	}
	out, _, err := transform.Bytes(c.enc.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", c.name, err)
	}
	return string(out), nil
}
