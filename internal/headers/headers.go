package headers

import (
	"bytes"
	"fmt"
	"strings"
)

// entry holds all values for one normalized header key, in the order they
// were added.
type entry struct {
	key    string
	values []string
}

// Headers is a case-insensitive multimap. Keys are normalized to lowercase;
// insertion order is preserved both across keys and within one key's values.
type Headers struct {
	entries []entry
}

func New() *Headers {
	return &Headers{}
}

func (h *Headers) find(key string) *entry {
	for i := range h.entries {
		if h.entries[i].key == key {
			return &h.entries[i]
		}
	}
	return nil
}

// Get returns the first value for a header.
func (h *Headers) Get(key string) (string, bool) {
	e := h.find(strings.ToLower(key))
	if e == nil || len(e.values) == 0 {
		return "", false
	}
	return e.values[0], true
}

// Value returns the first value for a header, or "" if absent.
func (h *Headers) Value(key string) string {
	v, _ := h.Get(key)
	return v
}

// Values returns all values for a header in insertion order.
func (h *Headers) Values(key string) []string {
	e := h.find(strings.ToLower(key))
	if e == nil {
		return nil
	}
	return e.values
}

// Has reports whether the header is present.
func (h *Headers) Has(key string) bool {
	return h.find(strings.ToLower(key)) != nil
}

// Set replaces all values for a header.
func (h *Headers) Set(key, value string) {
	key = strings.ToLower(key)
	if e := h.find(key); e != nil {
		e.values = []string{value}
		return
	}
	h.entries = append(h.entries, entry{key: key, values: []string{value}})
}

// Add appends a value to a header.
func (h *Headers) Add(key, value string) {
	key = strings.ToLower(key)
	if e := h.find(key); e != nil {
		e.values = append(e.values, value)
		return
	}
	h.entries = append(h.entries, entry{key: key, values: []string{value}})
}

// Del removes a header.
func (h *Headers) Del(key string) {
	key = strings.ToLower(key)
	for i := range h.entries {
		if h.entries[i].key == key {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of distinct header keys.
func (h *Headers) Len() int {
	return len(h.entries)
}

// Each calls fn for every key/value pair in insertion order.
func (h *Headers) Each(fn func(key, value string)) {
	for i := range h.entries {
		for _, v := range h.entries[i].values {
			fn(h.entries[i].key, v)
		}
	}
}

// Parse consumes "key: value\r\n" lines from data until the blank line that
// ends the header block. It returns the number of bytes consumed and whether
// the terminating blank line was seen, so a caller can resume with more data.
func (h *Headers) Parse(data []byte) (int, bool, error) {
	read := 0
	done := false

	for {
		idx := bytes.Index(data[read:], []byte("\r\n"))
		if idx == -1 {
			// Need more data.
			break
		}

		if idx == 0 {
			// Empty line = end of headers.
			done = true
			read += 2
			break
		}

		line := data[read : read+idx]

		// Obsolete line folding is rejected outright.
		if line[0] == ' ' || line[0] == '\t' {
			return read, false, fmt.Errorf("obsolete line folding not supported")
		}

		name, value, err := parseHeaderLine(line)
		if err != nil {
			return read, done, err
		}

		h.Add(name, value)
		read += idx + 2
	}

	return read, done, nil
}

func parseHeaderLine(line []byte) (string, string, error) {
	colonIdx := bytes.IndexByte(line, ':')
	if colonIdx == -1 {
		return "", "", fmt.Errorf("malformed header: no colon")
	}

	name := line[:colonIdx]
	value := line[colonIdx+1:]

	if bytes.ContainsAny(name, " \t") {
		return "", "", fmt.Errorf("malformed header: whitespace in name")
	}

	for _, b := range name {
		if !isTokenChar(b) {
			return "", "", fmt.Errorf("invalid character in header name: %c", b)
		}
	}

	value = bytes.TrimSpace(value)

	return string(name), string(value), nil
}

// isTokenChar reports whether b is allowed in a header field name.
func isTokenChar(b byte) bool {
	return (b >= 'A' && b <= 'Z') ||
		(b >= 'a' && b <= 'z') ||
		(b >= '0' && b <= '9') ||
		b == '!' || b == '#' || b == '$' || b == '%' || b == '&' ||
		b == '\'' || b == '*' || b == '+' || b == '-' || b == '.' ||
		b == '^' || b == '_' || b == '`' || b == '|' || b == '~'
}
