// Package mediatype parses and matches RFC 7231 / MIME-Sniffing media types
// and Accept-header ranges.
package mediatype

import "strings"

// MediaType is an immutable media-type record: type "/" subtype plus
// parameters and an Accept weight.
type MediaType struct {
	Type       string
	Subtype    string
	Parameters map[string]string
	Q          float64
	pos        int // original position in an Accept list, for stable sort
}

// IsWildcard reports whether both type and subtype are "*".
func (m MediaType) IsWildcard() bool {
	return m.Type == "*" && m.Subtype == "*"
}

func isHTTPWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func trimHTTPWhitespace(s string) string {
	i := 0
	for i < len(s) && isHTTPWhitespace(s[i]) {
		i++
	}
	j := len(s)
	for j > i && isHTTPWhitespace(s[j-1]) {
		j--
	}
	return s[i:j]
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

func lowerASCII(s string) string {
	return strings.ToLower(s)
}

// ParseOne parses a single media-type token, e.g. "text/html; charset=utf-8".
// Malformed input yields ok=false rather than an error: the grammar is
// permissive about parameters (bad ones are skipped, not fatal) but the
// leading "type/subtype" must be well-formed.
func ParseOne(s string) (MediaType, bool) {
	s = trimHTTPWhitespace(s)

	slash := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			slash = i
			break
		}
		if s[i] == ';' {
			return MediaType{}, false
		}
	}
	if slash <= 0 {
		return MediaType{}, false
	}

	typ := s[:slash]
	if !isValidToken(typ) {
		return MediaType{}, false
	}

	rest := s[slash+1:]
	subtypeEnd := len(rest)
	for i := 0; i < len(rest); i++ {
		if rest[i] == ';' {
			subtypeEnd = i
			break
		}
	}
	subtype := trimHTTPWhitespace(rest[:subtypeEnd])
	if !isValidToken(subtype) {
		return MediaType{}, false
	}

	m := MediaType{
		Type:       lowerASCII(typ),
		Subtype:    lowerASCII(subtype),
		Parameters: map[string]string{},
		Q:          1,
	}
	if m.Type == "*" {
		m.Subtype = "*"
	}

	params := rest[subtypeEnd:]
	parseParameters(params, m.Parameters)

	return m, true
}

func isValidToken(s string) bool {
	if s == "" {
		return false
	}
	if s == "*" {
		return true
	}
	for i := 0; i < len(s); i++ {
		if !isTokenChar(s[i]) {
			return false
		}
	}
	return true
}

// parseParameters walks a ";name=value;name=value" tail, skipping malformed
// entries and keeping the first occurrence of any given name.
func parseParameters(s string, out map[string]string) {
	i := 0
	for i < len(s) {
		for i < len(s) && s[i] == ';' {
			i++
		}
		for i < len(s) && isHTTPWhitespace(s[i]) {
			i++
		}
		if i >= len(s) {
			return
		}

		nameStart := i
		for i < len(s) && s[i] != '=' && s[i] != ';' {
			i++
		}
		if i >= len(s) || s[i] != '=' {
			// No "=", nothing usable here; skip to next ";".
			for i < len(s) && s[i] != ';' {
				i++
			}
			continue
		}
		name := lowerASCII(trimHTTPWhitespace(s[nameStart:i]))
		i++ // skip '='

		if name == "" {
			for i < len(s) && s[i] != ';' {
				i++
			}
			continue
		}

		var value string
		if i < len(s) && s[i] == '"' {
			value, i = parseQuotedString(s, i)
		} else {
			valStart := i
			for i < len(s) && s[i] != ';' {
				i++
			}
			value = trimHTTPWhitespace(s[valStart:i])
		}

		if value == "" {
			continue
		}
		if _, exists := out[name]; !exists {
			out[name] = value
		}
	}
}

// parseQuotedString parses a quoted-string starting at s[i] == '"'. Backslash
// escapes are honored; an unterminated string accepts whatever content came
// before the end of input. Returns the decoded value and the index just
// past the closing quote (or end of string).
func parseQuotedString(s string, i int) (string, int) {
	i++ // skip opening quote
	var b strings.Builder
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			b.WriteByte(s[i+1])
			i += 2
			continue
		}
		if c == '"' {
			i++
			break
		}
		b.WriteByte(c)
		i++
	}
	// Skip to next ";" regardless of how the quoted string ended.
	for i < len(s) && s[i] != ';' {
		i++
	}
	return b.String(), i
}
