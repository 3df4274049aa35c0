package mediatype

import (
	"sort"
	"strconv"
	"strings"
)

// ParseAccept parses a comma-separated Accept header into a MediaType range,
// sorted most-specific/highest-weight first per §4.1:
//
//  1. descending q
//  2. concreteness (explicit type over "*", explicit subtype over "*")
//  3. descending parameter count
//  4. sorted parameter-name identity (lexicographic join), descending
//  5. ascending original position
func ParseAccept(s string) []MediaType {
	parts := splitTopLevelComma(s)
	out := make([]MediaType, 0, len(parts))
	for i, part := range parts {
		m, ok := ParseOne(part)
		if !ok {
			continue
		}
		if qStr, present := m.Parameters["q"]; present {
			if q, qOK := parseWeight(qStr); qOK {
				m.Q = q
			}
			delete(m.Parameters, "q")
		}
		m.pos = i
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func splitTopLevelComma(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			depth ^= 1 // toggle "inside quoted string", approximate but sufficient: commas inside quotes are rare in Accept headers and we only need stability, not RFC quoting fidelity here.
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

var weightRegexOK = func(s string) bool {
	// 0(\.\d{0,3})? | 1(\.0{0,3})?
	if s == "0" || s == "1" {
		return true
	}
	if len(s) < 3 || s[1] != '.' {
		return false
	}
	lead := s[0]
	if lead != '0' && lead != '1' {
		return false
	}
	digits := s[2:]
	if len(digits) == 0 || len(digits) > 3 {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	if lead == '1' {
		for _, c := range digits {
			if c != '0' {
				return false
			}
		}
	}
	return true
}

func parseWeight(s string) (float64, bool) {
	s = trimHTTPWhitespace(s)
	if !weightRegexOK(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func concreteness(m MediaType) int {
	score := 0
	if m.Type != "*" {
		score++
	}
	if m.Subtype != "*" {
		score++
	}
	return score
}

func paramNameIdentity(m MediaType) string {
	names := make([]string, 0, len(m.Parameters))
	for k := range m.Parameters {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func less(a, b MediaType) bool {
	if a.Q != b.Q {
		return a.Q > b.Q
	}
	if ca, cb := concreteness(a), concreteness(b); ca != cb {
		return ca > cb
	}
	if la, lb := len(a.Parameters), len(b.Parameters); la != lb {
		return la > lb
	}
	if ia, ib := paramNameIdentity(a), paramNameIdentity(b); ia != ib {
		return ia > ib
	}
	return a.pos < b.pos
}

// Matches reports whether a and b match per the wildcard/parameter rules in
// §4.1: "*" matches anything on either side at type/subtype; when both
// sides are concrete, every parameter on the more specific side must appear
// with an equal value on the other.
func Matches(a, b MediaType) bool {
	if a.Type != "*" && b.Type != "*" && a.Type != b.Type {
		return false
	}
	if a.Subtype != "*" && b.Subtype != "*" && a.Subtype != b.Subtype {
		return false
	}
	if a.Type == "*" || b.Type == "*" || a.Subtype == "*" || b.Subtype == "*" {
		return true
	}
	return paramsCompatible(a.Parameters, b.Parameters)
}

// paramsCompatible holds when every parameter of the more specific side (the
// one with more parameters) appears with an equal value on the other side.
func paramsCompatible(a, b map[string]string) bool {
	if len(a) < len(b) {
		a, b = b, a
	}
	for k, v := range a {
		if ov, ok := b[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// MatchForQuality scans a sorted Accept range for the first entry matching
// target and returns its q, or 0 if nothing matches.
func MatchForQuality(target MediaType, acceptList []MediaType) float64 {
	for _, r := range acceptList {
		if Matches(target, r) {
			return r.Q
		}
	}
	return 0
}
