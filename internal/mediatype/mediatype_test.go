package mediatype

import "testing"

func TestParseOneBasic(t *testing.T) {
	m, ok := ParseOne("Text/HTML; Charset=UTF-8")
	if !ok {
		t.Fatal("expected ok")
	}
	if m.Type != "text" || m.Subtype != "html" {
		t.Fatalf("got %+v", m)
	}
	if m.Parameters["charset"] != "UTF-8" {
		t.Fatalf("expected preserved parameter value case, got %q", m.Parameters["charset"])
	}
	if m.Q != 1 {
		t.Fatalf("expected default q=1, got %v", m.Q)
	}
}

func TestParseOneWildcard(t *testing.T) {
	m, ok := ParseOne("*/*")
	if !ok || !m.IsWildcard() {
		t.Fatalf("expected wildcard, got %+v ok=%v", m, ok)
	}
}

func TestParseOneMalformed(t *testing.T) {
	for _, s := range []string{"", "text", "/html", "text/"} {
		if _, ok := ParseOne(s); ok {
			t.Fatalf("expected failure for %q", s)
		}
	}
}

func TestParseOneQuotedStringWithEscapes(t *testing.T) {
	m, ok := ParseOne(`text/plain; name="a \"b\" c`)
	if !ok {
		t.Fatal("expected ok despite unterminated quoted string")
	}
	if m.Parameters["name"] != `a "b" c` {
		t.Fatalf("got %q", m.Parameters["name"])
	}
}

func TestParseOneFirstParameterWins(t *testing.T) {
	m, ok := ParseOne("text/plain; charset=a; charset=b")
	if !ok || m.Parameters["charset"] != "a" {
		t.Fatalf("expected first occurrence to win, got %+v ok=%v", m, ok)
	}
}

func TestParseOneMalformedParameterSkipped(t *testing.T) {
	m, ok := ParseOne("text/plain; ; charset=utf-8")
	if !ok || m.Parameters["charset"] != "utf-8" {
		t.Fatalf("got %+v ok=%v", m, ok)
	}
}

func TestMatchesWildcard(t *testing.T) {
	star, _ := ParseOne("*/*")
	html, _ := ParseOne("text/html")
	if !Matches(html, star) || !Matches(star, html) {
		t.Fatal("wildcard should match anything")
	}
}

func TestMatchesParameters(t *testing.T) {
	a, _ := ParseOne("text/plain; charset=utf-8")
	b, _ := ParseOne("text/plain; charset=utf-8")
	if !Matches(a, b) {
		t.Fatal("expected matching parameters to match")
	}
	c, _ := ParseOne("text/plain; charset=ascii")
	if Matches(a, c) {
		t.Fatal("expected mismatched parameter value to not match")
	}
}
