package util

import "testing"

func TestTruncateRunes(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel..."},
		{"hello", 0, "hello"},
		{"héllo wörld", 5, "héllo..."},
		{"", 3, ""},
	}
	for _, c := range cases {
		if got := TruncateRunes(c.in, c.max); got != c.want {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("first \nsecond"); got != "first" {
		t.Errorf("FirstLine = %q", got)
	}
	if got := FirstLine("only"); got != "only" {
		t.Errorf("FirstLine = %q", got)
	}
}

func TestIndentJSON(t *testing.T) {
	got := IndentJSON([]byte(`{"a":1}`))
	want := "{\n  \"a\": 1\n}"
	if got != want {
		t.Errorf("IndentJSON = %q, want %q", got, want)
	}
	if got := IndentJSON([]byte("not json")); got != "not json" {
		t.Errorf("invalid input changed: %q", got)
	}
}
