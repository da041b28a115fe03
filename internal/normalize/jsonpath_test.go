package normalize

import "testing"

func TestTranslateJSONPathLite(t *testing.T) {
	cases := []struct {
		expr    string
		want    string
		wantOK  bool
	}{
		{"$.name", "name", true},
		{"$.a.b", "a.b", true},
		{"$.items[0].id", "items.0.id", true},
		{"$", "", false},
		{"name", "", false},
		{"$.", "", false},
		{"$.a[]", "", false},
		{"$.a[x]", "", false},
		{"$.9bad", "", false},
	}
	for _, c := range cases {
		got, ok := translateJSONPathLite(c.expr)
		if ok != c.wantOK {
			t.Errorf("translateJSONPathLite(%q) ok=%v, want %v", c.expr, ok, c.wantOK)
			continue
		}
		if ok && got != c.want {
			t.Errorf("translateJSONPathLite(%q) = %q, want %q", c.expr, got, c.want)
		}
	}
}
