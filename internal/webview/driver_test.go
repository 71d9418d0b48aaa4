// driver_test.go — Tests for the waitUntil contract and cookie shape.
// ChromeDriver itself requires a live Chrome target, so it is exercised by
// internal/tab's fakeDriver-backed tests instead; this file covers the
// pure, non-browser logic in this package.
package webview

import "testing"

func TestParseWaitUntil(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want WaitUntil
		ok   bool
	}{
		{"", WaitLoad, true},
		{"load", WaitLoad, true},
		{"none", WaitNone, true},
		{"idle", WaitIdle, true},
		{"eventually", "", false},
	}
	for _, c := range cases {
		got, ok := ParseWaitUntil(c.in)
		if ok != c.ok {
			t.Errorf("ParseWaitUntil(%q) ok = %v, want %v", c.in, ok, c.ok)
			continue
		}
		if ok && got != c.want {
			t.Errorf("ParseWaitUntil(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCookieJSONFieldNames(t *testing.T) {
	t.Parallel()
	c := Cookie{Name: "sid", Value: "abc", Domain: "example.com"}
	if c.Name != "sid" || c.Value != "abc" || c.Domain != "example.com" {
		t.Fatalf("unexpected cookie: %+v", c)
	}
}
