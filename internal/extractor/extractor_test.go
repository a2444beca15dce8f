package extractor

import (
	"net/url"
	"strings"
	"testing"
)

func base(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse base %q: %v", raw, err)
	}
	return u
}

func TestExtract_SimplePage(t *testing.T) {
	html := `<html><head><title>Hello</title></head><body>hello hello world</body></html>`
	res := Extract(strings.NewReader(html), base(t, "http://h/a"))
	if res.ParseErr != nil {
		t.Fatalf("unexpected parse error: %v", res.ParseErr)
	}
	if res.Title != "Hello" {
		t.Errorf("Title = %q, want %q", res.Title, "Hello")
	}
	if got := strings.TrimSpace(res.Text); got != "hello hello world" {
		t.Errorf("Text = %q, want %q", got, "hello hello world")
	}
	if len(res.Links) != 0 {
		t.Errorf("Links = %v, want none", res.Links)
	}
}

func TestExtract_Links(t *testing.T) {
	html := `<html><body>
		<a href="/b">B</a>
		<a href="https://external.com/x">X</a>
		<a href="/b">duplicate</a>
		<a href="javascript:void(0)">skip</a>
	</body></html>`
	res := Extract(strings.NewReader(html), base(t, "http://h/a"))
	want := []string{"http://h/b", "https://external.com/x"}
	if len(res.Links) != len(want) {
		t.Fatalf("Links = %v, want %v", res.Links, want)
	}
	for i, w := range want {
		if res.Links[i] != w {
			t.Errorf("Links[%d] = %q, want %q", i, res.Links[i], w)
		}
	}
}

func TestExtract_SkipsScriptAndStyleText(t *testing.T) {
	html := `<html><body><script>var x = "should not appear";</script><style>.a{}</style><p>real text</p></body></html>`
	res := Extract(strings.NewReader(html), base(t, "http://h/a"))
	if strings.Contains(res.Text, "should not appear") {
		t.Errorf("Text contains script content: %q", res.Text)
	}
	if !strings.Contains(res.Text, "real text") {
		t.Errorf("Text missing paragraph content: %q", res.Text)
	}
}

func TestContentTypeAllowed(t *testing.T) {
	cfg := DefaultConfig()
	if !ContentTypeAllowed("text/html; charset=utf-8", cfg) {
		t.Error("expected text/html to be allowed")
	}
	if ContentTypeAllowed("application/pdf", cfg) {
		t.Error("expected application/pdf to be disallowed")
	}
}
