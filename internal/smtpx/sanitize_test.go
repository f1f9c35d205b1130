package smtpx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHTMLStripsScriptTags(t *testing.T) {
	in := `<p>hello</p><script>alert("x")</script><p>world</p>`
	out := SanitizeHTML(in)
	assert.Equal(t, "<p>hello</p><p>world</p>", out)
}

func TestSanitizeHTMLStripsUnclosedScript(t *testing.T) {
	in := `<p>ok</p><script src="https://evil.example/x.js">`
	out := SanitizeHTML(in)
	assert.Equal(t, "<p>ok</p>", out)
}

func TestSanitizeHTMLStripsEventHandlers(t *testing.T) {
	cases := map[string]string{
		`<img src="a.png" onerror="steal()">`:    `<img src="a.png">`,
		`<div onclick='doIt()'>x</div>`:          `<div>x</div>`,
		`<body onload=run()>x</body>`:            `<body>x</body>`,
		`<a href="https://example.com">link</a>`: `<a href="https://example.com">link</a>`,
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeHTML(in), in)
	}
}

func TestSanitizeHTMLCaseInsensitive(t *testing.T) {
	in := `<SCRIPT>x</SCRIPT><p ONCLICK="y">z</p>`
	out := SanitizeHTML(in)
	assert.Equal(t, "<p>z</p>", out)
}
