package smtpx

import "regexp"

var (
	scriptTagRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	// Unclosed script tags are removed too, so a truncated body cannot
	// smuggle one through.
	openScriptRe = regexp.MustCompile(`(?i)<script\b[^>]*>`)
	eventAttrRe  = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
)

// SanitizeHTML strips script tags and inline event-handler attributes from
// an HTML body before transmission.
func SanitizeHTML(html string) string {
	html = scriptTagRe.ReplaceAllString(html, "")
	html = openScriptRe.ReplaceAllString(html, "")
	html = eventAttrRe.ReplaceAllString(html, "")
	return html
}
