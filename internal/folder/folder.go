package folder

// Canonical folder identifiers. These are the stable names exposed to
// callers and persisted in storage; provider-specific names never leak
// past this package.
const (
	Inbox   = "INBOX"
	Sent    = "SENT"
	Drafts  = "DRAFTS"
	Trash   = "TRASH"
	Spam    = "SPAM"
	Archive = "ARCHIVE"
)

// Canonical lists every canonical folder in sync order.
var Canonical = []string{Inbox, Sent, Drafts, Trash, Spam, Archive}

var toProvider = map[string]string{
	Inbox:   "INBOX",
	Sent:    "Sent",
	Drafts:  "Drafts",
	Trash:   "Trash",
	Spam:    "Junk",
	Archive: "Archive",
}

var toCanonical = func() map[string]string {
	m := make(map[string]string, len(toProvider))
	for c, p := range toProvider {
		m[p] = c
	}
	return m
}()

// ToProvider maps a canonical identifier to the provider folder name.
func ToProvider(canonical string) (string, bool) {
	name, ok := toProvider[canonical]
	return name, ok
}

// ToCanonical maps a provider folder name back to its canonical
// identifier. Folders without a mapping are not synchronized.
func ToCanonical(provider string) (string, bool) {
	name, ok := toCanonical[provider]
	return name, ok
}
