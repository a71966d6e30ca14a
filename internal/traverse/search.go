package traverse

import (
	"strings"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/store"
)

// ParseSearch turns a raw query string into terms. Double-quoted spans become
// exact phrases; everything else splits on whitespace into single words. An
// unpaired trailing quote is tolerated: the text after it is treated as plain
// words rather than failing the whole query.
func ParseSearch(raw string) store.SearchQuery {
	var q store.SearchQuery
	parts := strings.Split(raw, `"`)
	for i, part := range parts {
		quoted := i%2 == 1 && i < len(parts)-1
		if quoted {
			if strings.TrimSpace(part) != "" {
				q.Terms = append(q.Terms, store.SearchTerm{Phrase: true, Text: part})
			}
			continue
		}
		for _, w := range strings.Fields(part) {
			q.Terms = append(q.Terms, store.SearchTerm{Text: w})
		}
	}
	return q
}
