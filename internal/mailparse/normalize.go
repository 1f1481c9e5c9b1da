package mailparse

import "strings"

// NormalizeMessageID canonicalizes a raw Message-ID header value into the
// <local@domain> form used for remoteId, inReplyTo, and references
// entries. It trims surrounding whitespace, strips one layer of angle
// brackets if present, and rejects values without an "@" by returning
// the empty string. Malformed ids are not errors; the field is simply
// left empty and storage proceeds.
func NormalizeMessageID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, "<") && strings.HasSuffix(id, ">") && len(id) >= 2 {
		id = id[1 : len(id)-1]
	}
	if !strings.Contains(id, "@") {
		return ""
	}
	return "<" + id + ">"
}

// ParseReferences splits a raw References header into an ordered list of
// canonical message ids. Entries are whitespace or newline delimited;
// empty and "@"-less entries are dropped. Order is preserved and
// duplicates are kept.
func ParseReferences(raw string) []string {
	return NormalizeReferences(strings.Fields(raw))
}

// NormalizeReferences canonicalizes an already-split list of reference
// ids, dropping entries that do not normalize.
func NormalizeReferences(refs []string) []string {
	var out []string
	for _, ref := range refs {
		if id := NormalizeMessageID(ref); id != "" {
			out = append(out, id)
		}
	}
	return out
}
