package mailparse

import "strings"

// replyPrefixes are the subject prefixes that mark a reply or forward.
// Comparison is case-insensitive.
var replyPrefixes = []string{"re:", "fwd:", "fw:"}

// HasReplyPrefix reports whether the subject starts with a reply or
// forward prefix such as "Re:" or "Fwd:".
func HasReplyPrefix(subject string) bool {
	s := strings.ToLower(strings.TrimSpace(subject))
	for _, p := range replyPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// StripReplyPrefix removes leading reply/forward prefixes from a
// subject, repeating until none remain ("Re: Re: Fwd: x" -> "x").
func StripReplyPrefix(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := false
		lower := strings.ToLower(s)
		for _, p := range replyPrefixes {
			if strings.HasPrefix(lower, p) {
				s = strings.TrimSpace(s[len(p):])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}
