package mailparse

import (
	"net/mail"
	"strings"
)

// ExtractEmailAddress returns the bare email address from a formatted
// address string like `Jane Doe <jane@example.com>`. A string without
// angle brackets is treated as a bare address. Returns "" when no
// address can be recovered.
func ExtractEmailAddress(formatted string) string {
	formatted = strings.TrimSpace(formatted)
	if formatted == "" {
		return ""
	}

	if addr, err := mail.ParseAddress(formatted); err == nil {
		return addr.Address
	}

	// Fall back to manual angle-bracket extraction for values the RFC
	// parser rejects (unquoted display names with punctuation, etc).
	if start := strings.LastIndex(formatted, "<"); start >= 0 {
		if end := strings.Index(formatted[start:], ">"); end > 0 {
			return strings.TrimSpace(formatted[start+1 : start+end])
		}
	}

	if strings.Contains(formatted, "@") {
		return formatted
	}
	return ""
}

// ExtractDisplayName returns the display-name portion of a formatted
// address string, or "" when the string is a bare address.
func ExtractDisplayName(formatted string) string {
	formatted = strings.TrimSpace(formatted)
	if formatted == "" {
		return ""
	}

	if addr, err := mail.ParseAddress(formatted); err == nil {
		return addr.Name
	}

	if start := strings.LastIndex(formatted, "<"); start > 0 {
		name := strings.TrimSpace(formatted[:start])
		return strings.Trim(name, `"`)
	}
	return ""
}

// FormatAddress renders a display name and address back into the
// `Name <addr>` form, omitting the name part when empty.
func FormatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return name + " <" + address + ">"
}
