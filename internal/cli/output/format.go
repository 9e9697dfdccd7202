package output

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FormatHeader returns a markdown header.
func FormatHeader(level int, text string) string {
	if level < 1 {
		level = 1
	}
	return strings.Repeat("#", level) + " " + text
}

// FormatKeyValue returns a markdown list item with a bold key.
func FormatKeyValue(key, value string) string {
	return fmt.Sprintf("- **%s**: %s", key, value)
}

// FormatCode returns s as a fenced markdown code block.
func FormatCode(lang, s string) string {
	return "```" + lang + "\n" + strings.TrimRight(s, "\n") + "\n```"
}

// Title turns a snake_case name into words with initial capitals.
func Title(s string) string {
	// A Caser keeps state and cannot be shared.
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}

// JoinOr returns items joined by ", ", or placeholder when there are none.
func JoinOr(items []string, placeholder string) string {
	if len(items) == 0 {
		return placeholder
	}
	return strings.Join(items, ", ")
}
