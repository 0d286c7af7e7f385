// Package sanitize cleans provider-supplied text before it is stored.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	htmlTagRegex   = regexp.MustCompile(`<[^>]*>`)
	blankRunsRegex = regexp.MustCompile(`[ \t]+`)
	blankLineRegex = regexp.MustCompile(`\n{3,}`)
)

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
	"&quot;", "\"",
	"&#39;", "'",
	"&nbsp;", " ",
)

// StripHTML removes HTML tags, including tags hidden behind entities.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = entityReplacer.Replace(result)
	return htmlTagRegex.ReplaceAllString(result, "")
}

// Text sanitizes multi-line free text such as call summaries. Line breaks
// survive, other control characters are dropped and runs of blanks collapse.
func Text(s string) string {
	s = StripHTML(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return '\n'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(blankRunsRegex.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLineRegex.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Line sanitizes single-line values like names and project titles.
func Line(s string) string {
	return strings.Join(strings.Fields(Text(s)), " ")
}
