package blocks

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

const ellipsis = "..."

// Presentation controls how handlers render entity sections.
type Presentation struct {
	NameLength        int
	SummaryLength     int
	IncludeTimestamps bool
	IncludeMetadata   bool
}

// DefaultPresentation is what slash commands use.
func DefaultPresentation() Presentation {
	return Presentation{
		NameLength:        80,
		SummaryLength:     300,
		IncludeTimestamps: true,
		IncludeMetadata:   true,
	}
}

// HomePresentation trims harder; the home tab is narrow.
func HomePresentation() Presentation {
	return Presentation{
		NameLength:        50,
		SummaryLength:     200,
		IncludeTimestamps: false,
		IncludeMetadata:   true,
	}
}

// Truncate shortens s to at most limit runes, ellipsis included.
func Truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	keep := limit - utf8.RuneCountInString(ellipsis)
	if keep <= 0 {
		return string([]rune(s)[:limit])
	}

	return strings.TrimRight(string([]rune(s)[:keep]), " ") + ellipsis
}

// Escape neutralizes the three characters Slack treats as control sequences.
func Escape(s string) string {
	return slackEscaper.Replace(s)
}

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Link renders a Slack-native link.
func Link(url, label string) string {
	return fmt.Sprintf("<%s|%s>", url, label)
}

// BoldLink renders a link whose label is bold, as used for entity titles.
func BoldLink(url, label string) string {
	return Link(url, "*"+label+"*")
}

// NaturalDate renders t relative to now, e.g. "3 days ago".
func NaturalDate(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

// Updated renders the trailing "Updated ..." line, or "" when ts is unset.
func Updated(ts, now time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return "Updated " + NaturalDate(ts, now)
}

// Bullets joins items as a Slack bulleted list.
func Bullets(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "  • "+item)
	}
	return strings.Join(lines, "\n")
}
