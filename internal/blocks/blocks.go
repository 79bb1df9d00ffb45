// Package blocks builds Slack Block Kit elements. Everything here is pure:
// the same input always yields the same blocks.
package blocks

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"nestbot/internal/pagination"
)

const (
	PreviousLabel = "Previous"
	NextLabel     = "Next"

	// MaxSectionText is Slack's limit for a section's text.
	MaxSectionText = 3000

	actionSuffixPrev = "_prev"
	actionSuffixNext = "_next"
)

// Button is the data behind one interactive button.
type Button struct {
	Label    string
	ActionID string
	Value    string
}

// Markdown returns a section block rendering text as mrkdwn.
func Markdown(text string) slack.Block {
	return slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, text, false, false),
		nil,
		nil,
	)
}

// MarkdownSections renders long text as consecutive section blocks, each
// within MaxSectionText.
func MarkdownSections(text string) []slack.Block {
	parts := SplitText(text, MaxSectionText)
	out := make([]slack.Block, 0, len(parts))
	for _, part := range parts {
		out = append(out, Markdown(part))
	}
	return out
}

// SplitText cuts text into pieces of at most limit runes, preferring
// paragraph breaks, then line breaks, then spaces.
func SplitText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}

	var out []string
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		window := string(runes[:limit])

		cut := -1
		for _, sep := range []string{"\n\n", "\n", " "} {
			if i := strings.LastIndex(window, sep); i > 0 {
				cut = i
				break
			}
		}

		head, rest := window, string(runes[limit:])
		if cut > 0 {
			head, rest = window[:cut], text[cut:]
		}
		if head = strings.TrimSpace(head); head != "" {
			out = append(out, head)
		}
		text = strings.TrimSpace(rest)
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func Divider() slack.Block {
	return slack.NewDividerBlock()
}

// ActionButtons returns an actions block holding buttons, or nil when there
// are none.
func ActionButtons(buttons []Button) slack.Block {
	if len(buttons) == 0 {
		return nil
	}

	elements := make([]slack.BlockElement, 0, len(buttons))
	for _, b := range buttons {
		elements = append(elements, slack.NewButtonBlockElement(
			b.ActionID,
			b.Value,
			slack.NewTextBlockObject(slack.PlainTextType, b.Label, true, false),
		))
	}

	return slack.NewActionBlock("", elements...)
}

// ViewActionID is the base action id for an entity's home view, e.g.
// view_projects_action.
func ViewActionID(entity string) string {
	return fmt.Sprintf("view_%s_action", entity)
}

// PrevActionID and NextActionID name the pagination variants.
func PrevActionID(entity string) string { return ViewActionID(entity) + actionSuffixPrev }
func NextActionID(entity string) string { return ViewActionID(entity) + actionSuffixNext }

// PaginationButtons returns the viable Previous/Next buttons for state. There
// are none when everything fits on one page. Each button value carries the
// state re-encoded for the page it leads to.
func PaginationButtons(state pagination.State, totalPages int) ([]Button, error) {
	if totalPages <= 1 {
		return []Button{}, nil
	}

	buttons := make([]Button, 0, 2)

	if state.Page > 1 {
		value, err := pagination.Encode(state.WithPage(state.Page - 1))
		if err != nil {
			return nil, err
		}
		buttons = append(buttons, Button{
			Label:    PreviousLabel,
			ActionID: PrevActionID(state.EntityType),
			Value:    value,
		})
	}

	if state.Page < totalPages {
		value, err := pagination.Encode(state.WithPage(state.Page + 1))
		if err != nil {
			return nil, err
		}
		buttons = append(buttons, Button{
			Label:    NextLabel,
			ActionID: NextActionID(state.EntityType),
			Value:    value,
		})
	}

	return buttons, nil
}

// Compact drops nil blocks so optional parts can be appended unconditionally.
func Compact(in ...slack.Block) []slack.Block {
	out := make([]slack.Block, 0, len(in))
	for _, b := range in {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}
