package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"nestbot/internal/blocks"
	"nestbot/internal/chat"
	"nestbot/internal/dispatch"
	"nestbot/internal/pagination"
	"nestbot/internal/search"
	"nestbot/internal/storage"
	"nestbot/internal/templates"
)

const (
	gsocFirstYear = 2012

	eventDateLayout = "Jan 2, 2006"
	leadersLimit    = 10
)

// searchCommand is the shared body of the entity slash commands: search,
// render, DM.
func (h *Handlers) searchCommand(ctx context.Context, client chat.Client, in *dispatch.Interaction, v entityView) error {
	state := pagination.New(v.entity, in.Text, pagination.DefaultLimit)
	content, err := h.entityBlocks(ctx, v, state, blocks.DefaultPresentation())
	if err != nil {
		return err
	}
	return h.dm(ctx, client, in.UserID, content, strings.Trim(v.header(state.Query), "*"))
}

func (h *Handlers) projects(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	return h.searchCommand(ctx, client, in, projectsView)
}

func (h *Handlers) chapters(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	return h.searchCommand(ctx, client, in, chaptersView)
}

func (h *Handlers) committees(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	return h.searchCommand(ctx, client, in, committeesView)
}

func (h *Handlers) contribute(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	return h.searchCommand(ctx, client, in, issuesView)
}

func (h *Handlers) sponsors(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	return h.searchCommand(ctx, client, in, sponsorsView)
}

// events posts upcoming events in the channel the command came from.
func (h *Handlers) events(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	now := h.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	upcoming, err := h.entities.UpcomingEvents(ctx, today)
	if err != nil {
		return err
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].StartDate.Before(upcoming[j].StartDate)
	})

	websiteURL := h.config.Get().WebsiteURL
	footer := blocks.Markdown(fmt.Sprintf("🔍 For more information about upcoming events, please visit %s", blocks.Link(websiteURL+"/events/", "OWASP Events")))

	var content []slack.Block
	if len(upcoming) == 0 {
		content = []slack.Block{blocks.Markdown("No upcoming events."), footer}
	} else {
		content = []slack.Block{blocks.Markdown("*Upcoming OWASP Events:*"), blocks.Divider()}
		for i, e := range upcoming {
			content = append(content, blocks.Markdown(fmt.Sprintf("%d. %s", i+1, renderEvent(e))))
		}
		content = append(content, footer)
	}

	_, err = client.PostMessage(ctx, chat.Message{ChannelID: in.ChannelID, Blocks: content, Text: "Upcoming OWASP Events"})
	return err
}

func renderEvent(e storage.Event) string {
	name := "*" + blocks.Truncate(e.Name, 80) + "*"
	if e.URL != "" {
		name = blocks.BoldLink(e.URL, blocks.Truncate(e.Name, 80))
	}

	dates := e.StartDate.Format(eventDateLayout)
	if !e.EndDate.IsZero() && !e.EndDate.Equal(e.StartDate) {
		dates += " - " + e.EndDate.Format(eventDateLayout)
	}

	var location string
	if e.Location != "" {
		location = "Location: " + e.Location
	}

	var summary string
	if e.Summary != "" {
		summary = "_" + blocks.Truncate(e.Summary, 300) + "_"
	}

	return lines(name, "Dates: "+dates, location, summary)
}

func (h *Handlers) news(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	posts, err := h.entities.LatestPosts(ctx, storage.MaxLatestPosts)
	if err != nil {
		return err
	}

	if len(posts) == 0 {
		text := "⚠️ *Failed to fetch OWASP news. Please try again later.*"
		return h.dm(ctx, client, in.UserID, []slack.Block{blocks.Markdown(text)}, text)
	}

	now := h.now()
	items := make([]string, 0, len(posts))
	for _, p := range posts {
		item := blocks.BoldLink(p.URL, blocks.Truncate(p.Title, 80))
		if p.AuthorName != "" {
			item += " by " + p.AuthorName
		}
		if !p.PublishedAt.IsZero() {
			item += ", " + blocks.NaturalDate(p.PublishedAt, now)
		}
		items = append(items, item)
	}

	websiteURL := h.config.Get().WebsiteURL
	content := []slack.Block{
		blocks.Markdown("*Latest OWASP news:*"),
		blocks.Markdown(blocks.Bullets(items)),
		blocks.Divider(),
		blocks.Markdown(fmt.Sprintf("Read more at %s", blocks.Link(websiteURL+"/news/", "OWASP News"))),
	}
	return h.dm(ctx, client, in.UserID, content, "Latest OWASP news")
}

// leaders searches chapters, then projects, and lists their leaders.
func (h *Handlers) leaders(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	query := strings.TrimSpace(in.Text)
	req := search.PageRequest{Query: query, Page: 1, Limit: leadersLimit, Filters: activeOnly}

	var projects *search.PaginatedResult
	chapters, err := h.search.Search(ctx, search.IndexChapter, req)
	if err == nil {
		projects, err = h.search.Search(ctx, search.IndexProject, req)
	}
	if err != nil {
		if errors.Is(err, search.ErrUnavailable) {
			return h.dm(ctx, client, in.UserID, []slack.Block{blocks.Markdown(searchUnavailableMessage)}, searchUnavailableMessage)
		}
		return err
	}

	header := "*Leaders of OWASP chapters and projects*"
	if query != "" {
		header = fmt.Sprintf("*Leaders found for `%s`*", blocks.Escape(query))
	}

	content := []slack.Block{blocks.Markdown(header)}
	for _, group := range []struct {
		title  string
		result *search.PaginatedResult
	}{
		{title: "Chapters", result: chapters},
		{title: "Projects", result: projects},
	} {
		if section := leadersSection(group.title, group.result); section != "" {
			content = append(content, blocks.Divider(), blocks.Markdown(section))
		}
	}

	if len(content) == 1 {
		text := "No leaders found."
		if query != "" {
			text = fmt.Sprintf("No leaders found for `%s`.", blocks.Escape(query))
		}
		content = []slack.Block{blocks.Markdown(text)}
	}

	return h.dm(ctx, client, in.UserID, content, strings.Trim(header, "*"))
}

func leadersSection(title string, result *search.PaginatedResult) string {
	var entries []string
	for _, hit := range result.Hits {
		if !hit.Valid() || len(hit.Metadata.Leaders) == 0 {
			continue
		}
		entries = append(entries, blocks.BoldLink(hit.URL, blocks.Truncate(hit.Name, 80))+"\n"+blocks.Bullets(hit.Metadata.Leaders))
	}
	if len(entries) == 0 {
		return ""
	}
	return "*" + title + "*\n" + strings.Join(entries, "\n")
}

func (h *Handlers) gsoc(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	data := h.templateData(in)
	data.FirstYear = gsocFirstYear
	data.LastYear = h.now().Year()

	if arg := strings.TrimSpace(in.Text); arg != "" {
		year, err := strconv.Atoi(arg)
		if err != nil || year < data.FirstYear || year > data.LastYear {
			text := fmt.Sprintf("Year `%s` is not supported. Supported years: %d-%d.", blocks.Escape(arg), data.FirstYear, data.LastYear)
			return h.dm(ctx, client, in.UserID, []slack.Block{blocks.Markdown(text)}, text)
		}
		data.Year = year
	}

	return h.dmTemplate(ctx, client, in.UserID, templates.GSoC, data)
}

func (h *Handlers) donate(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	return h.dmTemplate(ctx, client, in.UserID, templates.Donate, h.templateData(in))
}

var policySlugs = []struct {
	name string
	slug string
}{
	{"Chapters Policy", "chapters"},
	{"Code of Conduct", "code-of-conduct"},
	{"Committees Policy", "committees"},
	{"Conflict Resolution Policy", "conflict-resolution"},
	{"Conflict of Interest Policy", "conflict-of-interest"},
	{"Donations Policy", "donations"},
	{"Elections Policy", "election"},
	{"Events Policy", "events"},
	{"Expense Policy", "expense-policy"},
	{"Grant Policy", "grants"},
	{"Membership Policy", "membership"},
	{"Project Policy", "projects"},
	{"Whistleblower & Anti-Retaliation Policy", "whistleblower"},
}

func (h *Handlers) policies(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	data := h.templateData(in)
	for _, p := range policySlugs {
		data.Policies = append(data.Policies, templates.Policy{
			Name: p.name,
			URL:  data.WebsiteURL + "/www-policy/operational/" + p.slug,
		})
	}
	return h.dmTemplate(ctx, client, in.UserID, templates.Policies, data)
}

// owasp routes "/owasp <subcommand> [args]" to the matching command.
func (h *Handlers) owasp(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	name, args, _ := strings.Cut(strings.TrimSpace(in.Text), " ")
	name = strings.ToLower(name)

	if fn, ok := h.subcommands[name]; ok {
		sub := dispatch.NewInteraction(dispatch.KindCommand, "/"+name, nil)
		sub.ID = in.ID
		sub.TeamID = in.TeamID
		sub.UserID = in.UserID
		sub.ChannelID = in.ChannelID
		sub.TriggerID = in.TriggerID
		sub.Text = strings.TrimSpace(args)
		return fn(ctx, sub, client)
	}

	data := h.templateData(in)
	for sub := range h.subcommands {
		data.Commands = append(data.Commands, sub)
	}
	sort.Strings(data.Commands)
	if name != "" && name != "help" {
		data.Unknown = name
	}

	return h.dmTemplate(ctx, client, in.UserID, templates.OWASPHelp, data)
}

func (h *Handlers) ai(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	question := strings.TrimSpace(in.Text)
	if question == "" {
		text := "Please ask a question, e.g. `/ai What is OWASP?`"
		return h.dm(ctx, client, in.UserID, []slack.Block{blocks.Markdown(text)}, text)
	}

	answer, err := h.qa.Answer(ctx, question)
	if err != nil {
		return err
	}

	content := append([]slack.Block{
		blocks.Markdown(fmt.Sprintf("*Question:* %s", blocks.Escape(question))),
	}, blocks.MarkdownSections(answer)...)
	return h.dm(ctx, client, in.UserID, content, answer)
}
