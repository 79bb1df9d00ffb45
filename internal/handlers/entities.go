package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"nestbot/internal/blocks"
	"nestbot/internal/pagination"
	"nestbot/internal/search"
)

const searchUnavailableMessage = "Search is temporarily unavailable."

// entityView describes how one searchable entity is listed.
type entityView struct {
	// entity names the view in action ids, e.g. view_projects_action.
	entity   string
	index    search.Index
	title    string
	noun     string
	filters  map[string]string
	paginate bool
	render   func(hit search.Hit, p blocks.Presentation, now time.Time) string
}

var activeOnly = map[string]string{"idx_is_active": "true"}

var (
	projectsView = entityView{
		entity:   "projects",
		index:    search.IndexProject,
		title:    "Projects",
		noun:     "projects",
		filters:  activeOnly,
		paginate: true,
		render:   renderProject,
	}
	chaptersView = entityView{
		entity:   "chapters",
		index:    search.IndexChapter,
		title:    "Chapters",
		noun:     "chapters",
		filters:  activeOnly,
		paginate: true,
		render:   renderChapter,
	}
	committeesView = entityView{
		entity:   "committees",
		index:    search.IndexCommittee,
		title:    "Committees",
		noun:     "committees",
		filters:  activeOnly,
		paginate: true,
		render:   renderCommittee,
	}
	issuesView = entityView{
		entity:   "contribute",
		index:    search.IndexIssue,
		title:    "Issues",
		noun:     "issues",
		paginate: true,
		render:   renderIssue,
	}
	sponsorsView = entityView{
		entity: "sponsors",
		index:  search.IndexSponsor,
		title:  "Sponsors",
		noun:   "sponsors",
		render: renderSponsor,
	}
)

// homeViews are the sections reachable from the home tab, in button order.
var homeViews = []entityView{projectsView, chaptersView, committeesView, issuesView}

func homeView(entity string) (entityView, bool) {
	for _, v := range homeViews {
		if v.entity == entity {
			return v, true
		}
	}
	return entityView{}, false
}

func (v entityView) header(query string) string {
	if query == "" {
		return fmt.Sprintf("*Top %s*", v.noun)
	}
	return fmt.Sprintf("*%s that I found for `%s`*", v.title, blocks.Escape(query))
}

func (v entityView) empty(query string) string {
	if query == "" {
		return fmt.Sprintf("No %s found.", v.noun)
	}
	return fmt.Sprintf("No %s found for `%s`.", v.noun, blocks.Escape(query))
}

// entityBlocks runs the search for state and renders one result page. A
// search outage renders a single fallback section rather than failing.
func (h *Handlers) entityBlocks(ctx context.Context, v entityView, state pagination.State, p blocks.Presentation) ([]slack.Block, error) {
	result, err := h.search.Search(ctx, v.index, search.PageRequest{
		Query:   state.Query,
		Page:    state.Page,
		Limit:   state.Limit,
		Filters: v.filters,
	})
	if errors.Is(err, search.ErrUnavailable) {
		return []slack.Block{blocks.Markdown(searchUnavailableMessage)}, nil
	}
	if err != nil {
		return nil, err
	}

	var hits []search.Hit
	for _, hit := range result.Hits {
		if hit.Valid() {
			hits = append(hits, hit)
		}
	}
	if len(hits) == 0 {
		return []slack.Block{blocks.Markdown(v.empty(state.Query))}, nil
	}

	now := h.now()
	out := []slack.Block{blocks.Markdown(v.header(state.Query))}
	offset := (state.Page - 1) * state.Limit
	for i, hit := range hits {
		out = append(out, blocks.Markdown(fmt.Sprintf("%d. %s", offset+i+1, v.render(hit, p, now))))
	}

	if v.paginate {
		buttons, err := blocks.PaginationButtons(state, result.TotalPages)
		if err != nil {
			return nil, err
		}
		out = blocks.Compact(append(out, blocks.ActionButtons(buttons))...)
	}

	return out, nil
}

func lines(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

func summary(hit search.Hit, p blocks.Presentation) string {
	if hit.Summary == "" {
		return ""
	}
	return "_" + blocks.Truncate(hit.Summary, p.SummaryLength) + "_"
}

func updated(ts time.Time, p blocks.Presentation, now time.Time) string {
	if !p.IncludeTimestamps {
		return ""
	}
	return blocks.Updated(ts, now)
}

func leadersLine(leaders []string) string {
	if len(leaders) == 0 {
		return ""
	}
	return "Leaders: " + strings.Join(leaders, ", ")
}

func renderProject(hit search.Hit, p blocks.Presentation, now time.Time) string {
	var stats string
	if p.IncludeMetadata {
		c := hit.Metadata.Counts
		stats = fmt.Sprintf("Contributors: %d | Forks: %d | Stars: %d", c.Contributors, c.Forks, c.Stars)
	}
	return lines(
		blocks.BoldLink(hit.URL, blocks.Truncate(hit.Name, p.NameLength)),
		stats,
		updated(hit.Metadata.UpdatedAt, p, now),
		summary(hit, p),
	)
}

func renderChapter(hit search.Hit, p blocks.Presentation, now time.Time) string {
	var region, leaders string
	if p.IncludeMetadata {
		if hit.Metadata.Region != "" {
			region = "Region: " + hit.Metadata.Region
		}
		leaders = leadersLine(hit.Metadata.Leaders)
	}
	return lines(
		blocks.BoldLink(hit.URL, blocks.Truncate(hit.Name, p.NameLength)),
		region,
		leaders,
		updated(hit.Metadata.UpdatedAt, p, now),
		summary(hit, p),
	)
}

func renderCommittee(hit search.Hit, p blocks.Presentation, now time.Time) string {
	var leaders string
	if p.IncludeMetadata {
		leaders = leadersLine(hit.Metadata.Leaders)
	}
	return lines(
		blocks.BoldLink(hit.URL, blocks.Truncate(hit.Name, p.NameLength)),
		leaders,
		updated(hit.Metadata.UpdatedAt, p, now),
		summary(hit, p),
	)
}

func renderIssue(hit search.Hit, p blocks.Presentation, now time.Time) string {
	var project string
	if p.IncludeMetadata && hit.Metadata.ProjectName != "" {
		project = "Project: " + hit.Metadata.ProjectName
		if hit.Metadata.ProjectURL != "" {
			project = "Project: " + blocks.Link(hit.Metadata.ProjectURL, hit.Metadata.ProjectName)
		}
	}
	return lines(
		blocks.BoldLink(hit.URL, blocks.Truncate(hit.Name, p.NameLength)),
		project,
		updated(hit.Metadata.UpdatedAt, p, now),
		summary(hit, p),
	)
}

func renderSponsor(hit search.Hit, p blocks.Presentation, _ time.Time) string {
	return lines(
		blocks.BoldLink(hit.URL, blocks.Truncate(hit.Name, p.NameLength)),
		summary(hit, p),
	)
}
