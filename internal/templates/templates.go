// Package templates renders the static message texts. All templates are
// embedded and parsed once.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

// Template names.
const (
	ContributeEphemeral = "contribute_ephemeral"
	ContributeDM        = "contribute_dm"
	GSoCWelcome         = "gsoc_welcome"
	GSoC                = "gsoc"
	TeamJoin            = "team_join"
	Donate              = "donate"
	Policies            = "policies"
	OWASPHelp           = "owasp_help"
	Home                = "home"
)

// sectionBreak on a line by itself splits a template into sections.
const sectionBreak = "---"

//go:embed files/*.tmpl
var files embed.FS

// Renderer holds the parsed templates. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

func New() (*Renderer, error) {
	tmpl, err := template.New("").Option("missingkey=error").ParseFS(files, "files/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// MustNew is New for process startup, where a bad template is a bug.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Render executes the named template.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Sections renders the named template and splits it at section breaks,
// dropping empty sections.
func (r *Renderer) Sections(name string, data any) ([]string, error) {
	text, err := r.Render(name, data)
	if err != nil {
		return nil, err
	}

	var (
		sections []string
		current  []string
	)
	flush := func() {
		if s := strings.TrimSpace(strings.Join(current, "\n")); s != "" {
			sections = append(sections, s)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == sectionBreak {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()

	return sections, nil
}

// Policy is a named link listed by the policies template.
type Policy struct {
	Name string
	URL  string
}

// Data carries every value the templates reference. Unused fields are left
// zero.
type Data struct {
	UserID        string
	ChannelID     string
	GSoCChannelID string
	SiteName      string
	WebsiteURL    string

	ProjectsCount int
	ChaptersCount int
	IssuesCount   int

	Year      int
	FirstYear int
	LastYear  int

	Policies []Policy
	Commands []string
	Unknown  string
}
